package driven

import (
	"context"
	"time"

	"github.com/BetterCallFirewall/Intruder/internal/attack"
	"github.com/BetterCallFirewall/Intruder/internal/models"
	"github.com/BetterCallFirewall/Intruder/internal/template"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// run is one continuous execution of a campaign, from start or resume until it drains.
type run struct {
	entry        *entry
	plan         *attack.Plan
	materializer *template.Materializer
	cursor       *attack.Cursor
	concurrency  int
	delay        time.Duration

	// ctx is cancelled on stop and aborts in-flight requests.
	// claimCtx is cancelled on pause or stop and ends tuple claiming.
	ctx         context.Context
	cancel      context.CancelFunc
	claimCtx    context.Context
	cancelClaim context.CancelFunc

	done chan struct{}
}

func (r *run) pause() {
	r.cancelClaim()
}

func (r *run) stop() {
	r.cancelClaim()
	r.cancel()
}

func (r *run) stopped() bool {
	return r.ctx.Err() != nil
}

// launch transitions the campaign to running and starts a run at its cursor. Called with the entry locked.
func (m *CampaignManager) launch(e *entry) error {
	c := e.campaign
	plan, err := planFor(c)
	if err != nil {
		return err
	}
	if _, err := c.Transition(models.StatusRunning, time.Now().UTC()); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	claimCtx, cancelClaim := context.WithCancel(ctx)
	r := &run{
		entry:        e,
		plan:         plan,
		materializer: template.NewMaterializer(c.RequestTemplate, c.Positions, c.Target),
		cursor:       attack.NewCursor(c.NextIndex, c.TotalRequests),
		concurrency:  c.Concurrency,
		delay:        time.Duration(c.DelayMs) * time.Millisecond,
		ctx:          ctx,
		cancel:       cancel,
		claimCtx:     claimCtx,
		cancelClaim:  cancelClaim,
		done:         make(chan struct{}),
	}
	e.run = r

	m.save(c)
	m.log.WithFields(logrus.Fields{
		"campaign":    c.ID,
		"from":        c.NextIndex,
		"total":       c.TotalRequests,
		"concurrency": c.Concurrency,
		"delay_ms":    c.DelayMs,
	}).Info("Campaign running")
	m.emit(EventStatus, c, nil)

	m.runs.Add(1)
	go func() {
		defer m.runs.Done()
		m.execute(r)
	}()
	return nil
}

// execute runs the worker pool until every worker returned, then settles the campaign state
func (m *CampaignManager) execute(r *run) {
	var g errgroup.Group
	for i := 0; i < r.concurrency; i++ {
		g.Go(func() error {
			m.worker(r)
			return nil
		})
	}
	_ = g.Wait()

	m.finish(r)
}

// worker paces itself, then claims and dispatches tuples until the cursor is exhausted,
// the campaign is paused or it is stopped.
func (m *CampaignManager) worker(r *run) {
	var limiter *rate.Limiter
	if r.delay > 0 {
		limiter = rate.NewLimiter(rate.Every(r.delay), 1)
	}

	for {
		if limiter != nil {
			if err := limiter.Wait(r.claimCtx); err != nil {
				return
			}
		}
		if r.claimCtx.Err() != nil {
			return
		}
		index, ok := r.cursor.Claim()
		if !ok {
			return
		}
		m.dispatch(r, index)
	}
}

// dispatch sends one tuple and records its result unless the run was stopped meanwhile
func (m *CampaignManager) dispatch(r *run, index int64) {
	result := &models.CampaignResult{
		ID:         uuid.New().String(),
		CampaignID: r.entry.campaign.ID,
		TupleIndex: index,
	}

	values, err := r.plan.Values(index)
	if err == nil {
		result.PayloadSet = values
		var req *models.HTTPRequest
		req, err = r.materializer.Materialize(values)
		if err == nil {
			var resp *models.HTTPResponse
			resp, err = m.executor.Execute(r.ctx, req)
			if err == nil {
				fillResponse(result, resp)
				inspection := m.inspector.Inspect(resp, values)
				result.Title = inspection.Title
				result.Forms = inspection.Forms
				result.Flags = inspection.Flags
			}
		}
	}
	if err != nil {
		result.Error = err.Error()
	}
	result.Timestamp = time.Now().UTC()

	m.record(r, result)
}

func fillResponse(result *models.CampaignResult, resp *models.HTTPResponse) {
	status := resp.StatusCode
	length := resp.Length
	elapsed := resp.ElapsedMs
	result.StatusCode = &status
	result.ResponseLength = &length
	result.ResponseTime = &elapsed
}

// record stores a result and bumps the counters. Holding the entry lock orders it against stop:
// once a campaign is stopped no further result is stored.
func (m *CampaignManager) record(r *run, result *models.CampaignResult) {
	e := r.entry
	e.mu.Lock()
	defer e.mu.Unlock()

	c := e.campaign
	if r.stopped() {
		return
	}

	if err := m.store.AppendResult(context.Background(), result); err != nil {
		m.log.WithError(err).WithFields(logrus.Fields{
			"campaign": c.ID,
			"tuple":    result.TupleIndex,
		}).Error("Failed to store result")
	}

	if result.Failed() {
		c.FailedRequests++
		m.log.WithFields(logrus.Fields{
			"campaign": c.ID,
			"tuple":    result.TupleIndex,
			"error":    result.Error,
		}).Debug("Request failed")
	} else {
		c.CompletedRequests++
	}
	m.emit(EventResult, c, result)
}

// finish runs after the last worker returned. The run completes the campaign when every tuple
// was dispatched and the campaign is still running.
func (m *CampaignManager) finish(r *run) {
	e := r.entry
	e.mu.Lock()
	defer e.mu.Unlock()

	c := e.campaign
	c.NextIndex = r.cursor.Next()

	if c.Status == models.StatusRunning && c.Exhausted() {
		if _, err := c.Transition(models.StatusCompleted, time.Now().UTC()); err != nil {
			m.log.WithError(err).WithField("campaign", c.ID).Error("Failed to complete campaign")
		} else {
			m.log.WithFields(logrus.Fields{
				"campaign":  c.ID,
				"completed": c.CompletedRequests,
				"failed":    c.FailedRequests,
			}).Info("Campaign completed")
			m.emit(EventStatus, c, nil)
		}
	}
	m.save(c)

	r.cancel()
	e.run = nil
	close(r.done)
}
