package driven

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BetterCallFirewall/Intruder/internal/models"
	"github.com/BetterCallFirewall/Intruder/internal/payloads"
	"github.com/BetterCallFirewall/Intruder/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loginTemplate = "POST /api/login HTTP/1.1\r\nHost: target.local\r\nContent-Type: application/json\r\n\r\n" +
	`{"user":"§u§","id":"§n§"}`

type fakeExecutor struct {
	mu       sync.Mutex
	requests []*models.HTTPRequest
	inFlight int32
	maxSeen  int32
	hook     func(ctx context.Context, req *models.HTTPRequest) (*models.HTTPResponse, error)
}

func (f *fakeExecutor) Execute(ctx context.Context, req *models.HTTPRequest) (*models.HTTPResponse, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		seen := atomic.LoadInt32(&f.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&f.maxSeen, seen, n) {
			break
		}
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.hook != nil {
		return f.hook(ctx, req)
	}
	return &models.HTTPResponse{StatusCode: 200, Body: "ok", Length: 2, ElapsedMs: 1}, nil
}

func (f *fakeExecutor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func newTestManager(t *testing.T, exec *fakeExecutor, store storage.Store) *CampaignManager {
	t.Helper()
	if store == nil {
		store = storage.NewMemoryStorage()
	}
	m, err := NewCampaignManager(&CampaignManagerOptions{
		Executor:           exec,
		Store:              store,
		DefaultConcurrency: 2,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	return m
}

func clusterBombDraft() Draft {
	return Draft{
		Name:       "login",
		Template:   loginTemplate,
		AttackType: models.AttackClusterBomb,
		PayloadSets: map[string]payloads.Source{
			"users": {Type: models.PayloadSimpleList, Values: []string{"admin", "root"}},
			"ids":   {Type: models.PayloadNumericRange, From: 1, To: 3},
		},
		Bindings: map[string]string{"u": "users", "n": "ids"},
	}
}

func listDraft(n int) Draft {
	values := make([]string, n)
	for i := range values {
		values[i] = "v" + strings.Repeat("x", i)
	}
	return Draft{
		Template:    "GET /item/§id§ HTTP/1.1\r\nHost: target.local\r\n\r\n",
		AttackType:  models.AttackSniper,
		Concurrency: 1,
		PayloadSets: map[string]payloads.Source{"items": {Values: values}},
	}
}

func waitDone(t *testing.T, m *CampaignManager, id string) *models.Campaign {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := m.Wait(ctx, id)
	require.NoError(t, err)
	return c
}

func tupleIndexes(results []*models.CampaignResult) []int64 {
	out := make([]int64, 0, len(results))
	for _, r := range results {
		out = append(out, r.TupleIndex)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestCampaignManager_ClusterBombScenario(t *testing.T) {
	exec := &fakeExecutor{}
	m := newTestManager(t, exec, nil)
	ctx := context.Background()

	c, err := m.CreateCampaign(ctx, clusterBombDraft())
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, c.Status)
	assert.Equal(t, int64(6), c.TotalRequests)
	require.Len(t, c.Positions, 2)

	_, err = m.Start(ctx, c.ID)
	require.NoError(t, err)
	done := waitDone(t, m, c.ID)

	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Equal(t, int64(6), done.CompletedRequests)
	assert.Zero(t, done.FailedRequests)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.CompletedAt)

	results, err := m.Results(ctx, c.ID, models.ResultFilter{})
	require.NoError(t, err)
	got := map[string]int{}
	for _, r := range results {
		got[strings.Join(r.PayloadSet, ",")]++
	}
	assert.Equal(t, map[string]int{
		"admin,1": 1, "admin,2": 1, "admin,3": 1,
		"root,1": 1, "root,2": 1, "root,3": 1,
	}, got)

	bodies := map[string]bool{}
	for _, req := range exec.requests {
		assert.Equal(t, "http://target.local/api/login", req.URL)
		bodies[req.Body] = true
	}
	assert.True(t, bodies[`{"user":"root","id":"2"}`])
	assert.Len(t, bodies, 6)

	progress, err := m.Progress(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, progress.CurrentProgress)
}

func TestCampaignManager_ConcurrencyBound(t *testing.T) {
	exec := &fakeExecutor{
		hook: func(ctx context.Context, req *models.HTTPRequest) (*models.HTTPResponse, error) {
			time.Sleep(5 * time.Millisecond)
			return &models.HTTPResponse{StatusCode: 200}, nil
		},
	}
	m := newTestManager(t, exec, nil)
	ctx := context.Background()

	d := listDraft(30)
	d.Concurrency = 3
	c, err := m.CreateCampaign(ctx, d)
	require.NoError(t, err)

	_, err = m.Start(ctx, c.ID)
	require.NoError(t, err)
	done := waitDone(t, m, c.ID)

	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Equal(t, 30, exec.count())
	assert.LessOrEqual(t, atomic.LoadInt32(&exec.maxSeen), int32(3))
}

func TestCampaignManager_DelayPacesEachWorker(t *testing.T) {
	exec := &fakeExecutor{}
	m := newTestManager(t, exec, nil)
	ctx := context.Background()

	d := listDraft(3)
	delay := 30
	d.DelayMs = &delay
	c, err := m.CreateCampaign(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, 30, c.DelayMs)

	start := time.Now()
	_, err = m.Start(ctx, c.ID)
	require.NoError(t, err)
	waitDone(t, m, c.ID)

	// three dispatches on one worker: two gaps
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestCampaignManager_PauseResumeContinuesAtCursor(t *testing.T) {
	started := make(chan struct{}, 1)
	gate := make(chan struct{})
	var calls int32
	exec := &fakeExecutor{
		hook: func(ctx context.Context, req *models.HTTPRequest) (*models.HTTPResponse, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				started <- struct{}{}
				<-gate
			}
			return &models.HTTPResponse{StatusCode: 200}, nil
		},
	}
	m := newTestManager(t, exec, nil)
	ctx := context.Background()

	c, err := m.CreateCampaign(ctx, listDraft(10))
	require.NoError(t, err)
	_, err = m.Start(ctx, c.ID)
	require.NoError(t, err)

	<-started
	paused, err := m.Pause(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaused, paused.Status)

	// pausing again is a no-op
	_, err = m.Pause(ctx, c.ID)
	require.NoError(t, err)

	close(gate)
	drained := waitDone(t, m, c.ID)
	assert.Equal(t, models.StatusPaused, drained.Status)
	assert.Equal(t, int64(1), drained.NextIndex)
	assert.Equal(t, int64(1), drained.CompletedRequests)
	assert.Equal(t, 1, exec.count())

	resumed, err := m.Resume(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, resumed.Status)
	done := waitDone(t, m, c.ID)

	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Equal(t, int64(10), done.CompletedRequests)
	assert.Equal(t, 10, exec.count())

	results, err := m.Results(ctx, c.ID, models.ResultFilter{})
	require.NoError(t, err)
	// concurrency 1: completion order is tuple order
	order := make([]int64, 0, len(results))
	for _, r := range results {
		order = append(order, r.TupleIndex)
	}
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestCampaignManager_StopDiscardsInFlight(t *testing.T) {
	var started sync.WaitGroup
	started.Add(2)
	exec := &fakeExecutor{
		hook: func(ctx context.Context, req *models.HTTPRequest) (*models.HTTPResponse, error) {
			started.Done()
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	m := newTestManager(t, exec, nil)
	ctx := context.Background()

	d := listDraft(10)
	d.Concurrency = 2
	c, err := m.CreateCampaign(ctx, d)
	require.NoError(t, err)
	_, err = m.Start(ctx, c.ID)
	require.NoError(t, err)

	started.Wait()
	stopped, err := m.StopCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusStopped, stopped.Status)

	done := waitDone(t, m, c.ID)
	assert.Equal(t, models.StatusStopped, done.Status)
	assert.Zero(t, done.Resolved())
	assert.Nil(t, done.CompletedAt)

	results, err := m.Results(ctx, c.ID, models.ResultFilter{})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 2, exec.count())

	// terminal
	_, err = m.StopCampaign(ctx, c.ID)
	assert.NoError(t, err)
	_, err = m.Resume(ctx, c.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	_, err = m.Start(ctx, c.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestCampaignManager_PendingRejectsPauseAndStop(t *testing.T) {
	exec := &fakeExecutor{}
	m := newTestManager(t, exec, nil)
	ctx := context.Background()

	c, err := m.CreateCampaign(ctx, listDraft(3))
	require.NoError(t, err)

	_, err = m.Pause(ctx, c.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition, "pending campaigns cannot be paused")
	_, err = m.StopCampaign(ctx, c.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition, "pending campaigns cannot be stopped")
}

func TestCampaignManager_AllFailuresStillComplete(t *testing.T) {
	exec := &fakeExecutor{
		hook: func(ctx context.Context, req *models.HTTPRequest) (*models.HTTPResponse, error) {
			return nil, errors.New("connection refused")
		},
	}
	m := newTestManager(t, exec, nil)
	ctx := context.Background()

	c, err := m.CreateCampaign(ctx, clusterBombDraft())
	require.NoError(t, err)
	_, err = m.Start(ctx, c.ID)
	require.NoError(t, err)
	done := waitDone(t, m, c.ID)

	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Equal(t, int64(6), done.FailedRequests)
	assert.Zero(t, done.CompletedRequests)
	assert.Equal(t, 100, done.Progress().CurrentProgress)

	results, err := m.Results(ctx, c.ID, models.ResultFilter{})
	require.NoError(t, err)
	require.Len(t, results, 6)
	for _, r := range results {
		assert.Contains(t, r.Error, "connection refused")
		assert.Nil(t, r.StatusCode)
	}
}

func TestCampaignManager_StartIsIdempotent(t *testing.T) {
	gate := make(chan struct{})
	exec := &fakeExecutor{
		hook: func(ctx context.Context, req *models.HTTPRequest) (*models.HTTPResponse, error) {
			<-gate
			return &models.HTTPResponse{StatusCode: 200}, nil
		},
	}
	m := newTestManager(t, exec, nil)
	ctx := context.Background()

	c, err := m.CreateCampaign(ctx, listDraft(4))
	require.NoError(t, err)

	_, err = m.Start(ctx, c.ID)
	require.NoError(t, err)
	again, err := m.Start(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, again.Status)

	resumed, err := m.Resume(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, resumed.Status)

	close(gate)
	done := waitDone(t, m, c.ID)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Equal(t, 4, exec.count(), "a second start must not dispatch tuples again")
}

func TestCampaignManager_ConfigErrors(t *testing.T) {
	m := newTestManager(t, &fakeExecutor{}, nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(d *Draft)
		want   error
	}{
		{"odd markers", func(d *Draft) { d.Template += "§" }, models.ErrMalformedTemplate},
		{"no positions", func(d *Draft) { d.Template = "GET / HTTP/1.1\r\nHost: x\r\n\r\n" }, models.ErrNoPositions},
		{"invalid attack", func(d *Draft) { d.AttackType = "shotgun" }, models.ErrInvalidAttackType},
		{"unbound position", func(d *Draft) { d.Bindings = map[string]string{"u": "users"} }, models.ErrUnboundPosition},
		{"duplicate binding", func(d *Draft) { d.Bindings = map[string]string{"u": "users", "0": "ids", "n": "ids"} }, models.ErrDuplicateBinding},
		{"unknown set", func(d *Draft) { d.Bindings = map[string]string{"u": "users", "n": "missing"} }, models.ErrInvalidSettings},
		{"unknown position", func(d *Draft) { d.Bindings = map[string]string{"u": "users", "n": "ids", "zz": "ids"} }, models.ErrInvalidSettings},
		{"empty set", func(d *Draft) { d.PayloadSets["users"] = payloads.Source{Type: models.PayloadCustom} }, models.ErrEmptyPayloadSet},
		{"bad concurrency", func(d *Draft) { d.Concurrency = -1 }, models.ErrInvalidSettings},
		{"unparseable request", func(d *Draft) {
			d.Template = "§u§§n§"
		}, models.ErrMalformedTemplate},
		{"pitchfork needs two positions", func(d *Draft) {
			d.Template = "GET /?u=§u§ HTTP/1.1\r\nHost: x\r\n\r\n"
			d.AttackType = models.AttackPitchfork
			d.Bindings = map[string]string{"u": "users"}
		}, models.ErrTooFewPositions},
		{"too many positions", func(d *Draft) {
			d.Template = "GET /" + strings.Repeat("§p§", 65) + " HTTP/1.1\r\nHost: x\r\n\r\n"
		}, models.ErrTemplateTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := clusterBombDraft()
			tt.mutate(&d)

			_, err := m.CreateCampaign(ctx, d)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, models.IsConfigError(err), "expected a configuration error, got %v", err)
		})
	}

	list, err := m.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list, "rejected drafts must not create campaigns")
}

func TestCampaignManager_SingleSetBindsEveryPosition(t *testing.T) {
	m := newTestManager(t, &fakeExecutor{}, nil)

	c, err := m.CreateCampaign(context.Background(), Draft{
		Template:    "GET /§a§/§b§ HTTP/1.1\r\nHost: x\r\n\r\n",
		AttackType:  models.AttackBatteringRam,
		PayloadSets: map[string]payloads.Source{"words": {Values: []string{"x", "y", "z"}}},
	})
	require.NoError(t, err)
	require.Len(t, c.Bindings, 2)
	assert.Same(t, c.Bindings[0].PayloadSet, c.Bindings[1].PayloadSet)
	assert.Equal(t, int64(3), c.TotalRequests)
}

func TestCampaignManager_SniperBaseline(t *testing.T) {
	exec := &fakeExecutor{}
	m := newTestManager(t, exec, nil)
	ctx := context.Background()

	d := clusterBombDraft()
	d.AttackType = models.AttackSniper
	d.Concurrency = 1
	c, err := m.CreateCampaign(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, int64(5), c.TotalRequests)

	_, err = m.Start(ctx, c.ID)
	require.NoError(t, err)
	waitDone(t, m, c.ID)

	results, err := m.Results(ctx, c.ID, models.ResultFilter{})
	require.NoError(t, err)
	var got []string
	for _, r := range results {
		got = append(got, strings.Join(r.PayloadSet, ","))
	}
	assert.Equal(t, []string{"admin,n", "root,n", "u,1", "u,2", "u,3"}, got)
}

func TestCampaignManager_NotFound(t *testing.T) {
	m := newTestManager(t, &fakeExecutor{}, nil)
	ctx := context.Background()

	_, err := m.Start(ctx, "nope")
	assert.ErrorIs(t, err, models.ErrCampaignNotFound)
	_, err = m.Progress(ctx, "nope")
	assert.ErrorIs(t, err, models.ErrCampaignNotFound)
	_, err = m.Results(ctx, "nope", models.ResultFilter{})
	assert.ErrorIs(t, err, models.ErrCampaignNotFound)
}

func TestCampaignManager_Events(t *testing.T) {
	m := newTestManager(t, &fakeExecutor{}, nil)
	ctx := context.Background()

	events, cancel := m.Subscribe()
	defer cancel()

	c, err := m.CreateCampaign(ctx, clusterBombDraft())
	require.NoError(t, err)
	_, err = m.Start(ctx, c.ID)
	require.NoError(t, err)

	var (
		statuses []models.CampaignStatus
		results  int
	)
	timeout := time.After(5 * time.Second)
	for len(statuses) == 0 || statuses[len(statuses)-1] != models.StatusCompleted {
		select {
		case ev := <-events:
			assert.Equal(t, c.ID, ev.CampaignID)
			switch ev.Type {
			case EventStatus:
				statuses = append(statuses, ev.Status)
			case EventResult:
				results++
				require.NotNil(t, ev.Result)
				assert.LessOrEqual(t, ev.Progress.CompletedRequests+ev.Progress.FailedRequests, ev.Progress.TotalRequests)
			}
		case <-timeout:
			t.Fatal("campaign did not complete")
		}
	}

	assert.Equal(t, []models.CampaignStatus{models.StatusPending, models.StatusRunning, models.StatusCompleted}, statuses)
	assert.Equal(t, 6, results)
}

func TestCampaignManager_RecoverTruncatesAboveWatermark(t *testing.T) {
	store := storage.NewMemoryStorage()
	ctx := context.Background()

	first := newTestManager(t, &fakeExecutor{}, store)
	c, err := first.CreateCampaign(ctx, listDraft(6))
	require.NoError(t, err)

	// simulate a crash mid-run: tuples 0,1,2 and 4 stored, 3 was in flight
	c.Status = models.StatusRunning
	c.CompletedRequests = 3
	c.FailedRequests = 1
	c.NextIndex = 5
	require.NoError(t, store.SaveCampaign(ctx, c))
	for _, idx := range []int64{0, 2, 4, 1} {
		r := &models.CampaignResult{ID: c.ID + string(rune('a'+idx)), CampaignID: c.ID, TupleIndex: idx, Timestamp: time.Now()}
		if idx == 1 {
			r.Error = "timeout"
		}
		require.NoError(t, store.AppendResult(ctx, r))
	}

	exec := &fakeExecutor{}
	second := newTestManager(t, exec, store)
	n, err := second.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	recovered, err := second.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaused, recovered.Status)
	assert.Equal(t, int64(3), recovered.NextIndex)
	assert.Equal(t, int64(2), recovered.CompletedRequests)
	assert.Equal(t, int64(1), recovered.FailedRequests)

	_, err = second.Resume(ctx, c.ID)
	require.NoError(t, err)
	done := waitDone(t, second, c.ID)

	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Equal(t, int64(6), done.Resolved())
	assert.Equal(t, 3, exec.count(), "only tuples 3, 4 and 5 are sent again")

	results, err := second.Results(ctx, c.ID, models.ResultFilter{})
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5}, tupleIndexes(results))
}

func TestCampaignManager_CloseLeavesCampaignsResumable(t *testing.T) {
	gate := make(chan struct{})
	exec := &fakeExecutor{
		hook: func(ctx context.Context, req *models.HTTPRequest) (*models.HTTPResponse, error) {
			<-gate
			return &models.HTTPResponse{StatusCode: 200}, nil
		},
	}
	store := storage.NewMemoryStorage()
	m, err := NewCampaignManager(&CampaignManagerOptions{Executor: exec, Store: store})
	require.NoError(t, err)
	ctx := context.Background()

	c, err := m.CreateCampaign(ctx, listDraft(5))
	require.NoError(t, err)
	_, err = m.Start(ctx, c.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return exec.count() == 1 }, time.Second, 5*time.Millisecond)
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(gate)
	}()
	require.NoError(t, m.Close(ctx))

	stored, err := store.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaused, stored.Status)
	assert.Equal(t, int64(1), stored.NextIndex)
	assert.Equal(t, int64(1), stored.CompletedRequests)
}
