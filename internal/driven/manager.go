// Package driven runs attack campaigns: it owns the campaign state machine and the scheduler
// that dispatches generated requests.
package driven

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BetterCallFirewall/Intruder/internal/attack"
	"github.com/BetterCallFirewall/Intruder/internal/httpexec"
	"github.com/BetterCallFirewall/Intruder/internal/limits"
	"github.com/BetterCallFirewall/Intruder/internal/logger"
	"github.com/BetterCallFirewall/Intruder/internal/models"
	"github.com/BetterCallFirewall/Intruder/internal/payloads"
	"github.com/BetterCallFirewall/Intruder/internal/storage"
	"github.com/BetterCallFirewall/Intruder/internal/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// CampaignManager owns every campaign of the process and the runs executing them.
type CampaignManager struct {
	store     storage.Store
	executor  httpexec.Executor
	provider  *payloads.Provider
	limiter   *limits.CampaignLimiter
	inspector *utils.ResponseInspector
	log       *logrus.Entry
	events    *broker

	defaultConcurrency int
	defaultDelayMs     int

	entries map[string]*entry
	mutex   sync.Mutex // guards entries

	runs             sync.WaitGroup
	checkpointTicker *time.Ticker
	stopChan         chan struct{}
	closeOnce        sync.Once
}

// entry is the live state of one campaign. mu serializes control operations and result recording.
type entry struct {
	mu       sync.Mutex
	campaign *models.Campaign
	run      *run
}

// CampaignManagerOptions configures a manager. Executor is required.
type CampaignManagerOptions struct {
	Executor           httpexec.Executor
	Store              storage.Store
	Provider           *payloads.Provider
	Limits             *limits.CampaignLimiter
	Logger             *logrus.Logger
	DefaultConcurrency int
	DefaultDelayMs     int
	CheckpointInterval time.Duration // how often running campaigns are persisted and progress is pushed
	EventBuffer        int
}

// DefaultCampaignManagerOptions returns the defaults without an executor
func DefaultCampaignManagerOptions() *CampaignManagerOptions {
	return &CampaignManagerOptions{
		Store:              storage.NewMemoryStorage(),
		Limits:             limits.NewCampaignLimiter(nil),
		DefaultConcurrency: 5,
		DefaultDelayMs:     0,
		CheckpointInterval: 2 * time.Second,
		EventBuffer:        256,
	}
}

// NewCampaignManager creates a manager. Zero fields in opts take the defaults.
func NewCampaignManager(opts *CampaignManagerOptions) (*CampaignManager, error) {
	defaults := DefaultCampaignManagerOptions()
	if opts == nil {
		opts = defaults
	}
	if opts.Executor == nil {
		return nil, errors.New("campaign manager needs an executor")
	}
	if opts.Store == nil {
		opts.Store = defaults.Store
	}
	if opts.Limits == nil {
		opts.Limits = defaults.Limits
	}
	if opts.Provider == nil {
		catalog, err := payloads.DefaultCatalog()
		if err != nil {
			return nil, fmt.Errorf("failed to load payload catalog: %w", err)
		}
		opts.Provider = payloads.NewProvider(catalog, opts.Limits)
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.DefaultConcurrency <= 0 {
		opts.DefaultConcurrency = defaults.DefaultConcurrency
	}

	m := &CampaignManager{
		store:              opts.Store,
		executor:           opts.Executor,
		provider:           opts.Provider,
		limiter:            opts.Limits,
		inspector:          utils.NewResponseInspector(),
		log:                opts.Logger.WithField("component", "campaigns"),
		events:             newBroker(opts.EventBuffer),
		defaultConcurrency: opts.DefaultConcurrency,
		defaultDelayMs:     opts.DefaultDelayMs,
		entries:            make(map[string]*entry),
		stopChan:           make(chan struct{}),
	}

	if opts.CheckpointInterval > 0 {
		m.startCheckpointRoutine(opts.CheckpointInterval)
	}
	return m, nil
}

// startCheckpointRoutine periodically persists running campaigns and pushes progress events
func (m *CampaignManager) startCheckpointRoutine(interval time.Duration) {
	ticker := time.NewTicker(interval)
	m.checkpointTicker = ticker
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.checkpoint()
			case <-m.stopChan:
				return
			}
		}
	}()
}

func (m *CampaignManager) checkpoint() {
	for _, e := range m.snapshotEntries() {
		e.mu.Lock()
		if e.run != nil && e.campaign.Status == models.StatusRunning {
			m.save(e.campaign)
			m.emit(EventProgress, e.campaign, nil)
		}
		e.mu.Unlock()
	}
}

// Close pauses running campaigns, waits for their in-flight requests and closes event subscriptions.
// Paused campaigns can be resumed by a later process after Recover.
func (m *CampaignManager) Close(ctx context.Context) error {
	var err error
	m.closeOnce.Do(func() {
		if m.checkpointTicker != nil {
			close(m.stopChan)
		}

		for _, e := range m.snapshotEntries() {
			e.mu.Lock()
			if e.campaign.Status == models.StatusRunning {
				if _, perr := m.pauseLocked(e); perr != nil {
					m.log.WithError(perr).WithField("campaign", e.campaign.ID).Warn("Failed to pause campaign on shutdown")
				}
			}
			e.mu.Unlock()
		}

		done := make(chan struct{})
		go func() {
			m.runs.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}
		m.events.close()
	})
	return err
}

// Subscribe returns a channel of campaign events and a function that ends the subscription
func (m *CampaignManager) Subscribe() (<-chan Event, func()) {
	return m.events.subscribe()
}

// CreateCampaign finalizes a draft into a pending campaign with its request total computed.
// Every configuration problem is reported here, before anything is sent.
func (m *CampaignManager) CreateCampaign(ctx context.Context, d Draft) (*models.Campaign, error) {
	c, _, err := m.finalize(d)
	if err != nil {
		return nil, err
	}

	c.ID = uuid.New().String()
	if c.Name == "" {
		c.Name = defaultName(c.ID)
	}
	c.CreatedAt = time.Now().UTC()

	if err := m.store.SaveCampaign(ctx, c); err != nil {
		return nil, err
	}

	e := &entry{campaign: c}
	m.mutex.Lock()
	m.entries[c.ID] = e
	m.mutex.Unlock()

	m.log.WithFields(logrus.Fields{
		"campaign":  c.ID,
		"attack":    c.AttackType,
		"positions": len(c.Positions),
		"total":     c.TotalRequests,
	}).Info("Campaign created")

	e.mu.Lock()
	defer e.mu.Unlock()
	m.emit(EventStatus, c, nil)
	return c.Clone(), nil
}

// Start moves a pending campaign to running and begins dispatching. Starting a running campaign is a no-op.
func (m *CampaignManager) Start(ctx context.Context, id string) (*models.Campaign, error) {
	e, err := m.entry(ctx, id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	c := e.campaign
	if c.Status == models.StatusRunning {
		return c.Clone(), nil
	}
	if c.Status != models.StatusPending {
		return nil, fmt.Errorf("%w: cannot start a %s campaign", models.ErrInvalidTransition, c.Status)
	}

	if err := m.launch(e); err != nil {
		return nil, err
	}
	return c.Clone(), nil
}

// Pause stops claiming new tuples. In-flight requests finish and are recorded.
func (m *CampaignManager) Pause(ctx context.Context, id string) (*models.Campaign, error) {
	e, err := m.entry(ctx, id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := m.pauseLocked(e); err != nil {
		return nil, err
	}
	return e.campaign.Clone(), nil
}

func (m *CampaignManager) pauseLocked(e *entry) (bool, error) {
	changed, err := e.campaign.Transition(models.StatusPaused, time.Now().UTC())
	if err != nil || !changed {
		return changed, err
	}
	if e.run != nil {
		e.run.pause()
	}
	m.save(e.campaign)
	m.log.WithField("campaign", e.campaign.ID).Info("Campaign paused")
	m.emit(EventStatus, e.campaign, nil)
	return true, nil
}

// Resume continues a paused campaign at the first unclaimed tuple. It waits for the previous run
// to drain so no tuple is dispatched twice.
func (m *CampaignManager) Resume(ctx context.Context, id string) (*models.Campaign, error) {
	e, err := m.entry(ctx, id)
	if err != nil {
		return nil, err
	}

	for {
		e.mu.Lock()
		c := e.campaign
		switch c.Status {
		case models.StatusRunning:
			e.mu.Unlock()
			return c.Clone(), nil
		case models.StatusPaused:
		default:
			e.mu.Unlock()
			return nil, fmt.Errorf("%w: cannot resume a %s campaign", models.ErrInvalidTransition, c.Status)
		}

		prev := e.run
		if prev == nil {
			err := m.launch(e)
			snapshot := c.Clone()
			e.mu.Unlock()
			if err != nil {
				return nil, err
			}
			return snapshot, nil
		}
		e.mu.Unlock()

		select {
		case <-prev.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// StopCampaign ends a running or paused campaign for good. In-flight requests are cancelled
// and their outcome is discarded.
func (m *CampaignManager) StopCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	e, err := m.entry(ctx, id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	changed, err := e.campaign.Transition(models.StatusStopped, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if changed {
		if e.run != nil {
			e.run.stop()
		}
		m.save(e.campaign)
		m.log.WithField("campaign", e.campaign.ID).Info("Campaign stopped")
		m.emit(EventStatus, e.campaign, nil)
	}
	return e.campaign.Clone(), nil
}

// Get returns a snapshot of the campaign
func (m *CampaignManager) Get(ctx context.Context, id string) (*models.Campaign, error) {
	e, err := m.entry(ctx, id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.campaign.Clone(), nil
}

// List returns every known campaign ordered by creation time
func (m *CampaignManager) List(ctx context.Context) ([]*models.Campaign, error) {
	stored, err := m.store.ListCampaigns(ctx)
	if err != nil {
		return nil, err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	for i, c := range stored {
		if e, ok := m.entries[c.ID]; ok {
			e.mu.Lock()
			stored[i] = e.campaign.Clone()
			e.mu.Unlock()
		}
	}
	return stored, nil
}

// Progress returns the derived progress of a campaign
func (m *CampaignManager) Progress(ctx context.Context, id string) (models.CampaignProgress, error) {
	e, err := m.entry(ctx, id)
	if err != nil {
		return models.CampaignProgress{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.campaign.Progress(), nil
}

// Results returns the campaign's results in completion order
func (m *CampaignManager) Results(ctx context.Context, id string, filter models.ResultFilter) ([]*models.CampaignResult, error) {
	if _, err := m.entry(ctx, id); err != nil {
		return nil, err
	}
	return m.store.ListResults(ctx, id, filter)
}

// Wait blocks until the campaign has no run in progress: it completed, was stopped,
// or was paused and drained. Pending campaigns return immediately.
func (m *CampaignManager) Wait(ctx context.Context, id string) (*models.Campaign, error) {
	e, err := m.entry(ctx, id)
	if err != nil {
		return nil, err
	}

	for {
		e.mu.Lock()
		r := e.run
		snapshot := e.campaign.Clone()
		e.mu.Unlock()

		if r == nil {
			return snapshot, nil
		}
		select {
		case <-r.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Recover prepares persisted campaigns after a restart. Campaigns that were running become paused.
// Results at or above the first tuple without a result are discarded and the counters are rebuilt
// from what is left, so a resume neither repeats nor skips a tuple.
func (m *CampaignManager) Recover(ctx context.Context) (int, error) {
	stored, err := m.store.ListCampaigns(ctx)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, c := range stored {
		if c.Status != models.StatusRunning && c.Status != models.StatusPaused {
			continue
		}
		m.mutex.Lock()
		_, live := m.entries[c.ID]
		m.mutex.Unlock()
		if live {
			continue
		}

		if err := m.rebuild(ctx, c); err != nil {
			return recovered, fmt.Errorf("recover campaign %s: %w", c.ID, err)
		}
		if c.Status == models.StatusRunning {
			c.Status = models.StatusPaused
		}
		if err := m.store.SaveCampaign(ctx, c); err != nil {
			return recovered, err
		}

		m.mutex.Lock()
		m.entries[c.ID] = &entry{campaign: c}
		m.mutex.Unlock()
		recovered++

		m.log.WithFields(logrus.Fields{
			"campaign": c.ID,
			"next":     c.NextIndex,
			"total":    c.TotalRequests,
		}).Info("Campaign recovered as paused")
	}
	return recovered, nil
}

func (m *CampaignManager) rebuild(ctx context.Context, c *models.Campaign) error {
	indexes, err := m.store.TupleIndexes(ctx, c.ID)
	if err != nil {
		return err
	}

	watermark := int64(0)
	for _, idx := range indexes {
		if idx > watermark {
			break
		}
		if idx == watermark {
			watermark++
		}
	}
	if err := m.store.TruncateResults(ctx, c.ID, watermark); err != nil {
		return err
	}

	results, err := m.store.ListResults(ctx, c.ID, models.ResultFilter{})
	if err != nil {
		return err
	}
	c.CompletedRequests, c.FailedRequests = 0, 0
	for _, r := range results {
		if r.Failed() {
			c.FailedRequests++
		} else {
			c.CompletedRequests++
		}
	}
	c.NextIndex = watermark
	return nil
}

// entry returns the live state of a campaign, loading it from the store on first use
func (m *CampaignManager) entry(ctx context.Context, id string) (*entry, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if e, ok := m.entries[id]; ok {
		return e, nil
	}

	c, err := m.store.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	e := &entry{campaign: c}
	m.entries[id] = e
	return e, nil
}

func (m *CampaignManager) snapshotEntries() []*entry {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	out := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out
}

// save persists the campaign. The in-memory state stays authoritative, so failures are only logged.
// Called with the entry locked.
func (m *CampaignManager) save(c *models.Campaign) {
	if err := m.store.SaveCampaign(context.Background(), c); err != nil {
		m.log.WithError(err).WithField("campaign", c.ID).Error("Failed to persist campaign")
	}
}

// emit publishes an event. Called with the entry locked.
func (m *CampaignManager) emit(t EventType, c *models.Campaign, result *models.CampaignResult) {
	m.events.publish(Event{
		Type:       t,
		CampaignID: c.ID,
		Status:     c.Status,
		Progress:   c.Progress(),
		Result:     result,
		Timestamp:  time.Now().UTC(),
	})
}

// planFor rebuilds the execution plan of a stored campaign
func planFor(c *models.Campaign) (*attack.Plan, error) {
	plan, err := attack.PlanFromCampaign(c)
	if err != nil {
		return nil, err
	}
	if plan.Total != c.TotalRequests {
		return nil, fmt.Errorf("campaign %s: plan yields %d requests, expected %d", c.ID, plan.Total, c.TotalRequests)
	}
	return plan, nil
}

// Catalog returns the built-in payload catalog drafts can refer to
func (m *CampaignManager) Catalog() *payloads.Catalog {
	return m.provider.Catalog()
}
