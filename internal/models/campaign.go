package models

import (
	"fmt"
	"time"
)

// DefaultMarker delimits insertion positions in request templates
const DefaultMarker = '§'

// AttackType selects how per-position payload sequences combine into request tuples
type AttackType string

const (
	AttackSniper       AttackType = "sniper"
	AttackBatteringRam AttackType = "battering_ram"
	AttackPitchfork    AttackType = "pitchfork"
	AttackClusterBomb  AttackType = "cluster_bomb"
)

// Valid reports whether t is one of the four supported attack types.
func (t AttackType) Valid() bool {
	switch t {
	case AttackSniper, AttackBatteringRam, AttackPitchfork, AttackClusterBomb:
		return true
	}
	return false
}

// MinPositions returns how many bound positions the attack type needs.
func (t AttackType) MinPositions() int {
	if t == AttackPitchfork || t == AttackClusterBomb {
		return 2
	}
	return 1
}

// SniperBaseline selects what idle positions hold during a sniper attack
type SniperBaseline string

const (
	// BaselineOriginal keeps the original text between the markers
	BaselineOriginal SniperBaseline = "original"
	// BaselineFirstPayload uses the first payload of the position's own set
	BaselineFirstPayload SniperBaseline = "first_payload"
)

// CampaignStatus is the lifecycle state of a campaign
type CampaignStatus string

const (
	StatusPending   CampaignStatus = "pending"
	StatusRunning   CampaignStatus = "running"
	StatusPaused    CampaignStatus = "paused"
	StatusStopped   CampaignStatus = "stopped"
	StatusCompleted CampaignStatus = "completed"
)

// Terminal reports whether no further transitions are possible from s.
func (s CampaignStatus) Terminal() bool {
	return s == StatusStopped || s == StatusCompleted
}

var transitions = map[CampaignStatus][]CampaignStatus{
	StatusPending: {StatusRunning},
	StatusRunning: {StatusPaused, StatusStopped, StatusCompleted},
	StatusPaused:  {StatusRunning, StatusStopped},
}

// Campaign is the aggregate root of one configured attack run.
type Campaign struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	RequestTemplate string            `json:"request_template"`
	Marker          string            `json:"marker"`
	Target          string            `json:"target,omitempty"`
	Positions       []Position        `json:"positions"`
	Bindings        []PositionBinding `json:"bindings"`
	AttackType      AttackType        `json:"attack_type"`
	SniperBaseline  SniperBaseline    `json:"sniper_baseline,omitempty"`
	Concurrency     int               `json:"concurrency"`
	DelayMs         int               `json:"delay_ms"`

	Status            CampaignStatus `json:"status"`
	TotalRequests     int64          `json:"total_requests"`
	CompletedRequests int64          `json:"completed_requests"`
	FailedRequests    int64          `json:"failed_requests"`
	NextIndex         int64          `json:"next_index"` // first tuple index not yet claimed

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// CanTransition reports whether the state machine allows moving to the given status.
func (c *Campaign) CanTransition(to CampaignStatus) bool {
	for _, next := range transitions[c.Status] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the campaign to the given status and runs the entry bookkeeping.
// A transition to the current status is a no-op and reports changed == false.
func (c *Campaign) Transition(to CampaignStatus, now time.Time) (changed bool, err error) {
	if c.Status == to {
		return false, nil
	}
	if !c.CanTransition(to) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, to)
	}

	switch to {
	case StatusRunning:
		if c.StartedAt == nil {
			c.StartedAt = &now
		}
	case StatusCompleted:
		c.CompletedAt = &now
	}

	c.Status = to
	return true, nil
}

// Resolved returns the number of requests that produced a result.
func (c *Campaign) Resolved() int64 {
	return c.CompletedRequests + c.FailedRequests
}

// Exhausted reports whether every tuple has been claimed.
func (c *Campaign) Exhausted() bool {
	return c.NextIndex >= c.TotalRequests
}

// Progress returns the derived progress view of the campaign.
func (c *Campaign) Progress() CampaignProgress {
	return CampaignProgress{
		CampaignID:        c.ID,
		Status:            c.Status,
		TotalRequests:     c.TotalRequests,
		CompletedRequests: c.CompletedRequests,
		FailedRequests:    c.FailedRequests,
		CurrentProgress:   ProgressPercent(c.Resolved(), c.TotalRequests),
	}
}

// Clone returns a copy that shares no mutable state with c.
func (c *Campaign) Clone() *Campaign {
	cp := *c
	cp.Positions = append([]Position(nil), c.Positions...)
	cp.Bindings = append([]PositionBinding(nil), c.Bindings...)
	if c.StartedAt != nil {
		t := *c.StartedAt
		cp.StartedAt = &t
	}
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// CampaignProgress is derived from the campaign counters on demand
type CampaignProgress struct {
	CampaignID        string         `json:"campaign_id"`
	Status            CampaignStatus `json:"status"`
	TotalRequests     int64          `json:"total_requests"`
	CompletedRequests int64          `json:"completed_requests"`
	FailedRequests    int64          `json:"failed_requests"`
	CurrentProgress   int            `json:"current_progress"`
}

// ProgressPercent computes floor(100*resolved/total) clamped to [0,100], 0 when total is 0.
func ProgressPercent(resolved, total int64) int {
	if total <= 0 || resolved <= 0 {
		return 0
	}
	if resolved >= total {
		return 100
	}
	return int(100 * resolved / total)
}

// CampaignResult records the outcome of one dispatched request. It is never mutated after creation.
type CampaignResult struct {
	ID             string    `json:"id"`
	CampaignID     string    `json:"campaign_id"`
	TupleIndex     int64     `json:"tuple_index"`
	PayloadSet     []string  `json:"payload_set"` // one value per position, in position order
	StatusCode     *int      `json:"status_code,omitempty"`
	ResponseLength *int64    `json:"response_length,omitempty"`
	ResponseTime   *int64    `json:"response_time,omitempty"` // milliseconds
	Title          string    `json:"title,omitempty"`
	Forms          int       `json:"forms,omitempty"` // number of <form> elements in an HTML response
	Flags          []string  `json:"flags,omitempty"` // response indicators, e.g. sql_error, reflected
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Failed reports whether the dispatch failed.
func (r *CampaignResult) Failed() bool {
	return r.Error != ""
}

// ResultFilter narrows a result query. Zero values disable a criterion.
type ResultFilter struct {
	StatusCode int   `json:"status_code,omitempty" form:"status"`
	MinLength  int64 `json:"min_length,omitempty" form:"min_length"`
	MaxLength  int64 `json:"max_length,omitempty" form:"max_length"`
	Limit      int   `json:"limit,omitempty" form:"limit"`
	Offset     int   `json:"offset,omitempty" form:"offset"`
}

// Match reports whether r passes the status and length criteria.
// Results without a response never match a status or length criterion.
func (f ResultFilter) Match(r *CampaignResult) bool {
	if f.StatusCode != 0 && (r.StatusCode == nil || *r.StatusCode != f.StatusCode) {
		return false
	}
	if f.MinLength > 0 && (r.ResponseLength == nil || *r.ResponseLength < f.MinLength) {
		return false
	}
	if f.MaxLength > 0 && (r.ResponseLength == nil || *r.ResponseLength > f.MaxLength) {
		return false
	}
	return true
}
