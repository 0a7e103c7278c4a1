package attack

import (
	"fmt"
	"sync"

	"github.com/BetterCallFirewall/Intruder/internal/models"
)

// Plan is the resolved form of a campaign's bindings: one payload sequence per position,
// indexed by position order, built once when the campaign is created.
type Plan struct {
	Type      models.AttackType
	Sets      [][]string
	Baselines []string
	Total     int64

	lengths []int
	driver  int // battering ram: the sequence every position takes its value from
}

// NewPlan validates the sequences and computes the total tuple count.
// baselines holds the value idle sniper positions keep; it may be nil for other attack types.
func NewPlan(t models.AttackType, sets [][]string, baselines []string) (*Plan, error) {
	lengths := make([]int, len(sets))
	for i, s := range sets {
		lengths[i] = len(s)
	}

	total, err := TotalCount(t, lengths)
	if err != nil {
		return nil, err
	}
	if t == models.AttackSniper && len(baselines) != len(sets) {
		return nil, fmt.Errorf("new plan: %d baselines for %d positions", len(baselines), len(sets))
	}

	return &Plan{
		Type:      t,
		Sets:      sets,
		Baselines: baselines,
		Total:     total,
		lengths:   lengths,
		driver:    shortest(lengths),
	}, nil
}

// PlanFromCampaign builds the plan of a drafted campaign. Bindings are looked up once here
// so the dispatch path only does slice indexing.
func PlanFromCampaign(c *models.Campaign) (*Plan, error) {
	sets := make([][]string, len(c.Positions))
	bound := make([]bool, len(c.Positions))
	for _, b := range c.Bindings {
		if b.PositionID < 0 || b.PositionID >= len(c.Positions) {
			return nil, models.ConfigErr("build plan", models.ErrInvalidSettings, "binding for unknown position %d", b.PositionID)
		}
		if bound[b.PositionID] {
			return nil, models.ConfigErr("build plan", models.ErrDuplicateBinding, "position %d", b.PositionID)
		}
		if b.PayloadSet.Len() == 0 {
			return nil, models.ConfigErr("build plan", models.ErrEmptyPayloadSet, "position %d", b.PositionID)
		}
		sets[b.PositionID] = b.PayloadSet.Payloads
		bound[b.PositionID] = true
	}
	for i, ok := range bound {
		if !ok {
			return nil, models.ConfigErr("build plan", models.ErrUnboundPosition, "position %d (%q)", i, c.Positions[i].Name)
		}
	}

	var baselines []string
	if c.AttackType == models.AttackSniper {
		baselines = make([]string, len(c.Positions))
		for i, p := range c.Positions {
			if c.SniperBaseline == models.BaselineFirstPayload {
				baselines[i] = sets[i][0]
			} else {
				baselines[i] = p.Name
			}
		}
	}
	return NewPlan(c.AttackType, sets, baselines)
}

// Values resolves tuple number index to one payload string per position.
func (p *Plan) Values(index int64) ([]string, error) {
	tuple, err := TupleAt(p.Type, p.lengths, index)
	if err != nil {
		return nil, err
	}

	values := make([]string, len(tuple))
	for i, k := range tuple {
		switch {
		case k == Baseline:
			values[i] = p.Baselines[i]
		case p.Type == models.AttackBatteringRam:
			values[i] = p.Sets[p.driver][k]
		default:
			values[i] = p.Sets[i][k]
		}
	}
	return values, nil
}

// Cursor hands out tuple indices in order. Claim is atomic, so no two workers get the same index.
type Cursor struct {
	mu    sync.Mutex
	next  int64
	total int64
}

// NewCursor starts a cursor at start, which is where a resumed campaign left off.
func NewCursor(start, total int64) *Cursor {
	if start < 0 {
		start = 0
	}
	return &Cursor{next: start, total: total}
}

// Claim returns the next unclaimed index, or false once the sequence is exhausted.
func (c *Cursor) Claim() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.next >= c.total {
		return 0, false
	}
	index := c.next
	c.next++
	return index, true
}

// Next returns the first index that has not been claimed.
func (c *Cursor) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}
