package models

import "time"

// BindingSummary describes a binding without its payloads
type BindingSummary struct {
	PositionID   int            `json:"position_id"`
	PositionName string         `json:"position_name"`
	SetID        string         `json:"set_id"`
	SetName      string         `json:"set_name"`
	SetType      PayloadSetType `json:"set_type"`
	Size         int            `json:"size"`
}

// CampaignDTO is what the API returns for a campaign. Payload lists are left out, they can be huge.
type CampaignDTO struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	RequestTemplate string           `json:"request_template"`
	Marker          string           `json:"marker"`
	Target          string           `json:"target,omitempty"`
	AttackType      AttackType       `json:"attack_type"`
	SniperBaseline  SniperBaseline   `json:"sniper_baseline,omitempty"`
	Concurrency     int              `json:"concurrency"`
	DelayMs         int              `json:"delay_ms"`
	Positions       []Position       `json:"positions"`
	Bindings        []BindingSummary `json:"bindings"`
	NextIndex       int64            `json:"next_index"`
	CampaignProgress

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewCampaignDTO builds the API view of c
func NewCampaignDTO(c *Campaign) CampaignDTO {
	names := make(map[int]string, len(c.Positions))
	for _, p := range c.Positions {
		names[p.ID] = p.Name
	}

	bindings := make([]BindingSummary, 0, len(c.Bindings))
	for _, b := range c.Bindings {
		s := BindingSummary{PositionID: b.PositionID, PositionName: names[b.PositionID], Size: b.PayloadSet.Len()}
		if b.PayloadSet != nil {
			s.SetID = b.PayloadSet.ID
			s.SetName = b.PayloadSet.Name
			s.SetType = b.PayloadSet.Type
		}
		bindings = append(bindings, s)
	}

	return CampaignDTO{
		ID:               c.ID,
		Name:             c.Name,
		RequestTemplate:  c.RequestTemplate,
		Marker:           c.Marker,
		Target:           c.Target,
		AttackType:       c.AttackType,
		SniperBaseline:   c.SniperBaseline,
		Concurrency:      c.Concurrency,
		DelayMs:          c.DelayMs,
		Positions:        c.Positions,
		Bindings:         bindings,
		NextIndex:        c.NextIndex,
		CampaignProgress: c.Progress(),
		CreatedAt:        c.CreatedAt,
		StartedAt:        c.StartedAt,
		CompletedAt:      c.CompletedAt,
	}
}

// ResultsPage is one page of campaign results
type ResultsPage struct {
	CampaignID string            `json:"campaign_id"`
	Count      int               `json:"count"`
	Filter     ResultFilter      `json:"filter"`
	Results    []*CampaignResult `json:"results"`
}

// ErrorResponse is the body of every failed API call
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"` // config, not_found, conflict, internal
}
