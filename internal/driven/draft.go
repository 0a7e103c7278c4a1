package driven

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/BetterCallFirewall/Intruder/internal/attack"
	"github.com/BetterCallFirewall/Intruder/internal/models"
	"github.com/BetterCallFirewall/Intruder/internal/payloads"
	"github.com/BetterCallFirewall/Intruder/internal/template"
)

// Draft is an unfinalized campaign as submitted by the API or a campaign file.
type Draft struct {
	Name           string                `json:"name" yaml:"name"`
	Template       string                `json:"template" yaml:"template"`
	Marker         string                `json:"marker,omitempty" yaml:"marker,omitempty"`
	Target         string                `json:"target,omitempty" yaml:"target,omitempty"`
	AttackType     models.AttackType     `json:"attack_type" yaml:"attack_type"`
	SniperBaseline models.SniperBaseline `json:"sniper_baseline,omitempty" yaml:"sniper_baseline,omitempty"`
	Concurrency    int                   `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
	DelayMs        *int                  `json:"delay_ms,omitempty" yaml:"delay_ms,omitempty"`

	// PayloadSets are keyed by a name the bindings refer to. One set may feed several positions.
	PayloadSets map[string]payloads.Source `json:"payload_sets" yaml:"payload_sets"`
	// Bindings map a position (ordinal like "0", or the text between its markers) to a payload set name.
	// With a single payload set and no bindings, that set is bound to every position.
	Bindings map[string]string `json:"bindings,omitempty" yaml:"bindings,omitempty"`
}

// finalize turns the draft into a pending campaign without an ID or timestamps
func (m *CampaignManager) finalize(d Draft) (*models.Campaign, *attack.Plan, error) {
	const op = "create campaign"

	if !d.AttackType.Valid() {
		return nil, nil, models.ConfigErr(op, models.ErrInvalidAttackType, "%q", d.AttackType)
	}
	switch d.SniperBaseline {
	case "":
		d.SniperBaseline = models.BaselineOriginal
	case models.BaselineOriginal, models.BaselineFirstPayload:
	default:
		return nil, nil, models.ConfigErr(op, models.ErrInvalidSettings, "unknown sniper baseline %q", d.SniperBaseline)
	}

	concurrency := d.Concurrency
	if concurrency == 0 {
		concurrency = m.defaultConcurrency
	}
	delayMs := m.defaultDelayMs
	if d.DelayMs != nil {
		delayMs = *d.DelayMs
	}
	if err := m.limiter.CheckSettings(concurrency, delayMs); err != nil {
		return nil, nil, models.ConfigErr(op, models.ErrInvalidSettings, "%v", err)
	}

	marker, err := template.MarkerRune(d.Marker)
	if err != nil {
		return nil, nil, err
	}
	positions, err := template.Parse(d.Template, marker)
	if err != nil {
		return nil, nil, err
	}
	if len(positions) == 0 {
		return nil, nil, models.ConfigErr(op, models.ErrNoPositions, "")
	}
	if err := m.limiter.CheckTemplate(len(d.Template), len(positions)); err != nil {
		return nil, nil, models.ConfigErr(op, models.ErrTemplateTooLarge, "%v", err)
	}

	bindings, err := m.bind(d, positions)
	if err != nil {
		return nil, nil, err
	}

	c := &models.Campaign{
		Name:            strings.TrimSpace(d.Name),
		RequestTemplate: d.Template,
		Marker:          string(marker),
		Target:          strings.TrimRight(d.Target, "/"),
		Positions:       positions,
		Bindings:        bindings,
		AttackType:      d.AttackType,
		SniperBaseline:  d.SniperBaseline,
		Concurrency:     concurrency,
		DelayMs:         delayMs,
		Status:          models.StatusPending,
	}

	plan, err := attack.PlanFromCampaign(c)
	if err != nil {
		return nil, nil, err
	}
	if err := m.limiter.CheckTotal(plan.Total); err != nil {
		return nil, nil, models.ConfigErr(op, models.ErrTooManyRequests, "%v", err)
	}
	c.TotalRequests = plan.Total

	// the first tuple must produce a dispatchable request
	values, err := plan.Values(0)
	if err != nil {
		return nil, nil, err
	}
	if _, err := template.NewMaterializer(c.RequestTemplate, c.Positions, c.Target).Materialize(values); err != nil {
		return nil, nil, models.ConfigErr(op, models.ErrMalformedTemplate, "%v", err)
	}

	return c, plan, nil
}

// bind resolves payload sets once and attaches them to positions in position order
func (m *CampaignManager) bind(d Draft, positions []models.Position) ([]models.PositionBinding, error) {
	const op = "bind payloads"

	if len(d.PayloadSets) == 0 {
		return nil, models.ConfigErr(op, models.ErrUnboundPosition, "no payload sets given")
	}

	links := d.Bindings
	if len(links) == 0 && len(d.PayloadSets) == 1 {
		links = make(map[string]string, len(positions))
		for name := range d.PayloadSets {
			for _, p := range positions {
				links[strconv.Itoa(p.ID)] = name
			}
		}
	}

	resolved := make(map[string]*models.PayloadSet, len(d.PayloadSets))
	bound := make(map[int]string, len(positions))
	for key, setName := range links {
		id, err := positionFor(key, positions)
		if err != nil {
			return nil, err
		}
		if prev, ok := bound[id]; ok {
			return nil, models.ConfigErr(op, models.ErrDuplicateBinding, "position %d bound to %q and %q", id, prev, setName)
		}

		if _, ok := resolved[setName]; !ok {
			src, ok := d.PayloadSets[setName]
			if !ok {
				return nil, models.ConfigErr(op, models.ErrInvalidSettings, "position %q refers to unknown payload set %q", key, setName)
			}
			if src.Name == "" {
				src.Name = setName
			}
			set, err := m.provider.Resolve(src)
			if err != nil {
				return nil, err
			}
			resolved[setName] = set
		}
		bound[id] = setName
	}

	bindings := make([]models.PositionBinding, 0, len(bound))
	for id, setName := range bound {
		bindings = append(bindings, models.PositionBinding{PositionID: id, PayloadSet: resolved[setName]})
	}
	sort.Slice(bindings, func(i, j int) bool { return bindings[i].PositionID < bindings[j].PositionID })
	return bindings, nil
}

// positionFor maps a binding key to a position ID. Ordinals win over names.
func positionFor(key string, positions []models.Position) (int, error) {
	if n, err := strconv.Atoi(key); err == nil && n >= 0 && n < len(positions) {
		return n, nil
	}

	found := -1
	for _, p := range positions {
		if p.Name != key {
			continue
		}
		if found >= 0 {
			return 0, models.ConfigErr("bind payloads", models.ErrInvalidSettings,
				"position name %q is ambiguous, bind by ordinal instead", key)
		}
		found = p.ID
	}
	if found < 0 {
		return 0, models.ConfigErr("bind payloads", models.ErrInvalidSettings, "no position named %q", key)
	}
	return found, nil
}

func defaultName(id string) string {
	return fmt.Sprintf("campaign-%s", id[:8])
}
