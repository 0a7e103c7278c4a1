// Package payloads resolves declarative payload sources into ordered payload sets.
package payloads

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BetterCallFirewall/Intruder/internal/limits"
	"github.com/BetterCallFirewall/Intruder/internal/models"
	"github.com/google/uuid"
)

// Source describes where a payload set comes from. It is what drafts, YAML campaign files and the API carry.
type Source struct {
	Name string                `json:"name,omitempty" yaml:"name,omitempty"`
	Type models.PayloadSetType `json:"type" yaml:"type"`

	// simple_list and custom
	Values []string `json:"values,omitempty" yaml:"values,omitempty"`
	File   string   `json:"file,omitempty" yaml:"file,omitempty"`

	// numeric_range, both bounds inclusive
	From int64 `json:"from,omitempty" yaml:"from,omitempty"`
	To   int64 `json:"to,omitempty" yaml:"to,omitempty"`
	Step int64 `json:"step,omitempty" yaml:"step,omitempty"`
	Pad  int   `json:"pad,omitempty" yaml:"pad,omitempty"`

	// catalog id for category types; defaults to the type itself
	Catalog string `json:"catalog,omitempty" yaml:"catalog,omitempty"`
}

// Provider resolves sources into payload sets. Wordlist files are refused until AllowFiles is called.
type Provider struct {
	catalog *Catalog
	limiter *limits.CampaignLimiter

	filesAllowed bool
	fileRoot     string
}

// NewProvider creates a provider. A nil limiter uses the default limits.
func NewProvider(catalog *Catalog, limiter *limits.CampaignLimiter) *Provider {
	if limiter == nil {
		limiter = limits.NewCampaignLimiter(nil)
	}
	if catalog == nil {
		catalog = NewCatalog()
	}
	return &Provider{
		catalog: catalog,
		limiter: limiter,
	}
}

// AllowFiles lets sources read wordlist files. A non-empty root confines them to that directory tree.
// Call it before the provider is shared.
func (p *Provider) AllowFiles(root string) error {
	if root != "" {
		abs, err := filepath.Abs(root)
		if err != nil {
			return fmt.Errorf("wordlist dir: %w", err)
		}
		if root, err = filepath.EvalSymlinks(abs); err != nil {
			return fmt.Errorf("wordlist dir: %w", err)
		}
	}
	p.filesAllowed = true
	p.fileRoot = root
	return nil
}

// Catalog returns the catalog the provider reads category sets from
func (p *Provider) Catalog() *Catalog {
	return p.catalog
}

// Resolve materializes a source into a non-empty, ordered payload set
func (p *Provider) Resolve(src Source) (*models.PayloadSet, error) {
	if src.Type == "" {
		src.Type = models.PayloadSimpleList
	}
	if !src.Type.Valid() {
		return nil, models.ConfigErr("resolve payloads", models.ErrInvalidSettings, "unknown payload set type %q", src.Type)
	}

	var (
		values []string
		err    error
	)
	switch {
	case src.Type == models.PayloadNumericRange:
		values, err = p.numericRange(src)
	case src.Type.IsCategory():
		id := src.Catalog
		if id == "" {
			id = string(src.Type)
		}
		values, err = p.catalog.Get(id)
	case src.File != "":
		values, err = p.readWordlist(src.File)
	default:
		values = append([]string(nil), src.Values...)
	}
	if err != nil {
		return nil, err
	}

	if len(values) == 0 {
		return nil, models.ConfigErr("resolve payloads", models.ErrEmptyPayloadSet, "%s", describe(src))
	}
	if err := p.limiter.CheckPayloadCount(len(values)); err != nil {
		return nil, models.ConfigErr("resolve payloads", models.ErrTooManyRequests, "%v", err)
	}

	return &models.PayloadSet{
		ID:       uuid.New().String(),
		Name:     describe(src),
		Type:     src.Type,
		Payloads: values,
	}, nil
}

func (p *Provider) readWordlist(path string) ([]string, error) {
	const op = "resolve payloads"
	if !p.filesAllowed {
		return nil, models.ConfigErr(op, models.ErrInvalidSettings, "wordlist files are disabled")
	}

	if p.fileRoot != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, models.ConfigErr(op, models.ErrInvalidSettings, "wordlist %s: %v", path, err)
		}
		resolved, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return nil, models.ConfigErr(op, models.ErrInvalidSettings, "wordlist %s: %v", path, err)
		}
		rel, err := filepath.Rel(p.fileRoot, resolved)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil, models.ConfigErr(op, models.ErrInvalidSettings, "wordlist %s is outside %s", path, p.fileRoot)
		}
		path = resolved
	}

	values, err := WordlistFromFile(path, p.limiter.GetLimits().MaxPayloadsPerSet)
	if err != nil {
		return nil, models.ConfigErr(op, models.ErrInvalidSettings, "wordlist %s: %v", path, err)
	}
	return values, nil
}

// numericRange generates From..To inclusive. The step sign follows the direction of the range.
func (p *Provider) numericRange(src Source) ([]string, error) {
	step := src.Step
	if step == 0 {
		step = 1
	}
	if step < 0 {
		step = -step
	}

	var span uint64
	if src.To >= src.From {
		span = uint64(src.To) - uint64(src.From)
	} else {
		span = uint64(src.From) - uint64(src.To)
	}
	limit := p.limiter.GetLimits().MaxPayloadsPerSet
	count := span/uint64(step) + 1
	if count > uint64(limit) {
		return nil, models.ConfigErr("numeric range", models.ErrInvalidRange,
			"%d..%d step %d yields %d payloads, limit is %d", src.From, src.To, step, count, limit)
	}
	if src.Pad < 0 || src.Pad > 64 {
		return nil, models.ConfigErr("numeric range", models.ErrInvalidRange, "pad %d out of range", src.Pad)
	}

	if src.From > src.To {
		step = -step
	}
	values := make([]string, 0, count)
	v := src.From
	for i := uint64(0); i < count; i++ {
		values = append(values, fmt.Sprintf("%0*d", src.Pad, v))
		v += step
	}
	return values, nil
}

func describe(src Source) string {
	if src.Name != "" {
		return src.Name
	}
	switch {
	case src.Type == models.PayloadNumericRange:
		return fmt.Sprintf("range %d..%d", src.From, src.To)
	case src.Type.IsCategory() && src.Catalog != "":
		return src.Catalog
	case src.File != "":
		return src.File
	}
	return string(src.Type)
}
