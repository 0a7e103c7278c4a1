package payloads

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"

	"github.com/BetterCallFirewall/Intruder/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed catalog/*.yaml
var embeddedCatalog embed.FS

// CatalogFile is the YAML layout of one built-in payload list
type CatalogFile struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Payloads    []string `yaml:"payloads"`
}

// Catalog holds the built-in payload lists keyed by identifier ("sqli", "xss", ...)
type Catalog struct {
	mu    sync.RWMutex
	lists map[string]*CatalogFile
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{
		lists: make(map[string]*CatalogFile),
	}
}

// DefaultCatalog returns a catalog loaded with the embedded lists
func DefaultCatalog() (*Catalog, error) {
	c := NewCatalog()
	if err := c.LoadEmbedded(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadEmbedded loads the lists compiled into the binary
func (c *Catalog) LoadEmbedded() error {
	return fs.WalkDir(embeddedCatalog, "catalog", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".yaml") {
			return nil
		}

		data, err := embeddedCatalog.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read embedded catalog %s: %w", path, err)
		}
		return c.Add(data)
	})
}

// Add parses one YAML catalog file and registers it, replacing a list with the same id
func (c *Catalog) Add(data []byte) error {
	var file CatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse catalog file: %w", err)
	}
	if file.ID == "" {
		return fmt.Errorf("catalog file has no id")
	}
	if len(file.Payloads) == 0 {
		return fmt.Errorf("catalog %q: %w", file.ID, models.ErrEmptyPayloadSet)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists[file.ID] = &file
	return nil
}

// Get returns a copy of the ordered payloads for a catalog id
func (c *Catalog) Get(id string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	file, ok := c.lists[id]
	if !ok {
		return nil, models.ConfigErr("catalog", models.ErrUnknownCatalog, "%q", id)
	}
	return append([]string(nil), file.Payloads...), nil
}

// Entry describes a catalog list without its payloads
type Entry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Size        int    `json:"size"`
}

// Entries lists the registered catalogs sorted by id
func (c *Catalog) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries := make([]Entry, 0, len(c.lists))
	for _, file := range c.lists {
		entries = append(entries, Entry{
			ID:          file.ID,
			Name:        file.Name,
			Description: file.Description,
			Size:        len(file.Payloads),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}
