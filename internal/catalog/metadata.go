package catalog

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Metadata is the game description an external hub pushes to the page. The
// selector synthesizes a Descriptor from it instead of showing the menu.
type Metadata struct {
	Name       string `yaml:"name" json:"name"`
	Title      string `yaml:"title" json:"title,omitempty"`
	BaseURL    string `yaml:"baseUrl" json:"baseUrl"`
	Icon       string `yaml:"icon" json:"icon,omitempty"`
	Gradient   string `yaml:"gradient" json:"gradient,omitempty"`
	ReadyEvent string `yaml:"readyEvent" json:"readyEvent,omitempty"`
	TenantID   string `yaml:"tenantId" json:"tenantId,omitempty"`
	Difficulty string `yaml:"difficulty" json:"difficulty,omitempty"`
	GameType   string `yaml:"gameType" json:"gameType,omitempty"`
}

// HubCatalog is the on-disk catalog format: tenants each exposing games.
type HubCatalog struct {
	Tenants []Tenant `yaml:"tenants"`
}

// Tenant groups the games offered to one tenant.
type Tenant struct {
	ID    string     `yaml:"id"`
	Name  string     `yaml:"name"`
	Games []Metadata `yaml:"games"`
}

// FromMetadata synthesizes a descriptor from hub-provided metadata.
func FromMetadata(m Metadata, rules ...Rule) (*Descriptor, error) {
	return NewDescriptor(Spec{
		Name:            m.Name,
		Title:           m.Title,
		BaseURL:         m.BaseURL,
		Icon:            m.Icon,
		DisplayGradient: m.Gradient,
		ReadyEventName:  m.ReadyEvent,
		Difficulty:      m.Difficulty,
		MiniGameType:    m.GameType,
	}, rules...)
}

// LoadMetadataFile reads a YAML hub catalog.
func LoadMetadataFile(path string) (*HubCatalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return ParseMetadata(raw)
}

// ParseMetadata decodes a YAML hub catalog and fills tenant ids on games.
func ParseMetadata(raw []byte) (*HubCatalog, error) {
	var c HubCatalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("catalog: decode metadata: %w", err)
	}
	for ti := range c.Tenants {
		t := &c.Tenants[ti]
		for gi := range t.Games {
			g := &t.Games[gi]
			if strings.TrimSpace(g.Name) == "" {
				return nil, fmt.Errorf("catalog: tenant %q game #%d has no name", t.ID, gi)
			}
			if g.TenantID == "" {
				g.TenantID = t.ID
			}
		}
	}
	return &c, nil
}

// Find returns the metadata for a game, optionally scoped to a tenant.
// An empty tenantID searches every tenant.
func (c *HubCatalog) Find(tenantID, name string) (Metadata, bool) {
	if c == nil {
		return Metadata{}, false
	}
	for _, t := range c.Tenants {
		if tenantID != "" && t.ID != tenantID {
			continue
		}
		for _, g := range t.Games {
			if g.Name == name {
				return g, true
			}
		}
	}
	return Metadata{}, false
}
