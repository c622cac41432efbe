// Package catalog supplies configured campaigns, templates, intents and
// knowledge snippets to the engine.
package catalog

import (
	"errors"
	"fmt"
	"sort"

	"github.com/foxzi/outreach/internal/models"
)

// ErrNotFound is returned for unknown campaign or template ids
var ErrNotFound = errors.New("not found in catalog")

// Catalog is an immutable in-memory view of configured content
type Catalog struct {
	campaigns map[string]models.Campaign
	templates map[string]models.Template
	order     []string // template ids in configured order
	intents   []models.Intent
	knowledge []models.KnowledgeSnippet
}

// New validates references and builds a catalog
func New(campaigns []models.Campaign, templates []models.Template, intents []models.Intent, knowledge []models.KnowledgeSnippet) (*Catalog, error) {
	c := &Catalog{
		campaigns: make(map[string]models.Campaign, len(campaigns)),
		templates: make(map[string]models.Template, len(templates)),
		intents:   append([]models.Intent(nil), intents...),
		knowledge: append([]models.KnowledgeSnippet(nil), knowledge...),
	}

	for _, t := range templates {
		if t.ID == "" {
			return nil, fmt.Errorf("template %q: id is required", t.Name)
		}
		if _, dup := c.templates[t.ID]; dup {
			return nil, fmt.Errorf("duplicate template id %q", t.ID)
		}
		c.templates[t.ID] = t
		c.order = append(c.order, t.ID)
	}

	for _, camp := range campaigns {
		if camp.ID == "" {
			return nil, fmt.Errorf("campaign %q: id is required", camp.Name)
		}
		if _, dup := c.campaigns[camp.ID]; dup {
			return nil, fmt.Errorf("duplicate campaign id %q", camp.ID)
		}
		for _, id := range camp.FollowUp.TemplateSequence {
			if _, ok := c.templates[id]; !ok {
				return nil, fmt.Errorf("campaign %s: unknown follow-up template %q", camp.ID, id)
			}
		}
		c.campaigns[camp.ID] = camp
	}

	names := make(map[string]bool, len(intents))
	for _, in := range intents {
		if in.Name == "" {
			return nil, fmt.Errorf("intent name is required")
		}
		if names[in.Name] {
			return nil, fmt.Errorf("duplicate intent %q", in.Name)
		}
		names[in.Name] = true
		for _, id := range in.TemplateIDs {
			if _, ok := c.templates[id]; !ok {
				return nil, fmt.Errorf("intent %s: unknown template %q", in.Name, id)
			}
		}
	}

	return c, nil
}

// Campaign returns a campaign by id
func (c *Catalog) Campaign(id string) (*models.Campaign, error) {
	camp, ok := c.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("campaign %s: %w", id, ErrNotFound)
	}
	return &camp, nil
}

// FollowUpConfig returns the follow-up schedule of a campaign
func (c *Catalog) FollowUpConfig(campaignID string) (*models.FollowUpConfig, error) {
	camp, err := c.Campaign(campaignID)
	if err != nil {
		return nil, err
	}
	return &camp.FollowUp, nil
}

// Template returns a template by id
func (c *Catalog) Template(id string) (*models.Template, error) {
	t, ok := c.templates[id]
	if !ok {
		return nil, fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	return &t, nil
}

// Templates returns all templates in configured order
func (c *Catalog) Templates() []models.Template {
	out := make([]models.Template, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.templates[id])
	}
	return out
}

// Campaigns returns all campaigns sorted by id
func (c *Catalog) Campaigns() []models.Campaign {
	out := make([]models.Campaign, 0, len(c.campaigns))
	for _, camp := range c.campaigns {
		out = append(out, camp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Intents returns the registered intents
func (c *Catalog) Intents() []models.Intent {
	return append([]models.Intent(nil), c.intents...)
}

// Knowledge returns the knowledge snippets
func (c *Catalog) Knowledge() []models.KnowledgeSnippet {
	return append([]models.KnowledgeSnippet(nil), c.knowledge...)
}
