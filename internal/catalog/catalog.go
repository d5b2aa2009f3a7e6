package catalog

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/MikeSquared-Agency/ATPFlow/internal/config"
	"github.com/MikeSquared-Agency/ATPFlow/internal/store"
)

// StageDef describes one review step of a workflow path.
type StageDef struct {
	Number   int        `json:"stage_number"`
	Code     string     `json:"code"`
	Name     string     `json:"name"`
	Role     store.Role `json:"role"`
	SLAHours int        `json:"sla_hours"`
}

// Catalog maps each workflow path to its ordered stages. It is built once at
// startup and never mutated afterwards, so it is safe for concurrent reads.
type Catalog struct {
	paths map[store.Category][]StageDef
}

// Default returns the standard review tracks.
func Default() *Catalog {
	c, err := New(map[store.Category][]StageDef{
		store.CategorySoftware: {
			{Code: "BO_REVIEW_L1", Name: "Business Operations Review (Level 1)", Role: store.RoleBO, SLAHours: 48},
			{Code: "SME_REVIEW_L2", Name: "SME Technical Review (Level 2)", Role: store.RoleSME, SLAHours: 48},
			{Code: "HEAD_NOC_REVIEW_L3", Name: "Head NOC Final Review (Level 3)", Role: store.RoleHeadNOC, SLAHours: 24},
		},
		store.CategoryHardware: {
			{Code: "FOP_RTS_REVIEW_L1", Name: "FOP/RTS Field Review (Level 1)", Role: store.RoleFOPRTS, SLAHours: 48},
			{Code: "REGION_REVIEW_L2", Name: "Region Team Review (Level 2)", Role: store.RoleRegionTeam, SLAHours: 48},
			{Code: "RTH_REVIEW_L3", Name: "RTH Final Approval (Level 3)", Role: store.RoleRTH, SLAHours: 24},
		},
		store.CategoryBoth: {
			{Code: "BO_REVIEW_L1", Name: "Business Operations Review (Level 1)", Role: store.RoleBO, SLAHours: 48},
			{Code: "FOP_RTS_REVIEW_L1", Name: "FOP/RTS Field Review (Level 1)", Role: store.RoleFOPRTS, SLAHours: 48},
			{Code: "SME_REVIEW_L2", Name: "SME Technical Review (Level 2)", Role: store.RoleSME, SLAHours: 48},
			{Code: "REGION_REVIEW_L2", Name: "Region Team Review (Level 2)", Role: store.RoleRegionTeam, SLAHours: 48},
			{Code: "FINAL_REVIEW_L3", Name: "Final Combined Review (Level 3)", Role: store.RoleHeadNOC, SLAHours: 24},
		},
	})
	if err != nil {
		panic(err)
	}
	return c
}

// New validates the entries and returns a catalog holding private copies.
// Stage numbers are assigned from list order.
func New(entries map[store.Category][]StageDef) (*Catalog, error) {
	c := &Catalog{paths: make(map[store.Category][]StageDef, len(entries))}
	for path, defs := range entries {
		if _, err := store.ParseCategory(string(path)); err != nil {
			return nil, err
		}
		if len(defs) == 0 {
			return nil, fmt.Errorf("workflow path %s has no stages", path)
		}
		stages := make([]StageDef, len(defs))
		for i, d := range defs {
			if _, err := store.ParseRole(string(d.Role)); err != nil {
				return nil, fmt.Errorf("workflow path %s stage %d: %w", path, i+1, err)
			}
			if d.SLAHours <= 0 {
				return nil, fmt.Errorf("workflow path %s stage %d: sla hours must be positive", path, i+1)
			}
			if d.Code == "" {
				d.Code = string(d.Role) + "_REVIEW"
			}
			if d.Name == "" {
				d.Name = Label(string(d.Role)) + " Review"
			}
			d.Number = i + 1
			stages[i] = d
		}
		c.paths[path] = stages
	}
	return c, nil
}

// FromConfig builds the catalog from the workflow section of the config,
// falling back to Default when no paths are configured.
func FromConfig(cfg config.WorkflowConfig) (*Catalog, error) {
	if len(cfg.Catalog) == 0 {
		return Default(), nil
	}
	entries := make(map[store.Category][]StageDef, len(cfg.Catalog))
	for rawPath, stages := range cfg.Catalog {
		path, err := store.ParseCategory(rawPath)
		if err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
		defs := make([]StageDef, 0, len(stages))
		for _, s := range stages {
			role, err := store.ParseRole(s.Role)
			if err != nil {
				return nil, fmt.Errorf("catalog %s: %w", path, err)
			}
			defs = append(defs, StageDef{Code: s.Code, Name: s.Name, Role: role, SLAHours: s.SLAHours})
		}
		entries[path] = defs
	}
	return New(entries)
}

// Stages returns a copy of the stages for path.
func (c *Catalog) Stages(path store.Category) ([]StageDef, bool) {
	defs, ok := c.paths[path]
	if !ok {
		return nil, false
	}
	out := make([]StageDef, len(defs))
	copy(out, defs)
	return out, true
}

// Paths lists the configured workflow paths in a stable order.
func (c *Catalog) Paths() []store.Category {
	paths := make([]store.Category, 0, len(c.paths))
	for p := range c.paths {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })
	return paths
}

// Label turns an identifier such as REGION_TEAM into "Region Team".
func Label(ident string) string {
	words := strings.ReplaceAll(strings.ToLower(ident), "_", " ")
	return cases.Title(language.Und).String(words)
}
