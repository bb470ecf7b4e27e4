package scenario

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/codalotl/agentconform/internal/failure"
	"github.com/codalotl/agentconform/internal/types"
)

//go:embed scenarios.yml
var catalogYAML []byte

// Definition is one scenario: what the agent is asked to do and the contract its output must
// meet.
type Definition struct {
	ID              string     `yaml:"id" json:"id"`
	Key             string     `yaml:"key" json:"key"`
	Title           string     `yaml:"title" json:"title"`
	AnalysisType    string     `yaml:"analysis-type" json:"analysis_type"`
	Fixture         string     `yaml:"fixture" json:"fixture,omitempty"`
	AnchorSkills    StringList `yaml:"anchor-skills" json:"anchor_skills"`
	OptionalSkills  StringList `yaml:"optional-skills" json:"optional_skills,omitempty"`
	ExpectedActions StringList `yaml:"expected-actions" json:"expected_actions,omitempty"`
	DomainKeywords  StringList `yaml:"domain-keywords" json:"domain_keywords,omitempty"`
	Smoke           bool       `yaml:"smoke" json:"smoke"`
}

// HasFixture reports whether the scenario runs inside a copy of a named fixture.
func (d Definition) HasFixture() bool {
	return d.Fixture != ""
}

func (d Definition) clone() Definition {
	d.AnchorSkills = append(StringList(nil), d.AnchorSkills...)
	d.OptionalSkills = append(StringList(nil), d.OptionalSkills...)
	d.ExpectedActions = append(StringList(nil), d.ExpectedActions...)
	d.DomainKeywords = append(StringList(nil), d.DomainKeywords...)
	return d
}

// StringList allows unmarshalling a string or a slice of strings.
type StringList []string

// UnmarshalYAML makes StringList accept a string or a slice.
func (s *StringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var v string
		if err := value.Decode(&v); err != nil {
			return err
		}
		if v != "" {
			*s = []string{v}
		}
		return nil
	case yaml.SequenceNode:
		var vals []string
		if err := value.Decode(&vals); err != nil {
			return err
		}
		*s = vals
		return nil
	case 0:
		// missing field is fine
		return nil
	default:
		return fmt.Errorf("expected string or list, got %v", value.Kind)
	}
}

// Catalog is an immutable, ordered set of scenarios. Accessors return copies.
type Catalog struct {
	defs  []Definition
	byKey map[string]int
}

type catalogFile struct {
	Scenarios []Definition `yaml:"scenarios"`
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse scenario catalog: %w", err)
	}
	c := &Catalog{defs: f.Scenarios, byKey: make(map[string]int, len(f.Scenarios))}
	for i, d := range c.defs {
		c.byKey[d.Key] = i
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

var builtin = sync.OnceValues(func() (*Catalog, error) {
	return Parse(catalogYAML)
})

// Builtin returns the catalog shipped with the binary. It is parsed once.
func Builtin() (*Catalog, error) {
	return builtin()
}

// All returns every scenario in catalog order.
func (c *Catalog) All() []Definition {
	out := make([]Definition, len(c.defs))
	for i, d := range c.defs {
		out[i] = d.clone()
	}
	return out
}

// Keys returns all scenario keys, sorted.
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.defs))
	for _, d := range c.defs {
		keys = append(keys, d.Key)
	}
	sort.Strings(keys)
	return keys
}

// Lookup returns the scenario with key.
func (c *Catalog) Lookup(key string) (Definition, error) {
	i, ok := c.byKey[key]
	if !ok {
		return Definition{}, failure.Configf("Unknown scenario key: %s. Supported: %s", key, strings.Join(c.Keys(), ", "))
	}
	return c.defs[i].clone(), nil
}

// ByMode returns the smoke-flagged scenarios for smoke mode, and every scenario otherwise.
func (c *Catalog) ByMode(mode types.Mode) []Definition {
	if mode != types.ModeSmoke {
		return c.All()
	}
	var out []Definition
	for _, d := range c.defs {
		if d.Smoke {
			out = append(out, d.clone())
		}
	}
	return out
}

// Select resolves glob patterns (doublestar syntax) against scenario keys and ids. With no
// patterns it falls back to ByMode. Explicitly selected scenarios ignore the smoke filter.
// Every pattern must match at least one scenario.
func (c *Catalog) Select(patterns []string, mode types.Mode) ([]Definition, error) {
	if len(patterns) == 0 {
		return c.ByMode(mode), nil
	}
	selected := make([]bool, len(c.defs))
	for _, pattern := range patterns {
		if !doublestar.ValidatePattern(pattern) {
			return nil, failure.Configf("invalid scenario pattern %q", pattern)
		}
		matched := false
		for i, d := range c.defs {
			if doublestar.MatchUnvalidated(pattern, d.Key) || doublestar.MatchUnvalidated(pattern, d.ID) {
				selected[i] = true
				matched = true
			}
		}
		if !matched {
			return nil, failure.Configf("no scenario matches %q. Supported: %s", pattern, strings.Join(c.Keys(), ", "))
		}
	}
	var out []Definition
	for i, d := range c.defs {
		if selected[i] {
			out = append(out, d.clone())
		}
	}
	return out, nil
}

// Validate checks catalog coherence: unique ids and keys, and the fields every run needs.
func (c *Catalog) Validate() error {
	if len(c.defs) == 0 {
		return errors.New("scenario catalog is empty")
	}
	ids := map[string]bool{}
	keys := map[string]bool{}
	smoke := 0
	for i, d := range c.defs {
		where := d.Key
		if where == "" {
			where = fmt.Sprintf("scenario #%d", i+1)
		}
		switch {
		case strings.TrimSpace(d.ID) == "":
			return fmt.Errorf("%s: id is required", where)
		case strings.TrimSpace(d.Key) == "":
			return fmt.Errorf("%s: key is required", where)
		case strings.TrimSpace(d.Title) == "":
			return fmt.Errorf("%s: title is required", where)
		case strings.TrimSpace(d.AnalysisType) == "":
			return fmt.Errorf("%s: analysis-type is required", where)
		case len(d.AnchorSkills) == 0:
			return fmt.Errorf("%s: anchor-skills must not be empty", where)
		case len(d.DomainKeywords) > 0 && !d.HasFixture():
			return fmt.Errorf("%s: domain-keywords require a fixture", where)
		}
		if ids[d.ID] {
			return fmt.Errorf("%s: duplicate id %q", where, d.ID)
		}
		if keys[d.Key] {
			return fmt.Errorf("duplicate scenario key %q", d.Key)
		}
		ids[d.ID] = true
		keys[d.Key] = true
		lists := []struct {
			field  string
			values StringList
		}{
			{"anchor-skills", d.AnchorSkills},
			{"optional-skills", d.OptionalSkills},
			{"expected-actions", d.ExpectedActions},
			{"domain-keywords", d.DomainKeywords},
		}
		for _, l := range lists {
			for _, v := range l.values {
				if strings.TrimSpace(v) == "" {
					return fmt.Errorf("%s: %s entries cannot be empty", where, l.field)
				}
			}
		}
		if d.Smoke {
			smoke++
		}
	}
	if smoke == 0 {
		return errors.New("scenario catalog has no smoke scenarios")
	}
	return nil
}

// ValidateFixtures checks that every referenced fixture exists as a directory under dir.
func (c *Catalog) ValidateFixtures(dir string) error {
	for _, d := range c.defs {
		if !d.HasFixture() {
			continue
		}
		path := filepath.Join(dir, d.Fixture)
		info, err := os.Stat(path)
		if err != nil {
			return failure.Configf("%s: fixture does not exist: %s", d.Key, path)
		}
		if !info.IsDir() {
			return failure.Configf("%s: fixture is not a directory: %s", d.Key, path)
		}
	}
	return nil
}
