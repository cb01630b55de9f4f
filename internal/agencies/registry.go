// Package agencies manages the YAML-based registry of reporting agencies.
// Each agency carries a default classification and keyword hints used to
// pre-classify incoming records.
package agencies

import (
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Agency describes one intake agency or department.
type Agency struct {
	Name           string   `yaml:"name"`
	Description    string   `yaml:"description"`
	Classification string   `yaml:"classification"`
	Keywords       []string `yaml:"keywords"`
}

// Config is the top-level YAML structure.
type Config struct {
	Agencies []Agency `yaml:"agencies"`
}

// Registry holds loaded agencies, keyed by name.
type Registry struct {
	byName map[string]*Agency
	order  []string // preserves definition order
}

// Load reads the YAML file at path and returns a Registry.
// If the file does not exist, Load returns an empty Registry (not an error).
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Registry{byName: make(map[string]*Agency)}, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	r := &Registry{
		byName: make(map[string]*Agency, len(cfg.Agencies)),
	}
	for i := range cfg.Agencies {
		a := &cfg.Agencies[i]
		if a.Name == "" {
			continue
		}
		if _, dup := r.byName[a.Name]; dup {
			continue
		}
		r.byName[a.Name] = a
		r.order = append(r.order, a.Name)
	}
	return r, nil
}

// Get returns the agency with the given name, or nil.
func (r *Registry) Get(name string) *Agency {
	if r == nil {
		return nil
	}
	return r.byName[name]
}

// Names returns all agency names in definition order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Len returns the number of registered agencies.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.byName)
}

// Classify determines a classification for the given text by counting
// keyword hits per agency. The agency with the most hits wins; ties keep
// definition order. Returns "" when nothing matches.
func (r *Registry) Classify(text string) string {
	if r == nil || len(r.order) == 0 {
		return ""
	}
	lower := strings.ToLower(text)

	type match struct {
		classification string
		hits           int
		pos            int
	}

	var matches []match
	for pos, name := range r.order {
		a := r.byName[name]
		if a.Classification == "" {
			continue
		}
		hits := 0
		for _, kw := range a.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits > 0 {
			matches = append(matches, match{classification: a.Classification, hits: hits, pos: pos})
		}
	}
	if len(matches) == 0 {
		return ""
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].hits != matches[j].hits {
			return matches[i].hits > matches[j].hits
		}
		return matches[i].pos < matches[j].pos
	})
	return matches[0].classification
}
