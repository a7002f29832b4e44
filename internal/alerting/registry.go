package alerting

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry is the synchronized rule set. Constructed at service start and
// torn down with it; there is no package-level state.
type Registry struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

// NewRegistry creates an empty rule registry.
func NewRegistry() *Registry {
	return &Registry{rules: make(map[string]Rule)}
}

// Add validates and inserts a rule, assigning an id when absent.
func (r *Registry) Add(rule Rule) (*Rule, error) {
	if err := rule.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rule: %w", err)
	}

	now := time.Now().UTC()
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rules[rule.ID]; exists {
		return nil, fmt.Errorf("rule %s already exists", rule.ID)
	}
	r.rules[rule.ID] = rule

	copyRule := rule
	return &copyRule, nil
}

// Restore inserts a previously persisted rule as-is, keeping its id and
// timestamps. Invalid rules are rejected like in Add.
func (r *Registry) Restore(rule Rule) error {
	if rule.ID == "" {
		return fmt.Errorf("rule id required")
	}
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("invalid rule: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[rule.ID] = rule
	return nil
}

// HasName reports whether any rule carries the given name. Used to avoid
// re-seeding config-declared rules that were already persisted.
func (r *Registry) HasName(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rule := range r.rules {
		if rule.Name == name {
			return true
		}
	}
	return false
}

// Update validates and replaces an existing rule.
func (r *Registry) Update(rule Rule) (*Rule, error) {
	if rule.ID == "" {
		return nil, fmt.Errorf("rule id required")
	}
	if err := rule.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rule: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.rules[rule.ID]
	if !ok {
		return nil, fmt.Errorf("rule %s not found", rule.ID)
	}

	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now().UTC()
	r.rules[rule.ID] = rule

	copyRule := rule
	return &copyRule, nil
}

// Remove deletes a rule by id. Returns false when the id is unknown.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rules[id]; !ok {
		return false
	}
	delete(r.rules, id)
	return true
}

// Get returns one rule by id.
func (r *Registry) Get(id string) (Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, ok := r.rules[id]
	return rule, ok
}

// List returns all rules, most recently updated first.
func (r *Registry) List() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Enabled returns only enabled rules.
func (r *Registry) Enabled() []Rule {
	all := r.List()
	out := all[:0]
	for _, rule := range all {
		if rule.Enabled {
			out = append(out, rule)
		}
	}
	return out
}
