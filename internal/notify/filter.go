/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package notify

import (
	"fmt"
	"regexp"
	"strings"
)

// Filter is a single matching criterion on a channel. A message is delivered
// only when every filter on the channel matches.
type Filter struct {
	// Field: "severity", "category", "tag", "source"
	Field string `json:"field"`
	// Op: "equals" (default), "contains", "matches" (regex), "in" (comma list)
	Op    string `json:"op"`
	Value string `json:"value"`
}

// compiledFilter carries a pre-compiled regex for "matches" filters so a bad
// pattern is rejected at channel registration, not at delivery time.
type compiledFilter struct {
	Filter
	re *regexp.Regexp
}

func compileFilters(filters []Filter) ([]compiledFilter, error) {
	out := make([]compiledFilter, 0, len(filters))
	for i, f := range filters {
		field := strings.ToLower(strings.TrimSpace(f.Field))
		switch field {
		case "severity", "category", "tag", "source":
		default:
			return nil, fmt.Errorf("filter %d: unknown field %q", i, f.Field)
		}

		cf := compiledFilter{Filter: f}
		cf.Field = field
		cf.Op = strings.ToLower(strings.TrimSpace(f.Op))
		switch cf.Op {
		case "", "equals", "contains", "in":
		case "matches":
			re, err := regexp.Compile(f.Value)
			if err != nil {
				return nil, fmt.Errorf("filter %d: invalid pattern: %w", i, err)
			}
			cf.re = re
		default:
			return nil, fmt.Errorf("filter %d: unknown op %q", i, f.Op)
		}
		out = append(out, cf)
	}
	return out, nil
}

// matchesAll reports whether msg passes every filter.
func matchesAll(filters []compiledFilter, msg Message) bool {
	for _, f := range filters {
		if !f.matches(msg) {
			return false
		}
	}
	return true
}

func (f compiledFilter) matches(msg Message) bool {
	switch f.Field {
	case "severity":
		return f.matchValue(msg.Severity)
	case "category":
		return f.matchValue(msg.Category)
	case "source":
		return f.matchValue(msg.Source)
	case "tag":
		for _, tag := range msg.Tags {
			if f.matchValue(tag) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func (f compiledFilter) matchValue(candidate string) bool {
	c := strings.ToLower(strings.TrimSpace(candidate))
	v := strings.ToLower(strings.TrimSpace(f.Value))
	switch f.Op {
	case "", "equals":
		return c == v
	case "contains":
		return strings.Contains(c, v)
	case "matches":
		return f.re.MatchString(candidate)
	case "in":
		for _, item := range strings.Split(v, ",") {
			if c == strings.TrimSpace(item) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
