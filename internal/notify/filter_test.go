/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package notify

import "testing"

func TestFilterOps(t *testing.T) {
	msg := Message{
		Severity: "critical",
		Category: "system",
		Source:   "host-1.internal",
		Tags:     []string{"prod", "db"},
	}

	cases := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"equals hit", Filter{Field: "severity", Op: "equals", Value: "critical"}, true},
		{"equals default op", Filter{Field: "severity", Value: "Critical"}, true},
		{"equals miss", Filter{Field: "severity", Value: "warning"}, false},
		{"contains", Filter{Field: "source", Op: "contains", Value: "internal"}, true},
		{"matches", Filter{Field: "source", Op: "matches", Value: `^host-\d+`}, true},
		{"matches miss", Filter{Field: "source", Op: "matches", Value: `^db-`}, false},
		{"in hit", Filter{Field: "category", Op: "in", Value: "network, system"}, true},
		{"in miss", Filter{Field: "category", Op: "in", Value: "network,disk"}, false},
		{"tag hit", Filter{Field: "tag", Value: "prod"}, true},
		{"tag miss", Filter{Field: "tag", Value: "staging"}, false},
	}

	for _, tc := range cases {
		compiled, err := compileFilters([]Filter{tc.filter})
		if err != nil {
			t.Fatalf("%s: compile error: %v", tc.name, err)
		}
		if got := matchesAll(compiled, msg); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestFiltersAreANDed(t *testing.T) {
	msg := Message{Severity: "critical", Category: "system"}

	compiled, err := compileFilters([]Filter{
		{Field: "severity", Value: "critical"},
		{Field: "category", Value: "network"},
	})
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	if matchesAll(compiled, msg) {
		t.Fatal("expected one failing filter to reject the message")
	}
}

func TestCompileRejectsBadInput(t *testing.T) {
	if _, err := compileFilters([]Filter{{Field: "hostname", Value: "x"}}); err == nil {
		t.Fatal("expected error on unknown field")
	}
	if _, err := compileFilters([]Filter{{Field: "severity", Op: "gt", Value: "x"}}); err == nil {
		t.Fatal("expected error on unknown op")
	}
	if _, err := compileFilters([]Filter{{Field: "source", Op: "matches", Value: "("}}); err == nil {
		t.Fatal("expected error on invalid regex")
	}
}

func TestEmptyFiltersMatchEverything(t *testing.T) {
	if !matchesAll(nil, Message{Severity: "info"}) {
		t.Fatal("expected empty filter set to match")
	}
}
