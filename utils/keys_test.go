package utils

import "testing"

func TestResourceAndAction(t *testing.T) {
	if got := ResourceOf("agents.create"); got != "agents" {
		t.Fatalf("ResourceOf: %s", got)
	}
	if got := ActionOf("agents.create"); got != "create" {
		t.Fatalf("ActionOf: %s", got)
	}
	if got := ResourceOf("billing"); got != "billing" {
		t.Fatalf("dotless ResourceOf: %s", got)
	}
	if got := ActionOf("billing"); got != "" {
		t.Fatalf("dotless ActionOf: %q", got)
	}
	if got := ActionOf("conversations.view_phone"); got != "view_phone" {
		t.Fatalf("ActionOf underscore: %s", got)
	}
}

func TestMatchKey(t *testing.T) {
	cases := []struct {
		key, pattern string
		want         bool
	}{
		{"agents.view", "*", true},
		{"agents.view", "agents.*", true},
		{"billing.view", "agents.*", false},
		{"agents.view", "agents.view", true},
		{"agents.view", "agents.create", false},
		{"agents.view", "*.view", true},
		{"billing.manage", "*.view", false},
		{"agents.view", "agents", false},
	}
	for _, tc := range cases {
		if got := MatchKey(tc.key, tc.pattern); got != tc.want {
			t.Fatalf("MatchKey(%q, %q) = %v, want %v", tc.key, tc.pattern, got, tc.want)
		}
	}
}

func TestIsPattern(t *testing.T) {
	if !IsPattern("agents.*") || !IsPattern("*") {
		t.Fatalf("wildcards should be patterns")
	}
	if IsPattern("agents.view") {
		t.Fatalf("literal key is not a pattern")
	}
}

func TestGroupByResource(t *testing.T) {
	groups := GroupByResource([]string{"agents.create", "agents.view", "billing.view"})
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %v", groups)
	}
	if got := groups["agents"]; len(got) != 2 || got[0] != "agents.create" {
		t.Fatalf("agents group order lost: %v", got)
	}
}
