package types

import "testing"

func TestIsValidLabel(t *testing.T) {
	tests := []struct {
		label string
		want  bool
	}{
		{"type:bug", true},
		{"priority-tag:p0", true},
		{"ns:val.with-dots_ok", true},
		{"Type:bug", false},  // namespace must be lowercase
		{"type:", false},     // empty value
		{":value", false},    // empty namespace
		{"notanamespace", false},
		{"type:_leading", false}, // value must not start with punctuation
	}
	for _, tt := range tests {
		if got := IsValidLabel(tt.label); got != tt.want {
			t.Errorf("IsValidLabel(%q) = %v, want %v", tt.label, got, tt.want)
		}
	}
}

func TestParseLabel(t *testing.T) {
	ns, val, err := ParseLabel("type:epic")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ns != "type" || val != "epic" {
		t.Errorf("got (%q, %q), want (type, epic)", ns, val)
	}

	if _, _, err := ParseLabel("bogus"); err == nil {
		t.Error("expected error for malformed label")
	}
}

func TestStateLegacyOpenAlias(t *testing.T) {
	var s State
	if err := s.UnmarshalJSON([]byte(`"open"`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != StateBacklog {
		t.Errorf("legacy 'open' should decode to StateBacklog, got %v", s)
	}

	if err := s.UnmarshalJSON([]byte(`"ready"`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != StateReady {
		t.Errorf("got %v, want ready", s)
	}
}

func TestPriorityLess(t *testing.T) {
	if !PriorityCritical.Less(PriorityHigh) {
		t.Error("critical should be less (more urgent) than high")
	}
	if PriorityLow.Less(PriorityNormal) {
		t.Error("low should not be less than normal")
	}
}

func TestIssueTypeLabelUnique(t *testing.T) {
	i := &Issue{Labels: []string{"type:epic", "area:backend"}}
	v, ok := i.TypeLabel()
	if !ok || v != "epic" {
		t.Errorf("TypeLabel() = (%q, %v), want (epic, true)", v, ok)
	}
}

func TestUnpassedGatesInPhase(t *testing.T) {
	i := &Issue{
		GatesRequired: []GateRef{
			{Key: "tests", Phase: PhasePostcheck},
			{Key: "lint", Phase: PhasePostcheck},
			{Key: "design-review", Phase: PhasePrecheck},
		},
		GatesStatus: map[string]GateStatus{
			"tests": {Status: GatePassed},
			"lint":  {Status: GateFailed},
		},
	}
	got := i.UnpassedGatesInPhase(PhasePostcheck)
	if len(got) != 1 || got[0] != "lint" {
		t.Errorf("UnpassedGatesInPhase(postcheck) = %v, want [lint]", got)
	}
	got = i.UnpassedGatesInPhase(PhasePrecheck)
	if len(got) != 1 || got[0] != "design-review" {
		t.Errorf("UnpassedGatesInPhase(precheck) = %v, want [design-review]", got)
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := &Issue{
		Labels:       []string{"type:bug"},
		Dependencies: []string{"abc1"},
		GatesStatus:  map[string]GateStatus{"tests": {Status: GatePending}},
	}
	clone := orig.Clone()
	clone.Labels[0] = "type:feature"
	clone.GatesStatus["tests"] = GateStatus{Status: GatePassed}

	if orig.Labels[0] != "type:bug" {
		t.Error("mutating clone's labels mutated original")
	}
	if orig.GatesStatus["tests"].Status != GatePending {
		t.Error("mutating clone's gate status mutated original")
	}
}
