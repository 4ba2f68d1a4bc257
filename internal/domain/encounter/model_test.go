package encounter

import (
	"testing"
	"time"
)

func TestTargetState(t *testing.T) {
	cases := map[string]string{
		DispositionHome:      StateDischargedHome,
		DispositionVoluntary: StateDischargedHome,
		DispositionWard:      StateAdmitted,
		DispositionICU:       StateInICU,
		DispositionTransfer:  StateTransferred,
		DispositionDeceased:  StateDeceased,
	}
	for disposition, want := range cases {
		got, ok := TargetState(disposition)
		if !ok || got != want {
			t.Errorf("TargetState(%s): expected %s, got %s (%v)", disposition, want, got, ok)
		}
	}
	if _, ok := TargetState("escaped"); ok {
		t.Error("expected unknown disposition rejected")
	}
}

func TestReleasesBed(t *testing.T) {
	for _, s := range States {
		want := s == StateDischargedHome || s == StateTransferred || s == StateDeceased
		if got := releasesBed(s); got != want {
			t.Errorf("releasesBed(%s): expected %v, got %v", s, want, got)
		}
	}
}

func TestPriorityHelpers(t *testing.T) {
	if PriorityForSeverity(2) != PriorityC2 {
		t.Errorf("expected C2, got %s", PriorityForSeverity(2))
	}
	if !Critical(PriorityC1) || !Critical(PriorityC2) || Critical(PriorityC3) {
		t.Error("expected only C1 and C2 critical")
	}
	if ValidPriority("C0") || ValidPriority("c1") || !ValidPriority(PriorityC5) {
		t.Error("unexpected priority validation")
	}
}

func TestMaxWaitLabel(t *testing.T) {
	cases := []struct {
		severity int
		want     string
	}{
		{1, "immediate"},
		{2, "10 minutes"},
		{3, "30 minutes"},
		{4, "60 minutes"},
		{5, "120 minutes"},
		{7, "undefined"},
	}
	for _, tc := range cases {
		if got := MaxWaitLabel(tc.severity); got != tc.want {
			t.Errorf("MaxWaitLabel(%d): expected %q, got %q", tc.severity, tc.want, got)
		}
	}
	if MaxWait(3) != 30*time.Minute {
		t.Errorf("expected 30m, got %s", MaxWait(3))
	}
}

func TestESIColour_Fallback(t *testing.T) {
	if ESIColour(1) != "#FF0000" {
		t.Errorf("expected red for ESI 1, got %s", ESIColour(1))
	}
	if ESIColour(0) != "#808080" {
		t.Errorf("expected grey fallback, got %s", ESIColour(0))
	}
}

func TestTriage_AlarmSigns(t *testing.T) {
	tr := &Triage{ChestPain: true, MajorTrauma: true}
	got := tr.AlarmSigns()
	if len(got) != 2 || got[0] != "chest_pain" || got[1] != "major_trauma" {
		t.Errorf("unexpected alarm signs %v", got)
	}
	if (&Triage{}).AlarmSigns() != nil {
		t.Error("expected no alarm signs")
	}
}

func TestDiagnosisCode(t *testing.T) {
	day := time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC)
	if got := DiagnosisCode(day, 42); got != "DX-20260310-0042" {
		t.Errorf("expected DX-20260310-0042, got %s", got)
	}
}

func TestNormalizeRUT(t *testing.T) {
	if got := NormalizeRUT(" 12.345.678-k "); got != "12345678-K" {
		t.Errorf("expected 12345678-K, got %s", got)
	}
}
