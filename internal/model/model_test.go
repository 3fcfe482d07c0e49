package model

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to TaskStatus
		want     bool
	}{
		{TaskNew, TaskInProgress, true},
		{TaskNew, TaskClosed, true},
		{TaskInProgress, TaskPaused, true},
		{TaskPaused, TaskInProgress, true},
		{TaskInProgress, TaskClosed, true},
		{TaskClosed, TaskArchived, true},
		{TaskNew, TaskArchived, false},
		{TaskArchived, TaskNew, false},
		{TaskClosed, TaskNew, false},
		{TaskPaused, TaskClosed, false},
		{TaskNew, TaskNew, true},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestNormalizeTriageBucket(t *testing.T) {
	for in, want := range map[string]TriageBucket{
		"quick_action": BucketQuickAction,
		"Quick Action": BucketQuickAction,
		"deep-work":    BucketDeepWork,
		" WAITING_FOR": BucketWaitingFor,
	} {
		got, ok := NormalizeTriageBucket(in)
		if !ok || got != want {
			t.Errorf("NormalizeTriageBucket(%q) = %q, %v", in, got, ok)
		}
	}
	if _, ok := NormalizeTriageBucket("urgent"); ok {
		t.Error("unknown bucket accepted")
	}
}

func TestNormalizeEnumsDefault(t *testing.T) {
	if NormalizeRisk("critical") != RiskMedium {
		t.Error("unknown risk should default to Medium")
	}
	if NormalizeRisk("HIGH") != RiskHigh {
		t.Error("risk not case-insensitive")
	}
	if NormalizeRecommendation("maybe") != RecommendReview {
		t.Error("unknown recommendation should default to Review")
	}
	if NormalizeRequestType("it change") != "IT Change" {
		t.Error("request type not matched")
	}
	if NormalizeRequestType("Travel") != "General" {
		t.Error("unknown request type should be General")
	}
	if NormalizePriority("low") != PriorityMedium {
		t.Error("priority should default to medium")
	}
}

func TestParseDecision(t *testing.T) {
	if d, ok := ParseDecision("approved"); !ok || d != ApprovalApproved {
		t.Errorf("got %q %v", d, ok)
	}
	if _, ok := ParseDecision("Escalated"); ok {
		t.Error("Escalated is not a human decision")
	}
	if UserAuditAction(ApprovalRejected) != "User_Rejected" {
		t.Error("unexpected audit action")
	}
}

func TestNormalizeConfidence(t *testing.T) {
	for in, want := range map[float64]float64{0.85: 0.85, 85: 0.85, 100: 1, -3: 0, 250: 1, 1: 1} {
		if got := NormalizeConfidence(in); got != want {
			t.Errorf("NormalizeConfidence(%v) = %v, want %v", in, got, want)
		}
	}
}
