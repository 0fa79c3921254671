package rfi

import (
	"context"
	"testing"
	"time"

	"rfiflow/sla"
)

func TestStatistics_ComplianceIs100BeforeAnyResponse(t *testing.T) {
	h := newHarness()
	h.mustCreate(t, intakeWithQuestions(1))
	h.mustCreate(t, intakeWithQuestions(2))

	stats, err := h.svc.Statistics(context.Background())
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.SLACompliance != 100 {
		t.Errorf("compliance = %d, want 100 with no responses", stats.SLACompliance)
	}
	if stats.MeanResponseHours != 0 {
		t.Errorf("mean response = %d, want 0", stats.MeanResponseHours)
	}
	if stats.Total != 2 || stats.Open != 2 {
		t.Errorf("total/open = %d/%d, want 2/2", stats.Total, stats.Open)
	}
	if stats.ByCategory["technical"] != 3 {
		t.Errorf("technical questions = %d, want 3", stats.ByCategory["technical"])
	}
}

func TestStatistics_ComplianceRoundsOverRespondedOnly(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	// Three responded RFIs: two inside their 48h window, one far outside.
	delays := []time.Duration{10 * time.Hour, 20 * time.Hour, 60 * time.Hour}
	for _, delay := range delays {
		req := h.mustCreate(t, intakeWithQuestions(1))
		approveAll(t, h, req)

		stored := h.repo.rfis[req.ID]
		respondedAt := stored.ReceivedAt.Add(delay)
		stored.Status = StatusResponded
		stored.RespondedAt = &respondedAt
		h.repo.rfis[req.ID] = stored
	}
	// One still open, which must not enter the ratio.
	h.mustCreate(t, intakeWithQuestions(0))

	stats, err := h.svc.Statistics(ctx)
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	// round(100 * 2/3) = 67
	if stats.SLACompliance != 67 {
		t.Errorf("compliance = %d, want 67", stats.SLACompliance)
	}
	// mean(10, 20, 60) = 30
	if stats.MeanResponseHours != 30 {
		t.Errorf("mean response hours = %d, want 30", stats.MeanResponseHours)
	}
	if stats.Open != 1 {
		t.Errorf("open = %d, want 1", stats.Open)
	}
	if stats.ByStatus[StatusResponded] != 3 {
		t.Errorf("responded count = %d, want 3", stats.ByStatus[StatusResponded])
	}
}

func TestStatistics_OverdueCountsOpenPastDueOnly(t *testing.T) {
	h := newHarness()

	urgent := intakeWithQuestions(0)
	urgent.Priority = sla.PriorityUrgent
	h.mustCreate(t, urgent)            // due +8h
	h.mustCreate(t, intakeWithQuestions(0)) // due +48h

	// A cancelled RFI past its deadline must not count as overdue.
	third := h.mustCreate(t, intakeWithQuestions(0))
	if _, err := h.svc.Cancel(context.Background(), CancelParams{ID: third.ID, Actor: "m"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	h.advance(10 * time.Hour)

	stats, err := h.svc.Statistics(context.Background())
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.Overdue != 1 {
		t.Errorf("overdue = %d, want 1", stats.Overdue)
	}
	if stats.Open != 2 {
		t.Errorf("open = %d, want 2", stats.Open)
	}
}

func TestAssembleStatistics_Rounding(t *testing.T) {
	row := TallyRow{
		Total:            8,
		ByStatus:         map[Status]int{},
		ByPriority:       map[sla.Priority]int{},
		ByCategory:       map[string]int{},
		Responded:        7,
		WithinSLA:        5,
		SumResponseHours: 100.9,
	}
	stats := assembleStatistics(row)

	// round(100 * 5/7) = round(71.43) = 71
	if stats.SLACompliance != 71 {
		t.Errorf("compliance = %d, want 71", stats.SLACompliance)
	}
	// round(100.9 / 7) = round(14.41) = 14
	if stats.MeanResponseHours != 14 {
		t.Errorf("mean = %d, want 14", stats.MeanResponseHours)
	}
}

func TestFormatNumber(t *testing.T) {
	if got := FormatNumber("202503", 7); got != "RFI-202503-0007" {
		t.Errorf("FormatNumber = %s, want RFI-202503-0007", got)
	}
	if got := FormatNumber("202512", 1234); got != "RFI-202512-1234" {
		t.Errorf("FormatNumber = %s, want RFI-202512-1234", got)
	}
}
