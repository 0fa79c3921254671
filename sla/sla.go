package sla

import "time"

// Priority keys the response deadline table.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Verdict is the live SLA reading derived at read time; it is never stored.
type Verdict string

const (
	VerdictWithinSLA Verdict = "within_sla"
	VerdictAtRisk    Verdict = "at_risk"
	VerdictBreached  Verdict = "breached"
)

// AtRiskWindow is the remaining-time window below which an open RFI counts as
// at risk. The overdue/at-risk repository queries use the same boundary.
const AtRiskWindow = 8 * time.Hour

var hoursByPriority = map[Priority]int{
	PriorityLow:    72,
	PriorityNormal: 48,
	PriorityHigh:   24,
	PriorityUrgent: 8,
}

// Hours returns the response deadline in hours for the priority. Unknown
// priorities fall back to the normal tier.
func Hours(p Priority) int {
	if h, ok := hoursByPriority[p]; ok {
		return h
	}
	return hoursByPriority[PriorityNormal]
}

// DueDate computes the response deadline for an RFI received at receivedAt.
// The result is frozen on the aggregate at creation; later priority edits do
// not move it.
func DueDate(p Priority, receivedAt time.Time) time.Time {
	return receivedAt.Add(time.Duration(Hours(p)) * time.Hour)
}

// Derive computes the SLA verdict for one RFI. terminal reports whether the
// aggregate status is responded/closed/cancelled. The function is pure: the
// same inputs always yield the same verdict.
//
// A terminal RFI that never recorded a response derives within_sla; the
// compliance statistics only count responded RFIs, so the default cannot skew
// the ratio.
func Derive(terminal bool, receivedAt time.Time, respondedAt *time.Time, dueAt time.Time, slaHours int, now time.Time) Verdict {
	if terminal {
		if respondedAt == nil {
			return VerdictWithinSLA
		}
		if respondedAt.Sub(receivedAt) > time.Duration(slaHours)*time.Hour {
			return VerdictBreached
		}
		return VerdictWithinSLA
	}

	remaining := dueAt.Sub(now)
	switch {
	case remaining < 0:
		return VerdictBreached
	case remaining < AtRiskWindow:
		return VerdictAtRisk
	default:
		return VerdictWithinSLA
	}
}
