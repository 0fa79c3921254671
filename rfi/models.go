package rfi

import (
	"time"

	"rfiflow/sla"
)

// Status tracks the RFI lifecycle. responded, closed and cancelled are
// terminal: no transition ever leaves them.
type Status string

const (
	StatusReceived        Status = "received"
	StatusAssigned        Status = "assigned"
	StatusInProgress      Status = "in_progress"
	StatusPendingApproval Status = "pending_approval"
	StatusResponded       Status = "responded"
	StatusClosed          Status = "closed"
	StatusCancelled       Status = "cancelled"
)

// IsTerminal reports whether s admits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusResponded || s == StatusClosed || s == StatusCancelled
}

// Source records how the request reached us.
type Source string

const (
	SourceEmail   Source = "email"
	SourcePhone   Source = "phone"
	SourcePortal  Source = "portal"
	SourceMeeting Source = "meeting"
)

// QuestionStatus is the per-question workflow state.
type QuestionStatus string

const (
	QuestionPending  QuestionStatus = "pending"
	QuestionAssigned QuestionStatus = "assigned"
	QuestionAnswered QuestionStatus = "answered"
	QuestionApproved QuestionStatus = "approved"
)

// Channel classifies a communication entry.
type Channel string

const (
	ChannelEmail        Channel = "email"
	ChannelPhone        Channel = "phone"
	ChannelMeeting      Channel = "meeting"
	ChannelPortal       Channel = "portal"
	ChannelInternalNote Channel = "internal_note"
)

// InformationRequest is the aggregate root. Questions, documents and
// communications belong to it and share its consistency boundary. SLAStatus
// is derived from the clock on every read and is never persisted.
type InformationRequest struct {
	ID           string
	Number       string
	Status       Status
	Priority     sla.Priority
	Source       Source
	CustomerID   string
	CustomerName string
	ContactName  string
	ContactEmail string
	ContactPhone string
	Subject      string
	Description  string

	Questions      []Question
	Documents      []Document
	Communications []Communication

	ReceivedAt  time.Time
	DueAt       time.Time
	RespondedAt *time.Time
	ClosedAt    *time.Time

	// SLAHours is the deadline table snapshot frozen at creation.
	SLAHours  int
	SLAStatus sla.Verdict

	AssignedToID   *string
	AssignedToName *string
	AssignedAt     *time.Time
	AssignedBy     *string

	ResponseSummary    *string
	ResponseDocumentID *string
	RelatedRFPID       *string
	CancelReason       *string

	CreatedBy string
	UpdatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Question is owned by its RFI and is not independently addressable outside
// the aggregate. Seq is 1-based and contiguous in insertion order.
type Question struct {
	ID             string
	RFIID          string
	Seq            int
	Category       string
	Text           string
	Context        string
	Attachments    []string
	Status         QuestionStatus
	AssignedToID   *string
	AssignedToName *string
	Answer         *string
	AnsweredBy     *string
	AnsweredAt     *time.Time
	ApprovedBy     *string
	ApprovedAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Document struct {
	ID         string
	RFIID      string
	Name       string
	MimeType   string
	SizeBytes  int64
	URL        string
	UploadedBy string
	UploadedAt time.Time
}

// Communication is an append-only chronological log entry, used both for real
// correspondence and system-generated audit notes.
type Communication struct {
	ID           string
	RFIID        string
	Channel      Channel
	Subject      string
	Content      string
	Participants []string
	OccurredAt   time.Time
	CreatedBy    string
}

// Filters narrows List results. Zero values mean "any".
type Filters struct {
	Status       Status
	Priority     sla.Priority
	CustomerID   string
	AssignedToID string
	ReceivedFrom *time.Time
	ReceivedTo   *time.Time
	Limit        int
}

// Statistics is the full-collection snapshot produced by the aggregator.
type Statistics struct {
	Total             int
	ByStatus          map[Status]int
	ByPriority        map[sla.Priority]int
	ByCategory        map[string]int
	MeanResponseHours int
	SLACompliance     int
	Open              int
	Overdue           int
}

// PendingWork is what a user still owes: RFIs assigned to them that are not
// terminal, and questions assigned to them not yet approved.
type PendingWork struct {
	RFIs      []InformationRequest
	Questions []Question
}

// deriveSLA stamps the read-time verdict on the aggregate.
func (r *InformationRequest) deriveSLA(now time.Time) {
	r.SLAStatus = sla.Derive(r.Status.IsTerminal(), r.ReceivedAt, r.RespondedAt, r.DueAt, r.SLAHours, now)
}
