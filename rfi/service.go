package rfi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"rfiflow/sla"
)

// ErrValidation marks synchronous, caller-facing rule violations. Wrapped
// messages carry the offending ids and counts.
var ErrValidation = errors.New("rfi: validation failed")

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// NumberSource issues business identifiers for new RFIs.
type NumberSource interface {
	Next(ctx context.Context, now time.Time) (string, error)
}

// OutboxWriter enqueues a message for post-commit delivery inside the
// caller's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Service is the lifecycle manager: it owns the RFI aggregate and
// orchestrates creation, assignment, response submission and closure. Every
// mutation runs as one begin → lock aggregate row → mutate → commit sequence.
type Service struct {
	pool        TxBeginner
	repo        Repository
	numbers     NumberSource
	outbox      OutboxWriter
	idGenerator func() string
	now         func() time.Time
}

func NewService(pool TxBeginner, repo Repository, numbers NumberSource, outbox OutboxWriter) *Service {
	return &Service{
		pool:        pool,
		repo:        repo,
		numbers:     numbers,
		outbox:      outbox,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// QuestionDraft is a question supplied at intake, before numbering.
type QuestionDraft struct {
	Category    string
	Text        string
	Context     string
	Attachments []string
}

type CreateParams struct {
	CustomerID   string
	CustomerName string
	ContactName  string
	ContactEmail string
	ContactPhone string
	Subject      string
	Description  string
	Priority     sla.Priority
	Source       Source
	Questions    []QuestionDraft
	Actor        string
}

// Create registers a new RFI. The business number comes from the numbering
// service outside the aggregate transaction, the due date and slaHours are
// frozen from the priority table, and supplied questions are numbered 1..N in
// the order given.
func (s *Service) Create(ctx context.Context, params CreateParams) (InformationRequest, error) {
	if params.CustomerID == "" {
		return InformationRequest{}, fmt.Errorf("%w: customer id required", ErrValidation)
	}
	if params.Priority == "" {
		params.Priority = sla.PriorityNormal
	}
	if params.Source == "" {
		params.Source = SourceEmail
	}

	now := s.now()
	number, err := s.numbers.Next(ctx, now)
	if err != nil {
		return InformationRequest{}, err
	}

	req := InformationRequest{
		ID:           s.idGenerator(),
		Number:       number,
		Status:       StatusReceived,
		Priority:     params.Priority,
		Source:       params.Source,
		CustomerID:   params.CustomerID,
		CustomerName: params.CustomerName,
		ContactName:  params.ContactName,
		ContactEmail: params.ContactEmail,
		ContactPhone: params.ContactPhone,
		Subject:      params.Subject,
		Description:  params.Description,
		ReceivedAt:   now,
		DueAt:        sla.DueDate(params.Priority, now),
		SLAHours:     sla.Hours(params.Priority),
		CreatedBy:    params.Actor,
		UpdatedBy:    params.Actor,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for i, draft := range params.Questions {
		category := draft.Category
		if category == "" {
			category = "general"
		}
		req.Questions = append(req.Questions, Question{
			ID:          s.idGenerator(),
			RFIID:       req.ID,
			Seq:         i + 1,
			Category:    category,
			Text:        draft.Text,
			Context:     draft.Context,
			Attachments: draft.Attachments,
			Status:      QuestionPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return InformationRequest{}, fmt.Errorf("rfi: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.Insert(ctx, tx, req); err != nil {
		return InformationRequest{}, err
	}
	if err := s.enqueue(ctx, tx, "rfi.created", map[string]any{
		"rfi_id":      req.ID,
		"rfi_number":  req.Number,
		"customer_id": req.CustomerID,
		"priority":    req.Priority,
		"due_at":      req.DueAt,
	}); err != nil {
		return InformationRequest{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return InformationRequest{}, fmt.Errorf("rfi: commit tx: %w", err)
	}

	req.deriveSLA(now)
	return req, nil
}

// Get loads one aggregate with its questions, documents and communications.
// The SLA verdict is derived against the current clock, never read back.
func (s *Service) Get(ctx context.Context, id string) (InformationRequest, error) {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return InformationRequest{}, err
	}
	req.deriveSLA(s.now())
	return req, nil
}

// List returns RFIs matching the filters, newest received first.
func (s *Service) List(ctx context.Context, f Filters) ([]InformationRequest, error) {
	list, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for i := range list {
		list[i].deriveSLA(now)
	}
	return list, nil
}

type AssignParams struct {
	ID           string
	AssigneeID   string
	AssigneeName string
	Actor        string
}

// Assign claims the RFI for a handler and records an internal note.
func (s *Service) Assign(ctx context.Context, params AssignParams) (InformationRequest, error) {
	if params.AssigneeID == "" {
		return InformationRequest{}, fmt.Errorf("%w: assignee id required", ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return InformationRequest{}, fmt.Errorf("rfi: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := s.repo.GetForUpdate(ctx, tx, params.ID)
	if err != nil {
		return InformationRequest{}, err
	}
	if err := ensureOpen(req); err != nil {
		return InformationRequest{}, err
	}

	now := s.now()
	req.Status = StatusAssigned
	req.AssignedToID = &params.AssigneeID
	req.AssignedToName = &params.AssigneeName
	req.AssignedAt = &now
	req.AssignedBy = &params.Actor
	req.UpdatedBy = params.Actor
	req.UpdatedAt = now

	if err := s.repo.UpdateHeader(ctx, tx, req); err != nil {
		return InformationRequest{}, err
	}
	if err := s.repo.InsertCommunication(ctx, tx, Communication{
		ID:         s.idGenerator(),
		RFIID:      req.ID,
		Channel:    ChannelInternalNote,
		Subject:    "Assignment",
		Content:    fmt.Sprintf("RFI %s assigned to %s", req.Number, params.AssigneeName),
		OccurredAt: now,
		CreatedBy:  params.Actor,
	}); err != nil {
		return InformationRequest{}, err
	}
	if err := s.enqueue(ctx, tx, "rfi.assigned", map[string]any{
		"rfi_id":      req.ID,
		"rfi_number":  req.Number,
		"assignee_id": params.AssigneeID,
	}); err != nil {
		return InformationRequest{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return InformationRequest{}, fmt.Errorf("rfi: commit tx: %w", err)
	}

	req.deriveSLA(now)
	return req, nil
}

type SubmitResponseParams struct {
	ID         string
	Summary    string
	DocumentID *string
	Actor      string
}

// SubmitResponse finalizes the answer package. It is gated on every question
// being approved; the failure names how many still are not.
func (s *Service) SubmitResponse(ctx context.Context, params SubmitResponseParams) (InformationRequest, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return InformationRequest{}, fmt.Errorf("rfi: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := s.repo.GetForUpdate(ctx, tx, params.ID)
	if err != nil {
		return InformationRequest{}, err
	}
	if err := ensureOpen(req); err != nil {
		return InformationRequest{}, err
	}

	questions, err := s.repo.Questions(ctx, tx, req.ID)
	if err != nil {
		return InformationRequest{}, err
	}
	unapproved := 0
	for _, q := range questions {
		if q.Status != QuestionApproved {
			unapproved++
		}
	}
	if unapproved > 0 {
		return InformationRequest{}, fmt.Errorf("%w: %d question(s) pending approval", ErrValidation, unapproved)
	}

	now := s.now()
	req.Status = StatusResponded
	req.RespondedAt = &now
	req.ResponseSummary = &params.Summary
	req.ResponseDocumentID = params.DocumentID
	req.UpdatedBy = params.Actor
	req.UpdatedAt = now

	if err := s.repo.UpdateHeader(ctx, tx, req); err != nil {
		return InformationRequest{}, err
	}
	if err := s.enqueue(ctx, tx, "rfi.responded", map[string]any{
		"rfi_id":       req.ID,
		"rfi_number":   req.Number,
		"responded_at": now,
	}); err != nil {
		return InformationRequest{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return InformationRequest{}, fmt.Errorf("rfi: commit tx: %w", err)
	}

	req.Questions = questions
	req.deriveSLA(now)
	return req, nil
}

type CloseParams struct {
	ID    string
	Actor string
	Notes *string
}

// Close ends the RFI manually. Closed is terminal.
func (s *Service) Close(ctx context.Context, params CloseParams) (InformationRequest, error) {
	return s.finish(ctx, params.ID, StatusClosed, params.Actor, params.Notes, "rfi.closed", "Closure")
}

type CancelParams struct {
	ID     string
	Actor  string
	Reason *string
}

// Cancel abandons the RFI. Cancelled is terminal.
func (s *Service) Cancel(ctx context.Context, params CancelParams) (InformationRequest, error) {
	var reason *string
	if params.Reason != nil {
		if trimmed := strings.TrimSpace(*params.Reason); trimmed != "" {
			reason = &trimmed
		}
	}
	return s.finish(ctx, params.ID, StatusCancelled, params.Actor, reason, "rfi.cancelled", "Cancellation")
}

func (s *Service) finish(ctx context.Context, id string, status Status, actor string, note *string, topic, subject string) (InformationRequest, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return InformationRequest{}, fmt.Errorf("rfi: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return InformationRequest{}, err
	}
	if err := ensureOpen(req); err != nil {
		return InformationRequest{}, err
	}

	now := s.now()
	req.Status = status
	req.ClosedAt = &now
	if status == StatusCancelled {
		req.CancelReason = note
	}
	req.UpdatedBy = actor
	req.UpdatedAt = now

	if err := s.repo.UpdateHeader(ctx, tx, req); err != nil {
		return InformationRequest{}, err
	}
	if note != nil && *note != "" {
		if err := s.repo.InsertCommunication(ctx, tx, Communication{
			ID:         s.idGenerator(),
			RFIID:      req.ID,
			Channel:    ChannelInternalNote,
			Subject:    subject,
			Content:    *note,
			OccurredAt: now,
			CreatedBy:  actor,
		}); err != nil {
			return InformationRequest{}, err
		}
	}
	if err := s.enqueue(ctx, tx, topic, map[string]any{
		"rfi_id":     req.ID,
		"rfi_number": req.Number,
		"status":     req.Status,
	}); err != nil {
		return InformationRequest{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return InformationRequest{}, fmt.Errorf("rfi: commit tx: %w", err)
	}

	req.deriveSLA(now)
	return req, nil
}

// ConvertToRFP links the RFI to a follow-up Request for Proposal and hands
// creation off to the external RFP service via the outbox. Converting twice
// returns the existing link.
func (s *Service) ConvertToRFP(ctx context.Context, id, actor string) (string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("rfi: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return "", err
	}
	if req.RelatedRFPID != nil && *req.RelatedRFPID != "" {
		return *req.RelatedRFPID, nil
	}

	now := s.now()
	rfpID := "RFP-" + strings.TrimPrefix(req.Number, "RFI-")
	req.RelatedRFPID = &rfpID
	req.UpdatedBy = actor
	req.UpdatedAt = now

	if err := s.repo.UpdateHeader(ctx, tx, req); err != nil {
		return "", err
	}
	if err := s.repo.InsertCommunication(ctx, tx, Communication{
		ID:         s.idGenerator(),
		RFIID:      req.ID,
		Channel:    ChannelInternalNote,
		Subject:    "Conversion",
		Content:    fmt.Sprintf("RFI %s converted to %s", req.Number, rfpID),
		OccurredAt: now,
		CreatedBy:  actor,
	}); err != nil {
		return "", err
	}
	if err := s.enqueue(ctx, tx, "rfi.converted", map[string]any{
		"rfi_id":     req.ID,
		"rfi_number": req.Number,
		"rfp_id":     rfpID,
	}); err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("rfi: commit tx: %w", err)
	}

	return rfpID, nil
}

type AddCommunicationParams struct {
	RFIID        string
	Channel      Channel
	Subject      string
	Content      string
	Participants []string
	Actor        string
}

// AddCommunication appends a correspondence entry to the aggregate log. The
// log is append-only, so entries may still be added after closure.
func (s *Service) AddCommunication(ctx context.Context, params AddCommunicationParams) (Communication, error) {
	if params.Content == "" {
		return Communication{}, fmt.Errorf("%w: communication content required", ErrValidation)
	}
	if params.Channel == "" {
		params.Channel = ChannelEmail
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Communication{}, fmt.Errorf("rfi: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := s.repo.GetForUpdate(ctx, tx, params.RFIID)
	if err != nil {
		return Communication{}, err
	}

	comm := Communication{
		ID:           s.idGenerator(),
		RFIID:        req.ID,
		Channel:      params.Channel,
		Subject:      params.Subject,
		Content:      params.Content,
		Participants: params.Participants,
		OccurredAt:   s.now(),
		CreatedBy:    params.Actor,
	}
	if err := s.repo.InsertCommunication(ctx, tx, comm); err != nil {
		return Communication{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Communication{}, fmt.Errorf("rfi: commit tx: %w", err)
	}
	return comm, nil
}

type AddDocumentParams struct {
	RFIID     string
	Name      string
	MimeType  string
	SizeBytes int64
	URL       string
	Actor     string
}

// AddDocument attaches an uploaded document reference to the aggregate.
func (s *Service) AddDocument(ctx context.Context, params AddDocumentParams) (Document, error) {
	if params.Name == "" || params.URL == "" {
		return Document{}, fmt.Errorf("%w: document name and url required", ErrValidation)
	}
	if params.MimeType == "" {
		params.MimeType = "application/octet-stream"
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Document{}, fmt.Errorf("rfi: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := s.repo.GetForUpdate(ctx, tx, params.RFIID)
	if err != nil {
		return Document{}, err
	}

	doc := Document{
		ID:         s.idGenerator(),
		RFIID:      req.ID,
		Name:       params.Name,
		MimeType:   params.MimeType,
		SizeBytes:  params.SizeBytes,
		URL:        params.URL,
		UploadedBy: params.Actor,
		UploadedAt: s.now(),
	}
	if err := s.repo.InsertDocument(ctx, tx, doc); err != nil {
		return Document{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Document{}, fmt.Errorf("rfi: commit tx: %w", err)
	}
	return doc, nil
}

// Overdue lists open RFIs whose deadline has passed.
func (s *Service) Overdue(ctx context.Context) ([]InformationRequest, error) {
	now := s.now()
	list, err := s.repo.Overdue(ctx, now)
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i].deriveSLA(now)
	}
	return list, nil
}

// AtRisk lists open RFIs inside the shared at-risk window before their
// deadline.
func (s *Service) AtRisk(ctx context.Context) ([]InformationRequest, error) {
	now := s.now()
	list, err := s.repo.AtRisk(ctx, now)
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i].deriveSLA(now)
	}
	return list, nil
}

// PendingByUser reports the open RFIs and unapproved questions assigned to a
// user.
func (s *Service) PendingByUser(ctx context.Context, userID string) (PendingWork, error) {
	work, err := s.repo.PendingByUser(ctx, userID)
	if err != nil {
		return PendingWork{}, err
	}
	now := s.now()
	for i := range work.RFIs {
		work.RFIs[i].deriveSLA(now)
	}
	return work, nil
}

func (s *Service) enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	if s.outbox == nil {
		return nil
	}
	if err := s.outbox.Enqueue(ctx, tx, topic, payload); err != nil {
		return fmt.Errorf("rfi: enqueue outbox: %w", err)
	}
	return nil
}

// ensureOpen rejects status transitions on terminal aggregates.
func ensureOpen(req InformationRequest) error {
	if req.Status.IsTerminal() {
		return fmt.Errorf("%w: rfi %s is %s", ErrValidation, req.Number, req.Status)
	}
	return nil
}
