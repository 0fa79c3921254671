package rfi

import (
	"context"
	"fmt"
)

// Question workflow: pending → assigned → answered → approved. Only approve
// carries a precondition; assign and answer accept any current state so a
// question can be re-routed or re-answered before sign-off. Parent status
// effects are level-triggered: each trigger re-reads the whole question set
// under the aggregate row lock and decides from the full picture, not the
// single delta.

type AddQuestionParams struct {
	RFIID       string
	Category    string
	Text        string
	Context     string
	Attachments []string
	Actor       string
}

// AddQuestion appends a question with the next contiguous sequence number.
func (s *Service) AddQuestion(ctx context.Context, params AddQuestionParams) (Question, error) {
	if params.Text == "" {
		return Question{}, fmt.Errorf("%w: question text required", ErrValidation)
	}
	if params.Category == "" {
		params.Category = "general"
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Question{}, fmt.Errorf("rfi: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := s.repo.GetForUpdate(ctx, tx, params.RFIID)
	if err != nil {
		return Question{}, err
	}
	if err := ensureOpen(req); err != nil {
		return Question{}, err
	}

	seq, err := s.repo.NextQuestionSeq(ctx, tx, req.ID)
	if err != nil {
		return Question{}, err
	}

	now := s.now()
	q := Question{
		ID:          s.idGenerator(),
		RFIID:       req.ID,
		Seq:         seq,
		Category:    params.Category,
		Text:        params.Text,
		Context:     params.Context,
		Attachments: params.Attachments,
		Status:      QuestionPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.InsertQuestion(ctx, tx, q); err != nil {
		return Question{}, err
	}

	req.UpdatedBy = params.Actor
	if err := s.repo.UpdateHeader(ctx, tx, req); err != nil {
		return Question{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Question{}, fmt.Errorf("rfi: commit tx: %w", err)
	}
	return q, nil
}

type AssignQuestionParams struct {
	RFIID        string
	QuestionID   string
	AssigneeID   string
	AssigneeName string
	Actor        string
}

// AssignQuestion routes a question to a subject-matter owner. Once no
// question is left pending, the parent moves to in_progress.
func (s *Service) AssignQuestion(ctx context.Context, params AssignQuestionParams) (Question, error) {
	if params.AssigneeID == "" {
		return Question{}, fmt.Errorf("%w: assignee id required", ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Question{}, fmt.Errorf("rfi: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := s.repo.GetForUpdate(ctx, tx, params.RFIID)
	if err != nil {
		return Question{}, err
	}
	if err := ensureOpen(req); err != nil {
		return Question{}, err
	}

	q, err := s.repo.GetQuestion(ctx, tx, req.ID, params.QuestionID)
	if err != nil {
		return Question{}, err
	}

	q.Status = QuestionAssigned
	q.AssignedToID = &params.AssigneeID
	q.AssignedToName = &params.AssigneeName
	if err := s.repo.UpdateQuestion(ctx, tx, q); err != nil {
		return Question{}, err
	}

	questions, err := s.repo.Questions(ctx, tx, req.ID)
	if err != nil {
		return Question{}, err
	}
	pending := 0
	for _, each := range questions {
		if each.Status == QuestionPending {
			pending++
		}
	}
	if pending == 0 {
		req.Status = StatusInProgress
	}
	req.UpdatedBy = params.Actor
	if err := s.repo.UpdateHeader(ctx, tx, req); err != nil {
		return Question{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Question{}, fmt.Errorf("rfi: commit tx: %w", err)
	}
	return q, nil
}

type AnswerQuestionParams struct {
	RFIID      string
	QuestionID string
	Answer     string
	Actor      string
}

// AnswerQuestion records the drafted answer and marks the question answered.
func (s *Service) AnswerQuestion(ctx context.Context, params AnswerQuestionParams) (Question, error) {
	if params.Answer == "" {
		return Question{}, fmt.Errorf("%w: answer required", ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Question{}, fmt.Errorf("rfi: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := s.repo.GetForUpdate(ctx, tx, params.RFIID)
	if err != nil {
		return Question{}, err
	}
	if err := ensureOpen(req); err != nil {
		return Question{}, err
	}

	q, err := s.repo.GetQuestion(ctx, tx, req.ID, params.QuestionID)
	if err != nil {
		return Question{}, err
	}

	now := s.now()
	q.Status = QuestionAnswered
	q.Answer = &params.Answer
	q.AnsweredBy = &params.Actor
	q.AnsweredAt = &now
	if err := s.repo.UpdateQuestion(ctx, tx, q); err != nil {
		return Question{}, err
	}

	req.UpdatedBy = params.Actor
	if err := s.repo.UpdateHeader(ctx, tx, req); err != nil {
		return Question{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Question{}, fmt.Errorf("rfi: commit tx: %w", err)
	}
	return q, nil
}

type ApproveQuestionParams struct {
	RFIID      string
	QuestionID string
	Actor      string
}

// ApproveQuestion signs off an answered question. Approving anything else
// fails and mutates nothing. Once every question is approved, the parent
// moves to pending_approval.
func (s *Service) ApproveQuestion(ctx context.Context, params ApproveQuestionParams) (Question, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Question{}, fmt.Errorf("rfi: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := s.repo.GetForUpdate(ctx, tx, params.RFIID)
	if err != nil {
		return Question{}, err
	}
	if err := ensureOpen(req); err != nil {
		return Question{}, err
	}

	q, err := s.repo.GetQuestion(ctx, tx, req.ID, params.QuestionID)
	if err != nil {
		return Question{}, err
	}
	if q.Status != QuestionAnswered {
		return Question{}, fmt.Errorf("%w: question %d is %s, only answered questions can be approved", ErrValidation, q.Seq, q.Status)
	}

	now := s.now()
	q.Status = QuestionApproved
	q.ApprovedBy = &params.Actor
	q.ApprovedAt = &now
	if err := s.repo.UpdateQuestion(ctx, tx, q); err != nil {
		return Question{}, err
	}

	questions, err := s.repo.Questions(ctx, tx, req.ID)
	if err != nil {
		return Question{}, err
	}
	allApproved := len(questions) > 0
	for _, each := range questions {
		if each.Status != QuestionApproved {
			allApproved = false
			break
		}
	}
	if allApproved {
		req.Status = StatusPendingApproval
	}
	req.UpdatedBy = params.Actor
	if err := s.repo.UpdateHeader(ctx, tx, req); err != nil {
		return Question{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Question{}, fmt.Errorf("rfi: commit tx: %w", err)
	}
	return q, nil
}
