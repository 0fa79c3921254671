package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"rfiflow/rfi"
	"rfiflow/sla"
)

var priorities = []sla.Priority{sla.PriorityLow, sla.PriorityNormal, sla.PriorityHigh, sla.PriorityUrgent}

// ignorable reports errors expected under contention: another actor got to
// the aggregate first or already moved it to a terminal state.
func ignorable(err error) bool {
	return errors.Is(err, rfi.ErrValidation) ||
		errors.Is(err, rfi.ErrNotFound) ||
		errors.Is(err, rfi.ErrQuestionNotFound)
}

// Intaker keeps creating RFIs with random priority and question count,
// hammering the numbering counter under concurrency.
func Intaker(ctx context.Context, svc *rfi.Service, customerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		params := rfi.CreateParams{
			CustomerID:   customerID,
			CustomerName: "Stress Customer",
			Subject:      fmt.Sprintf("Stress intake %d", rand.Int63()),
			Priority:     priorities[rand.Intn(len(priorities))],
			Actor:        "actor-intake",
		}
		for i := 0; i < 1+rand.Intn(3); i++ {
			params.Questions = append(params.Questions, rfi.QuestionDraft{
				Category: "stress",
				Text:     fmt.Sprintf("Question %d", i+1),
			})
		}
		if _, err := svc.Create(ctx, params); err != nil && !ignorable(err) {
			return fmt.Errorf("intaker create: %w", err)
		}
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// QuestionWorker drives a random open RFI forward one question step at a
// time: assign pending, answer assigned, approve answered. Several workers
// race over the same aggregates; the row lock must keep the level-triggered
// parent transitions consistent.
func QuestionWorker(ctx context.Context, svc *rfi.Service, customerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		req, ok, err := pickOpen(ctx, svc, customerID)
		if err != nil {
			return fmt.Errorf("question worker pick: %w", err)
		}
		if ok {
			for _, q := range req.Questions {
				var opErr error
				switch q.Status {
				case rfi.QuestionPending:
					_, opErr = svc.AssignQuestion(ctx, rfi.AssignQuestionParams{
						RFIID: req.ID, QuestionID: q.ID,
						AssigneeID: "actor-sme", AssigneeName: "Stress SME", Actor: "actor-worker",
					})
				case rfi.QuestionAssigned:
					_, opErr = svc.AnswerQuestion(ctx, rfi.AnswerQuestionParams{
						RFIID: req.ID, QuestionID: q.ID, Answer: "stress answer", Actor: "actor-sme",
					})
				case rfi.QuestionAnswered:
					_, opErr = svc.ApproveQuestion(ctx, rfi.ApproveQuestionParams{
						RFIID: req.ID, QuestionID: q.ID, Actor: "actor-approver",
					})
				}
				if opErr != nil && !ignorable(opErr) {
					return fmt.Errorf("question worker step: %w", opErr)
				}
			}
		}
		time.Sleep(time.Duration(5+rand.Intn(20)) * time.Millisecond)
	}
}

// Responder submits responses for RFIs that reached pending_approval. The
// submit gate must reject anything a racing worker has not fully approved.
func Responder(ctx context.Context, svc *rfi.Service, customerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		list, err := svc.List(ctx, rfi.Filters{
			CustomerID: customerID,
			Status:     rfi.StatusPendingApproval,
			Limit:      10,
		})
		if err != nil {
			return fmt.Errorf("responder list: %w", err)
		}
		for _, req := range list {
			_, err := svc.SubmitResponse(ctx, rfi.SubmitResponseParams{
				ID: req.ID, Summary: "stress response", Actor: "actor-responder",
			})
			if err != nil && !ignorable(err) {
				return fmt.Errorf("responder submit: %w", err)
			}
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Closer randomly closes or cancels open RFIs, racing the other actors into
// the terminal guard.
func Closer(ctx context.Context, svc *rfi.Service, customerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		req, ok, err := pickOpen(ctx, svc, customerID)
		if err != nil {
			return fmt.Errorf("closer pick: %w", err)
		}
		if ok && rand.Intn(4) == 0 {
			if rand.Intn(2) == 0 {
				_, err = svc.Close(ctx, rfi.CloseParams{ID: req.ID, Actor: "actor-closer"})
			} else {
				reason := "stress cancel"
				_, err = svc.Cancel(ctx, rfi.CancelParams{ID: req.ID, Actor: "actor-closer", Reason: &reason})
			}
			if err != nil && !ignorable(err) {
				return fmt.Errorf("closer finish: %w", err)
			}
		}
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}

func pickOpen(ctx context.Context, svc *rfi.Service, customerID string) (rfi.InformationRequest, bool, error) {
	list, err := svc.List(ctx, rfi.Filters{CustomerID: customerID, Limit: 50})
	if err != nil {
		return rfi.InformationRequest{}, false, err
	}
	open := make([]rfi.InformationRequest, 0, len(list))
	for _, req := range list {
		if !req.Status.IsTerminal() {
			open = append(open, req)
		}
	}
	if len(open) == 0 {
		return rfi.InformationRequest{}, false, nil
	}
	picked := open[rand.Intn(len(open))]
	full, err := svc.Get(ctx, picked.ID)
	if err != nil {
		if ignorable(err) {
			return rfi.InformationRequest{}, false, nil
		}
		return rfi.InformationRequest{}, false, err
	}
	return full, true, nil
}
