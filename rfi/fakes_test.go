package rfi

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"rfiflow/sla"
)

// fakeRepo keeps aggregates in memory so service flows can run without
// Postgres. Transactions are accepted and ignored; the service's validation
// ordering guarantees no writes happen before a rule check fails.
type fakeRepo struct {
	rfis      map[string]InformationRequest
	questions map[string][]Question
	documents map[string][]Document
	comms     map[string][]Communication
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		rfis:      map[string]InformationRequest{},
		questions: map[string][]Question{},
		documents: map[string][]Document{},
		comms:     map[string][]Communication{},
	}
}

func (f *fakeRepo) Insert(_ context.Context, _ pgx.Tx, r InformationRequest) error {
	questions := r.Questions
	documents := r.Documents
	comms := r.Communications
	r.Questions, r.Documents, r.Communications = nil, nil, nil
	f.rfis[r.ID] = r
	f.questions[r.ID] = append([]Question{}, questions...)
	f.documents[r.ID] = append([]Document{}, documents...)
	f.comms[r.ID] = append([]Communication{}, comms...)
	return nil
}

func (f *fakeRepo) GetForUpdate(_ context.Context, _ pgx.Tx, id string) (InformationRequest, error) {
	r, ok := f.rfis[id]
	if !ok {
		return InformationRequest{}, ErrNotFound
	}
	return r, nil
}

func (f *fakeRepo) UpdateHeader(_ context.Context, _ pgx.Tx, r InformationRequest) error {
	if _, ok := f.rfis[r.ID]; !ok {
		return ErrNotFound
	}
	r.Questions, r.Documents, r.Communications = nil, nil, nil
	f.rfis[r.ID] = r
	return nil
}

func (f *fakeRepo) Get(_ context.Context, id string) (InformationRequest, error) {
	r, ok := f.rfis[id]
	if !ok {
		return InformationRequest{}, ErrNotFound
	}
	r.Questions = append([]Question{}, f.questions[id]...)
	r.Documents = append([]Document{}, f.documents[id]...)
	r.Communications = append([]Communication{}, f.comms[id]...)
	return r, nil
}

func (f *fakeRepo) List(_ context.Context, filters Filters) ([]InformationRequest, error) {
	out := []InformationRequest{}
	for _, r := range f.rfis {
		if filters.Status != "" && r.Status != filters.Status {
			continue
		}
		if filters.Priority != "" && r.Priority != filters.Priority {
			continue
		}
		if filters.CustomerID != "" && r.CustomerID != filters.CustomerID {
			continue
		}
		if filters.AssignedToID != "" && (r.AssignedToID == nil || *r.AssignedToID != filters.AssignedToID) {
			continue
		}
		if filters.ReceivedFrom != nil && r.ReceivedAt.Before(*filters.ReceivedFrom) {
			continue
		}
		if filters.ReceivedTo != nil && r.ReceivedAt.After(*filters.ReceivedTo) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	return out, nil
}

func (f *fakeRepo) InsertQuestion(_ context.Context, _ pgx.Tx, q Question) error {
	f.questions[q.RFIID] = append(f.questions[q.RFIID], q)
	return nil
}

func (f *fakeRepo) GetQuestion(_ context.Context, _ pgx.Tx, rfiID, questionID string) (Question, error) {
	for _, q := range f.questions[rfiID] {
		if q.ID == questionID {
			return q, nil
		}
	}
	return Question{}, ErrQuestionNotFound
}

func (f *fakeRepo) UpdateQuestion(_ context.Context, _ pgx.Tx, q Question) error {
	list := f.questions[q.RFIID]
	for i := range list {
		if list[i].ID == q.ID {
			list[i] = q
			return nil
		}
	}
	return ErrQuestionNotFound
}

func (f *fakeRepo) Questions(_ context.Context, _ pgx.Tx, rfiID string) ([]Question, error) {
	return append([]Question{}, f.questions[rfiID]...), nil
}

func (f *fakeRepo) NextQuestionSeq(_ context.Context, _ pgx.Tx, rfiID string) (int, error) {
	max := 0
	for _, q := range f.questions[rfiID] {
		if q.Seq > max {
			max = q.Seq
		}
	}
	return max + 1, nil
}

func (f *fakeRepo) InsertDocument(_ context.Context, _ pgx.Tx, d Document) error {
	f.documents[d.RFIID] = append(f.documents[d.RFIID], d)
	return nil
}

func (f *fakeRepo) InsertCommunication(_ context.Context, _ pgx.Tx, c Communication) error {
	f.comms[c.RFIID] = append(f.comms[c.RFIID], c)
	return nil
}

func (f *fakeRepo) Overdue(_ context.Context, now time.Time) ([]InformationRequest, error) {
	out := []InformationRequest{}
	for _, r := range f.rfis {
		if !r.Status.IsTerminal() && now.After(r.DueAt) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRepo) AtRisk(_ context.Context, now time.Time) ([]InformationRequest, error) {
	out := []InformationRequest{}
	for _, r := range f.rfis {
		if r.Status.IsTerminal() {
			continue
		}
		remaining := r.DueAt.Sub(now)
		if remaining > 0 && remaining < sla.AtRiskWindow {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRepo) PendingByUser(_ context.Context, userID string) (PendingWork, error) {
	work := PendingWork{RFIs: []InformationRequest{}, Questions: []Question{}}
	for _, r := range f.rfis {
		if !r.Status.IsTerminal() && r.AssignedToID != nil && *r.AssignedToID == userID {
			work.RFIs = append(work.RFIs, r)
		}
	}
	for _, list := range f.questions {
		for _, q := range list {
			if q.Status != QuestionApproved && q.AssignedToID != nil && *q.AssignedToID == userID {
				work.Questions = append(work.Questions, q)
			}
		}
	}
	return work, nil
}

func (f *fakeRepo) Tally(_ context.Context, now time.Time) (TallyRow, error) {
	row := TallyRow{
		ByStatus:   map[Status]int{},
		ByPriority: map[sla.Priority]int{},
		ByCategory: map[string]int{},
	}
	for _, r := range f.rfis {
		row.Total++
		row.ByStatus[r.Status]++
		row.ByPriority[r.Priority]++
		if !r.Status.IsTerminal() {
			row.Open++
			if now.After(r.DueAt) {
				row.Overdue++
			}
		}
		if r.RespondedAt != nil {
			row.Responded++
			elapsed := r.RespondedAt.Sub(r.ReceivedAt)
			if elapsed <= time.Duration(r.SLAHours)*time.Hour {
				row.WithinSLA++
			}
			row.SumResponseHours += elapsed.Hours()
		}
	}
	for _, list := range f.questions {
		for _, q := range list {
			row.ByCategory[q.Category]++
		}
	}
	return row, nil
}

type fakeNumbers struct {
	seq int
}

func (f *fakeNumbers) Next(_ context.Context, now time.Time) (string, error) {
	f.seq++
	return FormatNumber(now.Format("200601"), f.seq), nil
}

type enqueued struct {
	topic   string
	payload map[string]any
}

type fakeOutbox struct {
	messages []enqueued
	err      error
}

func (f *fakeOutbox) Enqueue(_ context.Context, _ pgx.Tx, topic string, payload map[string]any) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, enqueued{topic: topic, payload: payload})
	return nil
}

type fakePool struct {
	txs []*fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	tx := &fakeTx{}
	f.txs = append(f.txs, tx)
	return tx, nil
}

func (f *fakePool) lastTx() *fakeTx {
	if len(f.txs) == 0 {
		return nil
	}
	return f.txs[len(f.txs)-1]
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
