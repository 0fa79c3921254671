package rfi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rfiflow/sla"
)

var (
	ErrNotFound         = errors.New("rfi: not found")
	ErrQuestionNotFound = errors.New("rfi: question not found")
)

// Repository defines the data access the lifecycle and question services
// need. Mutating methods take the caller's transaction so every write shares
// the aggregate row lock.
type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, r InformationRequest) error
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (InformationRequest, error)
	UpdateHeader(ctx context.Context, tx pgx.Tx, r InformationRequest) error

	Get(ctx context.Context, id string) (InformationRequest, error)
	List(ctx context.Context, f Filters) ([]InformationRequest, error)

	InsertQuestion(ctx context.Context, tx pgx.Tx, q Question) error
	GetQuestion(ctx context.Context, tx pgx.Tx, rfiID, questionID string) (Question, error)
	UpdateQuestion(ctx context.Context, tx pgx.Tx, q Question) error
	Questions(ctx context.Context, tx pgx.Tx, rfiID string) ([]Question, error)
	NextQuestionSeq(ctx context.Context, tx pgx.Tx, rfiID string) (int, error)

	InsertDocument(ctx context.Context, tx pgx.Tx, d Document) error
	InsertCommunication(ctx context.Context, tx pgx.Tx, c Communication) error

	Overdue(ctx context.Context, now time.Time) ([]InformationRequest, error)
	AtRisk(ctx context.Context, now time.Time) ([]InformationRequest, error)
	PendingByUser(ctx context.Context, userID string) (PendingWork, error)
	Tally(ctx context.Context, now time.Time) (TallyRow, error)
}

// PGRepository is the PostgreSQL implementation backed by a pgx pool.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const rfiColumns = `id, rfi_number, status, priority, source, customer_id, customer_name,
	contact_name, contact_email, contact_phone, subject, description,
	received_at, due_at, responded_at, closed_at, sla_hours,
	assigned_to_id, assigned_to_name, assigned_at, assigned_by,
	response_summary, response_document_id, related_rfp_id, cancel_reason,
	created_by, updated_by, created_at, updated_at`

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, req InformationRequest) error {
	const query = `
		INSERT INTO rfis (id, rfi_number, status, priority, source, customer_id, customer_name,
			contact_name, contact_email, contact_phone, subject, description,
			received_at, due_at, sla_hours, created_by, updated_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$16)
	`
	if _, err := tx.Exec(ctx, query,
		req.ID, req.Number, req.Status, req.Priority, req.Source,
		req.CustomerID, req.CustomerName, req.ContactName, req.ContactEmail, req.ContactPhone,
		req.Subject, req.Description, req.ReceivedAt, req.DueAt, req.SLAHours, req.CreatedBy,
	); err != nil {
		return fmt.Errorf("rfi: insert: %w", err)
	}

	for _, q := range req.Questions {
		if err := r.InsertQuestion(ctx, tx, q); err != nil {
			return err
		}
	}
	for _, d := range req.Documents {
		if err := r.InsertDocument(ctx, tx, d); err != nil {
			return err
		}
	}
	for _, c := range req.Communications {
		if err := r.InsertCommunication(ctx, tx, c); err != nil {
			return err
		}
	}
	return nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (InformationRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM rfis WHERE id = $1 FOR UPDATE`, rfiColumns)
	req, err := scanRFI(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return InformationRequest{}, ErrNotFound
		}
		return InformationRequest{}, fmt.Errorf("rfi: get for update: %w", err)
	}
	return req, nil
}

func (r *PGRepository) UpdateHeader(ctx context.Context, tx pgx.Tx, req InformationRequest) error {
	const query = `
		UPDATE rfis
		SET status=$2, priority=$3, responded_at=$4, closed_at=$5,
		    assigned_to_id=$6, assigned_to_name=$7, assigned_at=$8, assigned_by=$9,
		    response_summary=$10, response_document_id=$11, related_rfp_id=$12, cancel_reason=$13,
		    updated_by=$14, updated_at=now()
		WHERE id=$1
	`
	tag, err := tx.Exec(ctx, query,
		req.ID, req.Status, req.Priority, req.RespondedAt, req.ClosedAt,
		req.AssignedToID, req.AssignedToName, req.AssignedAt, req.AssignedBy,
		req.ResponseSummary, req.ResponseDocumentID, req.RelatedRFPID, req.CancelReason,
		req.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("rfi: update header: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (InformationRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM rfis WHERE id = $1`, rfiColumns)
	req, err := scanRFI(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return InformationRequest{}, ErrNotFound
		}
		return InformationRequest{}, fmt.Errorf("rfi: get: %w", err)
	}

	if req.Questions, err = r.queryQuestions(ctx, r.pool, id); err != nil {
		return InformationRequest{}, err
	}
	if req.Documents, err = r.queryDocuments(ctx, id); err != nil {
		return InformationRequest{}, err
	}
	if req.Communications, err = r.queryCommunications(ctx, id); err != nil {
		return InformationRequest{}, err
	}
	return req, nil
}

func (r *PGRepository) List(ctx context.Context, f Filters) ([]InformationRequest, error) {
	where := []string{"1=1"}
	args := []any{}

	if f.Status != "" {
		where = append(where, fmt.Sprintf("status=$%d", len(args)+1))
		args = append(args, f.Status)
	}
	if f.Priority != "" {
		where = append(where, fmt.Sprintf("priority=$%d", len(args)+1))
		args = append(args, f.Priority)
	}
	if f.CustomerID != "" {
		where = append(where, fmt.Sprintf("customer_id=$%d", len(args)+1))
		args = append(args, f.CustomerID)
	}
	if f.AssignedToID != "" {
		where = append(where, fmt.Sprintf("assigned_to_id=$%d", len(args)+1))
		args = append(args, f.AssignedToID)
	}
	if f.ReceivedFrom != nil {
		where = append(where, fmt.Sprintf("received_at >= $%d", len(args)+1))
		args = append(args, *f.ReceivedFrom)
	}
	if f.ReceivedTo != nil {
		where = append(where, fmt.Sprintf("received_at <= $%d", len(args)+1))
		args = append(args, *f.ReceivedTo)
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := fmt.Sprintf(`SELECT %s FROM rfis WHERE %s ORDER BY received_at DESC LIMIT %d`,
		rfiColumns, strings.Join(where, " AND "), limit)

	return r.queryRFIs(ctx, query, args...)
}

func (r *PGRepository) InsertQuestion(ctx context.Context, tx pgx.Tx, q Question) error {
	const query = `
		INSERT INTO rfi_questions (id, rfi_id, seq, category, question, context, attachments,
			status, assigned_to_id, assigned_to_name, answer, answered_by, answered_at,
			approved_by, approved_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`
	if _, err := tx.Exec(ctx, query,
		q.ID, q.RFIID, q.Seq, q.Category, q.Text, q.Context, q.Attachments,
		q.Status, q.AssignedToID, q.AssignedToName, q.Answer, q.AnsweredBy, q.AnsweredAt,
		q.ApprovedBy, q.ApprovedAt,
	); err != nil {
		return fmt.Errorf("rfi: insert question: %w", err)
	}
	return nil
}

func (r *PGRepository) GetQuestion(ctx context.Context, tx pgx.Tx, rfiID, questionID string) (Question, error) {
	const query = `
		SELECT id, rfi_id, seq, category, question, context, attachments, status,
		       assigned_to_id, assigned_to_name, answer, answered_by, answered_at,
		       approved_by, approved_at, created_at, updated_at
		FROM rfi_questions
		WHERE rfi_id = $1 AND id = $2
	`
	q, err := scanQuestion(tx.QueryRow(ctx, query, rfiID, questionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Question{}, ErrQuestionNotFound
		}
		return Question{}, fmt.Errorf("rfi: get question: %w", err)
	}
	return q, nil
}

func (r *PGRepository) UpdateQuestion(ctx context.Context, tx pgx.Tx, q Question) error {
	const query = `
		UPDATE rfi_questions
		SET status=$3, assigned_to_id=$4, assigned_to_name=$5, answer=$6,
		    answered_by=$7, answered_at=$8, approved_by=$9, approved_at=$10,
		    updated_at=now()
		WHERE rfi_id=$1 AND id=$2
	`
	tag, err := tx.Exec(ctx, query,
		q.RFIID, q.ID, q.Status, q.AssignedToID, q.AssignedToName, q.Answer,
		q.AnsweredBy, q.AnsweredAt, q.ApprovedBy, q.ApprovedAt,
	)
	if err != nil {
		return fmt.Errorf("rfi: update question: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrQuestionNotFound
	}
	return nil
}

func (r *PGRepository) Questions(ctx context.Context, tx pgx.Tx, rfiID string) ([]Question, error) {
	return r.queryQuestions(ctx, tx, rfiID)
}

func (r *PGRepository) NextQuestionSeq(ctx context.Context, tx pgx.Tx, rfiID string) (int, error) {
	var next int
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(seq),0)+1 FROM rfi_questions WHERE rfi_id=$1`, rfiID).Scan(&next); err != nil {
		return 0, fmt.Errorf("rfi: next question seq: %w", err)
	}
	return next, nil
}

func (r *PGRepository) InsertDocument(ctx context.Context, tx pgx.Tx, d Document) error {
	const query = `
		INSERT INTO rfi_documents (id, rfi_id, name, mime_type, size_bytes, url, uploaded_by, uploaded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`
	if _, err := tx.Exec(ctx, query,
		d.ID, d.RFIID, d.Name, d.MimeType, d.SizeBytes, d.URL, d.UploadedBy, d.UploadedAt,
	); err != nil {
		return fmt.Errorf("rfi: insert document: %w", err)
	}
	return nil
}

func (r *PGRepository) InsertCommunication(ctx context.Context, tx pgx.Tx, c Communication) error {
	const query = `
		INSERT INTO rfi_communications (id, rfi_id, channel, subject, content, participants, occurred_at, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`
	if _, err := tx.Exec(ctx, query,
		c.ID, c.RFIID, c.Channel, c.Subject, c.Content, c.Participants, c.OccurredAt, c.CreatedBy,
	); err != nil {
		return fmt.Errorf("rfi: insert communication: %w", err)
	}
	return nil
}

func (r *PGRepository) Overdue(ctx context.Context, now time.Time) ([]InformationRequest, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM rfis
		WHERE status NOT IN ('responded','closed','cancelled') AND due_at < $1
		ORDER BY due_at ASC`, rfiColumns)
	return r.queryRFIs(ctx, query, now)
}

// AtRisk uses an exclusive upper bound: an RFI with exactly AtRiskWindow
// remaining still derives within_sla, so it must not appear here.
func (r *PGRepository) AtRisk(ctx context.Context, now time.Time) ([]InformationRequest, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM rfis
		WHERE status NOT IN ('responded','closed','cancelled')
		  AND due_at > $1 AND due_at < $2
		ORDER BY due_at ASC`, rfiColumns)
	return r.queryRFIs(ctx, query, now, now.Add(sla.AtRiskWindow))
}

func (r *PGRepository) PendingByUser(ctx context.Context, userID string) (PendingWork, error) {
	rfiQuery := fmt.Sprintf(`
		SELECT %s FROM rfis
		WHERE assigned_to_id = $1 AND status NOT IN ('responded','closed','cancelled')
		ORDER BY received_at DESC`, rfiColumns)
	rfis, err := r.queryRFIs(ctx, rfiQuery, userID)
	if err != nil {
		return PendingWork{}, err
	}

	const questionQuery = `
		SELECT id, rfi_id, seq, category, question, context, attachments, status,
		       assigned_to_id, assigned_to_name, answer, answered_by, answered_at,
		       approved_by, approved_at, created_at, updated_at
		FROM rfi_questions
		WHERE assigned_to_id = $1 AND status <> 'approved'
		ORDER BY created_at ASC
	`
	rows, err := r.pool.Query(ctx, questionQuery, userID)
	if err != nil {
		return PendingWork{}, fmt.Errorf("rfi: pending questions: %w", err)
	}
	defer rows.Close()

	questions := []Question{}
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return PendingWork{}, fmt.Errorf("rfi: scan pending question: %w", err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return PendingWork{}, fmt.Errorf("rfi: iterate pending questions: %w", err)
	}

	return PendingWork{RFIs: rfis, Questions: questions}, nil
}

// TallyRow carries the raw aggregates behind Statistics; ratio and rounding
// math stays in the service so the compliance arithmetic is testable without
// a database.
type TallyRow struct {
	Total            int
	ByStatus         map[Status]int
	ByPriority       map[sla.Priority]int
	ByCategory       map[string]int
	Responded        int
	WithinSLA        int
	SumResponseHours float64
	Open             int
	Overdue          int
}

func (r *PGRepository) Tally(ctx context.Context, now time.Time) (TallyRow, error) {
	row := TallyRow{
		ByStatus:   map[Status]int{},
		ByPriority: map[sla.Priority]int{},
		ByCategory: map[string]int{},
	}

	rows, err := r.pool.Query(ctx, `SELECT status, priority, COUNT(*) FROM rfis GROUP BY status, priority`)
	if err != nil {
		return TallyRow{}, fmt.Errorf("rfi: tally status: %w", err)
	}
	for rows.Next() {
		var (
			status   Status
			priority sla.Priority
			n        int
		)
		if err := rows.Scan(&status, &priority, &n); err != nil {
			rows.Close()
			return TallyRow{}, fmt.Errorf("rfi: scan tally: %w", err)
		}
		row.Total += n
		row.ByStatus[status] += n
		row.ByPriority[priority] += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return TallyRow{}, fmt.Errorf("rfi: iterate tally: %w", err)
	}

	catRows, err := r.pool.Query(ctx, `SELECT category, COUNT(*) FROM rfi_questions GROUP BY category`)
	if err != nil {
		return TallyRow{}, fmt.Errorf("rfi: tally categories: %w", err)
	}
	for catRows.Next() {
		var (
			cat string
			n   int
		)
		if err := catRows.Scan(&cat, &n); err != nil {
			catRows.Close()
			return TallyRow{}, fmt.Errorf("rfi: scan category tally: %w", err)
		}
		row.ByCategory[cat] = n
	}
	catRows.Close()
	if err := catRows.Err(); err != nil {
		return TallyRow{}, fmt.Errorf("rfi: iterate category tally: %w", err)
	}

	const responseSQL = `
		SELECT COUNT(*) FILTER (WHERE responded_at IS NOT NULL),
		       COUNT(*) FILTER (WHERE responded_at IS NOT NULL
		           AND responded_at - received_at <= sla_hours * interval '1 hour'),
		       COALESCE(SUM(EXTRACT(EPOCH FROM responded_at - received_at) / 3600.0)
		           FILTER (WHERE responded_at IS NOT NULL), 0),
		       COUNT(*) FILTER (WHERE status NOT IN ('responded','closed','cancelled')),
		       COUNT(*) FILTER (WHERE status NOT IN ('responded','closed','cancelled') AND due_at < $1)
		FROM rfis
	`
	if err := r.pool.QueryRow(ctx, responseSQL, now).Scan(
		&row.Responded, &row.WithinSLA, &row.SumResponseHours, &row.Open, &row.Overdue,
	); err != nil {
		return TallyRow{}, fmt.Errorf("rfi: tally responses: %w", err)
	}

	return row, nil
}

func (r *PGRepository) queryRFIs(ctx context.Context, query string, args ...any) ([]InformationRequest, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("rfi: query list: %w", err)
	}
	defer rows.Close()

	list := []InformationRequest{}
	for rows.Next() {
		req, err := scanRFI(rows)
		if err != nil {
			return nil, fmt.Errorf("rfi: scan list: %w", err)
		}
		list = append(list, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rfi: iterate list: %w", err)
	}
	return list, nil
}

// querier lets child loads run on either the pool or an open transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *PGRepository) queryQuestions(ctx context.Context, q querier, rfiID string) ([]Question, error) {
	const query = `
		SELECT id, rfi_id, seq, category, question, context, attachments, status,
		       assigned_to_id, assigned_to_name, answer, answered_by, answered_at,
		       approved_by, approved_at, created_at, updated_at
		FROM rfi_questions
		WHERE rfi_id = $1
		ORDER BY seq ASC
	`
	rows, err := q.Query(ctx, query, rfiID)
	if err != nil {
		return nil, fmt.Errorf("rfi: query questions: %w", err)
	}
	defer rows.Close()

	out := []Question{}
	for rows.Next() {
		question, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("rfi: scan question: %w", err)
		}
		out = append(out, question)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rfi: iterate questions: %w", err)
	}
	return out, nil
}

func (r *PGRepository) queryDocuments(ctx context.Context, rfiID string) ([]Document, error) {
	const query = `
		SELECT id, rfi_id, name, mime_type, size_bytes, url, uploaded_by, uploaded_at
		FROM rfi_documents
		WHERE rfi_id = $1
		ORDER BY uploaded_at ASC
	`
	rows, err := r.pool.Query(ctx, query, rfiID)
	if err != nil {
		return nil, fmt.Errorf("rfi: query documents: %w", err)
	}
	defer rows.Close()

	out := []Document{}
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.RFIID, &d.Name, &d.MimeType, &d.SizeBytes, &d.URL, &d.UploadedBy, &d.UploadedAt); err != nil {
			return nil, fmt.Errorf("rfi: scan document: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rfi: iterate documents: %w", err)
	}
	return out, nil
}

func (r *PGRepository) queryCommunications(ctx context.Context, rfiID string) ([]Communication, error) {
	const query = `
		SELECT id, rfi_id, channel, subject, content, participants, occurred_at, created_by
		FROM rfi_communications
		WHERE rfi_id = $1
		ORDER BY occurred_at ASC
	`
	rows, err := r.pool.Query(ctx, query, rfiID)
	if err != nil {
		return nil, fmt.Errorf("rfi: query communications: %w", err)
	}
	defer rows.Close()

	out := []Communication{}
	for rows.Next() {
		var c Communication
		if err := rows.Scan(&c.ID, &c.RFIID, &c.Channel, &c.Subject, &c.Content, &c.Participants, &c.OccurredAt, &c.CreatedBy); err != nil {
			return nil, fmt.Errorf("rfi: scan communication: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rfi: iterate communications: %w", err)
	}
	return out, nil
}

func scanRFI(row pgx.Row) (InformationRequest, error) {
	var req InformationRequest
	return req, row.Scan(
		&req.ID, &req.Number, &req.Status, &req.Priority, &req.Source,
		&req.CustomerID, &req.CustomerName, &req.ContactName, &req.ContactEmail, &req.ContactPhone,
		&req.Subject, &req.Description,
		&req.ReceivedAt, &req.DueAt, &req.RespondedAt, &req.ClosedAt, &req.SLAHours,
		&req.AssignedToID, &req.AssignedToName, &req.AssignedAt, &req.AssignedBy,
		&req.ResponseSummary, &req.ResponseDocumentID, &req.RelatedRFPID, &req.CancelReason,
		&req.CreatedBy, &req.UpdatedBy, &req.CreatedAt, &req.UpdatedAt,
	)
}

func scanQuestion(row pgx.Row) (Question, error) {
	var q Question
	return q, row.Scan(
		&q.ID, &q.RFIID, &q.Seq, &q.Category, &q.Text, &q.Context, &q.Attachments, &q.Status,
		&q.AssignedToID, &q.AssignedToName, &q.Answer, &q.AnsweredBy, &q.AnsweredAt,
		&q.ApprovedBy, &q.ApprovedAt, &q.CreatedAt, &q.UpdatedAt,
	)
}
