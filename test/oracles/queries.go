package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_unique_rfi_number",
			SQL: `SELECT rfi_number, COUNT(*) FROM rfis
                  GROUP BY rfi_number HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_question_seq_contiguous",
			SQL: `WITH seqs AS (
                      SELECT rfi_id, seq,
                             ROW_NUMBER() OVER (PARTITION BY rfi_id ORDER BY seq) AS expected
                      FROM rfi_questions)
                  SELECT * FROM seqs WHERE seq <> expected`,
		},
		{
			Name: "O3_due_date_frozen",
			SQL: `SELECT id, rfi_number FROM rfis
                  WHERE due_at <> received_at + sla_hours * interval '1 hour'`,
		},
		{
			Name: "O4_responded_requires_timestamp",
			SQL: `SELECT id, rfi_number, status FROM rfis
                  WHERE (status = 'responded' AND responded_at IS NULL)
                     OR (status <> 'responded' AND responded_at IS NOT NULL)`,
		},
		{
			Name: "O5_responded_gate",
			SQL: `SELECT r.id, r.rfi_number FROM rfis r
                  WHERE r.status = 'responded'
                    AND EXISTS (SELECT 1 FROM rfi_questions q
                                WHERE q.rfi_id = r.id AND q.status <> 'approved')`,
		},
		{
			Name: "O6_approved_requires_answer",
			SQL: `SELECT id, rfi_id, seq FROM rfi_questions
                  WHERE status = 'approved'
                    AND (answer IS NULL OR approved_by IS NULL OR approved_at IS NULL)`,
		},
		{
			Name: "O7_assignment_consistency",
			SQL: `SELECT id, rfi_number, status FROM rfis
                  WHERE status = 'assigned' AND assigned_to_id IS NULL`,
		},
		{
			Name: "O8_outbox_drains",
			SQL: `SELECT id::text, topic FROM outbox
                  WHERE status NOT IN ('sent','dead')
                    AND now() - created_at > interval '5 minutes'`,
		},
		{
			Name: "O9_counter_not_behind",
			SQL: `SELECT c.period, c.seq, x.max_seq FROM rfi_counters c
                  JOIN (SELECT substring(rfi_number FROM 5 FOR 6) AS period,
                               MAX(substring(rfi_number FROM 12)::int) AS max_seq
                        FROM rfis GROUP BY 1) x ON x.period = c.period
                  WHERE c.seq < x.max_seq`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
