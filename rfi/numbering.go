package rfi

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Numbering issues business identifiers of the form RFI-YYYYMM-0001. The
// sequence lives in a per-period counter row advanced atomically, so
// concurrent creates can never be handed the same number. Allocation runs in
// its own short transaction before the aggregate insert; an aborted create
// leaves a gap in the period, which is acceptable.
type Numbering struct {
	pool *pgxpool.Pool
}

func NewNumbering(pool *pgxpool.Pool) *Numbering {
	return &Numbering{pool: pool}
}

// Next allocates and formats the next business number for the period of now.
func (n *Numbering) Next(ctx context.Context, now time.Time) (string, error) {
	period := now.Format("200601")

	const query = `
		INSERT INTO rfi_counters (period, seq) VALUES ($1, 1)
		ON CONFLICT (period) DO UPDATE SET seq = rfi_counters.seq + 1
		RETURNING seq
	`
	var seq int
	if err := n.pool.QueryRow(ctx, query, period).Scan(&seq); err != nil {
		return "", fmt.Errorf("rfi: allocate number: %w", err)
	}
	return FormatNumber(period, seq), nil
}

// FormatNumber renders a business number from its period and sequence parts.
func FormatNumber(period string, seq int) string {
	return fmt.Sprintf("RFI-%s-%04d", period, seq)
}
