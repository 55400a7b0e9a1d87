package procurement

import (
	"context"
	"fmt"
	"time"
)

const (
	requestPrefix   = "SC"
	quotationPrefix = "COT"
	orderPrefix     = "OC"
)

// nextNumber draws the next yearly sequence value inside tx, e.g. SC-2025-0007.
func nextNumber(ctx context.Context, tx TxRepository, prefix string, at time.Time) (string, error) {
	seq, err := tx.NextSequence(ctx, prefix, at.Year())
	if err != nil {
		return "", err
	}
	return formatNumber(prefix, at.Year(), seq), nil
}

func formatNumber(prefix string, year int, seq int64) string {
	return fmt.Sprintf("%s-%d-%04d", prefix, year, seq)
}
