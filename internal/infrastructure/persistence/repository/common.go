package repository

import (
	"database/sql"
	"fmt"

	"github.com/garyjia/prodflow/internal/application/port"
)

// expectOneRow turns a zero-row versioned update into ErrStaleAggregate
func expectOneRow(res sql.Result, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %d", port.ErrStaleAggregate, what, id)
	}
	return nil
}

// flipped reports whether a conditional update changed a row
func flipped(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return n == 1, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
