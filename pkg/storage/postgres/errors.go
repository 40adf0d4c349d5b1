package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/felixgeelhaar/milepost/pkg/domain/progress"
)

// SQLSTATE codes the rollup cares about.
const (
	codeStatementTooComplex = "54001" // stack depth limit exceeded
	codeQueryCanceled       = "57014" // includes statement_timeout
)

// classifyRollupError maps driver errors from calculate_booking_progress onto
// the domain sentinels the orchestrator understands.
func classifyRollupError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeStatementTooComplex:
			return fmt.Errorf("%w: %s", progress.ErrComputationDepth, pgErr.Message)
		case codeQueryCanceled:
			return fmt.Errorf("%w: %s", progress.ErrRollupTimeout, pgErr.Message)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", progress.ErrRollupTimeout, err)
	}
	return err
}
