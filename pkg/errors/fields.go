package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// PostgresDetail is the subset of a driver error worth logging. The pgx and
// lib/pq drivers both surface it.
type PostgresDetail struct {
	Code       string
	Table      string
	Constraint string
	Detail     string
	Message    string
}

// Postgres digs the first postgres error out of err's chain.
func Postgres(err error) (PostgresDetail, bool) {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return PostgresDetail{
			Code:       pgxErr.Code,
			Table:      pgxErr.TableName,
			Constraint: pgxErr.ConstraintName,
			Detail:     pgxErr.Detail,
			Message:    pgxErr.Message,
		}, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return PostgresDetail{
			Code:       string(pqErr.Code),
			Table:      pqErr.Table,
			Constraint: pqErr.Constraint,
			Detail:     pqErr.Detail,
			Message:    pqErr.Message,
		}, true
	}
	return PostgresDetail{}, false
}

// LogFields flattens err into structured log fields: the coded error, every
// wrapped layer, and postgres diagnostics when a driver error is in the chain.
func LogFields(err error) map[string]any {
	if err == nil {
		return map[string]any{}
	}
	var chain []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		chain = append(chain, fmt.Sprintf("%T: %v", e, e))
	}
	fields := map[string]any{
		"error":       err.Error(),
		"error_code":  CodeOf(err),
		"error_chain": chain,
	}
	if pg, ok := Postgres(err); ok {
		fields["pg_code"] = pg.Code
		fields["pg_table"] = pg.Table
		fields["pg_constraint"] = pg.Constraint
		fields["pg_detail"] = pg.Detail
		fields["pg_message"] = pg.Message
	}
	return fields
}
