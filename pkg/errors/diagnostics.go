package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Diagnostics flattens an error chain into loggable fields. Postgres details
// are lifted from either driver so constraint violations on the ledger tables
// show up in request logs.
type Diagnostics struct {
	Message string
	Code    Code
	Chain   []string

	SQLState   string
	Constraint string
	Table      string
	Detail     string
}

// Inspect walks err and collects its Diagnostics.
func Inspect(err error) Diagnostics {
	if err == nil {
		return Diagnostics{}
	}
	d := Diagnostics{Message: err.Error(), Code: CodeOf(err)}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T", e))
	}

	var pgErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgErr):
		d.SQLState, d.Constraint, d.Table, d.Detail = pgErr.Code, pgErr.ConstraintName, pgErr.TableName, pgErr.Detail
	case errors.As(err, &pqErr):
		d.SQLState, d.Constraint, d.Table, d.Detail = string(pqErr.Code), pqErr.Constraint, pqErr.Table, pqErr.Detail
	}
	return d
}

// Fields renders d for logger.WithFields. Empty postgres fields are omitted.
func (d Diagnostics) Fields() map[string]any {
	fields := map[string]any{
		"error":       d.Message,
		"error_code":  d.Code,
		"error_chain": d.Chain,
	}
	if d.SQLState != "" {
		fields["pg_code"] = d.SQLState
		fields["pg_constraint"] = d.Constraint
		fields["pg_table"] = d.Table
		fields["pg_detail"] = d.Detail
	}
	return fields
}
