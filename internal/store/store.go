// Package store defines the tabular persistence contract the delivery core
// depends on, plus Postgres and in-memory implementations.
package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Table names used by the worker.
const (
	TableQueue        = "queue"
	TableCampaigns    = "campaigns"
	TableContacts     = "contacts"
	TableSuppressions = "suppressions"
	TableStats        = "stats"
	TableLogs         = "logs"
)

// Row is a single record keyed by column name.
type Row map[string]any

// Op is a filter comparison.
type Op string

const (
	OpEq Op = "="
	OpIn Op = "IN"
)

// Filter restricts ReadTable results.
type Filter struct {
	Column string
	Op     Op
	Values []any
}

// Eq matches rows whose column equals v.
func Eq(column string, v any) Filter {
	return Filter{Column: column, Op: OpEq, Values: []any{v}}
}

// In matches rows whose column equals any of vs.
func In(column string, vs ...any) Filter {
	return Filter{Column: column, Op: OpIn, Values: vs}
}

// Store is the whole persistence contract of the delivery core.
type Store interface {
	ReadTable(ctx context.Context, table string, filters ...Filter) ([]Row, error)
	UpdateRow(ctx context.Context, table, keyColumn string, keyValue any, patch Row) (bool, error)
	AppendRows(ctx context.Context, table string, rows []Row) error
}

// Match reports whether the row satisfies every filter.
func Match(row Row, filters []Filter) bool {
	for _, f := range filters {
		got := String(row, f.Column)
		ok := false
		for _, v := range f.Values {
			if got == stringify(v) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// String returns the column value as a string; nil becomes "".
func String(row Row, column string) string {
	return stringify(row[column])
}

// Int returns the column value as an int; unparsable values become 0.
func Int(row Row, column string) int {
	switch v := row[column].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	case nil:
		return 0
	default:
		n, err := strconv.Atoi(strings.TrimSpace(stringify(v)))
		if err != nil {
			return 0
		}
		return n
	}
}

// Time returns the column value as a time, or nil when unset or unparsable.
func Time(row Row, column string) *time.Time {
	switch v := row[column].(type) {
	case time.Time:
		if v.IsZero() {
			return nil
		}
		t := v
		return &t
	case *time.Time:
		if v == nil || v.IsZero() {
			return nil
		}
		t := *v
		return &t
	case nil:
		return nil
	default:
		s := strings.TrimSpace(stringify(v))
		if s == "" {
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil
		}
		return &t
	}
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if val == nil {
			return ""
		}
		return val.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
