package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/outreach-delivery/internal/errors"
)

// PostgresStore maps the tabular contract onto Postgres tables of the same name.
// Identifiers are quoted; every value travels as a bind parameter.
type PostgresStore struct {
	DB     *sql.DB
	Schema string
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{DB: db}
}

func (s *PostgresStore) table(name string) string {
	if s.Schema == "" {
		return pq.QuoteIdentifier(name)
	}
	return pq.QuoteIdentifier(s.Schema) + "." + pq.QuoteIdentifier(name)
}

func (s *PostgresStore) ReadTable(ctx context.Context, table string, filters ...Filter) ([]Row, error) {
	query := "SELECT * FROM " + s.table(table)
	args := []any{}
	conds := []string{}
	for _, f := range filters {
		col := pq.QuoteIdentifier(f.Column)
		switch f.Op {
		case OpIn:
			if len(f.Values) == 0 {
				return []Row{}, nil
			}
			marks := make([]string, len(f.Values))
			for i, v := range f.Values {
				args = append(args, v)
				marks[i] = fmt.Sprintf("$%d", len(args))
			}
			conds = append(conds, fmt.Sprintf("%s IN (%s)", col, strings.Join(marks, ", ")))
		default:
			args = append(args, f.Values[0])
			conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
		}
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, appErrors.NewStoreUnavailable("read", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, appErrors.NewStoreUnavailable("read", table, err)
	}

	out := []Row{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, appErrors.NewStoreUnavailable("read", table, err)
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, appErrors.NewStoreUnavailable("read", table, err)
	}
	return out, nil
}

func (s *PostgresStore) UpdateRow(ctx context.Context, table, keyColumn string, keyValue any, patch Row) (bool, error) {
	if len(patch) == 0 {
		return true, nil
	}
	cols := sortedColumns(patch)
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, c := range cols {
		v, err := bindValue(patch[c])
		if err != nil {
			return false, appErrors.NewStoreUnavailable("update", table, err)
		}
		args = append(args, v)
		sets[i] = fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(c), i+1)
	}
	args = append(args, keyValue)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d",
		s.table(table), strings.Join(sets, ", "), pq.QuoteIdentifier(keyColumn), len(args))

	res, err := s.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, appErrors.NewStoreUnavailable("update", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, appErrors.NewStoreUnavailable("update", table, err)
	}
	return n > 0, nil
}

func (s *PostgresStore) AppendRows(ctx context.Context, table string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return appErrors.NewStoreUnavailable("append", table, err)
	}
	defer tx.Rollback()

	for _, row := range rows {
		cols := sortedColumns(row)
		quoted := make([]string, len(cols))
		marks := make([]string, len(cols))
		args := make([]any, len(cols))
		for i, c := range cols {
			v, err := bindValue(row[c])
			if err != nil {
				return appErrors.NewStoreUnavailable("append", table, err)
			}
			quoted[i] = pq.QuoteIdentifier(c)
			marks[i] = fmt.Sprintf("$%d", i+1)
			args[i] = v
		}
		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			s.table(table), strings.Join(quoted, ", "), strings.Join(marks, ", "))
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return appErrors.NewStoreUnavailable("append", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return appErrors.NewStoreUnavailable("append", table, err)
	}
	return nil
}

// Ping checks the connection; used by the health endpoint.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.DB.PingContext(ctx); err != nil {
		return appErrors.NewStoreUnavailable("ping", "", err)
	}
	return nil
}

func sortedColumns(row Row) []string {
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	slices.Sort(cols)
	return cols
}

// bindValue converts structured values (details maps, string lists) to JSON text.
func bindValue(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any, map[string]string, []string:
		b, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	default:
		return v, nil
	}
}

var _ Store = (*PostgresStore)(nil)
