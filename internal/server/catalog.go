package server

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/alfredjeanlab/propsheet/internal/model"
)

// catalogQuery selects the option value as its last column. When group is
// set the query selects one leading column stored under that attribute so
// dependent fields can filter on it. A query with cols serves collection rows
// instead: each selected column is stored under the matching name.
type catalogQuery struct {
	sql   string
	group string
	cols  []string
}

const userNamespaces = `n.nspname NOT LIKE 'pg\_%' AND n.nspname <> 'information_schema'`

var catalogs = map[string]catalogQuery{
	"roles": {sql: `SELECT rolname FROM pg_catalog.pg_roles ORDER BY rolname`},
	"databases": {sql: `SELECT datname FROM pg_catalog.pg_database
		WHERE datallowconn AND NOT datistemplate ORDER BY datname`},
	"schemas": {sql: `SELECT n.nspname FROM pg_catalog.pg_namespace n
		WHERE ` + userNamespaces + ` ORDER BY n.nspname`},
	"tables": {sql: `SELECT n.nspname || '.' || c.relname FROM pg_catalog.pg_class c
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relkind IN ('r', 'p') AND ` + userNamespaces + ` ORDER BY 1`},
	"columns": {group: "table", sql: `SELECT n.nspname || '.' || c.relname, a.attname FROM pg_catalog.pg_attribute a
		JOIN pg_catalog.pg_class c ON c.oid = a.attrelid
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		WHERE a.attnum > 0 AND NOT a.attisdropped AND c.relkind IN ('r', 'p') AND ` + userNamespaces + `
		ORDER BY 1, a.attnum`},
	"access_methods": {sql: `SELECT amname FROM pg_catalog.pg_am WHERE amtype = 'i' ORDER BY amname`},
	"opclasses": {group: "amname", sql: `SELECT am.amname, oc.opcname FROM pg_catalog.pg_opclass oc
		JOIN pg_catalog.pg_am am ON am.oid = oc.opcmethod
		ORDER BY 1, 2`},
	"seclabel_providers": {cols: []string{"provider"},
		sql: `SELECT DISTINCT provider FROM pg_catalog.pg_seclabels ORDER BY 1`},
}

// executor is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type executor interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryCatalog(ctx context.Context, db executor, q catalogQuery) ([]model.RawRow, error) {
	rows, err := db.QueryContext(ctx, q.sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if len(q.cols) > 0 {
		return scanColumns(rows, q.cols)
	}
	out := []model.RawRow{}
	for rows.Next() {
		var group, name string
		dest := []any{&name}
		if q.group != "" {
			dest = []any{&group, &name}
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		row := model.RawRow{"label": name, "value": name}
		if q.group != "" {
			row[q.group] = group
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func scanColumns(rows *sql.Rows, cols []string) ([]model.RawRow, error) {
	out := []model.RawRow{}
	for rows.Next() {
		vals := make([]sql.NullString, len(cols))
		dest := make([]any, len(cols))
		for i := range vals {
			dest[i] = &vals[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		row := make(model.RawRow, len(cols))
		for i, c := range cols {
			row[c] = vals[i].String
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
