package storage

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hupe1980/bankmesh/tool/dbquery"
)

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var lengthRE = regexp.MustCompile(`\((\d+)\)`)

func quoteIdent(parts ...string) (string, error) {
	quoted := make([]string, 0, len(parts))
	for _, p := range parts {
		if !identRE.MatchString(p) {
			return "", fmt.Errorf("storage: invalid identifier %q", p)
		}
		quoted = append(quoted, `"`+p+`"`)
	}
	return strings.Join(quoted, "."), nil
}

// DescribeTable implements dbquery.Querier.
func (s *Store) DescribeTable(ctx context.Context, schema, table string) ([]dbquery.Column, error) {
	if schema == "" {
		schema = s.DefaultSchema()
	}
	if s.dialect == Postgres {
		return s.describePostgres(ctx, schema, table)
	}
	return s.describeSQLite(ctx, schema, table)
}

func (s *Store) describeSQLite(ctx context.Context, schema, table string) ([]dbquery.Column, error) {
	var rows []struct {
		Name    string         `db:"name"`
		Type    string         `db:"type"`
		NotNull int            `db:"notnull"`
		Default sql.NullString `db:"dflt_value"`
		PK      int            `db:"pk"`
	}
	query := `SELECT name, type, "notnull", dflt_value, pk FROM pragma_table_info(?, ?) ORDER BY cid`
	if err := s.db.SelectContext(ctx, &rows, query, table, schema); err != nil {
		return nil, fmt.Errorf("storage: describe %s.%s: %w", schema, table, err)
	}

	columns := make([]dbquery.Column, 0, len(rows))
	for _, r := range rows {
		col := dbquery.Column{
			Name:         r.Name,
			Type:         r.Type,
			MaxLength:    typeLength(r.Type),
			Nullable:     r.NotNull == 0,
			IsPrimaryKey: r.PK > 0,
		}
		if r.Default.Valid {
			col.Default = &r.Default.String
		}
		columns = append(columns, col)
	}
	return columns, nil
}

func (s *Store) describePostgres(ctx context.Context, schema, table string) ([]dbquery.Column, error) {
	var rows []struct {
		Name      string         `db:"column_name"`
		Type      string         `db:"data_type"`
		MaxLength sql.NullInt64  `db:"character_maximum_length"`
		Nullable  string         `db:"is_nullable"`
		Default   sql.NullString `db:"column_default"`
		PK        bool           `db:"is_primary_key"`
	}
	query := `SELECT c.column_name, c.data_type, c.character_maximum_length, c.is_nullable,
c.column_default,
EXISTS (
  SELECT 1 FROM information_schema.table_constraints tc
  JOIN information_schema.key_column_usage kcu
    ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
  WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = c.table_schema
    AND tc.table_name = c.table_name AND kcu.column_name = c.column_name
) AS is_primary_key
FROM information_schema.columns c
WHERE c.table_schema = $1 AND c.table_name = $2
ORDER BY c.ordinal_position`
	if err := s.db.SelectContext(ctx, &rows, query, schema, table); err != nil {
		return nil, fmt.Errorf("storage: describe %s.%s: %w", schema, table, err)
	}

	columns := make([]dbquery.Column, 0, len(rows))
	for _, r := range rows {
		col := dbquery.Column{
			Name:         r.Name,
			Type:         r.Type,
			Nullable:     r.Nullable == "YES",
			IsPrimaryKey: r.PK,
		}
		if r.MaxLength.Valid {
			n := r.MaxLength.Int64
			col.MaxLength = &n
		}
		if r.Default.Valid {
			col.Default = &r.Default.String
		}
		columns = append(columns, col)
	}
	return columns, nil
}

// CountRows implements dbquery.Querier.
func (s *Store) CountRows(ctx context.Context, schema, table string) (int64, error) {
	if schema == "" {
		schema = s.DefaultSchema()
	}
	name, err := quoteIdent(schema, table)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM `+name); err != nil {
		return 0, fmt.Errorf("storage: count %s: %w", name, err)
	}
	return n, nil
}

// ReadQuery implements dbquery.Querier. The query must already be guarded.
func (s *Store) ReadQuery(ctx context.Context, query string) ([]string, []map[string]any, error) {
	rows, err := s.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var out []map[string]any
	for rows.Next() {
		row := make(map[string]any, len(columns))
		if err := rows.MapScan(row); err != nil {
			return nil, nil, err
		}
		for k, v := range row {
			row[k] = jsonValue(v)
		}
		out = append(out, row)
	}

	return columns, out, rows.Err()
}

func jsonValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return x
	}
}

func typeLength(t string) *int64 {
	m := lengthRE.FindStringSubmatch(t)
	if m == nil {
		return nil
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return nil
	}
	return &n
}
