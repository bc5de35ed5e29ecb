// Package postgres implements the destination catalog over PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/dataloom-ai/dataloom-engine/pkg/adapters/catalog"
)

// Catalog reads destination schema metadata from PostgreSQL.
type Catalog struct {
	db     *sql.DB
	logger *zap.Logger
}

// New opens a catalog connection. If logger is nil, a no-op logger is
// used.
func New(ctx context.Context, dsn string, logger *zap.Logger) (*Catalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Catalog{db: db, logger: logger.Named("catalog-postgres")}, nil
}

// ListSchemas returns all non-system schema names.
func (c *Catalog) ListSchemas(ctx context.Context) ([]string, error) {
	query := `
	SELECT schema_name
	FROM information_schema.schemata
	WHERE schema_name NOT IN ('pg_catalog', 'information_schema')
	  AND schema_name NOT LIKE 'pg_toast%'
	ORDER BY schema_name
	`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query schemas: %w", err)
	}
	defer rows.Close()

	var schemas []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan schema row: %w", err)
		}
		schemas = append(schemas, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema rows: %w", err)
	}

	return schemas, nil
}

// ListTables returns all table names in a schema.
func (c *Catalog) ListTables(ctx context.Context, schema string) ([]string, error) {
	query := `
	SELECT table_name
	FROM information_schema.tables
	WHERE table_schema = $1
	  AND table_type = 'BASE TABLE'
	ORDER BY table_name
	`

	rows, err := c.db.QueryContext(ctx, query, schema)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table row: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table rows: %w", err)
	}

	return tables, nil
}

// DescribeTable returns the column set of a table with declared types.
func (c *Catalog) DescribeTable(ctx context.Context, schema, table string) (map[string]catalog.ColumnDescription, error) {
	query := `
	SELECT
	    column_name,
	    CASE
	        WHEN data_type = 'numeric' AND numeric_precision IS NOT NULL
	            THEN data_type || '(' || numeric_precision || ',' || COALESCE(numeric_scale, 0) || ')'
	        ELSE data_type
	    END AS data_type,
	    is_nullable = 'YES'
	FROM information_schema.columns
	WHERE table_schema = $1 AND table_name = $2
	ORDER BY ordinal_position
	`

	rows, err := c.db.QueryContext(ctx, query, schema, table)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	columns := make(map[string]catalog.ColumnDescription)
	for rows.Next() {
		var name, dataType string
		var nullable bool
		if err := rows.Scan(&name, &dataType, &nullable); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		columns[name] = catalog.ColumnDescription{Type: dataType, Nullable: nullable}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate column rows: %w", err)
	}

	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s.%s not found", schema, table)
	}
	return columns, nil
}

// Close releases the database connection.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Ensure Catalog implements the interface at compile time.
var _ catalog.Catalog = (*Catalog)(nil)
