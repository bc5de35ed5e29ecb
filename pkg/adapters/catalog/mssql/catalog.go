// Package mssql implements the destination catalog over SQL Server.
package mssql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/microsoft/go-mssqldb"
	"go.uber.org/zap"

	"github.com/dataloom-ai/dataloom-engine/pkg/adapters/catalog"
)

// Catalog reads destination schema metadata from SQL Server.
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

	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlserver connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlserver: %w", err)
	}

	return &Catalog{db: db, logger: logger.Named("catalog-mssql")}, nil
}

// ListSchemas returns all non-system schema names.
func (c *Catalog) ListSchemas(ctx context.Context) ([]string, error) {
	query := `
	SET NOCOUNT ON;
	SELECT name
	FROM sys.schemas
	WHERE name NOT IN ('sys', 'guest', 'INFORMATION_SCHEMA')
	  AND name NOT LIKE 'db[_]%'
	ORDER BY name
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
	SET NOCOUNT ON;
	SELECT t.name
	FROM sys.tables t
	WHERE SCHEMA_NAME(t.schema_id) = @schema
	  AND t.is_ms_shipped = 0
	ORDER BY t.name
	`

	rows, err := c.db.QueryContext(ctx, query, sql.Named("schema", schema))
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
// Precision and scale travel inside the type string for decimal types
// so the canonical mapping can preserve them.
func (c *Catalog) DescribeTable(ctx context.Context, schema, table string) (map[string]catalog.ColumnDescription, error) {
	query := `
	SET NOCOUNT ON;
	SELECT
	    c.name AS column_name,
	    CASE
	        WHEN tp.name IN ('decimal', 'numeric')
	            THEN tp.name + '(' + CAST(c.precision AS NVARCHAR(8)) + ',' + CAST(c.scale AS NVARCHAR(8)) + ')'
	        WHEN tp.name IN ('nvarchar', 'varchar') AND c.max_length = -1
	            THEN tp.name + '(MAX)'
	        ELSE tp.name
	    END AS data_type,
	    c.is_nullable
	FROM sys.columns c
	INNER JOIN sys.types tp ON c.user_type_id = tp.user_type_id
	WHERE c.object_id = OBJECT_ID(QUOTENAME(@schema) + N'.' + QUOTENAME(@table))
	ORDER BY c.column_id
	`

	rows, err := c.db.QueryContext(ctx, query,
		sql.Named("schema", schema),
		sql.Named("table", table),
	)
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
