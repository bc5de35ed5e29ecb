// Package catalog defines the read-only destination-schema collaborator.
// The engine consults it to mirror existing warehouse tables when
// splitting schemas and inferring types; it never writes through it.
package catalog

import "context"

// ColumnDescription describes one column of a destination table.
type ColumnDescription struct {
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// Catalog reads destination schema metadata. Each implementation owns
// its connection and must be closed when done.
type Catalog interface {
	// ListSchemas returns all non-system schema names.
	ListSchemas(ctx context.Context) ([]string, error)

	// ListTables returns all table names in a schema.
	ListTables(ctx context.Context, schema string) ([]string, error)

	// DescribeTable returns the column set of a table with declared
	// types, in ordinal order of the map's insertion (callers sort).
	DescribeTable(ctx context.Context, schema, table string) (map[string]ColumnDescription, error)

	// Close releases the database connection.
	Close() error
}
