// Package sqlds adapts a Postgres-backed datasource to the Tool Registry's
// datasource contract (spec §6 "Datasource adapter contract"): one stable
// name whose methods (query, exec) are registered explicitly as actions of
// one unified registry entry.
package sqlds

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentcore/runtime/internal/tools"
)

// querier narrows *pgxpool.Pool to the two operations this adapter needs,
// so tests can substitute a fake without a live Postgres server.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Datasource adapts a pgx connection pool into tool-callable actions.
type Datasource struct {
	pool querier
	name string
}

// New builds a Datasource named name over pool. name becomes the unified
// tool name advertised to the model.
func New(pool querier, name string) *Datasource {
	return &Datasource{pool: pool, name: name}
}

// Connect opens a pool against dsn, grounded on the standard
// pgxpool.New(ctx, connString) constructor.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlds: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("sqlds: ping: %w", err)
	}
	return pool, nil
}

// Register adds this datasource's methods to registry (spec §4.1 /
// §6 "tool-generation step").
func (d *Datasource) Register(registry *tools.Registry) error {
	if err := registry.RegisterAction(d.name, "query",
		fmt.Sprintf("Run a read-only parameterized SQL query against the %s database", d.name),
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"sql":  map[string]any{"type": "string", "description": "SQL query with $1, $2, ... placeholders"},
				"args": map[string]any{"type": "array", "description": "positional query arguments"},
			},
			"required": []string{"sql"},
		},
		false,
		d.query,
	); err != nil {
		return err
	}
	return registry.RegisterAction(d.name, "exec",
		fmt.Sprintf("Run a parameterized write statement against the %s database", d.name),
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"sql":  map[string]any{"type": "string"},
				"args": map[string]any{"type": "array"},
			},
			"required": []string{"sql"},
		},
		true,
		d.exec,
	)
}

func (d *Datasource) query(ctx context.Context, args map[string]any) (any, error) {
	sqlText, _ := args["sql"].(string)
	if sqlText == "" {
		return nil, fmt.Errorf("sqlds: sql is required")
	}
	params := toArgs(args["args"])

	rows, err := d.pool.Query(ctx, sqlText, params...)
	if err != nil {
		return nil, fmt.Errorf("sqlds: query: %w", err)
	}
	defer rows.Close()

	results, err := collectRows(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlds: scan rows: %w", err)
	}
	return map[string]any{"rows": results}, nil
}

func (d *Datasource) exec(ctx context.Context, args map[string]any) (any, error) {
	sqlText, _ := args["sql"].(string)
	if sqlText == "" {
		return nil, fmt.Errorf("sqlds: sql is required")
	}
	params := toArgs(args["args"])

	tag, err := d.pool.Exec(ctx, sqlText, params...)
	if err != nil {
		return nil, fmt.Errorf("sqlds: exec: %w", err)
	}
	return map[string]any{"rows_affected": tag.RowsAffected()}, nil
}

func collectRows(rows pgx.Rows) ([]map[string]any, error) {
	fields := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(fields))
		for i, f := range fields {
			row[string(f.Name)] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func toArgs(raw any) []any {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	return list
}
