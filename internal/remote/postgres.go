package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/loamdev/loam/internal/errors"
)

const (
	postgresTableName        = "loam_documents"
	postgresOperationTimeout = 5 * time.Second
)

// fieldNamePattern matches the snake_case field names our documents
// use. Anything else is rejected before it reaches SQL text.
var fieldNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresGateway stores documents in a single Postgres table keyed by
// (collection, id) with a JSONB body. The connection is opened lazily
// on first use.
type PostgresGateway struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

// NewPostgresGateway creates a gateway for the given DSN.
func NewPostgresGateway(dsn string) (*PostgresGateway, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.NewInvalidRequest("postgres dsn must not be empty")
	}
	return &PostgresGateway{
		dsn:       dsn,
		tableName: postgresTableName,
		openDB:    sql.Open,
	}, nil
}

// List implements Gateway.
func (g *PostgresGateway) List(ctx context.Context, collection string, q Query) ([]Document, error) {
	if err := g.ensureReady(); err != nil {
		return nil, errors.NewNetworkFailure(err)
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	var sb strings.Builder
	args := []any{collection}
	fmt.Fprintf(&sb, "SELECT doc FROM %s WHERE collection = $1", quoteIdentifier(g.tableName))

	for _, f := range q.Filters {
		if !fieldNamePattern.MatchString(f.Field) {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid filter field %q", f.Field))
		}
		switch f.Op {
		case OpEq:
			args = append(args, filterValue(f.Value))
			fmt.Fprintf(&sb, " AND doc ->> '%s' = $%d", f.Field, len(args))
		case OpNotNull:
			fmt.Fprintf(&sb, " AND doc -> '%s' IS NOT NULL AND doc -> '%s' != 'null'::jsonb", f.Field, f.Field)
		default:
			return nil, errors.NewInvalidRequest(fmt.Sprintf("unknown filter op %q", f.Op))
		}
	}

	if q.OrderBy != "" {
		if !fieldNamePattern.MatchString(q.OrderBy) {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid order field %q", q.OrderBy))
		}
		dir := "ASC"
		if q.Desc {
			dir = "DESC"
		}
		// jsonb ordering compares numbers numerically
		fmt.Fprintf(&sb, " ORDER BY doc -> '%s' %s, id %s", q.OrderBy, dir, dir)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.Limit)
	}
	if q.Offset > 0 {
		fmt.Fprintf(&sb, " OFFSET %d", q.Offset)
	}

	rows, err := g.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, errors.NewNetworkFailure(err)
	}
	defer rows.Close()

	out := make([]Document, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.NewNetworkFailure(err)
		}
		var doc Document
		if err := json.Unmarshal(payload, &doc); err != nil {
			return nil, errors.NewNetworkFailure(err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewNetworkFailure(err)
	}
	return out, nil
}

// Get implements Gateway.
func (g *PostgresGateway) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := g.ensureReady(); err != nil {
		return nil, errors.NewNetworkFailure(err)
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT doc FROM %s WHERE collection = $1 AND id = $2", quoteIdentifier(g.tableName))
	var payload []byte
	err := g.db.QueryRowContext(ctx, query, collection, id).Scan(&payload)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFound(collection, id)
	}
	if err != nil {
		return nil, errors.NewNetworkFailure(err)
	}

	var doc Document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, errors.NewNetworkFailure(err)
	}
	return doc, nil
}

// Create implements Gateway.
func (g *PostgresGateway) Create(ctx context.Context, collection, id string, fields Document) (Document, error) {
	if err := g.ensureReady(); err != nil {
		return nil, errors.NewNetworkFailure(err)
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	doc := cloneDocument(fields)
	doc["id"] = id
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (collection, id, doc, updated_at)
		VALUES ($1, $2, $3::jsonb, NOW())
		ON CONFLICT (collection, id) DO NOTHING`, quoteIdentifier(g.tableName))
	result, err := g.db.ExecContext(ctx, query, collection, id, string(payload))
	if err != nil {
		return nil, errors.NewNetworkFailure(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, errors.NewNetworkFailure(err)
	}
	if affected == 0 {
		return nil, errors.NewConflict(fmt.Sprintf("%s %s already exists", collection, id))
	}
	return doc, nil
}

// Update implements Gateway. The JSONB merge touches only the given
// fields; a null field value clears that field.
func (g *PostgresGateway) Update(ctx context.Context, collection, id string, fields Document) (Document, error) {
	if err := g.ensureReady(); err != nil {
		return nil, errors.NewNetworkFailure(err)
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET doc = jsonb_strip_nulls(doc || $3::jsonb), updated_at = NOW()
		WHERE collection = $1 AND id = $2
		RETURNING doc`, quoteIdentifier(g.tableName))
	var updated []byte
	err = g.db.QueryRowContext(ctx, query, collection, id, string(payload)).Scan(&updated)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFound(collection, id)
	}
	if err != nil {
		return nil, errors.NewNetworkFailure(err)
	}

	var doc Document
	if err := json.Unmarshal(updated, &doc); err != nil {
		return nil, errors.NewNetworkFailure(err)
	}
	return doc, nil
}

// Delete implements Gateway.
func (g *PostgresGateway) Delete(ctx context.Context, collection, id string) error {
	if err := g.ensureReady(); err != nil {
		return errors.NewNetworkFailure(err)
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("DELETE FROM %s WHERE collection = $1 AND id = $2", quoteIdentifier(g.tableName))
	result, err := g.db.ExecContext(ctx, query, collection, id)
	if err != nil {
		return errors.NewNetworkFailure(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.NewNetworkFailure(err)
	}
	if affected == 0 {
		return errors.NewNotFound(collection, id)
	}
	return nil
}

// Close implements Gateway.
func (g *PostgresGateway) Close() error {
	if g.db == nil {
		return nil
	}
	return g.db.Close()
}

// ensureReady opens the connection and creates the table on first use.
func (g *PostgresGateway) ensureReady() error {
	g.initOnce.Do(func() {
		db, err := g.openDB("postgres", g.dsn)
		if err != nil {
			g.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				collection TEXT NOT NULL,
				id TEXT NOT NULL,
				doc JSONB NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (collection, id)
			)`, quoteIdentifier(g.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			g.initErr = err
			return
		}
		g.db = db
	})
	return g.initErr
}

// quoteIdentifier quotes a SQL identifier, doubling embedded quotes.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
