package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teemow/inboxevents/internal/event"
)

// BackendPostgres is the name of the PostgreSQL backend.
const BackendPostgres = "postgres"

// scanPageSize is the keyset page size of ScanByEmailID.
const scanPageSize = 500

// pgxConn is the part of *pgxpool.Pool the store needs.
type pgxConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// Postgres stores records in a PostgreSQL table with JSONB tags.
type Postgres struct {
	pool  pgxConn
	table string
}

// OpenPostgres connects to dsn and checks the connection.
func OpenPostgres(ctx context.Context, dsn, table string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, wrap(BackendPostgres, "connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, wrap(BackendPostgres, "connect", err)
	}
	return NewPostgres(pool, table), nil
}

// NewPostgres creates a store on an existing pool.
func NewPostgres(pool pgxConn, table string) *Postgres {
	return &Postgres{pool: pool, table: table}
}

// Backend implements Store.
func (p *Postgres) Backend() string { return BackendPostgres }

// Close implements Store.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) ident() string {
	return pgx.Identifier{p.table}.Sanitize()
}

func (p *Postgres) index(column string) string {
	return pgx.Identifier{p.table + "_" + column + "_idx"}.Sanitize()
}

const columns = `id, email_id, title, description, start_time, end_time, location,
	normalized_location, category, source_name, source_email, source_domain,
	organizer_name, organizer_url, source_url, tags, created_at, updated_at`

// EnsureSchema implements Store.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	t := p.ident()
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id                  TEXT PRIMARY KEY,
			email_id            TEXT NOT NULL,
			title               TEXT,
			description         TEXT,
			start_time          TEXT,
			end_time            TEXT,
			location            TEXT,
			normalized_location TEXT,
			category            TEXT,
			source_name         TEXT,
			source_email        TEXT,
			source_domain       TEXT,
			organizer_name      TEXT,
			organizer_url       TEXT,
			source_url          TEXT,
			tags                JSONB NOT NULL DEFAULT '[]'::jsonb,
			created_at          TEXT NOT NULL,
			updated_at          TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s(start_time);
		CREATE INDEX IF NOT EXISTS %[3]s ON %[1]s(category);
		CREATE INDEX IF NOT EXISTS %[4]s ON %[1]s(source_name);
		CREATE INDEX IF NOT EXISTS %[5]s ON %[1]s(email_id);
	`, t, p.index("start_time"), p.index("category"), p.index("source_name"), p.index("email_id")))
	return wrap(BackendPostgres, "create_table", err)
}

// Put implements Store. The row is replaced as a whole.
func (p *Postgres) Put(ctx context.Context, rec event.Record) error {
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return wrap(BackendPostgres, "put", err)
	}

	_, err = p.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE SET
			email_id            = EXCLUDED.email_id,
			title               = EXCLUDED.title,
			description         = EXCLUDED.description,
			start_time          = EXCLUDED.start_time,
			end_time            = EXCLUDED.end_time,
			location            = EXCLUDED.location,
			normalized_location = EXCLUDED.normalized_location,
			category            = EXCLUDED.category,
			source_name         = EXCLUDED.source_name,
			source_email        = EXCLUDED.source_email,
			source_domain       = EXCLUDED.source_domain,
			organizer_name      = EXCLUDED.organizer_name,
			organizer_url       = EXCLUDED.organizer_url,
			source_url          = EXCLUDED.source_url,
			tags                = EXCLUDED.tags,
			created_at          = EXCLUDED.created_at,
			updated_at          = EXCLUDED.updated_at
	`, p.ident(), columns),
		rec.ID, rec.EmailID, rec.Title, rec.Description, rec.StartTime, rec.EndTime, rec.Location,
		rec.NormalizedLocation, rec.Category, rec.SourceName, rec.SourceEmail, rec.SourceDomain,
		rec.OrganizerName, rec.OrganizerURL, rec.SourceURL, string(tagsJSON), rec.CreatedAt, rec.UpdatedAt)
	return wrap(BackendPostgres, "put", err)
}

// QueryByStartTime implements Store.
func (p *Postgres) QueryByStartTime(ctx context.Context, startTime string) ([]event.Record, error) {
	rows, err := p.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM %s WHERE start_time = $1
	`, columns, p.ident()), startTime)
	if err != nil {
		return nil, wrap(BackendPostgres, "query", err)
	}
	recs, err := collectRecords(rows)
	return recs, wrap(BackendPostgres, "query", err)
}

// ScanByEmailID implements Store. Rows are read in id order, one keyset page
// at a time.
func (p *Postgres) ScanByEmailID(ctx context.Context, emailID string) ([]event.Record, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE email_id = $1 AND id > $2
		ORDER BY id
		LIMIT %d
	`, columns, p.ident(), scanPageSize)

	var recs []event.Record
	after := ""
	for {
		rows, err := p.pool.Query(ctx, query, emailID, after)
		if err != nil {
			return nil, wrap(BackendPostgres, "scan", err)
		}
		page, err := collectRecords(rows)
		if err != nil {
			return nil, wrap(BackendPostgres, "scan", err)
		}
		recs = append(recs, page...)
		if len(page) < scanPageSize {
			return recs, nil
		}
		after = page[len(page)-1].ID
	}
}

func collectRecords(rows pgx.Rows) ([]event.Record, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (event.Record, error) {
		var (
			r    event.Record
			tags []byte
		)
		err := row.Scan(&r.ID, &r.EmailID, &r.Title, &r.Description, &r.StartTime, &r.EndTime,
			&r.Location, &r.NormalizedLocation, &r.Category, &r.SourceName, &r.SourceEmail,
			&r.SourceDomain, &r.OrganizerName, &r.OrganizerURL, &r.SourceURL, &tags,
			&r.CreatedAt, &r.UpdatedAt)
		if err != nil {
			return r, err
		}
		r.Tags, err = decodeTags(tags)
		return r, err
	})
}

func decodeTags(data []byte) ([]string, error) {
	tags := []string{}
	if len(data) == 0 {
		return tags, nil
	}
	if err := json.Unmarshal(data, &tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if tags == nil {
		tags = []string{}
	}
	return tags, nil
}
