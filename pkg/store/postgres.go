package store

import (
	"context"
	"embed"
	stdsql "database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/openprx/prx-memory/pkg/memtypes"
)

//go:embed migrations
var migrationsFS embed.FS

// PostgresConfig configures the Postgres-backed Backend.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// PostgresStore is a durable Backend over a Postgres table, used when
// PRX_MEMORY_BACKEND=postgres. Migrations are embedded into the binary and
// applied automatically on open, matching pkg/database/client.go's
// auto-apply-on-startup discipline (minus ent, see DESIGN.md).
type PostgresStore struct {
	db *stdsql.DB
}

// OpenPostgresStore opens a connection pool, applies pending migrations,
// and returns a ready Backend.
func OpenPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	db, err := stdsql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, IOErr(fmt.Errorf("open: %w", err))
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, IOErr(fmt.Errorf("ping: %w", err))
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, IOErr(fmt.Errorf("migrate: %w", err))
	}
	return &PostgresStore{db: db}, nil
}

func runMigrations(db *stdsql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("postgres driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return src.Close()
}

func (p *PostgresStore) Store(ctx context.Context, entry memtypes.MemoryEntry) (memtypes.MemoryEntry, error) {
	if strings.TrimSpace(entry.Text) == "" {
		return memtypes.MemoryEntry{}, InvalidInputErr(fmt.Errorf("text must not be empty"))
	}
	entry.Text = strings.ToLower(strings.TrimSpace(entry.Text))
	entry.Tags = lowerAll(entry.Tags)
	entry.Importance = memtypes.Clamp01(entry.Importance)
	if entry.TimestampMs == 0 {
		entry.TimestampMs = time.Now().UnixMilli()
	}
	var seq int64
	row := p.db.QueryRowContext(ctx, `SELECT nextval(pg_get_serial_sequence('memory_entries','seq'))`)
	if err := row.Scan(&seq); err != nil {
		return memtypes.MemoryEntry{}, IOErr(err)
	}
	entry.ID = fmt.Sprintf("mem-%d", seq)
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO memory_entries (id, seq, text, category, scope, importance, tags, timestamp_ms, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, seq, entry.Text, string(entry.Category), entry.Scope, entry.Importance,
		toTextArray(entry.Tags), entry.TimestampMs, toFloatArray(entry.Embedding))
	if err != nil {
		return memtypes.MemoryEntry{}, IOErr(err)
	}
	return entry, nil
}

func (p *PostgresStore) Replace(ctx context.Context, entry memtypes.MemoryEntry) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE memory_entries SET text=$2, category=$3, scope=$4, importance=$5, tags=$6, embedding=$7
		WHERE id=$1`,
		entry.ID, entry.Text, string(entry.Category), entry.Scope, entry.Importance,
		toTextArray(entry.Tags), toFloatArray(entry.Embedding))
	if err != nil {
		return IOErr(err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ForgetByID(ctx context.Context, id string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM memory_entries WHERE id=$1`, id)
	if err != nil {
		return false, IOErr(err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (p *PostgresStore) List(ctx context.Context, filter Filter, limit int) ([]memtypes.MemoryEntry, error) {
	query := `SELECT id, text, category, scope, importance, tags, timestamp_ms, embedding FROM memory_entries WHERE 1=1`
	var args []any
	if filter.Scope != "" {
		args = append(args, filter.Scope)
		query += fmt.Sprintf(" AND scope = $%d", len(args))
	}
	if filter.Category != "" {
		args = append(args, string(filter.Category))
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	query += " ORDER BY seq ASC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, IOErr(err)
	}
	defer rows.Close()
	var out []memtypes.MemoryEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, SerializationErr(err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Get(ctx context.Context, id string) (memtypes.MemoryEntry, error) {
	row := p.db.QueryRowContext(ctx, `SELECT id, text, category, scope, importance, tags, timestamp_ms, embedding FROM memory_entries WHERE id=$1`, id)
	e, err := scanEntry(row)
	if err == stdsql.ErrNoRows {
		return memtypes.MemoryEntry{}, ErrNotFound
	}
	if err != nil {
		return memtypes.MemoryEntry{}, SerializationErr(err)
	}
	return e, nil
}

func (p *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	entries, err := p.List(ctx, Filter{}, 0)
	if err != nil {
		return Stats{}, err
	}
	return computeStats(entries), nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (memtypes.MemoryEntry, error) {
	var e memtypes.MemoryEntry
	var category, tags string
	var embedding stdsql.NullString
	if err := r.Scan(&e.ID, &e.Text, &category, &e.Scope, &e.Importance, &tags, &e.TimestampMs, &embedding); err != nil {
		return e, err
	}
	e.Category = memtypes.Category(category)
	e.Tags = fromTextArray(tags)
	if embedding.Valid {
		e.Embedding = fromFloatArray(embedding.String)
	}
	return e, nil
}

// toTextArray/fromTextArray and toFloatArray/fromFloatArray render Postgres
// array literals by hand rather than depending on pgtype, keeping the
// driver surface to database/sql + the pgx stdlib registration.
func toTextArray(ss []string) string {
	quoted := make([]string, len(ss))
	for i, s := range ss {
		quoted[i] = `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}"
}

func fromTextArray(s string) []string {
	s = strings.Trim(s, "{}")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.Trim(p, `"`)
	}
	return out
}

func toFloatArray(fs []float32) any {
	if len(fs) == 0 {
		return nil
	}
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = fmt.Sprintf("%g", f)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func fromFloatArray(s string) []float32 {
	s = strings.Trim(s, "{}")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, 0, len(parts))
	for _, p := range parts {
		var f float64
		_, _ = fmt.Sscanf(p, "%g", &f)
		out = append(out, float32(f))
	}
	return out
}
