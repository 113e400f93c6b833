package tiling

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned by Store.Get for an unknown image index
var ErrNotFound = errors.New("prediction not found")

// Store persists denoised label grids in sqlite, one row per image index.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenStore opens (creating if needed) the database at path and applies
// pending migrations
func OpenStore(path string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", path, err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: orNop(logger)}
	if err := s.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate runs all pending migrations up to the latest version
func (s *Store) Migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating sqlite migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}
	m.Log = &migrateLogger{log: s.logger.Sugar()}

	// m is not closed: closing it would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("reading migration version: %w", err)
	}
	s.logger.Debug("store schema ready", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

// Close releases the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Save implements Sink. A later result for the same index replaces the earlier one.
func (s *Store) Save(ctx context.Context, r *Result) error {
	if r.Grid == nil {
		return fmt.Errorf("saving image %d: result has no grid", r.Index)
	}
	blob, err := EncodeLabels(r.Grid.Labels)
	if err != nil {
		return fmt.Errorf("saving image %d: %w", r.Index, err)
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO predictions (
			image_index, run_id, source, width, height, padded_width, padded_height,
			factor, tile_height, tile_width, rows, cols, labels, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Index, r.RunID, r.Source, r.Width, r.Height, r.PaddedWidth, r.PaddedHeight,
		r.Factor, r.Tile.Height, r.Tile.Width, r.Grid.Rows, r.Grid.Cols, blob,
		r.Duration.Milliseconds(), created.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("saving image %d: %w", r.Index, err)
	}
	s.logger.Debug("prediction stored", zap.Int("index", r.Index), zap.Int("bytes", len(blob)))
	return nil
}

const selectColumns = `image_index, run_id, source, width, height, padded_width, padded_height,
	factor, tile_height, tile_width, rows, cols, duration_ms, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResult(row rowScanner, extra ...any) (*Result, int, int, error) {
	var (
		r            Result
		rows, cols   int
		durMs, creMs int64
	)
	dest := []any{
		&r.Index, &r.RunID, &r.Source, &r.Width, &r.Height, &r.PaddedWidth, &r.PaddedHeight,
		&r.Factor, &r.Tile.Height, &r.Tile.Width, &rows, &cols, &durMs, &creMs,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, 0, 0, err
	}
	r.Duration = time.Duration(durMs) * time.Millisecond
	r.CreatedAt = time.UnixMilli(creMs).UTC()
	return &r, rows, cols, nil
}

// Get loads the stored result for one image, labels included
func (s *Store) Get(ctx context.Context, index int) (*Result, error) {
	var blob []byte
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+`, labels FROM predictions WHERE image_index = ?`, index)
	r, rows, cols, err := scanResult(row, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("image %d: %w", index, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading image %d: %w", index, err)
	}

	labels, err := DecodeLabels(blob, rows*cols)
	if err != nil {
		return nil, fmt.Errorf("loading image %d: %w", index, err)
	}
	r.Grid = &LabelGrid{Rows: rows, Cols: cols, Labels: labels}
	return r, nil
}

// List returns every stored result ordered by index. Grids are left nil.
func (s *Store) List(ctx context.Context) ([]*Result, error) {
	rs, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM predictions ORDER BY image_index`)
	if err != nil {
		return nil, fmt.Errorf("listing predictions: %w", err)
	}
	defer func() { _ = rs.Close() }()

	var out []*Result
	for rs.Next() {
		r, _, _, err := scanResult(rs)
		if err != nil {
			return nil, fmt.Errorf("listing predictions: %w", err)
		}
		out = append(out, r)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("listing predictions: %w", err)
	}
	return out, nil
}

// migrateLogger adapts zap to migrate.Logger
type migrateLogger struct {
	log *zap.SugaredLogger
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.log.Debugf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}
