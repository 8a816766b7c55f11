package stock

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/novaxell/dispenser/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLitePool stores stock lines in a SQLite table. Lines are handed out in
// insertion order; a reserved row keeps its id, so releasing it puts it
// back at the head of the pool.
type SQLitePool struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLitePool opens the database file at path, applies migrations and
// returns a pool over it. The connection pool is limited to one connection
// so every statement is serialized.
func OpenSQLitePool(path string) (*SQLitePool, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)",
		path,
	)
	return openSQLite(dsn)
}

func openSQLite(dsn string) (*SQLitePool, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open stock db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping stock db: %w", err)
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return NewSQLitePool(db), nil
}

// NewSQLitePool wraps an already migrated database.
func NewSQLitePool(db *sql.DB) *SQLitePool {
	return &SQLitePool{db: db, now: time.Now}
}

// RunMigrations applies the embedded stock schema migrations.
func RunMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run stock migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (p *SQLitePool) Close() error {
	return p.db.Close()
}

// Reserve marks the oldest available line of service as reserved in a
// single statement.
func (p *SQLitePool) Reserve(ctx context.Context, service string) (models.Reservation, error) {
	if err := ValidateService(service); err != nil {
		return models.Reservation{}, err
	}

	r := models.Reservation{ID: uuid.NewString(), Service: service, ReservedAt: p.now()}
	err := p.db.QueryRowContext(ctx, `
		UPDATE stock_lines SET reservation_id = ?, reserved_at = ?
		WHERE id = (
			SELECT id FROM stock_lines
			WHERE service = ? AND reservation_id IS NULL
			ORDER BY id LIMIT 1
		)
		RETURNING line
	`, r.ID, r.ReservedAt.UnixNano(), service).Scan(&r.Line)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Reservation{}, models.ErrOutOfStock
	}
	if err != nil {
		return models.Reservation{}, fmt.Errorf("reserve %s: %w", service, err)
	}
	return r, nil
}

// Confirm deletes the reserved row.
func (p *SQLitePool) Confirm(ctx context.Context, r models.Reservation) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM stock_lines WHERE reservation_id = ?`, r.ID)
	if err != nil {
		return fmt.Errorf("confirm %s: %w", r.ID, err)
	}
	return requireRow(res)
}

// MarkDelivered flags the reserved row so it can only be confirmed.
func (p *SQLitePool) MarkDelivered(ctx context.Context, r models.Reservation) error {
	res, err := p.db.ExecContext(ctx, `UPDATE stock_lines SET delivered = 1 WHERE reservation_id = ?`, r.ID)
	if err != nil {
		return fmt.Errorf("mark delivered %s: %w", r.ID, err)
	}
	return requireRow(res)
}

// Release makes the reserved row available again unless it was delivered.
func (p *SQLitePool) Release(ctx context.Context, r models.Reservation) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE stock_lines SET reservation_id = NULL, reserved_at = NULL
		WHERE reservation_id = ? AND delivered = 0
	`, r.ID)
	if err != nil {
		return fmt.Errorf("release %s: %w", r.ID, err)
	}
	err = requireRow(res)
	if !errors.Is(err, ErrReservationNotFound) {
		return err
	}

	var delivered bool
	err = p.db.QueryRowContext(ctx, `SELECT delivered FROM stock_lines WHERE reservation_id = ?`, r.ID).Scan(&delivered)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrReservationNotFound
	case err != nil:
		return fmt.Errorf("release %s: %w", r.ID, err)
	case delivered:
		return ErrReservationDelivered
	}
	return ErrReservationNotFound
}

// Stale lists reservations made before the given time.
func (p *SQLitePool) Stale(ctx context.Context, before time.Time) ([]models.Reservation, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT reservation_id, service, line, reserved_at, delivered FROM stock_lines
		WHERE reservation_id IS NOT NULL AND reserved_at < ?
		ORDER BY reserved_at
	`, before.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("list stale reservations: %w", err)
	}
	defer rows.Close()

	var stale []models.Reservation
	for rows.Next() {
		var (
			r     models.Reservation
			nanos int64
		)
		if err := rows.Scan(&r.ID, &r.Service, &r.Line, &nanos, &r.Delivered); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		r.ReservedAt = time.Unix(0, nanos)
		stale = append(stale, r)
	}
	return stale, rows.Err()
}

// Size counts available lines of service.
func (p *SQLitePool) Size(ctx context.Context, service string) (int, error) {
	if err := ValidateService(service); err != nil {
		return 0, err
	}
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM stock_lines WHERE service = ? AND reservation_id IS NULL
	`, service).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("size %s: %w", service, err)
	}
	return n, nil
}

// Services lists services that have at least one row.
func (p *SQLitePool) Services(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT DISTINCT service FROM stock_lines ORDER BY service`)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()

	services := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		services = append(services, s)
	}
	return services, rows.Err()
}

// Import appends non-blank lines to the pool in a single transaction.
func (p *SQLitePool) Import(ctx context.Context, service string, lines []string) (int, error) {
	if err := ValidateService(service); err != nil {
		return 0, err
	}
	added := SplitLines(strings.Join(lines, "\n"))

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, line := range added {
		if _, err := tx.ExecContext(ctx, `INSERT INTO stock_lines (service, line) VALUES (?, ?)`, service, line); err != nil {
			return 0, fmt.Errorf("insert line: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(added), nil
}

// Pop reserves and immediately confirms the head line.
func (p *SQLitePool) Pop(ctx context.Context, service string) (string, error) {
	r, err := p.Reserve(ctx, service)
	if err != nil {
		return "", err
	}
	if err := p.Confirm(ctx, r); err != nil {
		return "", err
	}
	return r.Line, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrReservationNotFound
	}
	return nil
}
