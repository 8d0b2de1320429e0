package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fjod/go_cart/inventory-service/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// SQLLog stores audit entries in Postgres or SQLite
type SQLLog struct {
	db     *sql.DB
	driver string
}

// Open connects to the ledger database. For sqlite the DSN is a file path or ":memory:".
func Open(driver, dsn string) (*SQLLog, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported audit driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if driver == DriverSQLite {
		// a single connection keeps ":memory:" databases shared and serializes writers
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
	}

	return &SQLLog{db: db, driver: driver}, nil
}

// RunMigrations applies migrations from <migrationsPath>/<driver>
func (l *SQLLog) RunMigrations(migrationsPath string) error {
	var (
		driver database.Driver
		err    error
	)
	switch l.driver {
	case DriverPostgres:
		driver, err = postgres.WithInstance(l.db, &postgres.Config{
			MigrationsTable: "inventory_audit_schema_migrations",
		})
	default:
		driver, err = sqlite.WithInstance(l.db, &sqlite.Config{
			MigrationsTable: "inventory_audit_schema_migrations",
		})
	}
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", filepath.Join(migrationsPath, l.driver)),
		l.driver,
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}

	return nil
}

func (l *SQLLog) Append(ctx context.Context, entry domain.AuditEntry) error {
	if err := prepare(&entry); err != nil {
		return err
	}

	query := `INSERT INTO inventory_audit (id, product_id, variant_id, action, quantity,
	              stock_before, reserved_before, stock_after, reserved_after, source, reference_id, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := l.db.ExecContext(ctx, query,
		entry.ID,
		entry.ProductID,
		entry.VariantID,
		string(entry.Action),
		entry.Quantity,
		entry.Before.StockQuantity,
		entry.Before.ReservedQuantity,
		entry.After.StockQuantity,
		entry.After.ReservedQuantity,
		entry.Source,
		entry.ReferenceID,
		entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, product_id, variant_id, action, quantity,
	          stock_before, reserved_before, stock_after, reserved_after, source, reference_id, created_at
	          FROM inventory_audit`

func (l *SQLLog) ListByReference(ctx context.Context, referenceID string) ([]domain.AuditEntry, error) {
	rows, err := l.db.QueryContext(ctx, selectColumns+` WHERE reference_id = $1 ORDER BY seq ASC`, referenceID)
	if err != nil {
		return nil, fmt.Errorf("query audit by reference: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func (l *SQLLog) ListByProduct(ctx context.Context, productID string, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx, selectColumns+` WHERE product_id = $1 ORDER BY seq DESC LIMIT $2`, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit by product: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]domain.AuditEntry, error) {
	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var action string
		if err := rows.Scan(
			&e.ID,
			&e.ProductID,
			&e.VariantID,
			&action,
			&e.Quantity,
			&e.Before.StockQuantity,
			&e.Before.ReservedQuantity,
			&e.After.StockQuantity,
			&e.After.ReservedQuantity,
			&e.Source,
			&e.ReferenceID,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Action = domain.AuditAction(action)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

func (l *SQLLog) Close() error {
	return l.db.Close()
}
