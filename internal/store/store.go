// Package store persists scan reports. It supports an embedded SQLite file
// for single host use and PostgreSQL for shared deployments; both are
// accessed through sqlx with the same schema.
package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/anstrom/portscan/internal/errors"
	"github.com/anstrom/portscan/internal/logging"
	"github.com/anstrom/portscan/internal/scanning"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 5 * time.Minute
	defaultListLimit       = 50
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Config holds report store configuration.
type Config struct {
	Driver          string        `yaml:"driver" json:"driver" validate:"oneof=sqlite postgres"`
	DSN             string        `yaml:"dsn" json:"-" validate:"required"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" validate:"min=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" validate:"min=0"`
}

// DefaultConfig returns a SQLite store in the working directory.
func DefaultConfig() Config {
	return Config{
		Driver:          DriverSQLite,
		DSN:             "portscan.db",
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLifetime,
	}
}

// ReportSummary is one row of a report listing.
type ReportSummary struct {
	ID         string    `db:"id" json:"id"`
	Target     string    `db:"target" json:"target"`
	Ports      string    `db:"ports" json:"ports"`
	StartedAt  time.Time `db:"started_at" json:"started_at"`
	FinishedAt time.Time `db:"finished_at" json:"finished_at"`
	Services   int       `db:"services" json:"services"`
}

type reportRow struct {
	ID         string    `db:"id"`
	Target     string    `db:"target"`
	Ports      string    `db:"ports"`
	StartedAt  time.Time `db:"started_at"`
	FinishedAt time.Time `db:"finished_at"`
}

type serviceRow struct {
	ReportID string `db:"report_id"`
	Seq      int    `db:"seq"`
	scanning.ServiceRecord
}

// Store reads and writes scan reports.
type Store struct {
	db     *sqlx.DB
	logger *logging.Logger
}

// Open connects to the configured database and verifies the connection.
// Errors never carry the DSN.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	switch cfg.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, errors.NewConfigFieldError(errors.CodeConfiguration,
			fmt.Sprintf("unsupported store driver %q", cfg.Driver), "store.driver", cfg.Driver)
	}

	db, err := sqlx.ConnectContext(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, errors.WrapStoreError(errors.CodeStorage, "connect", err)
	}

	if cfg.Driver == DriverSQLite {
		// A single writer avoids SQLITE_BUSY and keeps :memory: databases on one connection.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return New(db), nil
}

// New wraps an existing connection.
func New(db *sqlx.DB) *Store {
	return &Store{
		db:     db,
		logger: logging.Default(),
	}
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return sanitizeStoreError("ping", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveReport stores a report and its services in one transaction.
func (s *Store) SaveReport(ctx context.Context, report *scanning.ScanReport) error {
	if report == nil || report.ID == "" {
		return errors.NewConfigError(errors.CodeValidation, "report id is required")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return sanitizeStoreError("save_report", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !stderrors.Is(err, sql.ErrTxDone) {
			s.logger.ErrorStore("rollback failed", err, "report_id", report.ID)
		}
	}()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO reports (id, target, ports, started_at, finished_at)
		VALUES (:id, :target, :ports, :started_at, :finished_at)`,
		reportRow{
			ID:         report.ID,
			Target:     report.Target,
			Ports:      report.Ports,
			StartedAt:  report.StartedAt.UTC(),
			FinishedAt: report.FinishedAt.UTC(),
		})
	if err != nil {
		return sanitizeStoreError("save_report", err)
	}

	for i, svc := range report.Services {
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO services (report_id, seq, address, hostname, port, protocol,
				service_name, product, version, banner, application_root)
			VALUES (:report_id, :seq, :address, :hostname, :port, :protocol,
				:service_name, :product, :version, :banner, :application_root)`,
			serviceRow{ReportID: report.ID, Seq: i, ServiceRecord: svc})
		if err != nil {
			return sanitizeStoreError("save_service", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return sanitizeStoreError("save_report", err)
	}

	s.logger.InfoStore("report saved", "report_id", report.ID, "services", len(report.Services))
	return nil
}

// GetReport loads a report with its services in discovery order.
func (s *Store) GetReport(ctx context.Context, id string) (*scanning.ScanReport, error) {
	var row reportRow
	query := s.db.Rebind(`SELECT id, target, ports, started_at, finished_at FROM reports WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.ErrReportNotFound(id)
		}
		return nil, sanitizeStoreError("get_report", err)
	}

	var services []serviceRow
	query = s.db.Rebind(`
		SELECT report_id, seq, address, hostname, port, protocol,
			service_name, product, version, banner, application_root
		FROM services WHERE report_id = ? ORDER BY seq`)
	if err := s.db.SelectContext(ctx, &services, query, id); err != nil {
		return nil, sanitizeStoreError("get_services", err)
	}

	report := &scanning.ScanReport{
		ID:         row.ID,
		Target:     row.Target,
		Ports:      row.Ports,
		StartedAt:  row.StartedAt,
		FinishedAt: row.FinishedAt,
		Services:   make([]scanning.ServiceRecord, 0, len(services)),
	}
	for _, svc := range services {
		report.Services = append(report.Services, svc.ServiceRecord)
	}
	return report, nil
}

// ListReports returns the most recent reports first. A non-positive limit
// selects the default page size.
func (s *Store) ListReports(ctx context.Context, limit int) ([]ReportSummary, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	var reports []ReportSummary
	query := s.db.Rebind(`
		SELECT r.id, r.target, r.ports, r.started_at, r.finished_at, COUNT(s.seq) AS services
		FROM reports r
		LEFT JOIN services s ON s.report_id = r.id
		GROUP BY r.id, r.target, r.ports, r.started_at, r.finished_at
		ORDER BY r.started_at DESC, r.id
		LIMIT ?`)
	if err := s.db.SelectContext(ctx, &reports, query, limit); err != nil {
		return nil, sanitizeStoreError("list_reports", err)
	}
	return reports, nil
}

// sanitizeStoreError converts driver errors into StoreErrors that do not
// expose SQL or credentials. The driver error stays available as the cause.
func sanitizeStoreError(operation string, err error) error {
	if err == nil {
		return nil
	}

	storeErr := errors.WrapStoreError(errors.CodeStorage, operation, err)

	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			storeErr.Message = "report already exists"
		case "23503": // foreign_key_violation
			storeErr.Message = "referenced report does not exist"
		case "57014": // query_canceled
			storeErr.Code = errors.CodeCanceled
			storeErr.Message = "store operation was canceled"
		case "08000", "08003", "08006": // connection errors
			storeErr.Message = "store connection error"
		}
	}
	if stderrors.Is(err, context.Canceled) {
		storeErr.Code = errors.CodeCanceled
	}
	return storeErr
}
