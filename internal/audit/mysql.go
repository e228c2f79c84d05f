package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rzpsarthak13/opqueue/internal/config"
	"github.com/rzpsarthak13/opqueue/internal/core"
	"github.com/rzpsarthak13/opqueue/internal/logging"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

const archiveColumns = "id, operation_type, op_key, op_value, status, queue_position, queued_at, " +
	"processing_started_at, completed_at, result_type, result, error_message, retry_count, archived_at"

// MySQLArchive stores purged terminal operations in a MySQL table.
type MySQLArchive struct {
	db    *sql.DB
	table string
	now   func() time.Time
	log   *slog.Logger
}

// DSN builds the driver connection string for cfg.
func DSN(cfg config.MySQLConfig) string {
	mc := mysql.NewConfig()
	mc.User = cfg.Username
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	mc.DBName = cfg.Database
	mc.ParseTime = true
	mc.Loc = time.UTC
	mc.Timeout = cfg.ConnectionTimeout
	return mc.FormatDSN()
}

// NewMySQLArchive opens the pool, pings the server and creates the table if
// it does not exist.
func NewMySQLArchive(ctx context.Context, cfg config.MySQLConfig, logger *slog.Logger) (*MySQLArchive, error) {
	if !tableNamePattern.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid archive table name %q", cfg.Table)
	}

	db, err := sql.Open("mysql", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectionTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	a, err := NewMySQLArchiveFromDB(db, cfg.Table, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := a.EnsureTable(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	a.log.Info("mysql archive ready", "host", cfg.Host, "database", cfg.Database, "table", cfg.Table)
	return a, nil
}

// NewMySQLArchiveFromDB wraps an open pool.
func NewMySQLArchiveFromDB(db *sql.DB, table string, logger *slog.Logger) (*MySQLArchive, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid archive table name %q", table)
	}
	return &MySQLArchive{
		db:    db,
		table: table,
		now:   time.Now,
		log:   logging.WithComponent(logger, "audit.mysql"),
	}, nil
}

// EnsureTable creates the archive table if needed.
func (a *MySQLArchive) EnsureTable(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, createTableSQL(a.table)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", a.table, err)
	}
	return nil
}

func createTableSQL(table string) string {
	return "CREATE TABLE IF NOT EXISTS `" + table + "` (" +
		"id VARCHAR(64) NOT NULL PRIMARY KEY, " +
		"operation_type VARCHAR(16) NOT NULL, " +
		"op_key VARCHAR(256) NOT NULL, " +
		"op_value VARCHAR(1024) NULL, " +
		"status VARCHAR(16) NOT NULL, " +
		"queue_position BIGINT UNSIGNED NOT NULL, " +
		"queued_at DATETIME(6) NOT NULL, " +
		"processing_started_at DATETIME(6) NULL, " +
		"completed_at DATETIME(6) NULL, " +
		"result_type VARCHAR(16) NULL, " +
		"result JSON NULL, " +
		"error_message TEXT NULL, " +
		"retry_count INT NOT NULL, " +
		"archived_at DATETIME(6) NOT NULL, " +
		"INDEX idx_status (status), " +
		"INDEX idx_completed_at (completed_at)" +
		") ENGINE=InnoDB"
}

// insertSQL is a multi-row upsert for n operations.
func insertSQL(table string, n int) string {
	row := "(" + strings.TrimSuffix(strings.Repeat("?, ", 14), ", ") + ")"
	rows := make([]string, n)
	for i := range rows {
		rows[i] = row
	}
	return "INSERT INTO `" + table + "` (" + archiveColumns + ") VALUES " +
		strings.Join(rows, ", ") +
		" ON DUPLICATE KEY UPDATE status = VALUES(status), completed_at = VALUES(completed_at), " +
		"result_type = VALUES(result_type), result = VALUES(result), " +
		"error_message = VALUES(error_message), retry_count = VALUES(retry_count), archived_at = VALUES(archived_at)"
}

// archiveArgs flattens op into the column order of archiveColumns.
func archiveArgs(op core.Operation, archivedAt time.Time) ([]any, error) {
	kind := core.RecordOf(op.Kind)

	var value, resultType, result, errMsg any
	if kind.Type == core.OperationSet {
		value = kind.Value
	}
	if op.Result != nil {
		data, err := json.Marshal(op.Result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result of %s: %w", op.ID, err)
		}
		resultType = string(op.Result.ResultType())
		result = string(data)
	}
	if op.ErrorMessage != "" {
		errMsg = op.ErrorMessage
	}

	return []any{
		op.ID,
		string(kind.Type),
		kind.Key,
		value,
		string(op.Status),
		op.Position,
		op.QueuedAt.UTC(),
		nullTime(op.ProcessingStartedAt),
		nullTime(op.CompletedAt),
		resultType,
		result,
		errMsg,
		op.RetryCount,
		archivedAt.UTC(),
	}, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// archiveChunk bounds the rows of one INSERT statement.
const archiveChunk = 100

// Archive upserts ops in one transaction.
func (a *MySQLArchive) Archive(ctx context.Context, ops []core.Operation) error {
	if len(ops) == 0 {
		return nil
	}
	archivedAt := a.now()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for start := 0; start < len(ops); start += archiveChunk {
		end := min(start+archiveChunk, len(ops))
		chunk := ops[start:end]

		args := make([]any, 0, len(chunk)*14)
		for _, op := range chunk {
			row, err := archiveArgs(op, archivedAt)
			if err != nil {
				return err
			}
			args = append(args, row...)
		}
		if _, err := tx.ExecContext(ctx, insertSQL(a.table, len(chunk)), args...); err != nil {
			return fmt.Errorf("failed to archive operations: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit archive: %w", err)
	}
	a.log.Debug("archived operations", "table", a.table, "count", len(ops))
	return nil
}

// Count returns the number of archived rows with status, or all rows when
// status is empty.
func (a *MySQLArchive) Count(ctx context.Context, status core.Status) (int, error) {
	q := "SELECT COUNT(*) FROM `" + a.table + "`"
	var args []any
	if status != "" {
		q += " WHERE status = ?"
		args = append(args, string(status))
	}
	var n int
	if err := a.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count archived operations: %w", err)
	}
	return n, nil
}

// Close closes the connection pool.
func (a *MySQLArchive) Close() error {
	return a.db.Close()
}
