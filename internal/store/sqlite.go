package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/durableflow/durableflow/internal/apperrors"
)

// checkpointRetries / checkpointRetryDelay implement spec.md §4.1's
// "tolerate a transient busy error with bounded retry (up to 3 retries with
// ~100ms sleeps) for the checkpoint insert path".
const (
	checkpointRetries    = 3
	checkpointRetryDelay = 100 * time.Millisecond
)

// SQLiteStore is the embedded relational store described in spec.md §4.1.
//
// Grounded on graph/store/sqlite.go: a single *sql.DB with exactly one
// writer connection, WAL mode, a busy_timeout pragma, and a closed-guard
// mutex checked at the top of every exported method.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens (creating if necessary) the database at path and
// runs migrations. Pass ":memory:" for an ephemeral store, used by tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS exchanges (
			exchange_id TEXT PRIMARY KEY,
			route_id TEXT NOT NULL,
			status TEXT NOT NULL,
			current_step INTEGER NOT NULL DEFAULT 0,
			current_step_name TEXT,
			payload TEXT NOT NULL,
			context TEXT,
			created_at TIMESTAMP NOT NULL,
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			last_checkpoint TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_exchanges_status ON exchanges(status)`,
		`CREATE INDEX IF NOT EXISTS idx_exchanges_route ON exchanges(route_id)`,
		`CREATE TABLE IF NOT EXISTS exchange_checkpoints (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			exchange_id TEXT NOT NULL,
			step_index INTEGER NOT NULL,
			step_name TEXT NOT NULL,
			step_data TEXT,
			timestamp TIMESTAMP NOT NULL,
			UNIQUE(exchange_id, step_name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_exchange ON exchange_checkpoints(exchange_id, step_index)`,
		`CREATE TABLE IF NOT EXISTS approval_requests (
			id TEXT PRIMARY KEY,
			exchange_id TEXT NOT NULL,
			route_id TEXT NOT NULL,
			payload TEXT,
			status TEXT NOT NULL,
			response TEXT,
			created_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_approvals_exchange ON approval_requests(exchange_id)`,
		`CREATE INDEX IF NOT EXISTS idx_approvals_status ON approval_requests(status, created_at)`,
		`CREATE TABLE IF NOT EXISTS route_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			route_id TEXT NOT NULL,
			exchange_id TEXT NOT NULL,
			step_name TEXT,
			message TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_route_logs_route ON route_logs(route_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_route_logs_exchange ON route_logs(exchange_id)`,
		`CREATE TABLE IF NOT EXISTS route_metrics (
			route_id TEXT PRIMARY KEY,
			total_count INTEGER NOT NULL DEFAULT 0,
			success_count INTEGER NOT NULL DEFAULT 0,
			failure_count INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) checkClosed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// Close closes the underlying database. Safe to call more than once.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "busy") || strings.Contains(msg, "locked")
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func scanTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateExchange implements Store.
func (s *SQLiteStore) CreateExchange(ctx context.Context, e ExchangeState) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exchanges (exchange_id, route_id, status, current_step, current_step_name, payload, context, created_at, started_at, completed_at, last_checkpoint)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ExchangeID, e.RouteID, e.Status, e.CurrentStep, e.CurrentStepName, e.Payload, e.Context,
		e.CreatedAt.Format(time.RFC3339Nano), nullTime(e.StartedAt), nullTime(e.CompletedAt), e.LastCheckpoint.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert exchange: %w", err)
	}
	return nil
}

func scanExchange(row interface {
	Scan(dest ...interface{}) error
}) (ExchangeState, error) {
	var (
		e                                     ExchangeState
		createdAt, lastCheckpoint             string
		startedAt, completedAt, currentStepNm sql.NullString
	)
	if err := row.Scan(&e.ExchangeID, &e.RouteID, &e.Status, &e.CurrentStep, &currentStepNm,
		&e.Payload, &e.Context, &createdAt, &startedAt, &completedAt, &lastCheckpoint); err != nil {
		return ExchangeState{}, err
	}
	e.CurrentStepName = currentStepNm.String
	var err error
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return ExchangeState{}, err
	}
	if e.LastCheckpoint, err = time.Parse(time.RFC3339Nano, lastCheckpoint); err != nil {
		return ExchangeState{}, err
	}
	if e.StartedAt, err = scanTime(startedAt); err != nil {
		return ExchangeState{}, err
	}
	if e.CompletedAt, err = scanTime(completedAt); err != nil {
		return ExchangeState{}, err
	}
	return e, nil
}

const exchangeColumns = `exchange_id, route_id, status, current_step, current_step_name, payload, context, created_at, started_at, completed_at, last_checkpoint`

// GetExchange implements Store.
func (s *SQLiteStore) GetExchange(ctx context.Context, exchangeID string) (ExchangeState, error) {
	if err := s.checkClosed(); err != nil {
		return ExchangeState{}, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+exchangeColumns+` FROM exchanges WHERE exchange_id = ?`, exchangeID)
	e, err := scanExchange(row)
	if err == sql.ErrNoRows {
		return ExchangeState{}, ErrNotFound
	}
	if err != nil {
		return ExchangeState{}, fmt.Errorf("get exchange: %w", err)
	}
	return e, nil
}

// ListExchanges implements Store.
func (s *SQLiteStore) ListExchanges(ctx context.Context, filter ExchangeFilter) ([]ExchangeState, int, error) {
	if err := s.checkClosed(); err != nil {
		return nil, 0, err
	}

	where := []string{}
	args := []interface{}{}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.RouteID != "" {
		where = append(where, "route_id = ?")
		args = append(args, filter.RouteID)
	}
	whereClause := ""
	if len(where) > 0 {
		whereClause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	countRow := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM exchanges`+whereClause, args...)
	if err := countRow.Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count exchanges: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	queryArgs := append(append([]interface{}{}, args...), limit, filter.Offset)
	rows, err := s.db.QueryContext(ctx, `SELECT `+exchangeColumns+` FROM exchanges`+whereClause+` ORDER BY created_at DESC LIMIT ? OFFSET ?`, queryArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list exchanges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []ExchangeState
	for rows.Next() {
		e, err := scanExchange(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan exchange: %w", err)
		}
		result = append(result, e)
	}
	return result, total, rows.Err()
}

// TransitionExchange implements Store.
func (s *SQLiteStore) TransitionExchange(ctx context.Context, e ExchangeState) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE exchanges SET status = ?, current_step = ?, current_step_name = ?, context = ?,
			started_at = ?, completed_at = ?, last_checkpoint = ?
		WHERE exchange_id = ?
	`, e.Status, e.CurrentStep, e.CurrentStepName, e.Context, nullTime(e.StartedAt), nullTime(e.CompletedAt),
		e.LastCheckpoint.Format(time.RFC3339Nano), e.ExchangeID)
	if err != nil {
		return fmt.Errorf("transition exchange: %w", err)
	}
	return nil
}

// InsertCheckpoint implements Store. Retries on a transient busy error up
// to checkpointRetries times with checkpointRetryDelay between attempts.
func (s *SQLiteStore) InsertCheckpoint(ctx context.Context, exchangeID string, stepIndex int, stepName, stepData string) (bool, error) {
	if err := s.checkClosed(); err != nil {
		return false, err
	}

	var created bool
	var lastErr error
	for attempt := 0; attempt <= checkpointRetries; attempt++ {
		created, lastErr = s.insertCheckpointOnce(ctx, exchangeID, stepIndex, stepName, stepData)
		if lastErr == nil || !isBusyErr(lastErr) {
			break
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(checkpointRetryDelay):
		}
	}
	if lastErr != nil {
		if isBusyErr(lastErr) {
			return false, fmt.Errorf("%w: %v", apperrors.ErrTransient, lastErr)
		}
		return false, lastErr
	}
	return created, nil
}

func (s *SQLiteStore) insertCheckpointOnce(ctx context.Context, exchangeID string, stepIndex int, stepName, stepData string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var existing int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM exchange_checkpoints WHERE exchange_id = ? AND step_name = ?`, exchangeID, stepName).Scan(&existing); err != nil {
		return false, err
	}
	if existing > 0 {
		// Idempotent skip: do not mutate currentStep/lastCheckpoint.
		return false, tx.Commit()
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO exchange_checkpoints (exchange_id, step_index, step_name, step_data, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, exchangeID, stepIndex, stepName, stepData, now.Format(time.RFC3339Nano)); err != nil {
		return false, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE exchanges SET current_step = ?, current_step_name = ?, last_checkpoint = ?
		WHERE exchange_id = ?
	`, stepIndex, stepName, now.Format(time.RFC3339Nano), exchangeID); err != nil {
		return false, err
	}

	return true, tx.Commit()
}

// GetCheckpoint implements Store.
func (s *SQLiteStore) GetCheckpoint(ctx context.Context, exchangeID, stepName string) (ExchangeCheckpoint, bool, error) {
	if err := s.checkClosed(); err != nil {
		return ExchangeCheckpoint{}, false, err
	}
	var cp ExchangeCheckpoint
	var ts string
	row := s.db.QueryRowContext(ctx, `SELECT id, exchange_id, step_index, step_name, step_data, timestamp FROM exchange_checkpoints WHERE exchange_id = ? AND step_name = ?`, exchangeID, stepName)
	var stepData sql.NullString
	if err := row.Scan(&cp.ID, &cp.ExchangeID, &cp.StepIndex, &cp.StepName, &stepData, &ts); err != nil {
		if err == sql.ErrNoRows {
			return ExchangeCheckpoint{}, false, nil
		}
		return ExchangeCheckpoint{}, false, fmt.Errorf("get checkpoint: %w", err)
	}
	cp.StepData = stepData.String
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ExchangeCheckpoint{}, false, err
	}
	cp.Timestamp = t
	return cp, true, nil
}

// ListCheckpoints implements Store.
func (s *SQLiteStore) ListCheckpoints(ctx context.Context, exchangeID string) ([]ExchangeCheckpoint, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, exchange_id, step_index, step_name, step_data, timestamp FROM exchange_checkpoints WHERE exchange_id = ? ORDER BY step_index ASC`, exchangeID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []ExchangeCheckpoint
	for rows.Next() {
		var cp ExchangeCheckpoint
		var ts string
		var stepData sql.NullString
		if err := rows.Scan(&cp.ID, &cp.ExchangeID, &cp.StepIndex, &cp.StepName, &stepData, &ts); err != nil {
			return nil, err
		}
		cp.StepData = stepData.String
		if cp.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, err
		}
		result = append(result, cp)
	}
	return result, rows.Err()
}

// CreateApproval implements Store. Inserts the PENDING approval and
// transitions the exchange to WAITING_APPROVAL in one transaction
// (spec.md §4.3 step 1).
func (s *SQLiteStore) CreateApproval(ctx context.Context, a ApprovalRequest) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO approval_requests (id, exchange_id, route_id, payload, status, response, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.ExchangeID, a.RouteID, a.Payload, ApprovalPending, "", a.CreatedAt.Format(time.RFC3339Nano), nil); err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE exchanges SET status = ? WHERE exchange_id = ?`, StatusWaitingApproval, a.ExchangeID); err != nil {
		return fmt.Errorf("transition exchange to waiting: %w", err)
	}

	return tx.Commit()
}

func scanApproval(row interface{ Scan(dest ...interface{}) error }) (ApprovalRequest, error) {
	var (
		a                      ApprovalRequest
		createdAt              string
		completedAt, response  sql.NullString
	)
	if err := row.Scan(&a.ID, &a.ExchangeID, &a.RouteID, &a.Payload, &a.Status, &response, &createdAt, &completedAt); err != nil {
		return ApprovalRequest{}, err
	}
	a.Response = response.String
	var err error
	if a.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return ApprovalRequest{}, err
	}
	if a.CompletedAt, err = scanTime(completedAt); err != nil {
		return ApprovalRequest{}, err
	}
	return a, nil
}

const approvalColumns = `id, exchange_id, route_id, payload, status, response, created_at, completed_at`

// GetApproval implements Store.
func (s *SQLiteStore) GetApproval(ctx context.Context, approvalID string) (ApprovalRequest, error) {
	if err := s.checkClosed(); err != nil {
		return ApprovalRequest{}, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approval_requests WHERE id = ?`, approvalID)
	a, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return ApprovalRequest{}, ErrNotFound
	}
	if err != nil {
		return ApprovalRequest{}, fmt.Errorf("get approval: %w", err)
	}
	return a, nil
}

// GetApprovalByExchange implements Store.
func (s *SQLiteStore) GetApprovalByExchange(ctx context.Context, exchangeID string) (ApprovalRequest, error) {
	if err := s.checkClosed(); err != nil {
		return ApprovalRequest{}, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approval_requests WHERE exchange_id = ? ORDER BY created_at DESC LIMIT 1`, exchangeID)
	a, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return ApprovalRequest{}, ErrNotFound
	}
	if err != nil {
		return ApprovalRequest{}, fmt.Errorf("get approval by exchange: %w", err)
	}
	return a, nil
}

// ListPendingApprovals implements Store.
func (s *SQLiteStore) ListPendingApprovals(ctx context.Context) ([]ApprovalRequest, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+approvalColumns+` FROM approval_requests WHERE status = ? ORDER BY created_at ASC`, ApprovalPending)
	if err != nil {
		return nil, fmt.Errorf("list pending approvals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []ApprovalRequest
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// DecideApproval implements Store: moves the approval to a terminal status
// and applies the exchange transition atomically.
func (s *SQLiteStore) DecideApproval(ctx context.Context, approvalID, newStatus, response string, exchangeAfter ExchangeState) (ApprovalRequest, error) {
	if err := s.checkClosed(); err != nil {
		return ApprovalRequest{}, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ApprovalRequest{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approval_requests WHERE id = ?`, approvalID)
	a, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return ApprovalRequest{}, ErrNotFound
	}
	if err != nil {
		return ApprovalRequest{}, fmt.Errorf("get approval for decision: %w", err)
	}
	if a.Status != ApprovalPending {
		return ApprovalRequest{}, apperrors.NewStateError("decide-approval", a.Status, newStatus)
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx, `UPDATE approval_requests SET status = ?, response = ?, completed_at = ? WHERE id = ?`,
		newStatus, response, now.Format(time.RFC3339Nano), approvalID); err != nil {
		return ApprovalRequest{}, fmt.Errorf("update approval: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE exchanges SET status = ?, current_step = ?, current_step_name = ?, context = ?,
			started_at = ?, completed_at = ?, last_checkpoint = ?
		WHERE exchange_id = ?
	`, exchangeAfter.Status, exchangeAfter.CurrentStep, exchangeAfter.CurrentStepName, exchangeAfter.Context,
		nullTime(exchangeAfter.StartedAt), nullTime(exchangeAfter.CompletedAt), exchangeAfter.LastCheckpoint.Format(time.RFC3339Nano), exchangeAfter.ExchangeID); err != nil {
		return ApprovalRequest{}, fmt.Errorf("transition exchange for decision: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ApprovalRequest{}, err
	}

	a.Status = newStatus
	a.Response = response
	a.CompletedAt = &now
	return a, nil
}

// AppendRouteLog implements Store.
func (s *SQLiteStore) AppendRouteLog(ctx context.Context, l RouteLog) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO route_logs (route_id, exchange_id, step_name, message, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, l.RouteID, l.ExchangeID, l.StepName, l.Message, time.Now().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append route log: %w", err)
	}
	return nil
}

func scanRouteLog(rows interface{ Scan(dest ...interface{}) error }) (RouteLog, error) {
	var l RouteLog
	var createdAt string
	var stepName sql.NullString
	if err := rows.Scan(&l.ID, &l.RouteID, &l.ExchangeID, &stepName, &l.Message, &createdAt); err != nil {
		return RouteLog{}, err
	}
	l.StepName = stepName.String
	var err error
	if l.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return RouteLog{}, err
	}
	return l, nil
}

// ListRouteLogs implements Store.
func (s *SQLiteStore) ListRouteLogs(ctx context.Context, routeID string, limit int) ([]RouteLog, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, route_id, exchange_id, step_name, message, created_at FROM route_logs WHERE route_id = ? ORDER BY created_at DESC LIMIT ?`, routeID, limit)
	if err != nil {
		return nil, fmt.Errorf("list route logs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var result []RouteLog
	for rows.Next() {
		l, err := scanRouteLog(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	return result, rows.Err()
}

// ListRouteLogsByExchange implements Store.
func (s *SQLiteStore) ListRouteLogsByExchange(ctx context.Context, exchangeID string) ([]RouteLog, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, route_id, exchange_id, step_name, message, created_at FROM route_logs WHERE exchange_id = ? ORDER BY created_at ASC`, exchangeID)
	if err != nil {
		return nil, fmt.Errorf("list route logs by exchange: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var result []RouteLog
	for rows.Next() {
		l, err := scanRouteLog(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	return result, rows.Err()
}

// RecordRouteOutcome implements Store.
func (s *SQLiteStore) RecordRouteOutcome(ctx context.Context, routeID string, success bool) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	successDelta, failureDelta := 0, 0
	if success {
		successDelta = 1
	} else {
		failureDelta = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO route_metrics (route_id, total_count, success_count, failure_count, updated_at)
		VALUES (?, 1, ?, ?, ?)
		ON CONFLICT(route_id) DO UPDATE SET
			total_count = total_count + 1,
			success_count = success_count + excluded.success_count,
			failure_count = failure_count + excluded.failure_count,
			updated_at = excluded.updated_at
	`, routeID, successDelta, failureDelta, time.Now().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record route outcome: %w", err)
	}
	return nil
}

// GetRouteMetric implements Store.
func (s *SQLiteStore) GetRouteMetric(ctx context.Context, routeID string) (RouteMetric, error) {
	if err := s.checkClosed(); err != nil {
		return RouteMetric{}, err
	}
	var m RouteMetric
	var updatedAt string
	row := s.db.QueryRowContext(ctx, `SELECT route_id, total_count, success_count, failure_count, updated_at FROM route_metrics WHERE route_id = ?`, routeID)
	if err := row.Scan(&m.RouteID, &m.TotalCount, &m.SuccessCount, &m.FailureCount, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return RouteMetric{RouteID: routeID}, nil
		}
		return RouteMetric{}, fmt.Errorf("get route metric: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return RouteMetric{}, err
	}
	m.UpdatedAt = t
	return m, nil
}

// ListRouteMetrics implements Store.
func (s *SQLiteStore) ListRouteMetrics(ctx context.Context) ([]RouteMetric, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT route_id, total_count, success_count, failure_count, updated_at FROM route_metrics ORDER BY route_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list route metrics: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []RouteMetric
	for rows.Next() {
		var m RouteMetric
		var updatedAt string
		if err := rows.Scan(&m.RouteID, &m.TotalCount, &m.SuccessCount, &m.FailureCount, &updatedAt); err != nil {
			return nil, err
		}
		if m.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}
