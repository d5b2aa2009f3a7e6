package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed schema/sqlite.sql
var sqliteSchema string

// sqliteSchemaVersion is bumped whenever schema/sqlite.sql changes shape.
const sqliteSchemaVersion = 1

// Timestamps are stored as fixed-width UTC text so they sort lexically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var ErrSchemaMismatch = errors.New("schema version mismatch")

// ErrDatabaseLocked is returned when another process holds the database file.
var ErrDatabaseLocked = errors.New("database is in use by another process")

// SQLiteStore is the embedded single-node backend. It keeps one open
// connection, which serialises every transaction.
type SQLiteStore struct {
	db   *sql.DB
	lock *flock.Flock
}

var _ Store = (*SQLiteStore)(nil)

type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewSQLiteStore opens (and if needed creates) the database at path.
// ":memory:" gives a private in-memory database.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	s := &SQLiteStore{}
	if path != ":memory:" {
		s.lock = flock.New(path + ".lock")
		ok, err := s.lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("lock database: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrDatabaseLocked, path)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		s.unlock()
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	s.db = db

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	if err := s.initSchema(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin schema tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, sqliteSchema); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", sqliteSchemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit schema: %w", err)
		}
		return nil
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != sqliteSchemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d", ErrSchemaMismatch, version, sqliteSchemaVersion)
	}
	return nil
}

func (s *SQLiteStore) unlock() {
	if s.lock != nil {
		_ = s.lock.Unlock()
	}
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	var err error
	if s.db != nil {
		err = s.db.Close()
	}
	s.unlock()
	return err
}

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func timeValue(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t.UTC(), nil
}

func parseNullTime(raw sql.NullString) (*time.Time, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	t, err := parseTime(raw.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// parseTimes fills each destination from its raw column value, stopping at
// the first malformed timestamp.
func parseTimes(pairs ...timePair) error {
	for _, p := range pairs {
		t, err := parseNullTime(p.raw)
		if err != nil {
			return err
		}
		*p.dst = t
	}
	return nil
}

type timePair struct {
	raw sql.NullString
	dst **time.Time
}

func scanSQLiteDocument(row rowScanner) (*Document, error) {
	d := &Document{}
	var submittedAt, updatedAt string
	var approvedAt, rejectedAt sql.NullString
	err := row.Scan(
		&d.ID, &d.Code, &d.SiteID, &d.DocumentType,
		&d.DetectedCategory, &d.FinalCategory, &d.ManualOverride, &d.OverrideReason, &d.WorkflowPath,
		&d.Status, &d.CurrentStageNumber, &d.CurrentStageLabel, &d.CompletionPercentage,
		&d.FileRef, &d.FileName, &d.VendorID, &d.SubmittedBy, &d.SubmissionNotes,
		&submittedAt, &approvedAt, &d.ApprovedBy, &rejectedAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if d.SubmittedAt, err = parseTime(submittedAt); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if err := parseTimes(timePair{approvedAt, &d.ApprovedAt}, timePair{rejectedAt, &d.RejectedAt}); err != nil {
		return nil, err
	}
	return d, nil
}

func scanSQLiteStage(row rowScanner, extra ...any) (*Stage, error) {
	st := &Stage{}
	var decision, deadline, activatedAt, completedAt sql.NullString
	dest := []any{
		&st.ID, &st.DocumentID, &st.StageNumber, &st.StageCode, &st.StageName,
		&st.RoleRequired, &st.SLAHours, &deadline, &st.Status, &decision, &st.Comments,
		&st.ReviewerID, &activatedAt, &completedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if decision.Valid {
		d := Decision(decision.String)
		st.Decision = &d
	}
	if err := parseTimes(
		timePair{deadline, &st.SLADeadline},
		timePair{activatedAt, &st.ActivatedAt},
		timePair{completedAt, &st.CompletedAt},
	); err != nil {
		return nil, err
	}
	return st, nil
}

func scanSQLitePunchlistItem(row rowScanner) (*PunchlistItem, error) {
	p := &PunchlistItem{}
	var identifiedAt string
	var target, startedAt, completedAt, verifiedAt sql.NullString
	err := row.Scan(
		&p.ID, &p.Number, &p.DocumentID, &p.StageID, &p.Description, &p.Category,
		&p.Severity, &p.AssignedTeam, &p.Status, &target, &p.RectificationNotes,
		&p.EvidenceBeforeRef, &p.EvidenceAfterRef, &p.IdentifiedBy, &identifiedAt, &startedAt,
		&p.CompletedBy, &p.CompletedByRole, &completedAt, &p.VerifiedBy, &p.VerifiedByRole, &verifiedAt,
	)
	if err != nil {
		return nil, err
	}
	if p.IdentifiedAt, err = parseTime(identifiedAt); err != nil {
		return nil, err
	}
	if err := parseTimes(
		timePair{target, &p.TargetCompletionDate},
		timePair{startedAt, &p.StartedAt},
		timePair{completedAt, &p.CompletedAt},
		timePair{verifiedAt, &p.VerifiedAt},
	); err != nil {
		return nil, err
	}
	return p, nil
}

func sqliteGetDocument(ctx context.Context, q sqlQuerier, query string, arg any) (*Document, error) {
	d, err := scanSQLiteDocument(q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func sqliteGetStages(ctx context.Context, q sqlQuerier, documentID uuid.UUID) ([]*Stage, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+stageColumns+`
		FROM atp_review_stages WHERE document_id = ?
		ORDER BY stage_number ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stages []*Stage
	for rows.Next() {
		st, err := scanSQLiteStage(rows)
		if err != nil {
			return nil, err
		}
		stages = append(stages, st)
	}
	return stages, rows.Err()
}

func sqliteGetPunchlistItem(ctx context.Context, q sqlQuerier, id uuid.UUID) (*PunchlistItem, error) {
	p, err := scanSQLitePunchlistItem(q.QueryRowContext(ctx,
		`SELECT `+punchlistColumns+` FROM atp_punchlist_items WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	return sqliteGetDocument(ctx, s.db, `SELECT `+documentColumns+` FROM atp_documents WHERE id = ?`, id)
}

func (s *SQLiteStore) GetDocumentByCode(ctx context.Context, code string) (*Document, error) {
	return sqliteGetDocument(ctx, s.db, `SELECT `+documentColumns+` FROM atp_documents WHERE code = ?`, code)
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, filter DocumentFilter) ([]*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM atp_documents WHERE 1=1`
	args := []interface{}{}

	if filter.SiteID != "" {
		query += " AND site_id = ?"
		args = append(args, filter.SiteID)
	}
	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, string(*filter.Status))
	}
	if filter.WorkflowPath != nil {
		query += " AND workflow_path = ?"
		args = append(args, string(*filter.WorkflowPath))
	}

	query += " ORDER BY submitted_at DESC, code ASC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		d, err := scanSQLiteDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *SQLiteStore) GetStages(ctx context.Context, documentID uuid.UUID) ([]*Stage, error) {
	return sqliteGetStages(ctx, s.db, documentID)
}

func (s *SQLiteStore) GetChecklist(ctx context.Context, documentID uuid.UUID) ([]*ChecklistItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+checklistColumns+`
		FROM atp_checklist_items WHERE document_id = ?
		ORDER BY created_at ASC, item_number ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*ChecklistItem
	for rows.Next() {
		c := &ChecklistItem{}
		var severity sql.NullString
		var createdAt string
		if err := rows.Scan(
			&c.ID, &c.DocumentID, &c.StageID, &c.ItemNumber, &c.SectionName,
			&c.Description, &c.Result, &severity, &c.Notes, &createdAt,
		); err != nil {
			return nil, err
		}
		if severity.Valid {
			sev := Severity(severity.String)
			c.Severity = &sev
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) GetPunchlistItem(ctx context.Context, id uuid.UUID) (*PunchlistItem, error) {
	return sqliteGetPunchlistItem(ctx, s.db, id)
}

func (s *SQLiteStore) ListPunchlist(ctx context.Context, filter PunchlistFilter) ([]*PunchlistItem, error) {
	query := `SELECT ` + punchlistColumns + ` FROM atp_punchlist_items WHERE 1=1`
	args := []interface{}{}

	if filter.DocumentID != nil {
		query += " AND document_id = ?"
		args = append(args, *filter.DocumentID)
	}
	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, string(*filter.Status))
	}
	if filter.Severity != nil {
		query += " AND severity = ?"
		args = append(args, string(*filter.Severity))
	}
	if filter.AssignedTeam != "" {
		query += " AND assigned_team = ?"
		args = append(args, filter.AssignedTeam)
	}
	if filter.ActiveOnly {
		query += " AND status IN ('identified', 'in_progress')"
	}

	query += punchlistOrder

	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*PunchlistItem
	for rows.Next() {
		p, err := scanSQLitePunchlistItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) ListPendingStages(ctx context.Context, role *Role) ([]*PendingStage, error) {
	query := `
		SELECT s.id, s.document_id, s.stage_number, s.stage_code, s.stage_name,
			s.role_required, s.sla_hours, s.sla_deadline, s.status, s.decision, s.comments,
			s.reviewer_id, s.activated_at, s.completed_at,
			d.code, d.site_id, d.workflow_path
		FROM atp_review_stages s
		JOIN atp_documents d ON d.id = s.document_id
		WHERE s.status = 'pending' AND d.status = 'in_review'`
	args := []interface{}{}
	if role != nil {
		query += " AND s.role_required = ?"
		args = append(args, string(*role))
	}
	query += " ORDER BY s.sla_deadline ASC, d.code ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []*PendingStage
	for rows.Next() {
		var code, siteID string
		var path Category
		st, err := scanSQLiteStage(rows, &code, &siteID, &path)
		if err != nil {
			return nil, err
		}
		pending = append(pending, &PendingStage{Stage: *st, DocumentCode: code, SiteID: siteID, WorkflowPath: path})
	}
	return pending, rows.Err()
}

func (s *SQLiteStore) GetDocumentEvents(ctx context.Context, documentID uuid.UUID) ([]*DocumentEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, event, actor_id, payload, created_at
		FROM atp_document_events WHERE document_id = ?
		ORDER BY created_at ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*DocumentEvent
	for rows.Next() {
		e := &DocumentEvent{}
		var payload sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.Event, &e.ActorID, &payload, &createdAt); err != nil {
			return nil, err
		}
		if payload.Valid {
			_ = json.Unmarshal([]byte(payload.String), &e.Payload)
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) GetDashboardStats(ctx context.Context, role *Role, now time.Time) (*DashboardStats, error) {
	stats := &DashboardStats{
		ByStatus:             map[string]int{},
		WorkflowDistribution: map[string]int{},
	}

	if err := s.countBy(ctx, `SELECT status, COUNT(*) FROM atp_documents GROUP BY status`, func(k string, n int) {
		stats.ByStatus[k] = n
		stats.TotalDocuments += n
	}); err != nil {
		return nil, err
	}
	if err := s.countBy(ctx, `
		SELECT workflow_path, COUNT(*) FROM atp_documents
		WHERE workflow_path <> '' GROUP BY workflow_path`, func(k string, n int) {
		stats.WorkflowDistribution[k] = n
	}); err != nil {
		return nil, err
	}

	pendingQuery := `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN s.sla_deadline < ? THEN 1 ELSE 0 END), 0)
		FROM atp_review_stages s
		JOIN atp_documents d ON d.id = s.document_id
		WHERE s.status = 'pending' AND d.status = 'in_review'`
	args := []interface{}{formatTime(now)}
	if role != nil {
		pendingQuery += " AND s.role_required = ?"
		args = append(args, string(*role))
	}
	if err := s.db.QueryRowContext(ctx, pendingQuery, args...).Scan(&stats.PendingReviews, &stats.OverdueReviews); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN severity = 'critical' THEN 1 ELSE 0 END), 0)
		FROM atp_punchlist_items WHERE status IN ('identified', 'in_progress')`,
	).Scan(&stats.ActivePunchlist, &stats.CriticalPunchlist); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *SQLiteStore) countBy(ctx context.Context, query string, fn func(key string, n int)) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		fn(key, n)
	}
	return rows.Err()
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
