package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema/postgres.sql
var postgresSchema string

type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx so read helpers can
// run inside or outside a transaction.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Migrate creates any missing tables and indexes.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const documentColumns = `id, code, site_id, document_type,
	detected_category, final_category, manual_override, override_reason, workflow_path,
	status, current_stage_number, current_stage_label, completion_percentage,
	file_ref, file_name, vendor_id, submitted_by, submission_notes,
	submitted_at, approved_at, approved_by, rejected_at, updated_at`

const stageColumns = `id, document_id, stage_number, stage_code, stage_name,
	role_required, sla_hours, sla_deadline, status, decision, comments,
	reviewer_id, activated_at, completed_at`

const checklistColumns = `id, document_id, stage_id, item_number, section_name,
	description, result, severity, notes, created_at`

const punchlistColumns = `id, number, document_id, stage_id, description, category,
	severity, assigned_team, status, target_completion_date, rectification_notes,
	evidence_before_ref, evidence_after_ref, identified_by, identified_at, started_at,
	completed_by, completed_by_role, completed_at, verified_by, verified_by_role, verified_at`

const punchlistOrder = ` ORDER BY CASE severity WHEN 'critical' THEN 3 WHEN 'major' THEN 2 WHEN 'minor' THEN 1 ELSE 0 END DESC,
	identified_at ASC, number ASC`

func scanPgDocument(row rowScanner) (*Document, error) {
	d := &Document{}
	err := row.Scan(
		&d.ID, &d.Code, &d.SiteID, &d.DocumentType,
		&d.DetectedCategory, &d.FinalCategory, &d.ManualOverride, &d.OverrideReason, &d.WorkflowPath,
		&d.Status, &d.CurrentStageNumber, &d.CurrentStageLabel, &d.CompletionPercentage,
		&d.FileRef, &d.FileName, &d.VendorID, &d.SubmittedBy, &d.SubmissionNotes,
		&d.SubmittedAt, &d.ApprovedAt, &d.ApprovedBy, &d.RejectedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func scanPgStage(row rowScanner) (*Stage, error) {
	st := &Stage{}
	var decision *string
	err := row.Scan(
		&st.ID, &st.DocumentID, &st.StageNumber, &st.StageCode, &st.StageName,
		&st.RoleRequired, &st.SLAHours, &st.SLADeadline, &st.Status, &decision, &st.Comments,
		&st.ReviewerID, &st.ActivatedAt, &st.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if decision != nil {
		d := Decision(*decision)
		st.Decision = &d
	}
	return st, nil
}

func scanPgPunchlistItem(row rowScanner) (*PunchlistItem, error) {
	p := &PunchlistItem{}
	err := row.Scan(
		&p.ID, &p.Number, &p.DocumentID, &p.StageID, &p.Description, &p.Category,
		&p.Severity, &p.AssignedTeam, &p.Status, &p.TargetCompletionDate, &p.RectificationNotes,
		&p.EvidenceBeforeRef, &p.EvidenceAfterRef, &p.IdentifiedBy, &p.IdentifiedAt, &p.StartedAt,
		&p.CompletedBy, &p.CompletedByRole, &p.CompletedAt, &p.VerifiedBy, &p.VerifiedByRole, &p.VerifiedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func pgGetDocument(ctx context.Context, q pgQuerier, query string, arg any) (*Document, error) {
	d, err := scanPgDocument(q.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func pgGetStages(ctx context.Context, q pgQuerier, documentID uuid.UUID) ([]*Stage, error) {
	rows, err := q.Query(ctx, `
		SELECT `+stageColumns+`
		FROM atp_review_stages WHERE document_id = $1
		ORDER BY stage_number ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stages []*Stage
	for rows.Next() {
		st, err := scanPgStage(rows)
		if err != nil {
			return nil, err
		}
		stages = append(stages, st)
	}
	return stages, rows.Err()
}

func pgGetPunchlistItem(ctx context.Context, q pgQuerier, query string, id uuid.UUID) (*PunchlistItem, error) {
	p, err := scanPgPunchlistItem(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	return pgGetDocument(ctx, s.pool, `SELECT `+documentColumns+` FROM atp_documents WHERE id = $1`, id)
}

func (s *PostgresStore) GetDocumentByCode(ctx context.Context, code string) (*Document, error) {
	return pgGetDocument(ctx, s.pool, `SELECT `+documentColumns+` FROM atp_documents WHERE code = $1`, code)
}

func (s *PostgresStore) ListDocuments(ctx context.Context, filter DocumentFilter) ([]*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM atp_documents WHERE 1=1`
	args := []interface{}{}
	n := 0

	if filter.SiteID != "" {
		n++
		query += fmt.Sprintf(" AND site_id = $%d", n)
		args = append(args, filter.SiteID)
	}
	if filter.Status != nil {
		n++
		query += fmt.Sprintf(" AND status = $%d", n)
		args = append(args, string(*filter.Status))
	}
	if filter.WorkflowPath != nil {
		n++
		query += fmt.Sprintf(" AND workflow_path = $%d", n)
		args = append(args, string(*filter.WorkflowPath))
	}

	query += " ORDER BY submitted_at DESC, code ASC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	n++
	query += fmt.Sprintf(" LIMIT $%d", n)
	args = append(args, limit)

	if filter.Offset > 0 {
		n++
		query += fmt.Sprintf(" OFFSET $%d", n)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		d, err := scanPgDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *PostgresStore) GetStages(ctx context.Context, documentID uuid.UUID) ([]*Stage, error) {
	return pgGetStages(ctx, s.pool, documentID)
}

func (s *PostgresStore) GetChecklist(ctx context.Context, documentID uuid.UUID) ([]*ChecklistItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+checklistColumns+`
		FROM atp_checklist_items WHERE document_id = $1
		ORDER BY created_at ASC, item_number ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*ChecklistItem
	for rows.Next() {
		c := &ChecklistItem{}
		var severity *string
		if err := rows.Scan(
			&c.ID, &c.DocumentID, &c.StageID, &c.ItemNumber, &c.SectionName,
			&c.Description, &c.Result, &severity, &c.Notes, &c.CreatedAt,
		); err != nil {
			return nil, err
		}
		if severity != nil {
			sev := Severity(*severity)
			c.Severity = &sev
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetPunchlistItem(ctx context.Context, id uuid.UUID) (*PunchlistItem, error) {
	return pgGetPunchlistItem(ctx, s.pool, `SELECT `+punchlistColumns+` FROM atp_punchlist_items WHERE id = $1`, id)
}

func (s *PostgresStore) ListPunchlist(ctx context.Context, filter PunchlistFilter) ([]*PunchlistItem, error) {
	query := `SELECT ` + punchlistColumns + ` FROM atp_punchlist_items WHERE 1=1`
	args := []interface{}{}
	n := 0

	if filter.DocumentID != nil {
		n++
		query += fmt.Sprintf(" AND document_id = $%d", n)
		args = append(args, *filter.DocumentID)
	}
	if filter.Status != nil {
		n++
		query += fmt.Sprintf(" AND status = $%d", n)
		args = append(args, string(*filter.Status))
	}
	if filter.Severity != nil {
		n++
		query += fmt.Sprintf(" AND severity = $%d", n)
		args = append(args, string(*filter.Severity))
	}
	if filter.AssignedTeam != "" {
		n++
		query += fmt.Sprintf(" AND assigned_team = $%d", n)
		args = append(args, filter.AssignedTeam)
	}
	if filter.ActiveOnly {
		query += " AND status IN ('identified', 'in_progress')"
	}

	query += punchlistOrder

	if filter.Limit > 0 {
		n++
		query += fmt.Sprintf(" LIMIT $%d", n)
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		n++
		query += fmt.Sprintf(" OFFSET $%d", n)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*PunchlistItem
	for rows.Next() {
		p, err := scanPgPunchlistItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (s *PostgresStore) ListPendingStages(ctx context.Context, role *Role) ([]*PendingStage, error) {
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
		query += " AND s.role_required = $1"
		args = append(args, string(*role))
	}
	query += " ORDER BY s.sla_deadline ASC, d.code ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []*PendingStage
	for rows.Next() {
		ps := &PendingStage{}
		var decision *string
		if err := rows.Scan(
			&ps.ID, &ps.DocumentID, &ps.StageNumber, &ps.StageCode, &ps.StageName,
			&ps.RoleRequired, &ps.SLAHours, &ps.SLADeadline, &ps.Status, &decision, &ps.Comments,
			&ps.ReviewerID, &ps.ActivatedAt, &ps.CompletedAt,
			&ps.DocumentCode, &ps.SiteID, &ps.WorkflowPath,
		); err != nil {
			return nil, err
		}
		pending = append(pending, ps)
	}
	return pending, rows.Err()
}

func (s *PostgresStore) GetDocumentEvents(ctx context.Context, documentID uuid.UUID) ([]*DocumentEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, document_id, event, actor_id, payload, created_at
		FROM atp_document_events WHERE document_id = $1
		ORDER BY created_at ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*DocumentEvent
	for rows.Next() {
		e := &DocumentEvent{}
		var payloadJSON []byte
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.Event, &e.ActorID, &payloadJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		if payloadJSON != nil {
			_ = json.Unmarshal(payloadJSON, &e.Payload)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *PostgresStore) GetDashboardStats(ctx context.Context, role *Role, now time.Time) (*DashboardStats, error) {
	stats := &DashboardStats{
		ByStatus:             map[string]int{},
		WorkflowDistribution: map[string]int{},
	}

	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM atp_documents GROUP BY status`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, err
		}
		stats.ByStatus[status] = count
		stats.TotalDocuments += count
	}
	rows.Close()

	rows, err = s.pool.Query(ctx, `
		SELECT workflow_path, COUNT(*) FROM atp_documents
		WHERE workflow_path <> '' GROUP BY workflow_path`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var path string
		var count int
		if err := rows.Scan(&path, &count); err != nil {
			rows.Close()
			return nil, err
		}
		stats.WorkflowDistribution[path] = count
	}
	rows.Close()

	pendingQuery := `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN s.sla_deadline < $1 THEN 1 ELSE 0 END), 0)
		FROM atp_review_stages s
		JOIN atp_documents d ON d.id = s.document_id
		WHERE s.status = 'pending' AND d.status = 'in_review'`
	args := []interface{}{now}
	if role != nil {
		pendingQuery += " AND s.role_required = $2"
		args = append(args, string(*role))
	}
	if err := s.pool.QueryRow(ctx, pendingQuery, args...).Scan(&stats.PendingReviews, &stats.OverdueReviews); err != nil {
		return nil, err
	}

	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN severity = 'critical' THEN 1 ELSE 0 END), 0)
		FROM atp_punchlist_items WHERE status IN ('identified', 'in_progress')`,
	).Scan(&stats.ActivePunchlist, &stats.CriticalPunchlist); err != nil {
		return nil, err
	}

	return stats, nil
}
