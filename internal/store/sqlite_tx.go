package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) NextSiteSequence(ctx context.Context, siteID string) (int, error) {
	var seq int
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO atp_site_sequences (site_id, last_value) VALUES (?, 1)
		ON CONFLICT (site_id) DO UPDATE SET last_value = last_value + 1
		RETURNING last_value`, siteID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next site sequence: %w", err)
	}
	return seq, nil
}

func (t *sqliteTx) CreateDocument(ctx context.Context, d *Document) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO atp_documents (`+documentColumns+`)
		VALUES (`+placeholders(23)+`)`,
		d.ID, d.Code, d.SiteID, d.DocumentType,
		string(d.DetectedCategory), string(d.FinalCategory), d.ManualOverride, d.OverrideReason, string(d.WorkflowPath),
		string(d.Status), d.CurrentStageNumber, d.CurrentStageLabel, d.CompletionPercentage,
		d.FileRef, d.FileName, d.VendorID, d.SubmittedBy, d.SubmissionNotes,
		formatTime(d.SubmittedAt), timeValue(d.ApprovedAt), d.ApprovedBy, timeValue(d.RejectedAt), formatTime(d.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// LockDocument reads the document. The store's single connection already
// serialises transactions, so no row lock is needed.
func (t *sqliteTx) LockDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	return sqliteGetDocument(ctx, t.tx, `SELECT `+documentColumns+` FROM atp_documents WHERE id = ?`, id)
}

func (t *sqliteTx) UpdateDocument(ctx context.Context, d *Document) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE atp_documents SET
			detected_category = ?, final_category = ?, manual_override = ?,
			override_reason = ?, workflow_path = ?,
			status = ?, current_stage_number = ?, current_stage_label = ?,
			completion_percentage = ?,
			approved_at = ?, approved_by = ?, rejected_at = ?, updated_at = ?
		WHERE id = ?`,
		string(d.DetectedCategory), string(d.FinalCategory), d.ManualOverride,
		d.OverrideReason, string(d.WorkflowPath),
		string(d.Status), d.CurrentStageNumber, d.CurrentStageLabel,
		d.CompletionPercentage,
		timeValue(d.ApprovedAt), d.ApprovedBy, timeValue(d.RejectedAt), formatTime(d.UpdatedAt),
		d.ID,
	)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	return nil
}

func (t *sqliteTx) GetStages(ctx context.Context, documentID uuid.UUID) ([]*Stage, error) {
	return sqliteGetStages(ctx, t.tx, documentID)
}

func (t *sqliteTx) CreateStages(ctx context.Context, stages []*Stage) error {
	for _, st := range stages {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO atp_review_stages (`+stageColumns+`)
			VALUES (`+placeholders(14)+`)`,
			st.ID, st.DocumentID, st.StageNumber, st.StageCode, st.StageName,
			string(st.RoleRequired), st.SLAHours, timeValue(st.SLADeadline), string(st.Status),
			decisionValue(st.Decision), st.Comments,
			st.ReviewerID, timeValue(st.ActivatedAt), timeValue(st.CompletedAt),
		)
		if err != nil {
			return fmt.Errorf("insert stage %d: %w", st.StageNumber, err)
		}
	}
	return nil
}

func (t *sqliteTx) UpdateStage(ctx context.Context, st *Stage) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE atp_review_stages SET
			sla_deadline = ?, status = ?, decision = ?, comments = ?,
			reviewer_id = ?, activated_at = ?, completed_at = ?
		WHERE id = ?`,
		timeValue(st.SLADeadline), string(st.Status), decisionValue(st.Decision), st.Comments,
		st.ReviewerID, timeValue(st.ActivatedAt), timeValue(st.CompletedAt),
		st.ID,
	)
	if err != nil {
		return fmt.Errorf("update stage: %w", err)
	}
	return nil
}

func (t *sqliteTx) CreateChecklistItems(ctx context.Context, items []*ChecklistItem) error {
	for _, c := range items {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO atp_checklist_items (`+checklistColumns+`)
			VALUES (`+placeholders(10)+`)`,
			c.ID, c.DocumentID, c.StageID, c.ItemNumber, c.SectionName,
			c.Description, string(c.Result), severityValue(c.Severity), c.Notes, formatTime(c.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert checklist item %d: %w", c.ItemNumber, err)
		}
	}
	return nil
}

func (t *sqliteTx) CountPunchlist(ctx context.Context, documentID uuid.UUID) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM atp_punchlist_items WHERE document_id = ?`, documentID).Scan(&n)
	return n, err
}

func (t *sqliteTx) CountUnresolvedPunchlist(ctx context.Context, documentID uuid.UUID, severities []Severity) (int, error) {
	if len(severities) == 0 {
		return 0, nil
	}
	args := []interface{}{documentID}
	for _, s := range severities {
		args = append(args, string(s))
	}
	var n int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM atp_punchlist_items
		WHERE document_id = ? AND status IN ('identified', 'in_progress')
		AND severity IN (`+placeholders(len(severities))+`)`, args...,
	).Scan(&n)
	return n, err
}

func (t *sqliteTx) CreatePunchlistItems(ctx context.Context, items []*PunchlistItem) error {
	for _, p := range items {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO atp_punchlist_items (`+punchlistColumns+`)
			VALUES (`+placeholders(22)+`)`,
			p.ID, p.Number, p.DocumentID, p.StageID, p.Description, p.Category,
			string(p.Severity), p.AssignedTeam, string(p.Status), timeValue(p.TargetCompletionDate), p.RectificationNotes,
			p.EvidenceBeforeRef, p.EvidenceAfterRef, p.IdentifiedBy, formatTime(p.IdentifiedAt), timeValue(p.StartedAt),
			p.CompletedBy, string(p.CompletedByRole), timeValue(p.CompletedAt), p.VerifiedBy, string(p.VerifiedByRole), timeValue(p.VerifiedAt),
		)
		if err != nil {
			return fmt.Errorf("insert punchlist item %s: %w", p.Number, err)
		}
	}
	return nil
}

func (t *sqliteTx) LockPunchlistItem(ctx context.Context, id uuid.UUID) (*PunchlistItem, error) {
	return sqliteGetPunchlistItem(ctx, t.tx, id)
}

func (t *sqliteTx) UpdatePunchlistItem(ctx context.Context, p *PunchlistItem) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE atp_punchlist_items SET
			status = ?, rectification_notes = ?, evidence_after_ref = ?,
			started_at = ?, completed_by = ?, completed_by_role = ?, completed_at = ?,
			verified_by = ?, verified_by_role = ?, verified_at = ?
		WHERE id = ?`,
		string(p.Status), p.RectificationNotes, p.EvidenceAfterRef,
		timeValue(p.StartedAt), p.CompletedBy, string(p.CompletedByRole), timeValue(p.CompletedAt),
		p.VerifiedBy, string(p.VerifiedByRole), timeValue(p.VerifiedAt),
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("update punchlist item: %w", err)
	}
	return nil
}

func (t *sqliteTx) CreateEvent(ctx context.Context, e *DocumentEvent) error {
	var payload interface{}
	if e.Payload != nil {
		data, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
		payload = string(data)
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO atp_document_events (id, document_id, event, actor_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.DocumentID, e.Event, e.ActorID, payload, formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert document event: %w", err)
	}
	return nil
}
