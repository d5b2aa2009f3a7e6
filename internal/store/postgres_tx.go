package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) NextSiteSequence(ctx context.Context, siteID string) (int, error) {
	var seq int
	err := t.tx.QueryRow(ctx, `
		INSERT INTO atp_site_sequences (site_id, last_value) VALUES ($1, 1)
		ON CONFLICT (site_id) DO UPDATE SET last_value = atp_site_sequences.last_value + 1
		RETURNING last_value`, siteID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next site sequence: %w", err)
	}
	return seq, nil
}

func (t *pgTx) CreateDocument(ctx context.Context, d *Document) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO atp_documents (`+documentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		d.ID, d.Code, d.SiteID, d.DocumentType,
		d.DetectedCategory, d.FinalCategory, d.ManualOverride, d.OverrideReason, d.WorkflowPath,
		d.Status, d.CurrentStageNumber, d.CurrentStageLabel, d.CompletionPercentage,
		d.FileRef, d.FileName, d.VendorID, d.SubmittedBy, d.SubmissionNotes,
		d.SubmittedAt, d.ApprovedAt, d.ApprovedBy, d.RejectedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (t *pgTx) LockDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	return pgGetDocument(ctx, t.tx, `SELECT `+documentColumns+` FROM atp_documents WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTx) UpdateDocument(ctx context.Context, d *Document) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE atp_documents SET
			detected_category = $2, final_category = $3, manual_override = $4,
			override_reason = $5, workflow_path = $6,
			status = $7, current_stage_number = $8, current_stage_label = $9,
			completion_percentage = $10,
			approved_at = $11, approved_by = $12, rejected_at = $13, updated_at = $14
		WHERE id = $1`,
		d.ID, d.DetectedCategory, d.FinalCategory, d.ManualOverride,
		d.OverrideReason, d.WorkflowPath,
		d.Status, d.CurrentStageNumber, d.CurrentStageLabel,
		d.CompletionPercentage,
		d.ApprovedAt, d.ApprovedBy, d.RejectedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	return nil
}

func (t *pgTx) GetStages(ctx context.Context, documentID uuid.UUID) ([]*Stage, error) {
	return pgGetStages(ctx, t.tx, documentID)
}

func (t *pgTx) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	br := t.tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return err
		}
	}
	return br.Close()
}

func (t *pgTx) CreateStages(ctx context.Context, stages []*Stage) error {
	batch := &pgx.Batch{}
	for _, st := range stages {
		batch.Queue(`
			INSERT INTO atp_review_stages (`+stageColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			st.ID, st.DocumentID, st.StageNumber, st.StageCode, st.StageName,
			st.RoleRequired, st.SLAHours, st.SLADeadline, st.Status, decisionValue(st.Decision), st.Comments,
			st.ReviewerID, st.ActivatedAt, st.CompletedAt,
		)
	}
	if err := t.sendBatch(ctx, batch); err != nil {
		return fmt.Errorf("insert stages: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateStage(ctx context.Context, st *Stage) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE atp_review_stages SET
			sla_deadline = $2, status = $3, decision = $4, comments = $5,
			reviewer_id = $6, activated_at = $7, completed_at = $8
		WHERE id = $1`,
		st.ID, st.SLADeadline, st.Status, decisionValue(st.Decision), st.Comments,
		st.ReviewerID, st.ActivatedAt, st.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update stage: %w", err)
	}
	return nil
}

func (t *pgTx) CreateChecklistItems(ctx context.Context, items []*ChecklistItem) error {
	if len(items) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range items {
		batch.Queue(`
			INSERT INTO atp_checklist_items (`+checklistColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			c.ID, c.DocumentID, c.StageID, c.ItemNumber, c.SectionName,
			c.Description, c.Result, severityValue(c.Severity), c.Notes, c.CreatedAt,
		)
	}
	if err := t.sendBatch(ctx, batch); err != nil {
		return fmt.Errorf("insert checklist items: %w", err)
	}
	return nil
}

func (t *pgTx) CountPunchlist(ctx context.Context, documentID uuid.UUID) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM atp_punchlist_items WHERE document_id = $1`, documentID).Scan(&n)
	return n, err
}

func (t *pgTx) CountUnresolvedPunchlist(ctx context.Context, documentID uuid.UUID, severities []Severity) (int, error) {
	if len(severities) == 0 {
		return 0, nil
	}
	sevs := make([]string, len(severities))
	for i, s := range severities {
		sevs[i] = string(s)
	}
	var n int
	err := t.tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM atp_punchlist_items
		WHERE document_id = $1 AND status IN ('identified', 'in_progress') AND severity = ANY($2)`,
		documentID, sevs,
	).Scan(&n)
	return n, err
}

func (t *pgTx) CreatePunchlistItems(ctx context.Context, items []*PunchlistItem) error {
	if len(items) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range items {
		batch.Queue(`
			INSERT INTO atp_punchlist_items (`+punchlistColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
				$12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
			p.ID, p.Number, p.DocumentID, p.StageID, p.Description, p.Category,
			p.Severity, p.AssignedTeam, p.Status, p.TargetCompletionDate, p.RectificationNotes,
			p.EvidenceBeforeRef, p.EvidenceAfterRef, p.IdentifiedBy, p.IdentifiedAt, p.StartedAt,
			p.CompletedBy, p.CompletedByRole, p.CompletedAt, p.VerifiedBy, p.VerifiedByRole, p.VerifiedAt,
		)
	}
	if err := t.sendBatch(ctx, batch); err != nil {
		return fmt.Errorf("insert punchlist items: %w", err)
	}
	return nil
}

func (t *pgTx) LockPunchlistItem(ctx context.Context, id uuid.UUID) (*PunchlistItem, error) {
	return pgGetPunchlistItem(ctx, t.tx, `SELECT `+punchlistColumns+` FROM atp_punchlist_items WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTx) UpdatePunchlistItem(ctx context.Context, p *PunchlistItem) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE atp_punchlist_items SET
			status = $2, rectification_notes = $3, evidence_after_ref = $4,
			started_at = $5, completed_by = $6, completed_by_role = $7, completed_at = $8,
			verified_by = $9, verified_by_role = $10, verified_at = $11
		WHERE id = $1`,
		p.ID, p.Status, p.RectificationNotes, p.EvidenceAfterRef,
		p.StartedAt, p.CompletedBy, p.CompletedByRole, p.CompletedAt,
		p.VerifiedBy, p.VerifiedByRole, p.VerifiedAt,
	)
	if err != nil {
		return fmt.Errorf("update punchlist item: %w", err)
	}
	return nil
}

func (t *pgTx) CreateEvent(ctx context.Context, e *DocumentEvent) error {
	var payloadJSON []byte
	if e.Payload != nil {
		payloadJSON, _ = json.Marshal(e.Payload)
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO atp_document_events (id, document_id, event, actor_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.DocumentID, e.Event, e.ActorID, payloadJSON, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document event: %w", err)
	}
	return nil
}

func decisionValue(d *Decision) interface{} {
	if d == nil {
		return nil
	}
	return string(*d)
}

func severityValue(s *Severity) interface{} {
	if s == nil {
		return nil
	}
	return string(*s)
}
