package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/ATPFlow/internal/hermes"
	"github.com/MikeSquared-Agency/ATPFlow/internal/metrics"
	"github.com/MikeSquared-Agency/ATPFlow/internal/store"
)

type ChecklistInput struct {
	ItemNumber  int    `json:"item_number,omitempty"`
	SectionName string `json:"section_name,omitempty"`
	Description string `json:"description,omitempty"`
	Result      string `json:"result"`
	Severity    string `json:"severity,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// PunchlistDraft is a defect raised by a reviewer with an
// approve_with_punchlist decision.
type PunchlistDraft struct {
	Description          string     `json:"description"`
	Category             string     `json:"category,omitempty"`
	Severity             string     `json:"severity"`
	AssignedTeam         string     `json:"assigned_team,omitempty"`
	TargetCompletionDate *time.Time `json:"target_completion_date,omitempty"`
	EvidenceBeforeRef    string     `json:"evidence_before_ref,omitempty"`
}

type DecisionRequest struct {
	DocumentID uuid.UUID
	StageID    uuid.UUID
	Decision   string
	Comments   string
	Checklist  []ChecklistInput
	Punchlist  []PunchlistDraft
}

type DecisionResult struct {
	Status             store.DocumentStatus   `json:"status"`
	ProgressPercentage int                    `json:"progress_percentage"`
	NextStage          *store.Stage           `json:"next_stage,omitempty"`
	Punchlist          []*store.PunchlistItem `json:"punchlist,omitempty"`
}

type parsedDraft struct {
	PunchlistDraft
	severity store.Severity
}

type parsedChecklist struct {
	ChecklistInput
	number   int
	result   store.ChecklistResult
	severity *store.Severity
}

// validateDecision checks everything that does not need stored state. A
// request that fails here never opens a transaction.
func validateDecision(req DecisionRequest) (store.Decision, []parsedChecklist, []parsedDraft, error) {
	decision, err := store.ParseDecision(req.Decision)
	if err != nil {
		return "", nil, nil, detail(ErrInvalidDecisionValue, "%v", err)
	}

	switch {
	case decision == store.DecisionApproveWithPunchlist && len(req.Punchlist) == 0:
		return "", nil, nil, detail(ErrInvalidPunchlistDraft, "approve_with_punchlist requires at least one item")
	case decision != store.DecisionApproveWithPunchlist && len(req.Punchlist) > 0:
		return "", nil, nil, detail(ErrInvalidPunchlistDraft, "punchlist items are only accepted with approve_with_punchlist")
	}

	drafts := make([]parsedDraft, len(req.Punchlist))
	for i, d := range req.Punchlist {
		if d.Description == "" {
			return "", nil, nil, detail(ErrInvalidPunchlistDraft, "item %d has no description", i+1)
		}
		sev, err := store.ParseSeverity(d.Severity)
		if err != nil {
			return "", nil, nil, detail(ErrInvalidPunchlistDraft, "item %d: %v", i+1, err)
		}
		drafts[i] = parsedDraft{PunchlistDraft: d, severity: sev}
	}

	checklist := make([]parsedChecklist, len(req.Checklist))
	for i, c := range req.Checklist {
		res, err := store.ParseChecklistResult(c.Result)
		if err != nil {
			return "", nil, nil, detail(ErrInvalidChecklistItem, "item %d: %v", i+1, err)
		}
		pc := parsedChecklist{ChecklistInput: c, number: c.ItemNumber, result: res}
		if pc.number == 0 {
			pc.number = i + 1
		}
		if c.Severity != "" {
			sev, err := store.ParseSeverity(c.Severity)
			if err != nil {
				return "", nil, nil, detail(ErrInvalidChecklistItem, "item %d: %v", i+1, err)
			}
			pc.severity = &sev
		}
		checklist[i] = pc
	}
	return decision, checklist, drafts, nil
}

// SubmitDecision records a reviewer's decision on the document's pending
// stage and moves the workflow on. Decisions are write-once.
func (e *Engine) SubmitDecision(ctx context.Context, actor Actor, req DecisionRequest) (*DecisionResult, error) {
	decision, checklist, drafts, err := validateDecision(req)
	if err != nil {
		return nil, observe(err)
	}

	ob := &outbox{}
	result := &DecisionResult{}
	err = e.store.WithTx(ctx, func(tx store.Tx) error {
		doc, err := tx.LockDocument(ctx, req.DocumentID)
		if err != nil {
			return fmt.Errorf("lock document: %w", err)
		}
		if doc == nil {
			return ErrDocumentNotFound
		}
		stages, err := tx.GetStages(ctx, doc.ID)
		if err != nil {
			return fmt.Errorf("get stages: %w", err)
		}

		var stage *store.Stage
		last := 0
		for _, st := range stages {
			if st.ID == req.StageID {
				stage = st
			}
			if st.StageNumber > last {
				last = st.StageNumber
			}
		}

		switch {
		case stage == nil:
			return ErrStageNotFound
		case actor.Role != stage.RoleRequired:
			return detail(ErrForbiddenRole, "stage %d requires %s, got %s", stage.StageNumber, stage.RoleRequired, actor.Role)
		case stage.Status == store.StageCompleted:
			return ErrStageAlreadyDecided
		case doc.Status != store.DocumentInReview:
			return detail(ErrDocumentNotInReview, "document is %s", doc.Status)
		case stage.Status != store.StagePending:
			return detail(ErrStageNotPending, "stage %d is %s", stage.StageNumber, stage.Status)
		}

		isLast := stage.StageNumber == last
		if isLast && decision != store.DecisionReject {
			if err := e.checkBlocking(ctx, tx, doc, drafts); err != nil {
				return err
			}
		}

		now := e.clock()

		if len(checklist) > 0 {
			items := make([]*store.ChecklistItem, len(checklist))
			for i, c := range checklist {
				items[i] = &store.ChecklistItem{
					ID:          uuid.New(),
					DocumentID:  doc.ID,
					StageID:     stage.ID,
					ItemNumber:  c.number,
					SectionName: c.SectionName,
					Description: c.Description,
					Result:      c.result,
					Severity:    c.severity,
					Notes:       c.Notes,
					CreatedAt:   now,
				}
			}
			if err := tx.CreateChecklistItems(ctx, items); err != nil {
				return fmt.Errorf("create checklist items: %w", err)
			}
		}

		d := decision
		completedAt := now
		stage.Status = store.StageCompleted
		stage.Decision = &d
		stage.Comments = req.Comments
		stage.ReviewerID = actor.ID
		stage.CompletedAt = &completedAt
		if err := tx.UpdateStage(ctx, stage); err != nil {
			return fmt.Errorf("complete stage %d: %w", stage.StageNumber, err)
		}
		decided := e.stageDecided(doc, stage, ob)

		if len(drafts) > 0 {
			items, err := e.createPunchlist(ctx, tx, doc, stage, actor, drafts, now, ob)
			if err != nil {
				return err
			}
			result.Punchlist = items
		}

		doc.UpdatedAt = now
		switch {
		case decision == store.DecisionReject:
			doc.Status = store.DocumentRejected
			doc.RejectedAt = &completedAt
			doc.CurrentStageNumber = 0
			doc.CurrentStageLabel = "Rejected"
		default:
			next, err := e.advanceStage(ctx, tx, doc, stages, stage.StageNumber, completedAt, ob)
			if err != nil {
				return err
			}
			if next == nil {
				doc.Status = store.DocumentApproved
				doc.CompletionPercentage = 100
				doc.ApprovedAt = &completedAt
				doc.ApprovedBy = actor.ID
				doc.CurrentStageNumber = 0
				doc.CurrentStageLabel = "Approved"
			} else {
				doc.CompletionPercentage = inReviewPercentage(doc.CompletionPercentage, stages)
				result.NextStage = next
			}
		}
		if err := tx.UpdateDocument(ctx, doc); err != nil {
			return fmt.Errorf("update document: %w", err)
		}

		switch doc.Status {
		case store.DocumentApproved:
			ob.add(hermes.SubjectDocumentApproved(doc.ID.String()), statusEvent(doc, actor.ID))
		case store.DocumentRejected:
			ob.add(hermes.SubjectDocumentRejected(doc.ID.String()), statusEvent(doc, actor.ID))
		}
		if doc.Status.Terminal() {
			status := doc.Status
			ob.after(func() { metrics.DocumentsFinished.WithLabelValues(string(status)).Inc() })
		}

		decided.ProgressPercentage = doc.CompletionPercentage
		result.Status = doc.Status
		result.ProgressPercentage = doc.CompletionPercentage
		return e.record(ctx, tx, doc.ID, "stage_decided", actor.ID, map[string]interface{}{
			"stage_number":    stage.StageNumber,
			"decision":        string(decision),
			"comments":        req.Comments,
			"checklist_items": len(checklist),
			"punchlist_items": len(drafts),
		})
	})
	if err != nil {
		return nil, observe(err)
	}

	e.flush(ob)
	return result, nil
}

// checkBlocking refuses final approval while punchlist items of a blocking
// severity are still open, counting the drafts of this decision as open.
func (e *Engine) checkBlocking(ctx context.Context, tx store.Tx, doc *store.Document, drafts []parsedDraft) error {
	if len(e.blocking) == 0 {
		return nil
	}
	open, err := tx.CountUnresolvedPunchlist(ctx, doc.ID, e.blocking)
	if err != nil {
		return fmt.Errorf("count unresolved punchlist: %w", err)
	}
	for _, d := range drafts {
		if e.isBlocking(d.severity) {
			open++
		}
	}
	if open > 0 {
		return detail(ErrUnresolvedBlockingPunchlist, "%d blocking item(s) open on %s", open, doc.Code)
	}
	return nil
}

func (e *Engine) isBlocking(sev store.Severity) bool {
	for _, b := range e.blocking {
		if b == sev {
			return true
		}
	}
	return false
}

// inReviewPercentage recomputes progress for a document that is still in
// review. It stays below 100 and never goes backwards.
func inReviewPercentage(current int, stages []*store.Stage) int {
	completed := 0
	for _, st := range stages {
		if st.Status == store.StageCompleted {
			completed++
		}
	}
	pct := percentage(completed, len(stages))
	if pct > 99 {
		pct = 99
	}
	if pct < current {
		pct = current
	}
	return pct
}

func (e *Engine) stageDecided(doc *store.Document, st *store.Stage, ob *outbox) *hermes.StageDecidedEvent {
	decision := *st.Decision
	role := st.RoleRequired
	var waited time.Duration
	if st.ActivatedAt != nil && st.CompletedAt != nil {
		waited = st.CompletedAt.Sub(*st.ActivatedAt)
	}
	ob.after(func() {
		metrics.StageDecisions.WithLabelValues(string(role), string(decision)).Inc()
		metrics.StageReviewDuration.WithLabelValues(string(role)).Observe(waited.Seconds())
		e.logger.Info("stage decided",
			"document_id", doc.ID,
			"stage", st.StageNumber,
			"decision", decision,
			"reviewer", st.ReviewerID,
		)
	})
	ev := &hermes.StageDecidedEvent{
		DocumentID:  doc.ID.String(),
		StageID:     st.ID.String(),
		StageNumber: st.StageNumber,
		Decision:    string(decision),
		ReviewerID:  st.ReviewerID,
	}
	ob.add(hermes.SubjectStageDecided(doc.ID.String()), ev)
	return ev
}
