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

// initializeWorkflow sets the workflow path and creates its stages. It
// refuses documents that already have stages.
func (e *Engine) initializeWorkflow(ctx context.Context, tx store.Tx, doc *store.Document, path store.Category, now time.Time, ob *outbox) error {
	existing, err := tx.GetStages(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("get stages: %w", err)
	}
	if len(existing) > 0 {
		return ErrWorkflowAlreadyInitialized
	}
	doc.WorkflowPath = path
	doc.UpdatedAt = now
	return e.initializeStages(ctx, tx, doc, now, ob)
}

// initializeStages creates one stage per catalog entry for doc.WorkflowPath.
// The first is pending from now, the rest wait. doc is updated in place and
// written back.
func (e *Engine) initializeStages(ctx context.Context, tx store.Tx, doc *store.Document, now time.Time, ob *outbox) error {
	defs, ok := e.catalog.Stages(doc.WorkflowPath)
	if !ok || len(defs) == 0 {
		return detail(ErrUnknownWorkflowPath, "path %q", doc.WorkflowPath)
	}

	stages := make([]*store.Stage, len(defs))
	for i, d := range defs {
		stages[i] = &store.Stage{
			ID:           uuid.New(),
			DocumentID:   doc.ID,
			StageNumber:  d.Number,
			StageCode:    d.Code,
			StageName:    d.Name,
			RoleRequired: d.Role,
			SLAHours:     d.SLAHours,
			Status:       store.StageWaiting,
		}
	}
	first := stages[0]
	activate(first, now)

	if err := tx.CreateStages(ctx, stages); err != nil {
		return fmt.Errorf("create stages: %w", err)
	}

	doc.CurrentStageNumber = first.StageNumber
	doc.CurrentStageLabel = first.StageName
	if err := tx.UpdateDocument(ctx, doc); err != nil {
		return fmt.Errorf("update document: %w", err)
	}

	e.stageActivated(doc, first, ob)
	return nil
}

// advanceStage moves the workflow past the completed stage. It returns the
// newly pending stage, or nil when the completed stage was the last one.
func (e *Engine) advanceStage(ctx context.Context, tx store.Tx, doc *store.Document, stages []*store.Stage, completedNumber int, completedAt time.Time, ob *outbox) (*store.Stage, error) {
	var prev, next *store.Stage
	for _, st := range stages {
		switch st.StageNumber {
		case completedNumber:
			prev = st
		case completedNumber + 1:
			next = st
		}
	}
	if next == nil {
		return nil, nil
	}
	if prev == nil || prev.Status != store.StageCompleted {
		return nil, detail(ErrInvalidStageSequence, "stage %d is not completed", completedNumber)
	}
	if next.Status != store.StageWaiting {
		return nil, detail(ErrInvalidStageSequence, "stage %d is %s", next.StageNumber, next.Status)
	}

	activate(next, completedAt)
	if err := tx.UpdateStage(ctx, next); err != nil {
		return nil, fmt.Errorf("activate stage %d: %w", next.StageNumber, err)
	}
	doc.CurrentStageNumber = next.StageNumber
	doc.CurrentStageLabel = next.StageName

	e.stageActivated(doc, next, ob)
	return next, nil
}

func activate(st *store.Stage, at time.Time) {
	deadline := at.Add(time.Duration(st.SLAHours) * time.Hour)
	activated := at
	st.Status = store.StagePending
	st.SLADeadline = &deadline
	st.ActivatedAt = &activated
}

func (e *Engine) stageActivated(doc *store.Document, st *store.Stage, ob *outbox) {
	ob.after(func() {
		metrics.StagesActivated.WithLabelValues(string(st.RoleRequired)).Inc()
		e.logger.Info("stage activated",
			"document_id", doc.ID,
			"stage", st.StageNumber,
			"role", st.RoleRequired,
			"sla_deadline", st.SLADeadline,
		)
	})
	ob.add(hermes.SubjectStageActivated(doc.ID.String()), hermes.StageActivatedEvent{
		DocumentID:   doc.ID.String(),
		DocumentCode: doc.Code,
		StageID:      st.ID.String(),
		StageNumber:  st.StageNumber,
		StageName:    st.StageName,
		Role:         string(st.RoleRequired),
		SLADeadline:  *st.SLADeadline,
	})
}
