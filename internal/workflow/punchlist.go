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

// createPunchlist turns the drafts of a decision into identified items
// numbered after the ones the document already has.
func (e *Engine) createPunchlist(ctx context.Context, tx store.Tx, doc *store.Document, stage *store.Stage, actor Actor, drafts []parsedDraft, now time.Time, ob *outbox) ([]*store.PunchlistItem, error) {
	existing, err := tx.CountPunchlist(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("count punchlist: %w", err)
	}

	items := make([]*store.PunchlistItem, len(drafts))
	for i, d := range drafts {
		items[i] = &store.PunchlistItem{
			ID:                   uuid.New(),
			Number:               fmt.Sprintf("PL-%s-%02d", doc.Code, existing+i+1),
			DocumentID:           doc.ID,
			StageID:              stage.ID,
			Description:          d.Description,
			Category:             d.Category,
			Severity:             d.severity,
			AssignedTeam:         d.AssignedTeam,
			Status:               store.PunchlistIdentified,
			TargetCompletionDate: d.TargetCompletionDate,
			EvidenceBeforeRef:    d.EvidenceBeforeRef,
			IdentifiedBy:         actor.ID,
			IdentifiedAt:         now,
		}
	}
	if err := tx.CreatePunchlistItems(ctx, items); err != nil {
		return nil, fmt.Errorf("create punchlist items: %w", err)
	}

	for _, item := range items {
		e.punchlistChanged(item, actor.ID, hermes.SubjectPunchlistCreated, ob)
	}
	return items, nil
}

// StartRectification moves an identified item into work.
func (e *Engine) StartRectification(ctx context.Context, actor Actor, itemID uuid.UUID) (*store.PunchlistItem, error) {
	return e.transitionPunchlist(ctx, actor, itemID, store.PunchlistIdentified, store.PunchlistInProgress, hermes.SubjectPunchlistStarted,
		func(item *store.PunchlistItem, now time.Time) error {
			item.StartedAt = &now
			return nil
		})
}

// CompleteRectification records the field team's fix and the after evidence.
func (e *Engine) CompleteRectification(ctx context.Context, actor Actor, itemID uuid.UUID, notes, afterRef string) (*store.PunchlistItem, error) {
	return e.transitionPunchlist(ctx, actor, itemID, store.PunchlistInProgress, store.PunchlistRectified, hermes.SubjectPunchlistRectified,
		func(item *store.PunchlistItem, now time.Time) error {
			item.RectificationNotes = notes
			item.EvidenceAfterRef = afterRef
			item.CompletedBy = actor.ID
			item.CompletedByRole = actor.Role
			item.CompletedAt = &now
			return nil
		})
}

// Verify closes a rectified item. The verifier must hold a different role
// from whoever completed the rectification.
func (e *Engine) Verify(ctx context.Context, actor Actor, itemID uuid.UUID) (*store.PunchlistItem, error) {
	return e.transitionPunchlist(ctx, actor, itemID, store.PunchlistRectified, store.PunchlistVerified, hermes.SubjectPunchlistVerified,
		func(item *store.PunchlistItem, now time.Time) error {
			if item.CompletedByRole == actor.Role {
				return detail(ErrSegregationOfDuties, "%s completed %s", item.CompletedByRole, item.Number)
			}
			item.VerifiedBy = actor.ID
			item.VerifiedByRole = actor.Role
			item.VerifiedAt = &now
			return nil
		})
}

func (e *Engine) transitionPunchlist(
	ctx context.Context,
	actor Actor,
	itemID uuid.UUID,
	from, to store.PunchlistStatus,
	subject func(string) string,
	apply func(item *store.PunchlistItem, now time.Time) error,
) (*store.PunchlistItem, error) {
	ob := &outbox{}
	var item *store.PunchlistItem
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		item, err = tx.LockPunchlistItem(ctx, itemID)
		if err != nil {
			return fmt.Errorf("lock punchlist item: %w", err)
		}
		if item == nil {
			return ErrPunchlistItemNotFound
		}
		if item.Status != from {
			return detail(ErrInvalidPunchlistTransition, "%s is %s, want %s", item.Number, item.Status, from)
		}

		now := e.clock()
		if err := apply(item, now); err != nil {
			return err
		}
		item.Status = to
		if err := tx.UpdatePunchlistItem(ctx, item); err != nil {
			return fmt.Errorf("update punchlist item: %w", err)
		}
		e.punchlistChanged(item, actor.ID, subject, ob)
		return e.record(ctx, tx, item.DocumentID, "punchlist_"+string(to), actor.ID, map[string]interface{}{
			"item_id": item.ID.String(),
			"number":  item.Number,
		})
	})
	if err != nil {
		return nil, observe(err)
	}
	e.flush(ob)
	return item, nil
}

func (e *Engine) punchlistChanged(item *store.PunchlistItem, actorID string, subject func(string) string, ob *outbox) {
	status := item.Status
	ob.after(func() {
		metrics.PunchlistTransitions.WithLabelValues(string(status)).Inc()
		e.logger.Info("punchlist item updated",
			"document_id", item.DocumentID,
			"number", item.Number,
			"severity", item.Severity,
			"status", status,
		)
	})
	ob.add(subject(item.DocumentID.String()), hermes.PunchlistEvent{
		ItemID:     item.ID.String(),
		Number:     item.Number,
		DocumentID: item.DocumentID.String(),
		StageID:    item.StageID.String(),
		Severity:   string(item.Severity),
		Status:     string(status),
		ActorID:    actorID,
	})
}

// ActiveItemsFor returns the document's items that still need field work,
// critical first and oldest first within a severity.
func (e *Engine) ActiveItemsFor(ctx context.Context, docID uuid.UUID) ([]*store.PunchlistItem, error) {
	doc, err := e.store.GetDocument(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	if doc == nil {
		return nil, observe(ErrDocumentNotFound)
	}
	return e.store.ListPunchlist(ctx, store.PunchlistFilter{DocumentID: &docID, ActiveOnly: true})
}

func (e *Engine) ListPunchlist(ctx context.Context, filter store.PunchlistFilter) ([]*store.PunchlistItem, error) {
	return e.store.ListPunchlist(ctx, filter)
}
