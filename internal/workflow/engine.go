package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/ATPFlow/internal/catalog"
	"github.com/MikeSquared-Agency/ATPFlow/internal/classify"
	"github.com/MikeSquared-Agency/ATPFlow/internal/hermes"
	"github.com/MikeSquared-Agency/ATPFlow/internal/metrics"
	"github.com/MikeSquared-Agency/ATPFlow/internal/store"
)

// Actor is the verified caller of a mutating operation.
type Actor struct {
	ID   string
	Role store.Role
}

type Options struct {
	// BlockingSeverities are the punchlist severities that must be resolved
	// before a document can be approved. Defaults to critical.
	BlockingSeverities []store.Severity
	Classifier         *classify.Classifier
	Now                func() time.Time
}

// Engine owns every state transition of a document, its stages and its
// punchlist. All writes go through one store transaction per operation.
type Engine struct {
	store      store.Store
	catalog    *catalog.Catalog
	hermes     hermes.Client
	classifier *classify.Classifier
	blocking   []store.Severity
	now        func() time.Time
	logger     *slog.Logger
}

func New(s store.Store, c *catalog.Catalog, h hermes.Client, logger *slog.Logger, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.BlockingSeverities == nil {
		opts.BlockingSeverities = []store.Severity{store.SeverityCritical}
	}
	if opts.Classifier == nil {
		opts.Classifier = classify.NewClassifier(nil, logger)
	}
	return &Engine{
		store:      s,
		catalog:    c,
		hermes:     h,
		classifier: opts.Classifier,
		blocking:   opts.BlockingSeverities,
		now:        opts.Now,
		logger:     logger,
	}
}

func (e *Engine) Catalog() *catalog.Catalog { return e.catalog }

// clock returns the current time truncated to microseconds, the precision
// both store backends keep.
func (e *Engine) clock() time.Time {
	return e.now().UTC().Truncate(time.Microsecond)
}

// outbox collects bus events and bookkeeping during a transaction. Nothing
// in it runs unless the transaction commits.
type outbox struct {
	events []outboxEvent
	hooks  []func()
}

type outboxEvent struct {
	subject string
	data    interface{}
}

func (o *outbox) add(subject string, data interface{}) {
	o.events = append(o.events, outboxEvent{subject: subject, data: data})
}

func (o *outbox) after(fn func()) {
	o.hooks = append(o.hooks, fn)
}

func (e *Engine) flush(o *outbox) {
	for _, fn := range o.hooks {
		fn()
	}
	if e.hermes == nil {
		return
	}
	for _, ev := range o.events {
		if err := e.hermes.Publish(ev.subject, ev.data); err != nil {
			metrics.PublishFailures.Inc()
			e.logger.Warn("failed to publish workflow event", "subject", ev.subject, "error", err)
		}
	}
}

// observe counts rejected operations by kind and passes err through.
func observe(err error) error {
	if err != nil {
		metrics.WorkflowErrors.WithLabelValues(Kind(err)).Inc()
	}
	return err
}

func (e *Engine) record(ctx context.Context, tx store.Tx, docID uuid.UUID, event, actorID string, payload map[string]interface{}) error {
	ev := &store.DocumentEvent{
		ID:         uuid.New(),
		DocumentID: docID,
		Event:      event,
		ActorID:    actorID,
		Payload:    payload,
		CreatedAt:  e.clock(),
	}
	if err := tx.CreateEvent(ctx, ev); err != nil {
		return fmt.Errorf("record %s event: %w", event, err)
	}
	return nil
}

// SubmitRequest carries the vendor-supplied metadata of a new ATP document.
type SubmitRequest struct {
	SiteID           string
	DocumentType     string
	DeclaredCategory string
	FileName         string
	FileRef          string
	VendorID         string
	Notes            string
}

type SubmitResult struct {
	Document *store.Document `json:"document"`
	// Classification is set when the category was detected from the file
	// name rather than declared.
	Classification *classify.Result `json:"classification,omitempty"`
}

// Submit registers a new document awaiting document-control review.
func (e *Engine) Submit(ctx context.Context, actor Actor, req SubmitRequest) (*SubmitResult, error) {
	if req.SiteID == "" {
		return nil, observe(detail(ErrInvalidSubmission, "site id is required"))
	}

	result := &SubmitResult{}
	var detected store.Category
	if req.DeclaredCategory != "" {
		cat, err := store.ParseCategory(req.DeclaredCategory)
		if err != nil {
			return nil, observe(detail(ErrInvalidCategory, "%v", err))
		}
		detected = cat
	} else if req.FileName != "" {
		cls := e.classifier.FromFilename(req.FileName)
		detected = cls.Category
		result.Classification = &cls
	}

	now := e.clock()
	doc := &store.Document{
		ID:                uuid.New(),
		SiteID:            req.SiteID,
		DocumentType:      req.DocumentType,
		DetectedCategory:  detected,
		Status:            store.DocumentSubmitted,
		CurrentStageLabel: "Document Control Review",
		FileRef:           req.FileRef,
		FileName:          req.FileName,
		VendorID:          req.VendorID,
		SubmittedBy:       actor.ID,
		SubmissionNotes:   req.Notes,
		SubmittedAt:       now,
		UpdatedAt:         now,
	}

	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		seq, err := tx.NextSiteSequence(ctx, req.SiteID)
		if err != nil {
			return fmt.Errorf("next sequence for site %s: %w", req.SiteID, err)
		}
		doc.Code = fmt.Sprintf("ATP-%s-%03d", req.SiteID, seq)
		if err := tx.CreateDocument(ctx, doc); err != nil {
			return fmt.Errorf("create document: %w", err)
		}
		return e.record(ctx, tx, doc.ID, "submitted", actor.ID, map[string]interface{}{
			"code":              doc.Code,
			"detected_category": string(detected),
			"file_name":         req.FileName,
		})
	})
	if err != nil {
		return nil, observe(err)
	}

	label := string(detected)
	if label == "" {
		label = "unknown"
	}
	metrics.DocumentsSubmitted.WithLabelValues(label).Inc()
	e.logger.Info("document submitted",
		"document_id", doc.ID,
		"code", doc.Code,
		"site_id", doc.SiteID,
		"detected_category", detected,
	)

	ob := &outbox{}
	ob.add(hermes.SubjectDocumentSubmitted(doc.ID.String()), hermes.DocumentStatusEvent{
		DocumentID:   doc.ID.String(),
		DocumentCode: doc.Code,
		Status:       string(doc.Status),
		ActorID:      actor.ID,
	})
	e.flush(ob)

	result.Document = doc
	return result, nil
}

// DocumentControlRequest is the triage decision made before any review
// stage exists.
type DocumentControlRequest struct {
	Decision       string
	Category       string
	OverrideReason string
	Comments       string
}

type DocumentControlResult struct {
	Initialized bool            `json:"initialized"`
	Document    *store.Document `json:"document"`
}

// ReviewDocumentControl approves or rejects a submitted document. Approval
// resolves the final category and initializes the review stages in the same
// transaction.
func (e *Engine) ReviewDocumentControl(ctx context.Context, actor Actor, docID uuid.UUID, req DocumentControlRequest) (*DocumentControlResult, error) {
	if actor.Role != store.RoleDocControl {
		return nil, observe(detail(ErrForbiddenRole, "document control requires %s, got %s", store.RoleDocControl, actor.Role))
	}

	decision, err := store.ParseDecision(req.Decision)
	if err != nil || decision == store.DecisionApproveWithPunchlist {
		return nil, observe(detail(ErrInvalidDecisionValue, "document control accepts approve or reject, got %q", req.Decision))
	}

	var override store.Category
	if req.Category != "" {
		override, err = store.ParseCategory(req.Category)
		if err != nil {
			return nil, observe(detail(ErrInvalidCategory, "%v", err))
		}
	}

	ob := &outbox{}
	var doc *store.Document
	err = e.store.WithTx(ctx, func(tx store.Tx) error {
		doc, err = tx.LockDocument(ctx, docID)
		if err != nil {
			return fmt.Errorf("lock document: %w", err)
		}
		if doc == nil {
			return ErrDocumentNotFound
		}
		switch {
		case doc.Status == store.DocumentInReview:
			return ErrWorkflowAlreadyInitialized
		case doc.Status.Terminal():
			return detail(ErrDocumentNotInReview, "document is %s", doc.Status)
		}

		now := e.clock()
		doc.UpdatedAt = now

		if decision == store.DecisionReject {
			doc.Status = store.DocumentRejected
			doc.RejectedAt = &now
			doc.CurrentStageLabel = "Rejected by Document Control"
			if err := tx.UpdateDocument(ctx, doc); err != nil {
				return fmt.Errorf("update document: %w", err)
			}
			ob.add(hermes.SubjectDocumentRejected(doc.ID.String()), statusEvent(doc, actor.ID))
			return e.record(ctx, tx, doc.ID, "document_control_rejected", actor.ID, map[string]interface{}{
				"comments": req.Comments,
			})
		}

		final, ok := classify.Resolve(doc.DetectedCategory, override)
		if !ok {
			return detail(ErrInvalidCategory, "no detected category and no override supplied")
		}
		doc.FinalCategory = final
		doc.ManualOverride = override != ""
		doc.OverrideReason = req.OverrideReason
		doc.Status = store.DocumentInReview

		if err := e.initializeWorkflow(ctx, tx, doc, final, now, ob); err != nil {
			return err
		}
		ob.add(hermes.SubjectDocumentInReview(doc.ID.String()), statusEvent(doc, actor.ID))
		return e.record(ctx, tx, doc.ID, "document_control_approved", actor.ID, map[string]interface{}{
			"final_category":  string(final),
			"manual_override": doc.ManualOverride,
			"override_reason": req.OverrideReason,
			"comments":        req.Comments,
		})
	})
	if err != nil {
		return nil, observe(err)
	}

	if doc.Status == store.DocumentRejected {
		metrics.DocumentsFinished.WithLabelValues(string(store.DocumentRejected)).Inc()
	}
	e.logger.Info("document control decision",
		"document_id", doc.ID,
		"decision", decision,
		"workflow_path", doc.WorkflowPath,
	)
	e.flush(ob)

	return &DocumentControlResult{Initialized: doc.Status == store.DocumentInReview, Document: doc}, nil
}

// InitializeWorkflow materializes the stages of path for a document that has
// passed document control. Approval in ReviewDocumentControl runs the same
// path inside its own transaction, so for documents reviewed through the API
// this only reports why a second initialization is refused.
func (e *Engine) InitializeWorkflow(ctx context.Context, docID uuid.UUID, path store.Category) (*store.Document, error) {
	ob := &outbox{}
	var doc *store.Document
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		doc, err = tx.LockDocument(ctx, docID)
		if err != nil {
			return fmt.Errorf("lock document: %w", err)
		}
		if doc == nil {
			return ErrDocumentNotFound
		}
		switch {
		case doc.Status == store.DocumentSubmitted:
			return ErrDocumentControlPending
		case doc.Status.Terminal():
			return detail(ErrDocumentNotInReview, "document is %s", doc.Status)
		}

		now := e.clock()
		if err := e.initializeWorkflow(ctx, tx, doc, path, now, ob); err != nil {
			return err
		}
		return e.record(ctx, tx, doc.ID, "workflow_initialized", "", map[string]interface{}{
			"workflow_path": string(path),
		})
	})
	if err != nil {
		return nil, observe(err)
	}
	e.flush(ob)
	return doc, nil
}

func statusEvent(doc *store.Document, actorID string) hermes.DocumentStatusEvent {
	return hermes.DocumentStatusEvent{
		DocumentID:         doc.ID.String(),
		DocumentCode:       doc.Code,
		Status:             string(doc.Status),
		WorkflowPath:       string(doc.WorkflowPath),
		ProgressPercentage: doc.CompletionPercentage,
		ActorID:            actorID,
	}
}
