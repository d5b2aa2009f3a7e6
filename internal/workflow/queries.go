package workflow

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/ATPFlow/internal/store"
)

type ChecklistSummary struct {
	Total    int `json:"total"`
	Pass     int `json:"pass"`
	Fail     int `json:"fail"`
	NA       int `json:"na"`
	Critical int `json:"critical_findings"`
}

type PunchlistSummary struct {
	Total      int            `json:"total"`
	Active     int            `json:"active"`
	ByStatus   map[string]int `json:"by_status"`
	BySeverity map[string]int `json:"by_severity"`
}

// DocumentView is the full aggregate returned to readers, with progress and
// SLA derived at read time.
type DocumentView struct {
	*store.Document
	Progress         Progress               `json:"progress"`
	Stages           []*store.Stage         `json:"stages"`
	Checklist        []*store.ChecklistItem `json:"checklist"`
	Punchlist        []*store.PunchlistItem `json:"punchlist"`
	ChecklistSummary ChecklistSummary       `json:"checklist_summary"`
	PunchlistSummary PunchlistSummary       `json:"punchlist_summary"`
}

func (e *Engine) GetDocument(ctx context.Context, id uuid.UUID) (*DocumentView, error) {
	doc, err := e.store.GetDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	return e.view(ctx, doc)
}

func (e *Engine) GetDocumentByCode(ctx context.Context, code string) (*DocumentView, error) {
	doc, err := e.store.GetDocumentByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", code, err)
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	return e.view(ctx, doc)
}

func (e *Engine) view(ctx context.Context, doc *store.Document) (*DocumentView, error) {
	stages, err := e.store.GetStages(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("get stages: %w", err)
	}
	checklist, err := e.store.GetChecklist(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("get checklist: %w", err)
	}
	punchlist, err := e.store.ListPunchlist(ctx, store.PunchlistFilter{DocumentID: &doc.ID})
	if err != nil {
		return nil, fmt.Errorf("list punchlist: %w", err)
	}

	v := &DocumentView{
		Document:         doc,
		Progress:         documentProgress(doc, stages, e.clock()),
		Stages:           stages,
		Checklist:        checklist,
		Punchlist:        punchlist,
		ChecklistSummary: summarizeChecklist(checklist),
		PunchlistSummary: summarizePunchlist(punchlist),
	}
	return v, nil
}

func summarizeChecklist(items []*store.ChecklistItem) ChecklistSummary {
	var s ChecklistSummary
	for _, it := range items {
		s.Total++
		switch it.Result {
		case store.ResultPass:
			s.Pass++
		case store.ResultFail:
			s.Fail++
			if it.Severity != nil && *it.Severity == store.SeverityCritical {
				s.Critical++
			}
		case store.ResultNA:
			s.NA++
		}
	}
	return s
}

func summarizePunchlist(items []*store.PunchlistItem) PunchlistSummary {
	s := PunchlistSummary{ByStatus: map[string]int{}, BySeverity: map[string]int{}}
	for _, it := range items {
		s.Total++
		s.ByStatus[string(it.Status)]++
		s.BySeverity[string(it.Severity)]++
		if it.Status.Active() {
			s.Active++
		}
	}
	return s
}

// DocumentSummary is one row of a document listing.
type DocumentSummary struct {
	*store.Document
	Progress Progress `json:"progress"`
}

func (e *Engine) ListDocuments(ctx context.Context, filter store.DocumentFilter) ([]*DocumentSummary, error) {
	docs, err := e.store.ListDocuments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	now := e.clock()
	out := make([]*DocumentSummary, 0, len(docs))
	for _, doc := range docs {
		stages, err := e.store.GetStages(ctx, doc.ID)
		if err != nil {
			return nil, fmt.Errorf("get stages for %s: %w", doc.Code, err)
		}
		out = append(out, &DocumentSummary{Document: doc, Progress: documentProgress(doc, stages, now)})
	}
	return out, nil
}

// PendingReview is a pending stage with its SLA evaluated at read time.
type PendingReview struct {
	*store.PendingStage
	SLAStatus      SLAStatus `json:"sla_status"`
	HoursRemaining int       `json:"hours_remaining"`
	Urgent         bool      `json:"urgent"`
}

// ListPending returns the pending stages for role, or for every role when
// role is nil, earliest deadline first.
func (e *Engine) ListPending(ctx context.Context, role *store.Role) ([]*PendingReview, error) {
	stages, err := e.store.ListPendingStages(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("list pending stages: %w", err)
	}
	now := e.clock()
	out := make([]*PendingReview, 0, len(stages))
	for _, st := range stages {
		pr := &PendingReview{PendingStage: st, SLAStatus: SLAOnTime}
		if st.SLADeadline != nil {
			status, hours, urgent := slaFor(*st.SLADeadline, now)
			pr.SLAStatus = status
			pr.HoursRemaining = *hours
			pr.Urgent = urgent
		}
		out = append(out, pr)
	}
	return out, nil
}

type Dashboard struct {
	*store.DashboardStats
	// ApprovalRate is approved over finished documents, as a percentage
	// with one decimal.
	ApprovalRate float64 `json:"approval_rate"`
}

func (e *Engine) Dashboard(ctx context.Context, role *store.Role) (*Dashboard, error) {
	stats, err := e.store.GetDashboardStats(ctx, role, e.clock())
	if err != nil {
		return nil, fmt.Errorf("dashboard stats: %w", err)
	}
	d := &Dashboard{DashboardStats: stats}
	approved := stats.ByStatus[string(store.DocumentApproved)]
	rejected := stats.ByStatus[string(store.DocumentRejected)]
	if finished := approved + rejected; finished > 0 {
		d.ApprovalRate = math.Round(1000*float64(approved)/float64(finished)) / 10
	}
	return d, nil
}

func (e *Engine) Events(ctx context.Context, docID uuid.UUID) ([]*store.DocumentEvent, error) {
	doc, err := e.store.GetDocument(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	return e.store.GetDocumentEvents(ctx, docID)
}
