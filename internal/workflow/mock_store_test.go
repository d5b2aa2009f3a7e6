package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/ATPFlow/internal/store"
)

// mockStore keeps everything in maps. WithTx holds the mutex for the whole
// callback and restores a snapshot when the callback fails, which gives the
// same serialisation and rollback the real stores provide.
type mockStore struct {
	mu        sync.Mutex
	docs      map[uuid.UUID]*store.Document
	stages    map[uuid.UUID]*store.Stage
	checklist []*store.ChecklistItem
	punchlist map[uuid.UUID]*store.PunchlistItem
	events    []*store.DocumentEvent
	seq       map[string]int
}

func newMockStore() *mockStore {
	return &mockStore{
		docs:      make(map[uuid.UUID]*store.Document),
		stages:    make(map[uuid.UUID]*store.Stage),
		punchlist: make(map[uuid.UUID]*store.PunchlistItem),
		seq:       make(map[string]int),
	}
}

type mockSnapshot struct {
	docs      map[uuid.UUID]*store.Document
	stages    map[uuid.UUID]*store.Stage
	checklist []*store.ChecklistItem
	punchlist map[uuid.UUID]*store.PunchlistItem
	events    []*store.DocumentEvent
	seq       map[string]int
}

func (m *mockStore) snapshot() mockSnapshot {
	s := mockSnapshot{
		docs:      make(map[uuid.UUID]*store.Document, len(m.docs)),
		stages:    make(map[uuid.UUID]*store.Stage, len(m.stages)),
		checklist: append([]*store.ChecklistItem(nil), m.checklist...),
		punchlist: make(map[uuid.UUID]*store.PunchlistItem, len(m.punchlist)),
		events:    append([]*store.DocumentEvent(nil), m.events...),
		seq:       make(map[string]int, len(m.seq)),
	}
	for k, v := range m.docs {
		s.docs[k] = cloneDoc(v)
	}
	for k, v := range m.stages {
		s.stages[k] = cloneStage(v)
	}
	for k, v := range m.punchlist {
		s.punchlist[k] = clonePunchlist(v)
	}
	for k, v := range m.seq {
		s.seq[k] = v
	}
	return s
}

func (m *mockStore) restore(s mockSnapshot) {
	m.docs = s.docs
	m.stages = s.stages
	m.checklist = s.checklist
	m.punchlist = s.punchlist
	m.events = s.events
	m.seq = s.seq
}

func cloneDoc(d *store.Document) *store.Document {
	c := *d
	return &c
}

func cloneStage(s *store.Stage) *store.Stage {
	c := *s
	return &c
}

func clonePunchlist(p *store.PunchlistItem) *store.PunchlistItem {
	c := *p
	return &c
}

func (m *mockStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&mockTx{m: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *mockStore) GetDocument(_ context.Context, id uuid.UUID) (*store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.docs[id]; ok {
		return cloneDoc(d), nil
	}
	return nil, nil
}

func (m *mockStore) GetDocumentByCode(_ context.Context, code string) (*store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.docs {
		if d.Code == code {
			return cloneDoc(d), nil
		}
	}
	return nil, nil
}

func (m *mockStore) ListDocuments(_ context.Context, f store.DocumentFilter) ([]*store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Document
	for _, d := range m.docs {
		if f.SiteID != "" && d.SiteID != f.SiteID {
			continue
		}
		if f.Status != nil && d.Status != *f.Status {
			continue
		}
		if f.WorkflowPath != nil && d.WorkflowPath != *f.WorkflowPath {
			continue
		}
		out = append(out, cloneDoc(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *mockStore) stagesFor(docID uuid.UUID) []*store.Stage {
	var out []*store.Stage
	for _, s := range m.stages {
		if s.DocumentID == docID {
			out = append(out, cloneStage(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StageNumber < out[j].StageNumber })
	return out
}

func (m *mockStore) GetStages(_ context.Context, docID uuid.UUID) ([]*store.Stage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stagesFor(docID), nil
}

func (m *mockStore) GetChecklist(_ context.Context, docID uuid.UUID) ([]*store.ChecklistItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.ChecklistItem
	for _, c := range m.checklist {
		if c.DocumentID == docID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockStore) GetPunchlistItem(_ context.Context, id uuid.UUID) (*store.PunchlistItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.punchlist[id]; ok {
		return clonePunchlist(p), nil
	}
	return nil, nil
}

func (m *mockStore) ListPunchlist(_ context.Context, f store.PunchlistFilter) ([]*store.PunchlistItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.PunchlistItem
	for _, p := range m.punchlist {
		if f.DocumentID != nil && p.DocumentID != *f.DocumentID {
			continue
		}
		if f.Status != nil && p.Status != *f.Status {
			continue
		}
		if f.Severity != nil && p.Severity != *f.Severity {
			continue
		}
		if f.AssignedTeam != "" && p.AssignedTeam != f.AssignedTeam {
			continue
		}
		if f.ActiveOnly && !p.Status.Active() {
			continue
		}
		out = append(out, clonePunchlist(p))
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if !a.IdentifiedAt.Equal(b.IdentifiedAt) {
			return a.IdentifiedAt.Before(b.IdentifiedAt)
		}
		return a.Number < b.Number
	})
	return out, nil
}

func (m *mockStore) ListPendingStages(_ context.Context, role *store.Role) ([]*store.PendingStage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.PendingStage
	for _, s := range m.stages {
		if s.Status != store.StagePending {
			continue
		}
		if role != nil && s.RoleRequired != *role {
			continue
		}
		doc := m.docs[s.DocumentID]
		if doc == nil || doc.Status != store.DocumentInReview {
			continue
		}
		out = append(out, &store.PendingStage{
			Stage:        *cloneStage(s),
			DocumentCode: doc.Code,
			SiteID:       doc.SiteID,
			WorkflowPath: doc.WorkflowPath,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SLADeadline.Before(*out[j].SLADeadline)
	})
	return out, nil
}

func (m *mockStore) GetDocumentEvents(_ context.Context, docID uuid.UUID) ([]*store.DocumentEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.DocumentEvent
	for _, e := range m.events {
		if e.DocumentID == docID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockStore) GetDashboardStats(_ context.Context, role *store.Role, now time.Time) (*store.DashboardStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &store.DashboardStats{ByStatus: map[string]int{}, WorkflowDistribution: map[string]int{}}
	for _, d := range m.docs {
		stats.TotalDocuments++
		stats.ByStatus[string(d.Status)]++
		if d.WorkflowPath != "" {
			stats.WorkflowDistribution[string(d.WorkflowPath)]++
		}
	}
	for _, s := range m.stages {
		if s.Status != store.StagePending || (role != nil && s.RoleRequired != *role) {
			continue
		}
		stats.PendingReviews++
		if s.SLADeadline != nil && s.SLADeadline.Before(now) {
			stats.OverdueReviews++
		}
	}
	for _, p := range m.punchlist {
		if p.Status.Active() {
			stats.ActivePunchlist++
			if p.Severity == store.SeverityCritical {
				stats.CriticalPunchlist++
			}
		}
	}
	return stats, nil
}

func (m *mockStore) Ping(_ context.Context) error { return nil }
func (m *mockStore) Close() error                 { return nil }

// pendingCount reads the raw state without cloning, for invariant checks.
func (m *mockStore) pendingCount(docID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.stages {
		if s.DocumentID == docID && s.Status == store.StagePending {
			n++
		}
	}
	return n
}

type mockTx struct {
	m *mockStore
}

var errDuplicatePending = errors.New("duplicate pending stage")

func (t *mockTx) NextSiteSequence(_ context.Context, siteID string) (int, error) {
	t.m.seq[siteID]++
	return t.m.seq[siteID], nil
}

func (t *mockTx) CreateDocument(_ context.Context, d *store.Document) error {
	for _, existing := range t.m.docs {
		if existing.Code == d.Code {
			return fmt.Errorf("duplicate code %s", d.Code)
		}
	}
	t.m.docs[d.ID] = cloneDoc(d)
	return nil
}

func (t *mockTx) LockDocument(_ context.Context, id uuid.UUID) (*store.Document, error) {
	if d, ok := t.m.docs[id]; ok {
		return cloneDoc(d), nil
	}
	return nil, nil
}

func (t *mockTx) UpdateDocument(_ context.Context, d *store.Document) error {
	if _, ok := t.m.docs[d.ID]; !ok {
		return fmt.Errorf("document %s missing", d.ID)
	}
	t.m.docs[d.ID] = cloneDoc(d)
	return nil
}

func (t *mockTx) GetStages(_ context.Context, docID uuid.UUID) ([]*store.Stage, error) {
	return t.m.stagesFor(docID), nil
}

// checkPending mirrors the partial unique index on pending stages.
func (t *mockTx) checkPending() error {
	seen := map[uuid.UUID]bool{}
	for _, s := range t.m.stages {
		if s.Status != store.StagePending {
			continue
		}
		if seen[s.DocumentID] {
			return errDuplicatePending
		}
		seen[s.DocumentID] = true
	}
	return nil
}

func (t *mockTx) CreateStages(_ context.Context, stages []*store.Stage) error {
	for _, s := range stages {
		t.m.stages[s.ID] = cloneStage(s)
	}
	return t.checkPending()
}

func (t *mockTx) UpdateStage(_ context.Context, s *store.Stage) error {
	if _, ok := t.m.stages[s.ID]; !ok {
		return fmt.Errorf("stage %s missing", s.ID)
	}
	t.m.stages[s.ID] = cloneStage(s)
	return t.checkPending()
}

func (t *mockTx) CreateChecklistItems(_ context.Context, items []*store.ChecklistItem) error {
	for _, it := range items {
		cp := *it
		t.m.checklist = append(t.m.checklist, &cp)
	}
	return nil
}

func (t *mockTx) CountPunchlist(_ context.Context, docID uuid.UUID) (int, error) {
	n := 0
	for _, p := range t.m.punchlist {
		if p.DocumentID == docID {
			n++
		}
	}
	return n, nil
}

func (t *mockTx) CountUnresolvedPunchlist(_ context.Context, docID uuid.UUID, severities []store.Severity) (int, error) {
	n := 0
	for _, p := range t.m.punchlist {
		if p.DocumentID != docID || !p.Status.Active() {
			continue
		}
		for _, s := range severities {
			if p.Severity == s {
				n++
			}
		}
	}
	return n, nil
}

func (t *mockTx) CreatePunchlistItems(_ context.Context, items []*store.PunchlistItem) error {
	for _, it := range items {
		t.m.punchlist[it.ID] = clonePunchlist(it)
	}
	return nil
}

func (t *mockTx) LockPunchlistItem(_ context.Context, id uuid.UUID) (*store.PunchlistItem, error) {
	if p, ok := t.m.punchlist[id]; ok {
		return clonePunchlist(p), nil
	}
	return nil, nil
}

func (t *mockTx) UpdatePunchlistItem(_ context.Context, p *store.PunchlistItem) error {
	t.m.punchlist[p.ID] = clonePunchlist(p)
	return nil
}

func (t *mockTx) CreateEvent(_ context.Context, e *store.DocumentEvent) error {
	t.m.events = append(t.m.events, e)
	return nil
}

type published struct {
	subject string
	data    interface{}
}

type mockHermes struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (h *mockHermes) Publish(subject string, data interface{}) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.events = append(h.events, published{subject, data})
	return nil
}

func (h *mockHermes) Close() {}

func (h *mockHermes) subjects() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.events))
	for i, e := range h.events {
		out[i] = e.subject
	}
	return out
}

var (
	_ store.Store = (*mockStore)(nil)
	_ store.Tx    = (*mockTx)(nil)
)
