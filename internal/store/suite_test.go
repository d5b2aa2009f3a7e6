package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Shared behaviour checks run against every Store implementation.

var suiteT0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestDocument(site string, seq int, status DocumentStatus) *Document {
	return &Document{
		ID:                uuid.New(),
		Code:              fmt.Sprintf("ATP-%s-%03d", site, seq),
		SiteID:            site,
		Status:            status,
		CurrentStageLabel: "Document Control Review",
		SubmittedBy:       "vendor-1",
		SubmittedAt:       suiteT0,
		UpdatedAt:         suiteT0,
	}
}

func newTestStage(docID uuid.UUID, n int, role Role, status StageStatus, deadline *time.Time) *Stage {
	return &Stage{
		ID:           uuid.New(),
		DocumentID:   docID,
		StageNumber:  n,
		StageCode:    fmt.Sprintf("L%d", n),
		StageName:    fmt.Sprintf("Level %d", n),
		RoleRequired: role,
		SLAHours:     48,
		SLADeadline:  deadline,
		Status:       status,
	}
}

func at(d time.Duration) *time.Time {
	t := suiteT0.Add(d)
	return &t
}

func insertDocument(t *testing.T, s Store, d *Document, stages ...*Stage) {
	t.Helper()
	err := s.WithTx(context.Background(), func(tx Tx) error {
		if err := tx.CreateDocument(context.Background(), d); err != nil {
			return err
		}
		if len(stages) == 0 {
			return nil
		}
		return tx.CreateStages(context.Background(), stages)
	})
	require.NoError(t, err)
}

func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("document round trip", func(t *testing.T) { testDocumentRoundTrip(t, newStore(t)) })
	t.Run("site sequence", func(t *testing.T) { testSiteSequence(t, newStore(t)) })
	t.Run("rollback", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("one pending stage", func(t *testing.T) { testOnePendingStage(t, newStore(t)) })
	t.Run("pending order", func(t *testing.T) { testPendingOrder(t, newStore(t)) })
	t.Run("punchlist", func(t *testing.T) { testPunchlist(t, newStore(t)) })
	t.Run("events and checklist", func(t *testing.T) { testEventsAndChecklist(t, newStore(t)) })
	t.Run("dashboard", func(t *testing.T) { testDashboard(t, newStore(t)) })
}

func testDocumentRoundTrip(t *testing.T, s Store) {
	ctx := context.Background()
	d := newTestDocument("JKT001", 1, DocumentSubmitted)
	d.DetectedCategory = CategorySoftware
	d.FileName = "ATP_SW License.pdf"
	d.FileRef = "blob-1"
	insertDocument(t, s, d)

	got, err := s.GetDocument(ctx, d.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, d.Code, got.Code)
	assert.Equal(t, CategorySoftware, got.DetectedCategory)
	assert.Equal(t, "blob-1", got.FileRef)
	assert.True(t, got.SubmittedAt.Equal(suiteT0))
	assert.Nil(t, got.ApprovedAt)

	byCode, err := s.GetDocumentByCode(ctx, d.Code)
	require.NoError(t, err)
	require.NotNil(t, byCode)
	assert.Equal(t, d.ID, byCode.ID)

	missing, err := s.GetDocument(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)

	approved := suiteT0.Add(time.Hour)
	err = s.WithTx(ctx, func(tx Tx) error {
		locked, err := tx.LockDocument(ctx, d.ID)
		if err != nil {
			return err
		}
		locked.Status = DocumentApproved
		locked.CompletionPercentage = 100
		locked.ApprovedAt = &approved
		locked.ApprovedBy = "noc-1"
		return tx.UpdateDocument(ctx, locked)
	})
	require.NoError(t, err)

	got, err = s.GetDocument(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, DocumentApproved, got.Status)
	assert.Equal(t, 100, got.CompletionPercentage)
	require.NotNil(t, got.ApprovedAt)
	assert.True(t, got.ApprovedAt.Equal(approved))

	status := DocumentApproved
	docs, err := s.ListDocuments(ctx, DocumentFilter{Status: &status})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func testSiteSequence(t *testing.T, s Store) {
	ctx := context.Background()
	var got []int
	for _, site := range []string{"JKT001", "JKT001", "SBY002", "JKT001"} {
		err := s.WithTx(ctx, func(tx Tx) error {
			n, err := tx.NextSiteSequence(ctx, site)
			got = append(got, n)
			return err
		})
		require.NoError(t, err)
	}
	assert.Equal(t, []int{1, 2, 1, 3}, got)
}

func testRollback(t *testing.T, s Store) {
	ctx := context.Background()
	d := newTestDocument("JKT001", 1, DocumentSubmitted)
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.NextSiteSequence(ctx, "JKT001"); err != nil {
			return err
		}
		if err := tx.CreateDocument(ctx, d); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetDocument(ctx, d.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	err = s.WithTx(ctx, func(tx Tx) error {
		n, err := tx.NextSiteSequence(ctx, "JKT001")
		assert.Equal(t, 1, n, "sequence increment rolled back")
		return err
	})
	require.NoError(t, err)
}

func testOnePendingStage(t *testing.T, s Store) {
	ctx := context.Background()
	d := newTestDocument("JKT001", 1, DocumentInReview)
	first := newTestStage(d.ID, 1, RoleBO, StagePending, at(48*time.Hour))
	second := newTestStage(d.ID, 2, RoleSME, StageWaiting, nil)
	insertDocument(t, s, d, first, second)

	err := s.WithTx(ctx, func(tx Tx) error {
		second.Status = StagePending
		return tx.UpdateStage(ctx, second)
	})
	assert.Error(t, err, "a second pending stage violates the partial unique index")

	err = s.WithTx(ctx, func(tx Tx) error {
		decision := DecisionApprove
		done := suiteT0.Add(time.Hour)
		first.Status = StageCompleted
		first.Decision = &decision
		first.ReviewerID = "bo-1"
		first.CompletedAt = &done
		if err := tx.UpdateStage(ctx, first); err != nil {
			return err
		}
		second.Status = StagePending
		second.SLADeadline = at(49 * time.Hour)
		return tx.UpdateStage(ctx, second)
	})
	require.NoError(t, err)

	stages, err := s.GetStages(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, 1, stages[0].StageNumber)
	assert.Equal(t, StageCompleted, stages[0].Status)
	require.NotNil(t, stages[0].Decision)
	assert.Equal(t, DecisionApprove, *stages[0].Decision)
	assert.Equal(t, StagePending, stages[1].Status)
}

func testPendingOrder(t *testing.T, s Store) {
	ctx := context.Background()
	late := newTestDocument("JKT001", 1, DocumentInReview)
	early := newTestDocument("JKT001", 2, DocumentInReview)
	other := newTestDocument("SBY002", 1, DocumentInReview)
	finished := newTestDocument("SBY002", 2, DocumentRejected)

	insertDocument(t, s, late, newTestStage(late.ID, 1, RoleBO, StagePending, at(40*time.Hour)))
	insertDocument(t, s, early, newTestStage(early.ID, 1, RoleBO, StagePending, at(10*time.Hour)))
	insertDocument(t, s, other, newTestStage(other.ID, 1, RoleFOPRTS, StagePending, at(5*time.Hour)))
	insertDocument(t, s, finished, newTestStage(finished.ID, 1, RoleBO, StagePending, at(1*time.Hour)))

	bo := RoleBO
	pending, err := s.ListPendingStages(ctx, &bo)
	require.NoError(t, err)
	require.Len(t, pending, 2, "stages of finished documents are excluded")
	assert.Equal(t, early.Code, pending[0].DocumentCode)
	assert.Equal(t, late.Code, pending[1].DocumentCode)
	assert.Equal(t, "JKT001", pending[0].SiteID)

	all, err := s.ListPendingStages(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, other.Code, all[0].DocumentCode)
}

func testPunchlist(t *testing.T, s Store) {
	ctx := context.Background()
	d := newTestDocument("JKT001", 1, DocumentInReview)
	st := newTestStage(d.ID, 1, RoleFOPRTS, StagePending, at(48*time.Hour))
	insertDocument(t, s, d, st)

	item := func(n int, sev Severity, status PunchlistStatus, identified time.Duration) *PunchlistItem {
		return &PunchlistItem{
			ID:           uuid.New(),
			Number:       fmt.Sprintf("PL-%s-%02d", d.Code, n),
			DocumentID:   d.ID,
			StageID:      st.ID,
			Description:  fmt.Sprintf("item %d", n),
			Severity:     sev,
			AssignedTeam: "field-a",
			Status:       status,
			IdentifiedBy: "fop-1",
			IdentifiedAt: suiteT0.Add(identified),
		}
	}
	items := []*PunchlistItem{
		item(1, SeverityMinor, PunchlistIdentified, 0),
		item(2, SeverityCritical, PunchlistInProgress, time.Hour),
		item(3, SeverityCritical, PunchlistIdentified, 0),
		item(4, SeverityMajor, PunchlistVerified, 0),
	}

	var count, unresolved int
	err := s.WithTx(ctx, func(tx Tx) error {
		if err := tx.CreatePunchlistItems(ctx, items); err != nil {
			return err
		}
		var err error
		if count, err = tx.CountPunchlist(ctx, d.ID); err != nil {
			return err
		}
		unresolved, err = tx.CountUnresolvedPunchlist(ctx, d.ID, []Severity{SeverityCritical, SeverityMajor})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 4, count)
	assert.Equal(t, 2, unresolved, "verified major item is resolved")

	active, err := s.ListPunchlist(ctx, PunchlistFilter{DocumentID: &d.ID, ActiveOnly: true})
	require.NoError(t, err)
	var numbers []string
	for _, it := range active {
		numbers = append(numbers, it.Description)
	}
	assert.Equal(t, []string{"item 3", "item 2", "item 1"}, numbers)

	page, err := s.ListPunchlist(ctx, PunchlistFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "item 2", page[0].Description)

	started := suiteT0.Add(2 * time.Hour)
	err = s.WithTx(ctx, func(tx Tx) error {
		p, err := tx.LockPunchlistItem(ctx, items[0].ID)
		if err != nil {
			return err
		}
		p.Status = PunchlistInProgress
		p.StartedAt = &started
		return tx.UpdatePunchlistItem(ctx, p)
	})
	require.NoError(t, err)

	got, err := s.GetPunchlistItem(ctx, items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, PunchlistInProgress, got.Status)
	require.NotNil(t, got.StartedAt)
	assert.True(t, got.StartedAt.Equal(started))

	missing, err := s.GetPunchlistItem(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func testEventsAndChecklist(t *testing.T, s Store) {
	ctx := context.Background()
	d := newTestDocument("JKT001", 1, DocumentInReview)
	st := newTestStage(d.ID, 1, RoleBO, StagePending, at(48*time.Hour))
	insertDocument(t, s, d, st)

	sev := SeverityMajor
	err := s.WithTx(ctx, func(tx Tx) error {
		if err := tx.CreateChecklistItems(ctx, []*ChecklistItem{
			{ID: uuid.New(), DocumentID: d.ID, StageID: st.ID, ItemNumber: 1, SectionName: "Power", Result: ResultPass, CreatedAt: suiteT0},
			{ID: uuid.New(), DocumentID: d.ID, StageID: st.ID, ItemNumber: 2, SectionName: "Power", Result: ResultFail, Severity: &sev, CreatedAt: suiteT0},
		}); err != nil {
			return err
		}
		if err := tx.CreateEvent(ctx, &DocumentEvent{ID: uuid.New(), DocumentID: d.ID, Event: "submitted", ActorID: "vendor-1", CreatedAt: suiteT0}); err != nil {
			return err
		}
		return tx.CreateEvent(ctx, &DocumentEvent{
			ID: uuid.New(), DocumentID: d.ID, Event: "stage_decided", ActorID: "bo-1",
			Payload:   map[string]interface{}{"decision": "approve", "stage_number": 1},
			CreatedAt: suiteT0.Add(time.Minute),
		})
	})
	require.NoError(t, err)

	checklist, err := s.GetChecklist(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, checklist, 2)
	assert.Nil(t, checklist[0].Severity)
	require.NotNil(t, checklist[1].Severity)
	assert.Equal(t, SeverityMajor, *checklist[1].Severity)

	events, err := s.GetDocumentEvents(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "submitted", events[0].Event)
	assert.Nil(t, events[0].Payload)
	assert.Equal(t, "approve", events[1].Payload["decision"])
	assert.EqualValues(t, 1, events[1].Payload["stage_number"])
}

func testDashboard(t *testing.T, s Store) {
	ctx := context.Background()
	a := newTestDocument("JKT001", 1, DocumentInReview)
	a.WorkflowPath = CategorySoftware
	b := newTestDocument("JKT001", 2, DocumentInReview)
	b.WorkflowPath = CategoryHardware
	c := newTestDocument("JKT001", 3, DocumentApproved)
	c.WorkflowPath = CategorySoftware
	insertDocument(t, s, a, newTestStage(a.ID, 1, RoleBO, StagePending, at(-time.Hour)))
	insertDocument(t, s, b, newTestStage(b.ID, 1, RoleFOPRTS, StagePending, at(time.Hour)))
	insertDocument(t, s, c)
	insertDocument(t, s, newTestDocument("JKT001", 4, DocumentSubmitted))

	stats, err := s.GetDashboardStats(ctx, nil, suiteT0)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalDocuments)
	assert.Equal(t, 2, stats.ByStatus["in_review"])
	assert.Equal(t, 1, stats.ByStatus["approved"])
	assert.Equal(t, 2, stats.WorkflowDistribution["SOFTWARE"])
	assert.Equal(t, 2, stats.PendingReviews)
	assert.Equal(t, 1, stats.OverdueReviews)

	bo := RoleBO
	stats, err = s.GetDashboardStats(ctx, &bo, suiteT0)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PendingReviews)
	assert.Equal(t, 1, stats.OverdueReviews)
}
