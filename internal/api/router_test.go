package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/ATPFlow/internal/auth"
	"github.com/MikeSquared-Agency/ATPFlow/internal/blobstore"
	"github.com/MikeSquared-Agency/ATPFlow/internal/catalog"
	"github.com/MikeSquared-Agency/ATPFlow/internal/config"
	"github.com/MikeSquared-Agency/ATPFlow/internal/hermes"
	"github.com/MikeSquared-Agency/ATPFlow/internal/store"
	"github.com/MikeSquared-Agency/ATPFlow/internal/workflow"
)

var testTokens = map[string]config.StaticToken{
	"tok-vendor": {UserID: "vendor-1", Role: "VENDOR"},
	"tok-dc":     {UserID: "dc-1", Role: "DOC_CONTROL"},
	"tok-bo":     {UserID: "bo-1", Role: "BO"},
	"tok-sme":    {UserID: "sme-1", Role: "SME"},
	"tok-noc":    {UserID: "noc-1", Role: "HEAD_NOC"},
	"tok-fop":    {UserID: "fop-1", Role: "FOP_RTS"},
	"tok-region": {UserID: "region-1", Role: "REGION_TEAM"},
	"tok-rth":    {UserID: "rth-1", Role: "RTH"},
	"tok-qa":     {UserID: "qa-1", Role: "QA_ENGINEER"},
}

type testServer struct {
	handler http.Handler
	engine  *workflow.Engine
	store   store.Store
	hub     *StreamHub
}

type testServerOption func(*Deps)

func withBlobs(b blobstore.Client) testServerOption {
	return func(d *Deps) { d.Blobs = b }
}

func withRateLimit(n int) testServerOption {
	return func(d *Deps) { d.RateLimitPerMinute = n }
}

func newTestServer(t *testing.T, opts ...testServerOption) *testServer {
	t.Helper()
	ctx := context.Background()
	s, err := store.NewSQLiteStore(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewStreamHub(logger)
	t.Cleanup(hub.Close)

	engine := workflow.New(s, catalog.Default(), hermes.Multi{hub}, logger, workflow.Options{})
	verifier, err := auth.NewStaticVerifier(testTokens)
	require.NoError(t, err)

	d := Deps{
		Engine:             engine,
		Verifier:           verifier,
		Hub:                hub,
		Logger:             logger,
		RateLimitPerMinute: 10000,
	}
	for _, o := range opts {
		o(&d)
	}
	return &testServer{handler: NewRouter(d), engine: engine, store: s, hub: hub}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// submitAndApprove submits a document and passes it through document control.
func (ts *testServer) submitAndApprove(t *testing.T, category string) store.Document {
	t.Helper()
	w := ts.do(t, "POST", "/api/v1/documents", "tok-vendor", SubmitDocumentRequest{
		SiteID:   "JKT001",
		Category: category,
		FileName: "atp.pdf",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sub := decode[SubmitDocumentResponse](t, w)

	w = ts.do(t, "POST", "/api/v1/documents/"+sub.ID.String()+"/document-control", "tok-dc",
		DocumentControlRequest{Decision: "approve"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[workflow.DocumentControlResult](t, w)
	require.True(t, res.Initialized)
	return *res.Document
}

func (ts *testServer) view(t *testing.T, ref string) workflow.DocumentView {
	t.Helper()
	w := ts.do(t, "GET", "/api/v1/documents/"+ref, "tok-vendor", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[workflow.DocumentView](t, w)
}

func (ts *testServer) decide(t *testing.T, doc store.Document, stage *store.Stage, token string, req DecisionRequest) *httptest.ResponseRecorder {
	t.Helper()
	path := "/api/v1/documents/" + doc.ID.String() + "/stages/" + stage.ID.String() + "/decision"
	return ts.do(t, "POST", path, token, req)
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, "GET", "/api/v1/documents", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, "GET", "/api/v1/documents", "bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSubmitDocument(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, "POST", "/api/v1/documents", "tok-vendor", SubmitDocumentRequest{
		SiteID:   "JKT001",
		FileName: "ATP_SW License_SITE01.pdf",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decode[SubmitDocumentResponse](t, w)
	assert.Equal(t, "ATP-JKT001-001", res.Code)
	assert.Equal(t, store.DocumentSubmitted, res.Document.Status)
	assert.Equal(t, "vendor-1", res.Document.SubmittedBy)
	require.NotNil(t, res.Classification)
	assert.Equal(t, store.CategorySoftware, res.Classification.Category)

	w = ts.do(t, "POST", "/api/v1/documents", "tok-vendor", SubmitDocumentRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, "POST", "/api/v1/documents", "tok-vendor", SubmitDocumentRequest{SiteID: "JKT001", Category: "plumbing"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "InvalidCategory", decode[map[string]string](t, w)["code"])
}

func TestDocumentControlRequiresRole(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, "POST", "/api/v1/documents", "tok-vendor", SubmitDocumentRequest{SiteID: "JKT001", Category: "SW"})
	require.Equal(t, http.StatusCreated, w.Code)
	sub := decode[SubmitDocumentResponse](t, w)

	w = ts.do(t, "POST", "/api/v1/documents/"+sub.ID.String()+"/document-control", "tok-bo",
		DocumentControlRequest{Decision: "approve"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, "POST", "/api/v1/documents/not-a-uuid/document-control", "tok-dc",
		DocumentControlRequest{Decision: "approve"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSoftwareWorkflowOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	doc := ts.submitAndApprove(t, "SOFTWARE")
	assert.Equal(t, store.DocumentInReview, doc.Status)
	assert.Equal(t, store.CategorySoftware, doc.WorkflowPath)

	tokens := []string{"tok-bo", "tok-sme", "tok-noc"}
	wantPct := []int{33, 67, 100}
	for i, tok := range tokens {
		v := ts.view(t, doc.ID.String())
		stage := v.Stages[i]
		require.Equal(t, store.StagePending, stage.Status)

		w := ts.decide(t, doc, stage, tok, DecisionRequest{
			Decision:  "approve",
			Checklist: []workflow.ChecklistInput{{SectionName: "Scope", Result: "pass"}},
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		res := decode[workflow.DecisionResult](t, w)
		assert.Equal(t, wantPct[i], res.ProgressPercentage)
	}

	v := ts.view(t, doc.Code)
	assert.Equal(t, store.DocumentApproved, v.Status)
	assert.Equal(t, 100, v.Progress.Percentage)
	assert.Equal(t, 3, v.ChecklistSummary.Pass)
	assert.Equal(t, "noc-1", v.ApprovedBy)
}

func TestDecisionErrorsMapToStatus(t *testing.T) {
	ts := newTestServer(t)
	doc := ts.submitAndApprove(t, "SOFTWARE")
	v := ts.view(t, doc.ID.String())

	w := ts.decide(t, doc, v.Stages[0], "tok-sme", DecisionRequest{Decision: "approve"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.decide(t, doc, v.Stages[1], "tok-sme", DecisionRequest{Decision: "approve"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.decide(t, doc, v.Stages[0], "tok-bo", DecisionRequest{Decision: "maybe"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.decide(t, doc, v.Stages[0], "tok-bo", DecisionRequest{Decision: "approve_with_punchlist"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.decide(t, doc, v.Stages[0], "tok-bo", DecisionRequest{Decision: "approve"})
	require.Equal(t, http.StatusOK, w.Code)
	w = ts.decide(t, doc, v.Stages[0], "tok-bo", DecisionRequest{Decision: "approve"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "StageAlreadyDecided", decode[map[string]string](t, w)["code"])

	w = ts.do(t, "GET", "/api/v1/documents/ATP-NOPE-001", "tok-bo", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPunchlistOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	doc := ts.submitAndApprove(t, "HARDWARE")
	v := ts.view(t, doc.ID.String())

	w := ts.decide(t, doc, v.Stages[0], "tok-fop", DecisionRequest{
		Decision: "approve_with_punchlist",
		Punchlist: []workflow.PunchlistDraft{
			{Description: "Grounding cable loose", Severity: "critical", AssignedTeam: "field-a"},
			{Description: "Label faded", Severity: "minor"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[workflow.DecisionResult](t, w)
	require.Len(t, res.Punchlist, 2)
	critical := res.Punchlist[0]

	w = ts.do(t, "GET", "/api/v1/documents/"+doc.ID.String()+"/punchlist/active", "tok-vendor", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]store.PunchlistItem](t, w), 2)

	w = ts.do(t, "GET", "/api/v1/punchlist?severity=critical&team=field-a", "tok-vendor", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]store.PunchlistItem](t, w), 1)

	base := "/api/v1/punchlist/" + critical.ID.String()
	w = ts.do(t, "POST", base+"/verify", "tok-qa", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, "POST", base+"/start", "tok-vendor", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = ts.do(t, "POST", base+"/complete", "tok-vendor", CompleteRequest{Notes: "re-crimped", EvidenceAfterRef: "blob-9"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, store.PunchlistRectified, decode[store.PunchlistItem](t, w).Status)

	w = ts.do(t, "POST", base+"/verify", "tok-vendor", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "SegregationOfDuties", decode[map[string]string](t, w)["code"])

	w = ts.do(t, "POST", base+"/verify", "tok-qa", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, store.PunchlistVerified, decode[store.PunchlistItem](t, w).Status)
}

func TestPendingReviewsDefaultToCallerRole(t *testing.T) {
	ts := newTestServer(t)
	ts.submitAndApprove(t, "SOFTWARE")
	ts.submitAndApprove(t, "HARDWARE")

	w := ts.do(t, "GET", "/api/v1/reviews/pending", "tok-bo", nil)
	require.Equal(t, http.StatusOK, w.Code)
	mine := decode[[]workflow.PendingReview](t, w)
	require.Len(t, mine, 1)
	assert.Equal(t, store.RoleBO, mine[0].RoleRequired)
	assert.Equal(t, workflow.SLAOnTime, mine[0].SLAStatus)

	w = ts.do(t, "GET", "/api/v1/reviews/pending?role=all", "tok-bo", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]workflow.PendingReview](t, w), 2)

	w = ts.do(t, "GET", "/api/v1/reviews/pending?role=fop_rts", "tok-bo", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]workflow.PendingReview](t, w), 1)

	w = ts.do(t, "GET", "/api/v1/reviews/pending?role=janitor", "tok-bo", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListDocumentsAndEvents(t *testing.T) {
	ts := newTestServer(t)
	doc := ts.submitAndApprove(t, "SOFTWARE")
	ts.submitAndApprove(t, "HARDWARE")

	w := ts.do(t, "GET", "/api/v1/documents?workflow_path=SW", "tok-vendor", nil)
	require.Equal(t, http.StatusOK, w.Code)
	docs := decode[[]workflow.DocumentSummary](t, w)
	require.Len(t, docs, 1)
	assert.Equal(t, doc.ID, docs[0].ID)

	w = ts.do(t, "GET", "/api/v1/documents?workflow_path=garden", "tok-vendor", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, "GET", "/api/v1/documents/"+doc.ID.String()+"/events", "tok-vendor", nil)
	require.Equal(t, http.StatusOK, w.Code)
	events := decode[[]store.DocumentEvent](t, w)
	require.Len(t, events, 2)
	assert.Equal(t, "submitted", events[0].Event)
	assert.Equal(t, "document_control_approved", events[1].Event)
}

func TestDashboardAndCatalog(t *testing.T) {
	ts := newTestServer(t)
	ts.submitAndApprove(t, "SOFTWARE")

	w := ts.do(t, "GET", "/api/v1/dashboard/stats?role=all", "tok-bo", nil)
	require.Equal(t, http.StatusOK, w.Code)
	d := decode[workflow.Dashboard](t, w)
	assert.Equal(t, 1, d.TotalDocuments)
	assert.Equal(t, 1, d.PendingReviews)
	assert.Zero(t, d.ApprovalRate)

	w = ts.do(t, "GET", "/api/v1/catalog", "tok-bo", nil)
	require.Equal(t, http.StatusOK, w.Code)
	cat := decode[map[string][]catalog.StageDef](t, w)
	require.Len(t, cat["SOFTWARE"], 3)
	assert.Equal(t, store.RoleHeadNOC, cat["SOFTWARE"][2].Role)
	assert.Len(t, cat["BOTH"], 5)
}

func TestMetricsRouter(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewSQLiteStore(ctx, ":memory:")
	require.NoError(t, err)
	defer s.Close()
	h := NewMetricsRouter(s)

	for _, path := range []string{"/health", "/ready", "/metrics"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}
