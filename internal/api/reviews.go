package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/MikeSquared-Agency/ATPFlow/internal/auth"
	"github.com/MikeSquared-Agency/ATPFlow/internal/store"
	"github.com/MikeSquared-Agency/ATPFlow/internal/workflow"
)

type ReviewsHandler struct {
	engine *workflow.Engine
}

func NewReviewsHandler(e *workflow.Engine) *ReviewsHandler {
	return &ReviewsHandler{engine: e}
}

type DecisionRequest struct {
	Decision  string                    `json:"decision"`
	Comments  string                    `json:"comments,omitempty"`
	Checklist []workflow.ChecklistInput `json:"checklist,omitempty"`
	Punchlist []workflow.PunchlistDraft `json:"punchlist,omitempty"`
}

func (h *ReviewsHandler) Decide(w http.ResponseWriter, r *http.Request) {
	docID, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	stageID, ok := parseID(w, r, "stageId")
	if !ok {
		return
	}
	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	res, err := h.engine.SubmitDecision(r.Context(), actor(r), workflow.DecisionRequest{
		DocumentID: docID,
		StageID:    stageID,
		Decision:   req.Decision,
		Comments:   req.Comments,
		Checklist:  req.Checklist,
		Punchlist:  req.Punchlist,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Pending lists pending reviews. Without ?role the caller's own role is
// used; ?role=all lists every role.
func (h *ReviewsHandler) Pending(w http.ResponseWriter, r *http.Request) {
	role, ok := roleFilter(w, r)
	if !ok {
		return
	}
	reviews, err := h.engine.ListPending(r.Context(), role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reviews)
}

func roleFilter(w http.ResponseWriter, r *http.Request) (*store.Role, bool) {
	q := strings.TrimSpace(r.URL.Query().Get("role"))
	switch {
	case strings.EqualFold(q, "all"):
		return nil, true
	case q == "":
		p := auth.FromContext(r.Context())
		if p == nil {
			return nil, true
		}
		role := p.Role
		return &role, true
	}
	role, err := store.ParseRole(q)
	if err != nil {
		writeBadRequest(w, err.Error())
		return nil, false
	}
	return &role, true
}
