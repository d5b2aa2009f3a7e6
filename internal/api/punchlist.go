package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/ATPFlow/internal/store"
	"github.com/MikeSquared-Agency/ATPFlow/internal/workflow"
)

type PunchlistHandler struct {
	engine *workflow.Engine
}

func NewPunchlistHandler(e *workflow.Engine) *PunchlistHandler {
	return &PunchlistHandler{engine: e}
}

func (h *PunchlistHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.PunchlistFilter{AssignedTeam: q.Get("team")}
	if s := q.Get("document_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			writeBadRequest(w, "invalid document_id")
			return
		}
		filter.DocumentID = &id
	}
	if s := q.Get("status"); s != "" {
		status := store.PunchlistStatus(strings.ToLower(s))
		filter.Status = &status
	}
	if s := q.Get("severity"); s != "" {
		sev, err := store.ParseSeverity(s)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		filter.Severity = &sev
	}
	filter.ActiveOnly = q.Get("active") == "true"
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	items, err := h.engine.ListPunchlist(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []*store.PunchlistItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *PunchlistHandler) Active(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	items, err := h.engine.ActiveItemsFor(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []*store.PunchlistItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *PunchlistHandler) Start(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	item, err := h.engine.StartRectification(r.Context(), actor(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type CompleteRequest struct {
	Notes            string `json:"notes,omitempty"`
	EvidenceAfterRef string `json:"evidence_after_ref,omitempty"`
}

func (h *PunchlistHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var req CompleteRequest
	// The body is optional.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid request body")
		return
	}
	item, err := h.engine.CompleteRectification(r.Context(), actor(r), id, req.Notes, req.EvidenceAfterRef)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *PunchlistHandler) Verify(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	item, err := h.engine.Verify(r.Context(), actor(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}
