package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/ATPFlow/internal/blobstore"
	"github.com/MikeSquared-Agency/ATPFlow/internal/store"
	"github.com/MikeSquared-Agency/ATPFlow/internal/workflow"
)

type DocumentsHandler struct {
	engine    *workflow.Engine
	blobs     blobstore.Client
	maxUpload int64
}

func NewDocumentsHandler(e *workflow.Engine, b blobstore.Client, maxUpload int64) *DocumentsHandler {
	return &DocumentsHandler{engine: e, blobs: b, maxUpload: maxUpload}
}

type SubmitDocumentRequest struct {
	SiteID       string `json:"site_id"`
	DocumentType string `json:"document_type,omitempty"`
	Category     string `json:"category,omitempty"`
	FileName     string `json:"file_name,omitempty"`
	FileRef      string `json:"file_ref,omitempty"`
	VendorID     string `json:"vendor_id,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

type SubmitDocumentResponse struct {
	ID   uuid.UUID `json:"id"`
	Code string    `json:"code"`
	*workflow.SubmitResult
}

// Submit accepts either JSON metadata referencing an already stored file or
// a multipart form with the file itself, which is pushed to the blob store.
func (h *DocumentsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitDocumentRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if !h.readUpload(w, r, &req) {
			return
		}
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	res, err := h.engine.Submit(r.Context(), actor(r), workflow.SubmitRequest{
		SiteID:           req.SiteID,
		DocumentType:     req.DocumentType,
		DeclaredCategory: req.Category,
		FileName:         req.FileName,
		FileRef:          req.FileRef,
		VendorID:         req.VendorID,
		Notes:            req.Notes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, SubmitDocumentResponse{ID: res.Document.ID, Code: res.Document.Code, SubmitResult: res})
}

func (h *DocumentsHandler) readUpload(w http.ResponseWriter, r *http.Request, req *SubmitDocumentRequest) bool {
	if h.blobs == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "file uploads are not configured"})
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeBadRequest(w, "invalid multipart form: "+err.Error())
		return false
	}
	req.SiteID = r.FormValue("site_id")
	req.DocumentType = r.FormValue("document_type")
	req.Category = r.FormValue("category")
	req.VendorID = r.FormValue("vendor_id")
	req.Notes = r.FormValue("notes")

	file, header, err := r.FormFile("file")
	if err != nil {
		writeBadRequest(w, "file field required")
		return false
	}
	defer file.Close()

	ref, err := h.blobs.Store(r.Context(), header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "store file: " + err.Error()})
		return false
	}
	req.FileName = header.Filename
	req.FileRef = ref
	return true
}

func (h *DocumentsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.DocumentFilter{SiteID: q.Get("site_id")}
	if s := q.Get("status"); s != "" {
		status := store.DocumentStatus(strings.ToLower(s))
		filter.Status = &status
	}
	if p := q.Get("workflow_path"); p != "" {
		path, err := store.ParseCategory(p)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		filter.WorkflowPath = &path
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	docs, err := h.engine.ListDocuments(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if docs == nil {
		docs = []*workflow.DocumentSummary{}
	}
	writeJSON(w, http.StatusOK, docs)
}

// Get accepts a document id or its ATP code.
func (h *DocumentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "id")
	var (
		view *workflow.DocumentView
		err  error
	)
	if id, perr := uuid.Parse(ref); perr == nil {
		view, err = h.engine.GetDocument(r.Context(), id)
	} else {
		view, err = h.engine.GetDocumentByCode(r.Context(), ref)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// File streams the submitted ATP file from the blob store.
func (h *DocumentsHandler) File(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	view, err := h.engine.GetDocument(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if view.FileRef == "" || h.blobs == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "document has no stored file"})
		return
	}

	rc, err := h.blobs.Fetch(r.Context(), view.FileRef)
	if errors.Is(err, blobstore.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "file missing from blob store"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	if view.FileName != "" {
		w.Header().Set("Content-Disposition", `attachment; filename="`+strings.ReplaceAll(view.FileName, `"`, "")+`"`)
	}
	io.Copy(w, rc)
}

func (h *DocumentsHandler) Events(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	events, err := h.engine.Events(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if events == nil {
		events = []*store.DocumentEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

type DocumentControlRequest struct {
	Decision       string `json:"decision"`
	Category       string `json:"category,omitempty"`
	OverrideReason string `json:"override_reason,omitempty"`
	Comments       string `json:"comments,omitempty"`
}

func (h *DocumentsHandler) DocumentControl(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var req DocumentControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	res, err := h.engine.ReviewDocumentControl(r.Context(), actor(r), id, workflow.DocumentControlRequest{
		Decision:       req.Decision,
		Category:       req.Category,
		OverrideReason: req.OverrideReason,
		Comments:       req.Comments,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func parseID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeBadRequest(w, "invalid "+param)
		return uuid.Nil, false
	}
	return id, true
}
