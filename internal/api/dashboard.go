package api

import (
	"net/http"

	"github.com/MikeSquared-Agency/ATPFlow/internal/catalog"
	"github.com/MikeSquared-Agency/ATPFlow/internal/store"
	"github.com/MikeSquared-Agency/ATPFlow/internal/workflow"
)

type DashboardHandler struct {
	engine *workflow.Engine
}

func NewDashboardHandler(e *workflow.Engine) *DashboardHandler {
	return &DashboardHandler{engine: e}
}

func (h *DashboardHandler) Stats(w http.ResponseWriter, r *http.Request) {
	role, ok := roleFilter(w, r)
	if !ok {
		return
	}
	d, err := h.engine.Dashboard(r.Context(), role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Catalog returns the configured stage sequence for every workflow path.
func (h *DashboardHandler) Catalog(w http.ResponseWriter, r *http.Request) {
	c := h.engine.Catalog()
	out := make(map[store.Category][]catalog.StageDef)
	for _, p := range c.Paths() {
		out[p], _ = c.Stages(p)
	}
	writeJSON(w, http.StatusOK, out)
}
