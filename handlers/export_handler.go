package handlers

import (
	"net/http"

	"github.com/pettinen/gifdome/services"
)

type ExportHandler struct {
	exportService services.ExportService
}

func NewExportHandler(es services.ExportService) *ExportHandler {
	return &ExportHandler{
		exportService: es,
	}
}

// Matches serves the full bracket document, translated to file identifiers.
func (h *ExportHandler) Matches(w http.ResponseWriter, r *http.Request) {
	doc, err := h.exportService.MatchesDocument(r.Context())
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, doc, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// Gifs serves every submitted animation keyed by its identifier.
func (h *ExportHandler) Gifs(w http.ResponseWriter, r *http.Request) {
	doc, err := h.exportService.GifsDocument(r.Context())
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, doc, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// Submissions serves the per-animation submission counts.
func (h *ExportHandler) Submissions(w http.ResponseWriter, r *http.Request) {
	doc, err := h.exportService.SubmissionsDocument(r.Context())
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, doc, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// Status serves the phase summary shown on the frontend.
func (h *ExportHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.exportService.Status(r.Context())
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, status, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *ExportHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	response := jsonResponse{"status": "ok"}
	if err := writeJSON(w, http.StatusOK, response, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
