package handlers

import (
	"net/http"

	"github.com/pettinen/gifdome/models"
	"github.com/pettinen/gifdome/services"
)

type AdminHandler struct {
	authService        services.AuthService
	tournamentService  services.TournamentService
	progressionService services.ProgressionService
}

func NewAdminHandler(as services.AuthService, ts services.TournamentService, ps services.ProgressionService) *AdminHandler {
	return &AdminHandler{
		authService:        as,
		tournamentService:  ts,
		progressionService: ps,
	}
}

// Login exchanges admin credentials for a signed token.
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	var creds models.AdminCredentials
	if err := readJSON(w, r, &creds); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	token, err := h.authService.Login(r.Context(), creds)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	response := jsonResponse{"token": token}
	if err := writeJSON(w, http.StatusOK, response, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// Seeding replaces the staged bracket order with the submitted one.
func (h *AdminHandler) Seeding(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Seeding []string `json:"seeding"`
	}
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	if err := h.tournamentService.StageSeeding(r.Context(), input.Seeding); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	response := jsonResponse{"staged": len(input.Seeding)}
	if err := writeJSON(w, http.StatusOK, response, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// Advance closes the current poll and moves the bracket along, bypassing
// the duration and vote count gates.
func (h *AdminHandler) Advance(w http.ResponseWriter, r *http.Request) {
	if err := h.progressionService.Advance(r.Context()); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	response := jsonResponse{"status": "advanced"}
	if err := writeJSON(w, http.StatusOK, response, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// Reset wipes the tournament back to not started.
func (h *AdminHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.tournamentService.Reset(r.Context()); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	response := jsonResponse{"status": "reset"}
	if err := writeJSON(w, http.StatusOK, response, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
