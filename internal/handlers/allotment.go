package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/allotter/internal/allotment"
	"github.com/shrimpsizemoose/allotter/internal/app"
	"github.com/shrimpsizemoose/allotter/internal/export"
	"github.com/shrimpsizemoose/allotter/internal/models"
)

type AllotmentHandler struct {
	service *app.Service
}

func NewAllotmentHandler(service *app.Service) *AllotmentHandler {
	return &AllotmentHandler{
		service: service,
	}
}

// Register wires every route onto mux.
func (h *AllotmentHandler) Register(mux *http.ServeMux) {
	routes := []struct {
		pattern string
		handler http.HandlerFunc
	}{
		{"POST /api/v1/admin/allotment/run", h.HandleRun},
		{"POST /api/v1/admin/allotment/publish", h.HandlePublish},
		{"POST /api/v1/admin/allotment/unpublish", h.HandleUnpublish},
		{"GET /api/v1/admin/allotment/status", h.HandleStatus},
		{"GET /api/v1/admin/allotment/current", h.HandleCurrent},
		{"GET /api/v1/admin/allotment/courses", h.HandleCourseSeats},
		{"GET /api/v1/admin/allotment/export", h.HandleExport},
		{"GET /api/v1/allotment/result", h.HandleResult},
		{"GET /api/v1/preferences", h.HandleGetPreferences},
		{"PUT /api/v1/preferences", h.HandlePutPreferences},
	}
	for _, route := range routes {
		mux.HandleFunc(route.pattern, Instrument(route.pattern, route.handler))
	}
}

func (h *AllotmentHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Auth.Require(r, app.RoleAdmin)
	if err != nil {
		writeError(w, r, err)
		return
	}

	logger.Info.Printf("Allotment run requested by %s", p.Subject)
	run, err := h.service.RunAllotment(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result": run,
	})
}

func (h *AllotmentHandler) HandlePublish(w http.ResponseWriter, r *http.Request) {
	h.setPublished(w, r, true)
}

func (h *AllotmentHandler) HandleUnpublish(w http.ResponseWriter, r *http.Request) {
	h.setPublished(w, r, false)
}

func (h *AllotmentHandler) setPublished(w http.ResponseWriter, r *http.Request, published bool) {
	p, err := h.service.Auth.Require(r, app.RoleAdmin)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// the body is optional; run_id pins the toggle to the run the admin reviewed
	var body struct {
		RunID string `json:"run_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, &allotment.ValidationError{Reasons: []string{"invalid request body"}})
		return
	}

	if published {
		err = h.service.Publish(r.Context(), body.RunID)
	} else {
		err = h.service.Unpublish(r.Context(), body.RunID)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	logger.Info.Printf("Results published=%t by %s", published, p.Subject)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"published": published,
	})
}

func (h *AllotmentHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if _, err := h.service.Auth.Require(r, app.RoleAdmin); err != nil {
		writeError(w, r, err)
		return
	}

	state, err := h.service.Status(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"published": state.Published,
		"run_id":    state.RunID,
	})
}

func (h *AllotmentHandler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	if _, err := h.service.Auth.Require(r, app.RoleAdmin); err != nil {
		writeError(w, r, err)
		return
	}

	details, err := h.service.CurrentRunDetails(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (h *AllotmentHandler) HandleCourseSeats(w http.ResponseWriter, r *http.Request) {
	if _, err := h.service.Auth.Require(r, app.RoleAdmin); err != nil {
		writeError(w, r, err)
		return
	}

	seats, err := h.service.CourseSeats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"courses": seats,
	})
}

func (h *AllotmentHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	if _, err := h.service.Auth.Require(r, app.RoleAdmin); err != nil {
		writeError(w, r, err)
		return
	}

	sheets, err := export.Workbook(r.Context(), h.service)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// buffered so a failed write still gets a JSON error
	var buf bytes.Buffer
	if err := export.WriteXLSX(&buf, sheets...); err != nil {
		writeError(w, r, err)
		return
	}

	filename := fmt.Sprintf("allotment-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		logger.Error.Printf("Failed to send export: %v", err)
	}
}

func (h *AllotmentHandler) HandleResult(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Auth.Require(r, app.RoleStudent)
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.service.StudentResult(r.Context(), p.Subject)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *AllotmentHandler) HandleGetPreferences(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Auth.Require(r, app.RoleStudent)
	if err != nil {
		writeError(w, r, err)
		return
	}

	prefs, err := h.service.Preferences(r.Context(), p.Subject)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"preferences": prefs,
	})
}

func (h *AllotmentHandler) HandlePutPreferences(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Auth.Require(r, app.RoleStudent)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var body struct {
		Preferences []models.Preference `json:"preferences"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, &allotment.ValidationError{Reasons: []string{"invalid request body"}})
		return
	}
	if body.Preferences == nil {
		body.Preferences = []models.Preference{}
	}

	if err := h.service.SubmitPreferences(r.Context(), p.Subject, body.Preferences); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"preferences": body.Preferences,
	})
}
