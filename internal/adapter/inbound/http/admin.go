package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/arena-labs/arena-gateway/internal/domain/routing"
)

// registerRequest is the POST /admin/register payload.
type registerRequest struct {
	ChallengeID    string `json:"challenge_id" validate:"required"`
	BackendAddress string `json:"backend_address" validate:"required,url"`
}

// unregisterRequest is the POST /admin/unregister payload.
type unregisterRequest struct {
	ChallengeID string `json:"challenge_id" validate:"required"`
}

// AdminHandler serves the orchestrator-facing registration endpoints.
// These are called by the platform when a challenge is deployed or torn
// down, never by MCP clients.
type AdminHandler struct {
	router   *routing.Router
	validate *validator.Validate
}

// NewAdminHandler creates the admin endpoint handler.
func NewAdminHandler(router *routing.Router) *AdminHandler {
	return &AdminHandler{
		router:   router,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// handleRegister binds a challenge backend and makes it the active route:
// POST /admin/register.
func (a *AdminHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var req registerRequest
	if err := a.decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	a.router.Register(req.ChallengeID, req.BackendAddress)
	LoggerFromContext(r.Context()).Info("registered challenge backend",
		"challenge_id", req.ChallengeID, "backend_address", req.BackendAddress)

	// Probe the backend once so the orchestrator learns immediately
	// whether the deployed challenge is actually answering.
	health, _ := a.router.HealthCheck(r.Context(), req.BackendAddress)

	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "registered",
		"challenge_id":    req.ChallengeID,
		"backend_address": req.BackendAddress,
		"backend_health":  health,
	})
}

// handleUnregister removes a challenge backend: POST /admin/unregister.
func (a *AdminHandler) handleUnregister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var req unregisterRequest
	if err := a.decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if !a.router.Unregister(req.ChallengeID) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": fmt.Sprintf("challenge %q is not registered", req.ChallengeID),
		})
		return
	}

	LoggerFromContext(r.Context()).Info("unregistered challenge backend",
		"challenge_id", req.ChallengeID)

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "unregistered",
		"challenge_id": req.ChallengeID,
	})
}

// decode unmarshals and validates an admin request payload.
func (a *AdminHandler) decode(r *http.Request, v any) error {
	defer func() { _ = r.Body.Close() }()

	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}

	if err := a.validate.Struct(v); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// formatValidationError converts validator errors to actionable messages.
func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	messages := make([]string, 0, len(verrs))
	for _, e := range verrs {
		switch e.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", fieldName(e)))
		case "url":
			messages = append(messages, fmt.Sprintf("%s must be a valid URL", fieldName(e)))
		default:
			messages = append(messages, fmt.Sprintf("%s failed validation: %s", fieldName(e), e.Tag()))
		}
	}
	return errors.New(strings.Join(messages, "; "))
}

// fieldName maps a struct field back to its JSON name.
func fieldName(e validator.FieldError) string {
	switch e.Field() {
	case "ChallengeID":
		return "challenge_id"
	case "BackendAddress":
		return "backend_address"
	default:
		return e.Field()
	}
}
