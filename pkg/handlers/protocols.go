package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trialmatch/protocol-engine/pkg/auth"
	"github.com/trialmatch/protocol-engine/pkg/models"
	"github.com/trialmatch/protocol-engine/pkg/services"
)

// maxBodyBytes bounds create and update payloads.
const maxBodyBytes = 1 << 20

// ScopeMiddleware wraps a handler with a request-scoped database connection.
type ScopeMiddleware func(http.HandlerFunc) http.HandlerFunc

// ============================================================================
// Response Types
// ============================================================================

// SiteMatchResponse for POST /api/protocols/{id}/site-matching
type SiteMatchResponse struct {
	Sites []*models.ScoredSite `json:"sites"`
	Total int                  `json:"total"`
}

// HistoryResponse for GET /api/protocols/{id}/history
type HistoryResponse struct {
	Entries []*models.HistoryEntry `json:"entries"`
}

// ============================================================================
// Handler
// ============================================================================

// ProtocolsHandler handles protocol HTTP requests.
type ProtocolsHandler struct {
	protocolService services.ProtocolService
	userService     services.UserService
	siteMatcher     services.SiteMatcher
	compliance      services.ComplianceSimulator
	logger          *zap.Logger
}

// NewProtocolsHandler creates a new protocols handler.
func NewProtocolsHandler(
	protocolService services.ProtocolService,
	userService services.UserService,
	siteMatcher services.SiteMatcher,
	compliance services.ComplianceSimulator,
	logger *zap.Logger,
) *ProtocolsHandler {
	return &ProtocolsHandler{
		protocolService: protocolService,
		userService:     userService,
		siteMatcher:     siteMatcher,
		compliance:      compliance,
		logger:          logger,
	}
}

// RegisterRoutes registers the protocol routes on the given mux.
func (h *ProtocolsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scopeMiddleware ScopeMiddleware) {
	base := "/api/protocols"

	mux.HandleFunc("GET "+base, authMiddleware.RequireAuth(scopeMiddleware(h.List)))
	mux.HandleFunc("POST "+base, authMiddleware.RequireAuth(scopeMiddleware(h.Create)))
	mux.HandleFunc("GET "+base+"/{id}", authMiddleware.RequireAuth(scopeMiddleware(h.Get)))
	mux.HandleFunc("PUT "+base+"/{id}", authMiddleware.RequireAuth(scopeMiddleware(h.Update)))
	mux.HandleFunc("DELETE "+base+"/{id}", authMiddleware.RequireAuth(scopeMiddleware(h.Delete)))
	mux.HandleFunc("GET "+base+"/{id}/history", authMiddleware.RequireAuth(scopeMiddleware(h.History)))
	mux.HandleFunc("POST "+base+"/{id}/site-matching", authMiddleware.RequireAuth(scopeMiddleware(h.MatchSites)))
	mux.HandleFunc("POST "+base+"/{id}/compliance-check", authMiddleware.RequireAuth(scopeMiddleware(h.CheckCompliance)))
}

// List handles GET /api/protocols
func (h *ProtocolsHandler) List(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	filters, page, pageSize, ok := parseListQuery(w, r, h.logger)
	if !ok {
		return
	}

	result, err := h.protocolService.List(r.Context(), actorID, filters, page, pageSize)
	if err != nil {
		writeServiceError(w, err, "list", h.logger)
		return
	}

	h.respond(w, http.StatusOK, result)
}

// Create handles POST /api/protocols
func (h *ProtocolsHandler) Create(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	draft, err := services.DecodeProtocolDraft(body)
	if err != nil {
		writeServiceError(w, err, "create", h.logger)
		return
	}

	if !h.syncActor(w, r, "create") {
		return
	}

	created, err := h.protocolService.Create(r.Context(), actorID, draft)
	if err != nil {
		writeServiceError(w, err, "create", h.logger)
		return
	}

	h.respond(w, http.StatusCreated, created)
}

// Get handles GET /api/protocols/{id}
func (h *ProtocolsHandler) Get(w http.ResponseWriter, r *http.Request) {
	actorID, protocolID, ok := h.actorAndProtocol(w, r)
	if !ok {
		return
	}

	protocol, err := h.protocolService.Get(r.Context(), actorID, protocolID)
	if err != nil {
		writeServiceError(w, err, "get", h.logger)
		return
	}

	h.respond(w, http.StatusOK, protocol)
}

// Update handles PUT /api/protocols/{id}
// Only keys present in the body are changed.
func (h *ProtocolsHandler) Update(w http.ResponseWriter, r *http.Request) {
	actorID, protocolID, ok := h.actorAndProtocol(w, r)
	if !ok {
		return
	}
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	patch, err := services.DecodeProtocolPatch(body)
	if err != nil {
		writeServiceError(w, err, "update", h.logger)
		return
	}

	if !h.syncActor(w, r, "update") {
		return
	}

	updated, err := h.protocolService.Update(r.Context(), actorID, protocolID, patch)
	if err != nil {
		writeServiceError(w, err, "update", h.logger)
		return
	}

	h.respond(w, http.StatusOK, updated)
}

// Delete handles DELETE /api/protocols/{id}
func (h *ProtocolsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actorID, protocolID, ok := h.actorAndProtocol(w, r)
	if !ok {
		return
	}

	if err := h.protocolService.Delete(r.Context(), actorID, protocolID); err != nil {
		writeServiceError(w, err, "delete", h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// History handles GET /api/protocols/{id}/history
func (h *ProtocolsHandler) History(w http.ResponseWriter, r *http.Request) {
	actorID, protocolID, ok := h.actorAndProtocol(w, r)
	if !ok {
		return
	}

	entries, err := h.protocolService.ListHistory(r.Context(), actorID, protocolID)
	if err != nil {
		writeServiceError(w, err, "history", h.logger)
		return
	}

	h.respond(w, http.StatusOK, HistoryResponse{Entries: entries})
}

// MatchSites handles POST /api/protocols/{id}/site-matching
func (h *ProtocolsHandler) MatchSites(w http.ResponseWriter, r *http.Request) {
	actorID, protocolID, ok := h.actorAndProtocol(w, r)
	if !ok {
		return
	}

	sites, err := h.siteMatcher.MatchSites(r.Context(), actorID, protocolID)
	if err != nil {
		writeServiceError(w, err, "site-matching", h.logger)
		return
	}

	h.respond(w, http.StatusOK, SiteMatchResponse{Sites: sites, Total: len(sites)})
}

// CheckCompliance handles POST /api/protocols/{id}/compliance-check
// The simulator itself is permission-free; read access is checked here.
func (h *ProtocolsHandler) CheckCompliance(w http.ResponseWriter, r *http.Request) {
	actorID, protocolID, ok := h.actorAndProtocol(w, r)
	if !ok {
		return
	}

	if err := h.protocolService.AuthorizeRead(r.Context(), actorID, protocolID); err != nil {
		writeServiceError(w, err, "compliance-check", h.logger)
		return
	}

	report, err := h.compliance.Evaluate(r.Context(), protocolID)
	if err != nil {
		writeServiceError(w, err, "compliance-check", h.logger)
		return
	}

	h.respond(w, http.StatusOK, report)
}

// ============================================================================
// Helpers
// ============================================================================

func (h *ProtocolsHandler) actor(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	actorID, err := auth.RequireActorID(r.Context())
	if err != nil {
		if err := ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return actorID, true
}

// syncActor records the caller in the users table before a write that
// references it as creator or history author.
func (h *ProtocolsHandler) syncActor(w http.ResponseWriter, r *http.Request, op string) bool {
	if _, err := h.userService.SyncActor(r.Context()); err != nil {
		writeServiceError(w, err, op, h.logger)
		return false
	}
	return true
}

func (h *ProtocolsHandler) actorAndProtocol(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	protocolID, ok := ParseProtocolID(w, r, h.logger)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return actorID, protocolID, true
}

func (h *ProtocolsHandler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		status, code, message := http.StatusBadRequest, "invalid_request", "Invalid request body"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status, code, message = http.StatusRequestEntityTooLarge, "body_too_large", "Request body is too large"
		}
		if err := ErrorResponse(w, status, code, message); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return nil, false
	}
	return body, true
}

func (h *ProtocolsHandler) respond(w http.ResponseWriter, status int, data any) {
	if err := WriteJSON(w, status, ApiResponse{Success: true, Data: data}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
