package handlers

import (
	"net/http"

	"forumsearch/application/commands"
	"forumsearch/application/commands/bus"
	"forumsearch/application/queries"
	querybus "forumsearch/application/queries/bus"
	"forumsearch/pkg/common"
	apperrors "forumsearch/pkg/errors"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxAdminBody = 4 << 10

// AdminHandler serves the operator endpoints
type AdminHandler struct {
	commandBus *bus.CommandBus
	queryBus   *querybus.QueryBus
	errors     *apperrors.ErrorHandler
	logger     *zap.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(commandBus *bus.CommandBus, queryBus *querybus.QueryBus, eh *apperrors.ErrorHandler, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		commandBus: commandBus,
		queryBus:   queryBus,
		errors:     eh,
		logger:     logger,
	}
}

// Stats handles GET /api/v1/admin/stats
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	result, err := h.queryBus.Ask(r.Context(), queries.GetStatsQuery{})
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, r, http.StatusOK, result)
}

// ModelInfo handles GET /api/v1/admin/model
func (h *AdminHandler) ModelInfo(w http.ResponseWriter, r *http.Request) {
	result, err := h.queryBus.Ask(r.Context(), queries.GetModelInfoQuery{})
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, r, http.StatusOK, result)
}

// RateLimitStatus handles GET /api/v1/admin/ratelimit/{action}/{identifier}
func (h *AdminHandler) RateLimitStatus(w http.ResponseWriter, r *http.Request) {
	query := queries.GetRateLimitQuery{
		Action:     chi.URLParam(r, "action"),
		Identifier: chi.URLParam(r, "identifier"),
	}

	result, err := h.queryBus.Ask(r.Context(), query)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, r, http.StatusOK, result)
}

// InvalidateCache handles POST /api/v1/admin/cache/invalidate with an
// optional {"prefix": "..."} body
func (h *AdminHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	var cmd commands.InvalidateCacheCommand
	if err := common.ParseJSONBody(w, r, &cmd, maxAdminBody); err != nil {
		h.errors.Handle(w, r, apperrors.NewValidationErrorf("invalid request body: %v", err))
		return
	}

	result, err := h.commandBus.Send(r.Context(), cmd)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, r, http.StatusOK, result)
}

// ResetRateLimit handles DELETE /api/v1/admin/ratelimit/{action}/{identifier}
func (h *AdminHandler) ResetRateLimit(w http.ResponseWriter, r *http.Request) {
	cmd := commands.ResetRateLimitCommand{
		Action:     chi.URLParam(r, "action"),
		Identifier: chi.URLParam(r, "identifier"),
	}

	result, err := h.commandBus.Send(r.Context(), cmd)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, r, http.StatusOK, result)
}
