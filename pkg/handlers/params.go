package handlers

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trialmatch/protocol-engine/pkg/models"
	"github.com/trialmatch/protocol-engine/pkg/services"
)

// ParseProtocolID extracts and validates the protocol ID from the request path.
// Returns the parsed UUID and true on success, or uuid.Nil and false on error
// (after writing an error response).
// Expects path parameter: id
func ParseProtocolID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	return parseUUID(w, r, "id", "invalid_protocol_id", "Invalid protocol ID format", logger)
}

// parseUUID is the internal helper that does the actual parsing work.
func parseUUID(w http.ResponseWriter, r *http.Request, pathParam, errorCode, errorMessage string, logger *zap.Logger) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(pathParam))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, errorCode, errorMessage); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return id, true
}

// parseListQuery reads pagination and filters from the query string. Range
// checks are left to the service so they are reported with other violations;
// only non-numeric values fail here.
func parseListQuery(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (models.ProtocolFilters, int, int, bool) {
	q := r.URL.Query()

	page, ok := queryInt(w, q.Get("page"), 1, "page", logger)
	if !ok {
		return models.ProtocolFilters{}, 0, 0, false
	}
	pageSize, ok := queryInt(w, q.Get("page_size"), services.DefaultPageSize, "page_size", logger)
	if !ok {
		return models.ProtocolFilters{}, 0, 0, false
	}

	filters := models.ProtocolFilters{
		Status:          q.Get("status"),
		Company:         q.Get("company"),
		TherapeuticArea: q.Get("therapeutic_area"),
		Phase:           q.Get("phase"),
		Search:          q.Get("search"),
	}
	if v := q.Get("created_by"); v != "" {
		createdBy, err := uuid.Parse(v)
		if err != nil {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_created_by", "created_by must be a user ID"); err != nil {
				logger.Error("Failed to write error response", zap.Error(err))
			}
			return models.ProtocolFilters{}, 0, 0, false
		}
		filters.CreatedBy = &createdBy
	}

	return filters, page, pageSize, true
}

func queryInt(w http.ResponseWriter, raw string, fallback int, name string, logger *zap.Logger) (int, bool) {
	if raw == "" {
		return fallback, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_"+name, name+" must be an integer"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return 0, false
	}
	return v, true
}
