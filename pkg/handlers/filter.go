package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cohortql/cohort-engine/pkg/apperrors"
	"github.com/cohortql/cohort-engine/pkg/filter"
	"github.com/cohortql/cohort-engine/pkg/services"
)

// FilterHandler answers the cohort filter queries. Each query parameter is one
// clause: the key is an item id, the value the encoded selection ("1,2,3" for
// value membership, "60..80" for a numeric range).
type FilterHandler struct {
	aggregation *services.AggregationService
	logger      *zap.Logger
}

// NewFilterHandler creates a new filter handler.
func NewFilterHandler(aggregation *services.AggregationService, logger *zap.Logger) *FilterHandler {
	return &FilterHandler{aggregation: aggregation, logger: logger}
}

// RegisterRoutes registers the filter handler's routes on the given mux.
func (h *FilterHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/filter", h.Filter)
}

// Filter handles GET /api/filter requests.
func (h *FilterHandler) Filter(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()

	clauses, err := parseClauses(r)
	if err != nil {
		h.logger.Info("Rejected filter request",
			zap.String("request_id", requestID),
			zap.Error(err))
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_filter", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	response, err := h.aggregation.Filter(r.Context(), clauses)
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidFilter) {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_filter", err.Error()); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		h.logger.Error("Failed to answer filter request",
			zap.String("request_id", requestID),
			zap.Int("clauses", len(clauses)),
			zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "filter_failed", "internal error"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// parseClauses turns the query string into clauses. Keys are processed in
// sorted order so a bad request reports the same first offender every time.
func parseClauses(r *http.Request) ([]filter.Clause, error) {
	query := r.URL.Query()
	keys := make([]string, 0, len(query))
	for key := range query {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	clauses := make([]filter.Clause, 0, len(keys))
	for _, key := range keys {
		itemID, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("%w: item id %q is not numeric", apperrors.ErrInvalidFilter, key)
		}
		values := query[key]
		if len(values) > 1 {
			// Taking only the first value would silently narrow the request.
			return nil, fmt.Errorf("%w: item id %q given %d times", apperrors.ErrInvalidFilter, key, len(values))
		}
		clause, err := filter.Parse(itemID, values[0])
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, clause)
	}
	return clauses, nil
}
