package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/cohortql/cohort-engine/pkg/config"
	"github.com/cohortql/cohort-engine/pkg/models"
	"github.com/cohortql/cohort-engine/pkg/services"
)

// MetaListResponse for GET /api/meta/categories
type MetaListResponse struct {
	Categories []models.CategoryMeta `json:"categories"`
	Total      int                   `json:"total"`
}

// CohortInfoResponse for GET /api/meta/info
type CohortInfoResponse struct {
	Title          string           `json:"title"`
	UpdateDate     string           `json:"update_date,omitempty"`
	PopulationSize int              `json:"population_size"`
	AgeRange       models.RangeMeta `json:"age_range"`
}

// MetaHandler serves the filter-sidebar metadata: categories with their items
// and values, and the cohort-level facts. Everything comes from the warmed
// snapshot, so these endpoints never touch the store.
type MetaHandler struct {
	cfg         *config.Config
	aggregation *services.AggregationService
	logger      *zap.Logger
}

// NewMetaHandler creates a new metadata handler.
func NewMetaHandler(cfg *config.Config, aggregation *services.AggregationService, logger *zap.Logger) *MetaHandler {
	return &MetaHandler{cfg: cfg, aggregation: aggregation, logger: logger}
}

// RegisterRoutes registers the metadata handler's routes on the given mux.
func (h *MetaHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/meta/categories", h.Categories)
	mux.HandleFunc("GET /api/meta/info", h.Info)
}

// Categories handles GET /api/meta/categories requests.
func (h *MetaHandler) Categories(w http.ResponseWriter, r *http.Request) {
	categories := h.aggregation.Categories()
	response := MetaListResponse{Categories: categories, Total: len(categories)}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Info handles GET /api/meta/info requests.
func (h *MetaHandler) Info(w http.ResponseWriter, r *http.Request) {
	buckets := h.aggregation.AgeBuckets()
	response := CohortInfoResponse{
		Title:          h.cfg.CohortTitle,
		UpdateDate:     h.cfg.UpdateDate,
		PopulationSize: h.aggregation.PopulationSize(),
		AgeRange:       models.RangeMeta{Min: buckets.Min, Max: buckets.Max, Step: buckets.Step},
	}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
