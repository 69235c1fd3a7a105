package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/shopkv/internal/cache"
	"github.com/charlesng35/shopkv/internal/database"
	"github.com/charlesng35/shopkv/internal/kv"
	"github.com/charlesng35/shopkv/internal/monitoring"
	"github.com/charlesng35/shopkv/pkg/response"
)

// PoolStatusProvider reports the relational pool state.
type PoolStatusProvider interface {
	Status() database.Status
}

// StatusHandler reports storage diagnostics.
type StatusHandler struct {
	service *kv.Service
	pool    PoolStatusProvider
	jobs    *monitoring.JobTracker
}

// NewStatusHandler constructs a status handler. pool and jobs may be nil.
func NewStatusHandler(service *kv.Service, pool PoolStatusProvider, jobs *monitoring.JobTracker) *StatusHandler {
	return &StatusHandler{service: service, pool: pool, jobs: jobs}
}

type statusResponse struct {
	Backend string                  `json:"backend"`
	Pool    *database.Status        `json:"pool,omitempty"`
	Cache   cache.Stats             `json:"cache"`
	Version kv.DataVersion          `json:"version"`
	Jobs    []monitoring.JobSummary `json:"jobs,omitempty"`
}

// GET /api/status
func (h *StatusHandler) Get(c *gin.Context) {
	payload := statusResponse{
		Backend: h.service.Backend().Kind(),
		Cache:   h.service.CacheStats(),
		Version: h.service.Version(),
	}
	if h.pool != nil {
		status := h.pool.Status()
		payload.Pool = &status
	}
	if h.jobs != nil {
		payload.Jobs = h.jobs.Jobs()
	}
	response.Success(c, http.StatusOK, payload)
}
