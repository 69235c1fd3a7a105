package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/shopkv/internal/database"
	"github.com/charlesng35/shopkv/internal/kv"
	appErrors "github.com/charlesng35/shopkv/pkg/errors"
	"github.com/charlesng35/shopkv/pkg/response"
)

// KV actions accepted by POST /api/kv.
const (
	actionGet     = "get"
	actionGetAll  = "getAll"
	actionSet     = "set"
	actionSetMany = "setMany"
	actionDelete  = "delete"
)

// KVHandler adapts the KV wire contract onto the store service.
type KVHandler struct {
	service *kv.Service
}

// NewKVHandler constructs a KV handler.
func NewKVHandler(service *kv.Service) *KVHandler {
	return &KVHandler{service: service}
}

type kvRequest struct {
	Action  string                     `json:"action" validate:"required,oneof=get getAll set setMany delete"`
	Key     string                     `json:"key" validate:"omitempty,notblank"`
	Value   json.RawMessage            `json:"value"`
	Entries map[string]json.RawMessage `json:"entries" validate:"required_if=Action setMany"`
}

type kvGetResponse struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
	Found bool   `json:"found"`
}

type kvWriteResponse struct {
	Version kv.DataVersion `json:"version"`
}

// POST /api/kv
func (h *KVHandler) Handle(c *gin.Context) {
	var req kvRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)

	switch req.Action {
	case actionGet:
		value, found, err := h.service.Get(ctx, req.Key)
		if err != nil {
			response.Error(c, kvError(err))
			return
		}
		response.Success(c, http.StatusOK, kvGetResponse{Key: req.Key, Value: value, Found: found})

	case actionGetAll:
		entries, err := h.service.GetAll(ctx)
		if err != nil {
			response.Error(c, kvError(err))
			return
		}
		response.Success(c, http.StatusOK, gin.H{"entries": entries})

	case actionSet:
		if err := h.service.Set(ctx, req.Key, kv.FromWire(req.Value)); err != nil {
			response.Error(c, kvError(err))
			return
		}
		response.Success(c, http.StatusOK, kvWriteResponse{Version: h.service.Version()})

	case actionSetMany:
		values := make(map[string]any, len(req.Entries))
		for key, raw := range req.Entries {
			values[key] = kv.FromWire(raw)
		}
		if err := h.service.SetMany(ctx, values); err != nil {
			response.Error(c, kvError(err))
			return
		}
		response.Success(c, http.StatusOK, kvWriteResponse{Version: h.service.Version()})

	case actionDelete:
		if err := h.service.Delete(ctx, req.Key); err != nil {
			response.Error(c, kvError(err))
			return
		}
		response.Success(c, http.StatusOK, kvWriteResponse{Version: h.service.Version()})
	}
}

// GET /api/kv/version
func (h *KVHandler) Version(c *gin.Context) {
	response.Success(c, http.StatusOK, h.service.Version())
}

func kvError(err error) error {
	switch {
	case errors.Is(err, kv.ErrInvalidKey), errors.Is(err, kv.ErrInvalidValue):
		return appErrors.NewBadRequest(err.Error())
	case errors.Is(err, database.ErrNotConfigured):
		return appErrors.ErrBackendUnavailable.WithInternal(err)
	default:
		return appErrors.Wrap(err, "kv operation failed")
	}
}
