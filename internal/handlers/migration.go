package handlers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/shopkv/internal/database"
	"github.com/charlesng35/shopkv/internal/migration"
	appErrors "github.com/charlesng35/shopkv/pkg/errors"
	"github.com/charlesng35/shopkv/pkg/response"
)

// MigrationSecretHeader carries the shared secret for on-demand migrations.
const MigrationSecretHeader = "X-Migration-Secret"

// MigrationRunner runs both image extraction passes.
type MigrationRunner interface {
	RunAll(ctx context.Context, opts migration.Options) (migration.Report, error)
}

// MigrationHandler exposes the on-demand image extraction trigger.
type MigrationHandler struct {
	runner MigrationRunner
	secret string
}

// NewMigrationHandler constructs a handler. An empty secret limits the
// trigger to loopback callers.
func NewMigrationHandler(runner MigrationRunner, secret string) *MigrationHandler {
	return &MigrationHandler{runner: runner, secret: strings.TrimSpace(secret)}
}

// POST /api/admin/migrate-images
func (h *MigrationHandler) Trigger(c *gin.Context) {
	provided := strings.TrimSpace(c.GetHeader(MigrationSecretHeader))
	if provided == "" {
		provided = strings.TrimSpace(c.Query("secret"))
	}

	if err := migration.Authorize(h.secret, provided, net.ParseIP(c.ClientIP())); err != nil {
		response.Error(c, appErrors.ErrForbidden)
		return
	}

	force := false
	if raw := strings.TrimSpace(c.Query("force")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			response.Error(c, appErrors.NewBadRequest("force must be a boolean"))
			return
		}
		force = parsed
	}

	report, err := h.runner.RunAll(requestContext(c), migration.Options{Force: force})
	if err != nil {
		if errors.Is(err, database.ErrNotConfigured) {
			response.Error(c, appErrors.ErrBackendUnavailable.WithInternal(err))
			return
		}
		response.Error(c, appErrors.Wrap(err, "image migration failed"))
		return
	}
	response.Success(c, http.StatusOK, report)
}
