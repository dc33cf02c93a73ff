package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/Quagm/ios-aquatics/internal/core/domain"
)

type errorResponse struct {
	Error        string   `json:"error"`
	Details      []string `json:"details,omitempty"`
	Hint         string   `json:"hint,omitempty"`
	MigrationSQL string   `json:"migration_sql,omitempty"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateRequest),
		errors.Is(err, domain.ErrConcurrentUpdate):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// errorBody hides internal errors from clients. Drift keeps its migration
// hint so an operator can fix the schema from the response.
func errorBody(err error) errorResponse {
	var (
		stockErr *domain.InsufficientStockError
		drift    *domain.SchemaDriftError
		invalid  *domain.ValidationError
		badMove  *domain.TransitionError
	)
	switch {
	case errors.As(err, &stockErr):
		return errorResponse{Error: "insufficient stock", Details: stockErr.Details()}
	case errors.As(err, &invalid):
		return errorResponse{Error: invalid.Error()}
	case errors.As(err, &badMove):
		return errorResponse{Error: badMove.Error()}
	case errors.As(err, &drift):
		return errorResponse{
			Error:        "database schema is out of date",
			Details:      []string{"missing column " + drift.Table + "." + drift.Column},
			Hint:         "apply the migration and retry",
			MigrationSQL: drift.MigrationSQL,
		}
	case errors.Is(err, domain.ErrNotFound):
		return errorResponse{Error: err.Error()}
	case errors.Is(err, domain.ErrDuplicateRequest):
		return errorResponse{Error: "duplicate request"}
	case errors.Is(err, domain.ErrConcurrentUpdate):
		return errorResponse{Error: "resource was modified concurrently, reload and retry"}
	case errors.Is(err, domain.ErrUnauthorized):
		return errorResponse{Error: "authentication required"}
	case errors.Is(err, domain.ErrForbidden):
		return errorResponse{Error: "access denied"}
	default:
		return errorResponse{Error: "internal error"}
	}
}

const adminPrefix = "/api/admin"

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	body := errorBody(err)
	// Admins are shown what the upstream said.
	var upstream *domain.UpstreamError
	if errors.As(err, &upstream) && strings.HasPrefix(c.FullPath(), adminPrefix) {
		body.Error = upstream.Error()
	}
	c.AbortWithStatusJSON(status, body)
}
