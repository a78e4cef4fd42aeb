package httpadapter

import (
	"net/http"

	"github.com/arxlab/litagent/internal/core/domain"
	"github.com/arxlab/litagent/internal/core/usecase"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput), domain.IsKind(err, domain.ErrValidation):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrPermission):
		return http.StatusForbidden
	case domain.IsKind(err, domain.ErrNotFound):
		return http.StatusNotFound
	case usecase.IsRetryableProviderError(err):
		// Degraded dependency, not a caller mistake: the client may retry.
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
