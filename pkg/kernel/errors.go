package kernel

import (
	"net/http"

	"github.com/cockroachdb/errors"

	"github.com/manthysbr/cropyield/internal/core/domain"
)

// Error codes carried in every error body.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeResourceExhausted = "RESOURCE_EXHAUSTED"
	CodeInternal          = "INTERNAL"
)

type errorResponse struct {
	Code   string                `json:"code"`
	Error  string                `json:"error"`
	Fields []domain.FieldProblem `json:"fields,omitempty"`
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, domain.ErrResourceExhausted),
		errors.Is(err, domain.ErrPoolClosed),
		errors.Is(err, domain.ErrQueueFull),
		errors.Is(err, domain.ErrQueueClosed):
		return http.StatusServiceUnavailable, CodeResourceExhausted
	}
	return http.StatusInternalServerError, CodeInternal
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	resp := errorResponse{Code: code, Error: domain.SafeMessage(err)}

	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		resp.Fields = verr.Problems
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		resp.Error = "internal error"
	} else {
		s.logger.Debug("request rejected", "code", code, "error", err)
	}
	writeJSON(w, status, resp)
}
