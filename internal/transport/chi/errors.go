package chi

import (
	"context"
	"errors"
	"net/http"

	"github.com/kailas-cloud/dicomtags/internal/domain"
	"github.com/kailas-cloud/dicomtags/internal/domain/validation"
	"github.com/kailas-cloud/dicomtags/internal/usecase/indexer"
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

func defaultErrorHandlers() []errorHandler {
	return []errorHandler{
		validationHandler,
		sentinelHandler(domain.ErrInvalidTag, http.StatusBadRequest, codeInvalidTag),
		sentinelHandler(domain.ErrMissingVR, http.StatusBadRequest, codeInvalidTag),
		sentinelHandler(domain.ErrUnsupportedVR, http.StatusBadRequest, codeInvalidTag),
		sentinelHandler(domain.ErrInvalidInstance, http.StatusBadRequest, codeInvalidInstance),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, codeNotFound),
		sentinelHandler(domain.ErrAlreadySupported, http.StatusConflict, codeAlreadySupported),
		sentinelHandler(domain.ErrAlreadyExists, http.StatusConflict, codeAlreadyExists),
		sentinelHandler(domain.ErrTagLimitExceeded, http.StatusConflict, codeLimitExceeded),
		sentinelHandler(domain.ErrBusy, http.StatusConflict, codeBusy),
		sentinelHandler(domain.ErrConflict, http.StatusConflict, codeConflict),
		sentinelHandler(domain.ErrTagsChanged, http.StatusConflict, codeConflict),
		sentinelHandler(domain.ErrUpgradeRequired, http.StatusNotImplemented, codeUpgradeRequired),
		sentinelHandler(context.DeadlineExceeded, http.StatusServiceUnavailable, codeUnavailable),
	}
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeJSON(w, status, ErrorResponse{
			Code:    code,
			Message: safeDomainMessage(err),
			Tag:     tagPath(err),
		})
		return true
	}
}

// validationHandler reports the rejected element of a failed ingestion.
func validationHandler(w http.ResponseWriter, err error) bool {
	var verr *validation.Error
	if !errors.As(err, &verr) {
		return false
	}
	resp := ErrorResponse{
		Code:    codeValidationFailed,
		Message: verr.Error(),
		Failure: &FailureDetail{
			Code:    int(verr.Code),
			Reason:  verr.Code.String(),
			Element: verr.Name,
			VR:      string(verr.VR),
			Value:   verr.Value,
		},
	}
	var te *indexer.TagError
	if errors.As(err, &te) {
		resp.Tag = te.Entry.Path()
	}
	writeJSON(w, http.StatusUnprocessableEntity, resp)
	return true
}

// safeDomainMessage returns a client message without exposing store internals.
// Registry errors keep their detail; everything else collapses to its sentinel.
func safeDomainMessage(err error) string {
	var te *domain.TagError
	if errors.As(err, &te) {
		return te.Error()
	}
	sentinels := []error{
		domain.ErrInvalidTag,
		domain.ErrMissingVR,
		domain.ErrUnsupportedVR,
		domain.ErrInvalidInstance,
		domain.ErrNotFound,
		domain.ErrAlreadySupported,
		domain.ErrAlreadyExists,
		domain.ErrTagLimitExceeded,
		domain.ErrBusy,
		domain.ErrConflict,
		domain.ErrTagsChanged,
		domain.ErrUpgradeRequired,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "request failed"
}
