package llmclient

import (
	"context"
	"errors"

	"github.com/tmc/langchaingo/llms"

	"pantry-gpt/internal/scanerr"
)

// Classify wraps a model error as a scanerr.BackendError. Authentication,
// invalid-request, quota, content-filter and token-limit failures are
// permanent; timeouts, remote rate limits, unavailable providers and
// unrecognised transport errors are recoverable. Cancellation of the
// caller's context is returned unchanged.
func Classify(backend string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var llmErr *llms.Error
	if !errors.As(err, &llmErr) {
		mapped := llms.NewErrorMapper(backend).Map(err)
		if !errors.As(mapped, &llmErr) {
			return scanerr.Recoverable(backend, err)
		}
	}

	switch llmErr.Code {
	case llms.ErrCodeAuthentication,
		llms.ErrCodeInvalidRequest,
		llms.ErrCodeResourceNotFound,
		llms.ErrCodeQuotaExceeded,
		llms.ErrCodeContentFilter,
		llms.ErrCodeTokenLimit,
		llms.ErrCodeNotImplemented:
		return scanerr.Permanent(backend, err)
	case llms.ErrCodeCanceled:
		return err
	default:
		return scanerr.Recoverable(backend, err)
	}
}
