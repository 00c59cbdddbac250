package graph

import (
	"context"

	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/vvakame/libraryql/internal/errors"
	"github.com/vvakame/libraryql/internal/log"
)

const internalMessage = "internal system error"

// ErrorPresenter maps domain errors to client errors carrying
// extensions.code. Causes stay in the server log.
func ErrorPresenter(ctx context.Context, err error) *gqlerror.Error {
	logger := log.FromContext(ctx)

	var domainErr *errors.Error
	if !errors.As(err, &domainErr) {
		logger.Error(err, "unexpected resolver error")
		return &gqlerror.Error{
			Err:        err,
			Message:    internalMessage,
			Extensions: map[string]any{"code": string(errors.CodeInternal)},
		}
	}

	if domainErr.Code.Internal() {
		logger.Error(err, "resolver failed", "code", domainErr.Code)
	} else {
		logger.V(1).Info("resolver rejected request", "code", domainErr.Code, "message", domainErr.Message)
	}

	extensions := map[string]any{"code": string(domainErr.Code)}
	if domainErr.Details != nil {
		extensions["details"] = domainErr.Details
	}
	return &gqlerror.Error{
		Err:        err,
		Message:    domainErr.Message,
		Extensions: extensions,
	}
}
