package runner

import (
	"context"
	"fmt"

	"github.com/torosent/lopnur/internal/model"
)

// HTTPError represents an HTTP request failure with status details.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// FailureLogger logs failed requests.
type FailureLogger interface {
	LogFailure(provider, requestType string, err error)
}

// loggingRequester wraps a Requester with failure logging.
type loggingRequester struct {
	inner       Requester
	requestType string
	logger      FailureLogger
}

// WithLogging wraps a Requester to log failures.
func WithLogging(req Requester, requestType string, logger FailureLogger) Requester {
	if logger == nil {
		return req
	}
	return &loggingRequester{
		inner:       req,
		requestType: requestType,
		logger:      logger,
	}
}

func (l *loggingRequester) Do(ctx context.Context, target model.Provider) error {
	err := l.inner.Do(ctx, target)
	if err != nil && l.logger != nil {
		l.logger.LogFailure(target.Name, l.requestType, err)
	}
	return err
}

// LogFailures wraps every requester in the catalog with WithLogging.
func LogFailures(c *Catalog, logger FailureLogger) *Catalog {
	if logger == nil {
		return c
	}
	return c.Wrap(func(tag string, req Requester) Requester {
		return WithLogging(req, tag, logger)
	})
}
