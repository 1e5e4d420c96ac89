package tool

import (
	"context"
	"errors"
	"net"
	"strings"

	"finagent/internal/domain"
)

// timeoutPatterns are substrings in error messages from clients that do not
// wrap context or net errors. Checked case-insensitively.
var timeoutPatterns = []string{
	"timeout",
	"deadline exceeded",
	"timed out",
}

// notFoundPatterns mark provider answers about unknown symbols or pages.
var notFoundPatterns = []string{
	"not found",
	"no data found",
	"symbol may be delisted",
}

// classifyToolError turns a handler error into a *domain.ToolError.
// Errors that already are ToolErrors keep their kind.
func classifyToolError(toolName string, err error) *domain.ToolError {
	var te *domain.ToolError
	if errors.As(err, &te) {
		return te
	}
	return domain.NewToolError(kindOf(err), toolName, err.Error(), err)
}

func kindOf(err error) domain.ToolErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrTimeout) {
		return domain.KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.KindTimeout
	}
	if kind := domain.ToolErrorKindOf(err); kind != domain.KindExternalService {
		return kind
	}

	lower := strings.ToLower(err.Error())
	for _, p := range timeoutPatterns {
		if strings.Contains(lower, p) {
			return domain.KindTimeout
		}
	}
	for _, p := range notFoundPatterns {
		if strings.Contains(lower, p) {
			return domain.KindNotFound
		}
	}
	return domain.KindExternalService
}
