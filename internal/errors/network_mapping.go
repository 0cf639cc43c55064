package errors

import (
	"context"
	stderrors "errors"
	"strings"
)

// FromNetwork classifies a transport-level failure. Context cancellation maps
// to Timeout so it is distinguishable from a genuine connection problem.
func FromNetwork(err error) *ProxyError {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindTimeout, "request deadline exceeded", err)
	}
	if stderrors.Is(err, context.Canceled) {
		return Wrap(KindTimeout, "request canceled", err)
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return Wrap(KindTimeout, "upstream timeout", err)
	case strings.Contains(msg, "no such host") || strings.Contains(msg, "name resolution"):
		return Wrap(KindNetworkError, "dns resolution failed", err)
	default:
		return Wrap(KindNetworkError, "upstream connection failed", err)
	}
}
