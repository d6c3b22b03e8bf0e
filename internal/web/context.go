package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/recordcheck/internal/core"
)

// WithRequestMetadata adds the submitter's IP and User-Agent to ctx so the
// detached validation job can log them. RemoteAddr has already been
// rewritten by TrustedRealIP.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	ctx = core.ContextWithIPAddress(ctx, r.RemoteAddr)
	ctx = core.ContextWithUserAgent(ctx, r.UserAgent())
	return ctx
}
