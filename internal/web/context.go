package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/cdmtriage/internal/core"
)

// WithRequestMetadata copies the client address and User-Agent into ctx so
// policy changes, clears, and imports can be attributed in the logs.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	ctx = core.ContextWithClientIP(ctx, clientIP(r.RemoteAddr)) // rewritten by TrustedRealIP
	ctx = core.ContextWithUserAgent(ctx, r.Header.Get("User-Agent"))
	return ctx
}
