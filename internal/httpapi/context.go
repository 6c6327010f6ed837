package httpapi

import (
	"context"
	"net/http"
)

// serverBaseCtx is cancelled on shutdown; generations started by handlers
// observe it together with the client's request context.
var serverBaseCtx = context.Background()

// SetBaseContext sets the process-level base context used by handlers.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		serverBaseCtx = context.Background()
		return
	}
	serverBaseCtx = ctx
}

// joinContexts returns a context that is canceled when either a or b is done.
// The returned cancel func must be called to release the goroutine when handler ends.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-a.Done():
			cancel()
		case <-b.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// inferContext joins the request with the server base context.
func inferContext(r *http.Request) (context.Context, context.CancelFunc) {
	return joinContexts(serverBaseCtx, r.Context())
}

// aborted reports whether the client went away or the server is stopping,
// in which case no error body is written.
func aborted(r *http.Request) bool {
	return r.Context().Err() != nil || serverBaseCtx.Err() != nil
}
