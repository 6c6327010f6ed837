package httpapi

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"
)

func waitDone(t *testing.T, ctx context.Context, what string) {
	t.Helper()
	select {
	case <-ctx.Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("%s did not cancel the inference context", what)
	}
}

func TestInferContext_ServerShutdownCancels(t *testing.T) {
	base, stop := context.WithCancel(context.Background())
	SetBaseContext(base)
	t.Cleanup(func() { SetBaseContext(context.Background()) })

	r := httptest.NewRequest("POST", "/generate/x", nil)
	ctx, cancel := inferContext(r)
	defer cancel()
	if aborted(r) {
		t.Fatal("request reported aborted before shutdown")
	}
	stop()
	waitDone(t, ctx, "server shutdown")
	if !aborted(r) {
		t.Fatal("request not reported aborted after shutdown")
	}
}

func TestInferContext_ClientDisconnectCancels(t *testing.T) {
	// nolint:staticcheck // SA1012: nil resets to context.Background
	SetBaseContext(nil)
	reqCtx, hangup := context.WithCancel(context.Background())
	r := httptest.NewRequest("POST", "/llm/stream", nil).WithContext(reqCtx)
	ctx, cancel := inferContext(r)
	defer cancel()
	hangup()
	waitDone(t, ctx, "client disconnect")
	if !aborted(r) {
		t.Fatal("request not reported aborted after disconnect")
	}
}

func TestJoinContexts_CancelReleases(t *testing.T) {
	a, b := context.Background(), context.Background()
	j, cancel := joinContexts(a, b)
	cancel()
	waitDone(t, j, "cancel func")
}
