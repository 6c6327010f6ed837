package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// freeAddr picks an available TCP address on localhost.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func waitHTTP(t *testing.T, url string) string {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			b, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return string(b)
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("%s not ready", url)
	return ""
}

func TestServe_StartsAndStopsCleanly(t *testing.T) {
	dir := t.TempDir()
	addr := freeAddr(t)
	cfg, err := loadConfig(options{dataDir: dir, addr: addr, simulate: true}, envMap(nil))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- serve(ctx, cfg, true, zerolog.Nop()) }()

	base := "http://" + addr
	assert.Equal(t, "ok", waitHTTP(t, base+"/healthz"))
	assert.Contains(t, waitHTTP(t, base+"/models"), "z-image-turbo")

	// A second server on the same data dir is refused.
	other, err := loadConfig(options{dataDir: dir, addr: freeAddr(t), simulate: true}, envMap(nil))
	require.NoError(t, err)
	err = serve(ctx, other, true, zerolog.Nop())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "in use"), err.Error())

	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
