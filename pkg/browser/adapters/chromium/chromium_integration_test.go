//go:build integration
// +build integration

package chromium

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/blockbench/pkg/browser"
)

func TestChromiumVisitAndReset(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping chromium integration test in short mode")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "seen", Value: "1"})
		_, _ = w.Write([]byte(`<html><body><script>localStorage.setItem("k","v")</script>ok</body></html>`))
	}))
	defer srv.Close()

	l, err := NewLauncher(Config{Headless: true, Leakless: true, UserDataRoot: t.TempDir()})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pair, err := browser.NewPair(l, browser.PairConfig{LaunchAttempts: 1})
	require.NoError(t, err)
	require.NoError(t, pair.Start(ctx))
	defer pair.Close()

	visitor := browser.NewVisitor(10 * time.Second)
	for _, role := range browser.Roles {
		sess := pair.Session(role)
		result, err := visitor.Visit(ctx, sess, srv.URL)
		require.NoError(t, err)
		assert.False(t, result.Failed(), "%s visit failed: %v", role, result.Err)
		assert.NoError(t, browser.Reset(ctx, sess))
	}
}
