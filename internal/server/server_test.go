// SPDX-FileCopyrightText: 2025 The PowerStats Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAPIServer(t *testing.T) {
	tt := []struct {
		name string
		opts []OptionFn
	}{{
		name: "default options",
		opts: []OptionFn{},
	}, {
		name: "with custom logger",
		opts: []OptionFn{
			WithLogger(slog.Default().With("test", "custom")),
		},
	}, {
		name: "with custom listen address",
		opts: []OptionFn{
			WithListen([]string{":8080", ":8081"}, ""),
		},
	}}

	for _, tt := range tt {
		t.Run(tt.name, func(t *testing.T) {
			server := NewAPIServer(tt.opts...)

			assert.NotNil(t, server)
			assert.Equal(t, "api-server", server.Name())
			assert.NotNil(t, server.mux)
			assert.NotNil(t, server.logger)
		})
	}
}

func TestAPIServerLandingPage(t *testing.T) {
	server := NewAPIServer()
	require.NoError(t, server.Init())

	require.NoError(t, server.Register("/metrics", "Metrics", "Prometheus metrics",
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	t.Run("lists registered endpoints", func(t *testing.T) {
		rec := httptest.NewRecorder()
		server.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "PowerStats")
		assert.Contains(t, rec.Body.String(), "/metrics")
	})

	t.Run("unknown path is 404", func(t *testing.T) {
		rec := httptest.NewRecorder()
		server.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestAPIServerRun(t *testing.T) {
	server := NewAPIServer(WithListen([]string{"127.0.0.1:0"}, ""))
	require.NoError(t, server.Init())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	startTime := time.Now()
	err := server.Run(ctx)
	duration := time.Since(startTime)

	assert.NoError(t, err)
	assert.GreaterOrEqual(t, duration, 50*time.Millisecond,
		"Run should block until context is done")

	assert.NoError(t, server.Shutdown())
}

func TestPprofRegistration(t *testing.T) {
	server := NewAPIServer()
	require.NoError(t, server.Init())

	p := NewPprof(server)
	assert.Equal(t, "pprof", p.Name())
	require.NoError(t, p.Init())

	rec := httptest.NewRecorder()
	server.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
