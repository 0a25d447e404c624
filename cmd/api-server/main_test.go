package main

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
)

func TestNewHTTPServer(t *testing.T) {
	h := http.NewServeMux()
	srv := newHTTPServer(config.Config{HTTPPort: "9090"}, h)

	assert.Equal(t, ":9090", srv.Addr)
	assert.Same(t, h, srv.Handler)
	assert.Equal(t, 10*time.Second, srv.ReadHeaderTimeout)
	assert.Equal(t, 30*time.Second, srv.WriteTimeout)
}

func TestEmbeddedSweep(t *testing.T) {
	assert.True(t, embeddedSweep(config.Config{StoreBackend: config.StoreBackendMemory}))
	assert.False(t, embeddedSweep(config.Config{StoreBackend: config.StoreBackendPostgres}))
}
