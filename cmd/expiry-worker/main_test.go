package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
)

func TestCheckBackend(t *testing.T) {
	assert.NoError(t, checkBackend(config.Config{StoreBackend: config.StoreBackendPostgres}))
	assert.ErrorIs(t, checkBackend(config.Config{StoreBackend: config.StoreBackendMemory}), errNeedsPostgres)
}
