package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrattend/internal/attendance"
	"qrattend/internal/config"
	"qrattend/internal/roster"
)

func memoryConfig() config.App {
	cfg := config.Defaults()
	cfg.StoreBackend = "memory"
	cfg.QueueBackend = "memory"
	return cfg
}

func TestOpen_Memory(t *testing.T) {
	b, err := Open(context.Background(), memoryConfig(), nil)
	require.NoError(t, err)
	defer b.Close()

	assert.IsType(t, &roster.Memory{}, b.Students)
	assert.IsType(t, &attendance.Memory{}, b.Records)
	assert.NotNil(t, b.Queue)
	assert.NotNil(t, b.CascadeDelete)
	assert.Nil(t, b.Redis)
	assert.Empty(t, b.Health())
}

func TestOpen_UnknownBackends(t *testing.T) {
	cfg := memoryConfig()
	cfg.StoreBackend = "sqlite"
	_, err := Open(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "STORE_BACKEND")

	cfg = memoryConfig()
	cfg.QueueBackend = "kafka"
	_, err = Open(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "QUEUE_BACKEND")
}
