package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srnnkls/lalia-go/pkg/telemetry"
)

func TestInitTracerDisabledReturnsNoopShutdown(t *testing.T) {
	shutdown, err := telemetry.InitTracer(context.Background(), telemetry.Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}
