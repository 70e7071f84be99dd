package telemetry_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/srnnkls/lalia-go/pkg/telemetry"
)

func TestTracerDefaultsToLaliaName(t *testing.T) {
	assert.NotNil(t, telemetry.Tracer(""))
	assert.NotNil(t, telemetry.Tracer("custom"))
}

func TestWithSpanPropagatesResultAndError(t *testing.T) {
	err := telemetry.WithSpan(context.Background(), "test.span", func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err)

	sentinel := errors.New("boom")
	err = telemetry.WithSpan(context.Background(), "test.span", func(ctx context.Context) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
}

func TestWithGenerateSpanRunsCallback(t *testing.T) {
	called := false
	err := telemetry.WithGenerateSpan(context.Background(), "gpt-4", 2, func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, called)
}

func TestWithExecuteSpanRunsCallback(t *testing.T) {
	called := false
	err := telemetry.WithExecuteSpan(context.Background(), "lookup_weather", func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, called)
}

func TestWithParseSpanRunsCallback(t *testing.T) {
	called := false
	err := telemetry.WithParseSpan(context.Background(), "searchArgs", 0, func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, called)
}
