package registry_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srnnkls/lalia-go/pkg/registry"
)

type lookupArgs struct {
	City  string `json:"city"`
	Units string `json:"units,omitempty"`
}

func lookup(ctx context.Context, args lookupArgs) (any, error) {
	return "mild, " + args.City, nil
}

func TestReflectBuildsSchemaFromExportedFields(t *testing.T) {
	fn := registry.Reflect[lookupArgs]("weather", "lookup", "Looks up the weather.", lookup)

	assert.Equal(t, "lookup", fn.Name())
	assert.Equal(t, "Looks up the weather.", fn.Description())

	m, err := fn.SchemaMap()
	require.NoError(t, err)
	props, ok := m["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "city")
	assert.Contains(t, props, "units")
	assert.Equal(t, false, m["additionalProperties"])
}

func TestInvokeDecodesArgumentsAndCallsHandler(t *testing.T) {
	fn := registry.Reflect[lookupArgs]("weather", "lookup", "Looks up the weather.", lookup)

	raw, err := json.Marshal(lookupArgs{City: "Lisbon"})
	require.NoError(t, err)

	result, err := fn.Invoke(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "mild, Lisbon", result)
}

func TestInvokeRejectsMalformedArguments(t *testing.T) {
	fn := registry.Reflect[lookupArgs]("weather", "lookup", "Looks up the weather.", lookup)

	_, err := fn.Invoke(context.Background(), json.RawMessage(`{"city":`))
	require.Error(t, err)
}

func TestRegisterIsInsertIfAbsent(t *testing.T) {
	reg := registry.New()
	first := registry.Reflect[lookupArgs]("weather", "lookup", "first", lookup)
	second := registry.Reflect[lookupArgs]("weather", "lookup", "second", lookup)

	got1 := reg.Register(first)
	got2 := reg.Register(second)

	assert.Same(t, got1, got2)
	assert.Equal(t, "first", got1.Description())
	assert.Len(t, reg.All(), 1)
}

func TestByNameFindsAcrossModules(t *testing.T) {
	reg := registry.New()
	reg.Register(registry.Reflect[lookupArgs]("weather", "lookup", "weather lookup", lookup))

	fn, ok := reg.ByName("lookup")
	require.True(t, ok)
	assert.Equal(t, "weather", fn.Module)

	_, ok = reg.ByName("missing")
	assert.False(t, ok)
}

func TestLookupByRef(t *testing.T) {
	reg := registry.New()
	fn := reg.Register(registry.Reflect[lookupArgs]("weather", "lookup", "weather lookup", lookup))

	got, ok := reg.Lookup(registry.Ref{Module: "weather", Name: "lookup"})
	require.True(t, ok)
	assert.Same(t, fn, got)
}
