package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netsight/reconciled/internal/model"
)

func testCatalog() *Catalog {
	return New(map[string]EntityType{
		"device": {Fields: map[string]FieldSchema{
			"ip_address": {Kind: model.KindString},
			"port_count": {Kind: model.KindNumber},
			"managed":    {Kind: model.KindBool},
			"interfaces": {Kind: model.KindStructured},
		}},
		"service": {Fields: map[string]FieldSchema{
			"endpoint": {Kind: model.KindString},
		}},
	}, "device")
}

func TestTypeName(t *testing.T) {
	c := testCatalog()
	assert.Equal(t, "device", c.TypeName("device:core-sw-01"))
	assert.Equal(t, "service", c.TypeName("service:dns"))
	// Unknown prefix and bare ids fall back to the default type.
	assert.Equal(t, "device", c.TypeName("rack:r12"))
	assert.Equal(t, "device", c.TypeName("core-sw-01"))
}

func TestExpectedFields(t *testing.T) {
	c := testCatalog()
	assert.Equal(t, []string{"interfaces", "ip_address", "managed", "port_count"},
		c.ExpectedFields("device:core-sw-01"))
	assert.Equal(t, []string{"endpoint"}, c.ExpectedFields("service:dns"))
}

func TestCheckValue(t *testing.T) {
	c := testCatalog()

	assert.True(t, c.CheckValue("device:sw1", "ip_address", model.StringValue("10.0.0.5")))
	assert.False(t, c.CheckValue("device:sw1", "ip_address", model.NumberValue(10)))
	assert.True(t, c.CheckValue("device:sw1", "port_count", model.NumberValue(48)))
	assert.False(t, c.CheckValue("device:sw1", "port_count", model.StringValue("48")))

	// Undeclared fields pass.
	assert.True(t, c.CheckValue("device:sw1", "firmware", model.StringValue("v2")))

	// Nil never passes.
	assert.False(t, c.CheckValue("device:sw1", "ip_address", nil))
}

func TestCheckValue_EmptyCatalog(t *testing.T) {
	c := New(nil, "device")
	assert.True(t, c.CheckValue("device:sw1", "ip_address", model.NumberValue(1)))
	assert.Nil(t, c.ExpectedFields("device:sw1"))
}

func TestLoad(t *testing.T) {
	yaml := `
default_type: device
types:
  device:
    fields:
      ip_address: {kind: string}
      port_count: {kind: number}
`
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"ip_address", "port_count"}, c.ExpectedFields("device:sw1"))
	assert.True(t, c.CheckValue("device:sw1", "ip_address", model.StringValue("10.0.0.1")))
}

func TestLoad_UnknownKind(t *testing.T) {
	yaml := `
types:
  device:
    fields:
      ip_address: {kind: tensor}
`
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
