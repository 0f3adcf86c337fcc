package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnection_Equal(t *testing.T) {
	base := Connection{
		ConnectorType:           "sql-poller",
		Endpoint:                Endpoint{NetworkAddress: "postgres://db/orders"},
		ConfigurationProperties: map[string]interface{}{"query": "select 1"},
	}

	tests := []struct {
		name   string
		mutate func(c *Connection)
		equal  bool
	}{
		{name: "identical", mutate: func(c *Connection) {}, equal: true},
		{name: "empty and nil secured properties", mutate: func(c *Connection) { c.SecuredProperties = map[string]string{} }, equal: true},
		{name: "endpoint changed", mutate: func(c *Connection) { c.Endpoint.NetworkAddress = "postgres://db2/orders" }, equal: false},
		{name: "property changed", mutate: func(c *Connection) { c.ConfigurationProperties["query"] = "select 2" }, equal: false},
		{name: "type changed", mutate: func(c *Connection) { c.ConnectorType = "kafka-listener" }, equal: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other := base.Clone()
			tt.mutate(&other)
			assert.Equal(t, tt.equal, base.Equal(other))
		})
	}
}

func TestConnection_Clone(t *testing.T) {
	orig := Connection{ConfigurationProperties: map[string]interface{}{"a": 1}}
	clone := orig.Clone()
	clone.ConfigurationProperties["a"] = 2

	assert.Equal(t, 1, orig.ConfigurationProperties["a"])
}

func TestConnection_Redacted(t *testing.T) {
	conn := Connection{ClearPassword: "secret", SecuredProperties: map[string]string{"token": "abc"}}
	red := conn.Redacted()

	assert.Equal(t, "****", red.ClearPassword)
	assert.Equal(t, "****", red.SecuredProperties["token"])
	assert.Equal(t, "secret", conn.ClearPassword)
}

func TestConnection_Properties(t *testing.T) {
	conn := Connection{ConfigurationProperties: map[string]interface{}{
		"batch":    float64(25),
		"limit":    "10",
		"enabled":  "true",
		"timeout":  "30s",
		"interval": 5,
		"topics":   []interface{}{"a", "b"},
		"bad":      "x",
	}}

	n, err := conn.IntProperty("batch", 0)
	require.NoError(t, err)
	assert.Equal(t, 25, n)

	n, err = conn.IntProperty("limit", 0)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	n, err = conn.IntProperty("missing", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = conn.IntProperty("bad", 0)
	assert.Error(t, err)

	b, err := conn.BoolProperty("enabled", false)
	require.NoError(t, err)
	assert.True(t, b)

	d, err := conn.DurationProperty("timeout", 0)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	d, err = conn.DurationProperty("interval", 0)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)

	assert.Equal(t, []string{"a", "b"}, conn.StringsProperty("topics"))
	assert.Equal(t, "x", conn.StringProperty("bad", ""))
	assert.Equal(t, "dflt", conn.StringProperty("missing", "dflt"))
}
