package core

import (
	"fmt"
	"reflect"
	"strconv"
	"time"
)

// Endpoint describes where a connector's third-party technology lives.
type Endpoint struct {
	NetworkAddress string `yaml:"network_address" json:"network_address,omitempty" mapstructure:"network_address"`
	Protocol       string `yaml:"protocol" json:"protocol,omitempty" mapstructure:"protocol"`
}

// Connection is the descriptor the connector broker builds a connector from.
// The daemon treats it as opaque apart from equality: any change to it forces
// the connector to be rebuilt.
type Connection struct {
	QualifiedName           string                 `yaml:"qualified_name" json:"qualified_name,omitempty" mapstructure:"qualified_name"`
	ConnectorType           string                 `yaml:"connector_type" json:"connector_type" mapstructure:"connector_type"`
	Endpoint                Endpoint               `yaml:"endpoint" json:"endpoint" mapstructure:"endpoint"`
	UserID                  string                 `yaml:"user_id" json:"user_id,omitempty" mapstructure:"user_id"`
	ClearPassword           string                 `yaml:"clear_password" json:"clear_password,omitempty" mapstructure:"clear_password"`
	SecuredProperties       map[string]string      `yaml:"secured_properties" json:"secured_properties,omitempty" mapstructure:"secured_properties"`
	ConfigurationProperties map[string]interface{} `yaml:"configuration_properties" json:"configuration_properties,omitempty" mapstructure:"configuration_properties"`
}

// Equal reports whether two connections describe the same connector. Nil and
// empty property maps compare equal.
func (c Connection) Equal(other Connection) bool {
	a, b := c.normalized(), other.normalized()
	return reflect.DeepEqual(a, b)
}

func (c Connection) normalized() Connection {
	if len(c.SecuredProperties) == 0 {
		c.SecuredProperties = nil
	}
	if len(c.ConfigurationProperties) == 0 {
		c.ConfigurationProperties = nil
	}
	return c
}

// Clone returns a copy whose maps can be modified independently. Nested
// property values are shared.
func (c Connection) Clone() Connection {
	out := c
	if c.SecuredProperties != nil {
		out.SecuredProperties = make(map[string]string, len(c.SecuredProperties))
		for k, v := range c.SecuredProperties {
			out.SecuredProperties[k] = v
		}
	}
	if c.ConfigurationProperties != nil {
		out.ConfigurationProperties = make(map[string]interface{}, len(c.ConfigurationProperties))
		for k, v := range c.ConfigurationProperties {
			out.ConfigurationProperties[k] = v
		}
	}
	return out
}

// Redacted returns a copy safe to log or return from the API.
func (c Connection) Redacted() Connection {
	out := c.Clone()
	if out.ClearPassword != "" {
		out.ClearPassword = "****"
	}
	for k := range out.SecuredProperties {
		out.SecuredProperties[k] = "****"
	}
	return out
}

// StringProperty returns a configuration property as a string.
func (c Connection) StringProperty(key, def string) string {
	v, ok := c.ConfigurationProperties[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// IntProperty returns a configuration property as an int. Decoded JSON and
// YAML numbers and numeric strings are accepted.
func (c Connection) IntProperty(key string, def int) (int, error) {
	v, ok := c.ConfigurationProperties[key]
	if !ok || v == nil {
		return def, nil
	}
	switch t := v.(type) {
	case int:
		return t, nil
	case int32:
		return int(t), nil
	case int64:
		return int(t), nil
	case float64:
		return int(t), nil
	case string:
		n, err := strconv.Atoi(t)
		if err != nil {
			return def, fmt.Errorf("property %s: %w", key, err)
		}
		return n, nil
	}
	return def, fmt.Errorf("property %s: unsupported type %T", key, v)
}

// BoolProperty returns a configuration property as a bool.
func (c Connection) BoolProperty(key string, def bool) (bool, error) {
	v, ok := c.ConfigurationProperties[key]
	if !ok || v == nil {
		return def, nil
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(t)
		if err != nil {
			return def, fmt.Errorf("property %s: %w", key, err)
		}
		return b, nil
	}
	return def, fmt.Errorf("property %s: unsupported type %T", key, v)
}

// DurationProperty returns a configuration property as a duration. Strings
// use time.ParseDuration; numbers are seconds.
func (c Connection) DurationProperty(key string, def time.Duration) (time.Duration, error) {
	v, ok := c.ConfigurationProperties[key]
	if !ok || v == nil {
		return def, nil
	}
	switch t := v.(type) {
	case string:
		d, err := time.ParseDuration(t)
		if err != nil {
			return def, fmt.Errorf("property %s: %w", key, err)
		}
		return d, nil
	case int:
		return time.Duration(t) * time.Second, nil
	case int64:
		return time.Duration(t) * time.Second, nil
	case float64:
		return time.Duration(t * float64(time.Second)), nil
	}
	return def, fmt.Errorf("property %s: unsupported type %T", key, v)
}

// StringsProperty returns a configuration property as a list of strings.
// A single string is returned as a one element list.
func (c Connection) StringsProperty(key string) []string {
	v, ok := c.ConfigurationProperties[key]
	if !ok || v == nil {
		return nil
	}
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []string:
		return append([]string(nil), t...)
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}
