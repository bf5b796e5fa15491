package config

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func TestConfigRoundTrip(t *testing.T) {
	c := Config{
		Connect: "localhost:2345",
		SymbolServers: []SymbolServerConfig{
			{URL: "https://symbols.example.com", RequireAuth: true},
		},
		SymbolCache:   "/tmp/symcache",
		SymbolPaths:   []string{"/out/default"},
		PauseOnLaunch: true,
	}
	data, err := yaml.Marshal(c)
	require.NoError(t, err)

	var got Config
	require.NoError(t, yaml.Unmarshal(data, &got))
	require.Equal(t, c, got)
}

func TestUnknownKeysIgnored(t *testing.T) {
	var c Config
	err := yaml.Unmarshal([]byte("connect: agent:1234\nno-such-option: true\n"), &c)
	require.NoError(t, err)
	require.Equal(t, "agent:1234", c.Connect)
}
