package dashboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamflow/config"
	"streamflow/logger"
)

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"":                               "0.0.0.0:9000",
		"  :9090  ":                      "0.0.0.0:9090",
		"localhost":                      "localhost:9000",
		"0.0.0.0:80":                     "0.0.0.0:80",
		"[::1]:443":                      "[::1]:443",
		"::1":                            "[::1]:9000",
		"*:8080":                         "0.0.0.0:8080",
		"http://13.200.112.203:8080":     "13.200.112.203:8080",
		"https://13.200.112.203":         "13.200.112.203:9000",
		"http://:7070":                   "0.0.0.0:7070",
		"tcp://localhost:5050":           "localhost:5050",
		"https://dashboard.example.com/": "dashboard.example.com:9000",
	}

	for input, want := range cases {
		assert.Equal(t, want, normalizeAddress(input), "normalizeAddress(%q)", input)
	}
}

func TestNewServerNormalizesConfiguredAddress(t *testing.T) {
	srv, err := NewServer(config.DashboardConfig{Enabled: true, Address: ":9000"}, logger.Logger(), &fakeStatus{})
	require.NoError(t, err)
	require.NotNil(t, srv)
	defer srv.cleanup()
	assert.Equal(t, "0.0.0.0:9000", srv.Address())
}

func TestNewServerDisabled(t *testing.T) {
	srv, err := NewServer(config.DashboardConfig{Enabled: false}, logger.Logger(), &fakeStatus{})
	require.NoError(t, err)
	assert.Nil(t, srv)
	assert.Equal(t, "", srv.Address())
}

func TestNewServerRequiresStatus(t *testing.T) {
	_, err := NewServer(config.DashboardConfig{Enabled: true}, logger.Logger(), nil)
	assert.Error(t, err)
}
