package routing

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileYieldsLegacyConfig(t *testing.T) {
	cfg, err := Load("", "anthropic", "claude-sonnet")
	require.NoError(t, err)
	require.Len(t, cfg.Profiles, 1)
	require.Equal(t, "default", cfg.Profiles[0].ID)
	require.Equal(t, "anthropic", cfg.Profiles[0].Provider)
	require.Equal(t, []string{"default"}, cfg.RouteChains.Default)
	require.Equal(t, maxAttemptsPerJobCap, cfg.MaxAttemptsPerJob)
}

func TestLoadNonexistentPathYieldsLegacyConfig(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"), "openai", "gpt")
	require.NoError(t, err)
	require.Equal(t, "openai", cfg.Profiles[0].Provider)
}

func TestLoadValidatesDuplicateProfileIDs(t *testing.T) {
	path := writeConfig(t, Config{Profiles: []Profile{{ID: "a"}, {ID: "a"}}})
	_, err := Load(path, "", "")
	require.ErrorContains(t, err, "duplicate profile id")
}

func TestLoadValidatesMissingEnvFromHostVariable(t *testing.T) {
	path := writeConfig(t, Config{Profiles: []Profile{{
		ID:      "a",
		EnvFrom: map[string]string{"API_KEY": "DEFINITELY_NOT_SET_XYZ"},
	}}})
	_, err := Load(path, "", "")
	require.ErrorContains(t, err, "missing host variable")
}

func TestLoadNormalizesEmptyRouteChainsToFirstProfile(t *testing.T) {
	path := writeConfig(t, Config{Profiles: []Profile{{ID: "p1"}, {ID: "p2"}}})
	cfg, err := Load(path, "", "")
	require.NoError(t, err)
	require.Equal(t, []string{"p1"}, cfg.RouteChains.Default)
	require.Equal(t, []string{"p1"}, cfg.RouteChains.Task)
	require.Equal(t, []string{"p1"}, cfg.RouteChains.Run)
}

func TestLoadCapsMaxAttemptsPerJob(t *testing.T) {
	path := writeConfig(t, Config{
		Profiles:          []Profile{{ID: "p1"}},
		MaxAttemptsPerJob: 99,
	})
	cfg, err := Load(path, "", "")
	require.NoError(t, err)
	require.Equal(t, maxAttemptsPerJobCap, cfg.MaxAttemptsPerJob)
}

func TestLoadRejectsRouteChainReferencingUnknownProfile(t *testing.T) {
	path := writeConfig(t, Config{
		Profiles:    []Profile{{ID: "p1"}},
		RouteChains: RouteChains{Task: []string{"ghost"}},
	})
	_, err := Load(path, "", "")
	require.ErrorContains(t, err, "unknown profile")
}

func TestResolvedEnvMergesStaticAndHostEnv(t *testing.T) {
	t.Setenv("AGENTCTL_TEST_HOST_VAR", "secret-value")
	p := Profile{
		Env:     map[string]string{"STATIC": "v"},
		EnvFrom: map[string]string{"FROM_HOST": "AGENTCTL_TEST_HOST_VAR"},
	}
	env := p.ResolvedEnv()
	require.Equal(t, "v", env["STATIC"])
	require.Equal(t, "secret-value", env["FROM_HOST"])
}

func writeConfig(t *testing.T, cfg Config) string {
	t.Helper()
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "routing.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}
