package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadClusterMissingPathUsesDefaults(t *testing.T) {
	c, err := LoadCluster(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, NewCluster().RegistryPort, c.RegistryPort)
}

func TestLoadClusterYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cluster.yaml")
	require.NoError(t, os.WriteFile(path, []byte("registry_host: registry.internal\nregistry_port: 6000\nn_sync: 5\n"), 0o644))

	c, err := LoadCluster(path)
	require.NoError(t, err)
	assert.Equal(t, "registry.internal", c.RegistryHost)
	assert.Equal(t, 6000, c.RegistryPort)
	assert.Equal(t, 5, c.NSync)
	// Unset fields keep their defaults.
	assert.Equal(t, NewCluster().TLeaderDead, c.TLeaderDead)
}

func TestApplyEnvOverridesHosts(t *testing.T) {
	t.Setenv("REGISTRY_HOST", "r2")
	t.Setenv("REPLICATION_PORT", "7001")

	c := NewCluster().ApplyEnv()
	assert.Equal(t, "r2", c.RegistryHost)
	assert.Equal(t, 7001, c.ReplicationPort)
}

func TestAddrFormatting(t *testing.T) {
	c := NewCluster()
	assert.Equal(t, "tcp://localhost:5559", c.RegistryAddr())
	assert.Equal(t, "tcp://localhost:5556", c.BrokerAddr())
	assert.Equal(t, "tcp://peer-a:5560", ReplicationAddr("peer-a", 5560))
}
