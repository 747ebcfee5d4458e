package hostmeta

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.json")
	content := `[
		{"ip": "10.0.0.1", "region": "us-west-2", "zone": "us-west-2a", "provider": "aws"},
		{"ip": "10.0.0.2", "provider": "gcp"},
		{"region": "orphan-without-ip"}
	]`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	byIP, err := Load(path)
	require.NoError(t, err)
	require.Len(t, byIP, 2)

	assert.Equal(t, "us-west-2a", byIP["10.0.0.1"].Zone)
	assert.Equal(t, "gcp", byIP["10.0.0.2"].Provider)
	assert.Empty(t, byIP["10.0.0.2"].Region)
}

func TestLoadMissingFile(t *testing.T) {
	byIP, err := Load(filepath.Join(t.TempDir(), "hosts.json"))
	require.NoError(t, err)
	assert.Empty(t, byIP)
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := Load(path)
	require.Error(t, err)
}
