package migrate

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionsSortedAndFiltered(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/0002_feedback.sql": {Data: []byte("SELECT 1")},
		"migrations/0001_init.sql":     {Data: []byte("SELECT 1")},
		"migrations/README.md":         {Data: []byte("notes")},
		"migrations/old/0000_x.sql":    {Data: []byte("SELECT 1")},
	}

	got, err := versions(fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_init", "0002_feedback"}, got)
}

func TestEmbeddedVersions(t *testing.T) {
	got, err := Versions()
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "0001_init", got[0])
}
