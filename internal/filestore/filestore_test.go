package filestore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndDelete(t *testing.T) {
	fs, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	path, err := fs.Save(context.Background(), strings.NewReader("%PDF-1.4"), 3, 12, "../../report.pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(fs.Root(), "3", "12_report.pdf"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))

	removed, err := fs.Delete(path)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = fs.Delete(path)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestDeleteOutsideRoot(t *testing.T) {
	fs, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	outside := filepath.Join(t.TempDir(), "x.pdf")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0644))

	_, err = fs.Delete(outside)
	assert.Error(t, err)
	_, err = os.Stat(outside)
	assert.NoError(t, err)
}
