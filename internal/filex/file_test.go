package filex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureParentDir_CreatesMissingAncestors(t *testing.T) {
	tmp := t.TempDir()
	dbPath := filepath.Join(tmp, "state", "vault", "passvault.db")

	require.NoError(t, EnsureParentDir(dbPath))

	fi, err := os.Stat(filepath.Dir(dbPath))
	require.NoError(t, err)
	require.True(t, fi.IsDir())
}

func TestEnsureParentDir_Idempotent(t *testing.T) {
	tmp := t.TempDir()
	dbPath := filepath.Join(tmp, "passvault.db")

	require.NoError(t, EnsureParentDir(dbPath))
	require.NoError(t, EnsureParentDir(dbPath))
}

func TestEnsureParentDir_BareFileName(t *testing.T) {
	require.NoError(t, EnsureParentDir("passvault.db"))
}

func TestEnsureParentDir_FailsIfFileBlocksPath(t *testing.T) {
	tmp := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmp, "state"), []byte("x"), 0o600))

	err := EnsureParentDir(filepath.Join(tmp, "state", "passvault.db"))
	require.Error(t, err)
}
