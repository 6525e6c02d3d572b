package agentconfig

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSQLiteStoreCRUD(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "agentconfig.db")
	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	testStoreCRUD(t, s)
}

func TestSQLiteStoreReopenPersists(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "agentconfig.db")

	s1, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	_, err = s1.Create(t.Context(), testConfig("agent-1"))
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s2.Close()

	found, err := s2.Find(t.Context(), "agent-1")
	require.NoError(t, err)
	require.Equal(t, "agent-1", found.ID)
}
