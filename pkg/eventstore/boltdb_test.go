package eventstore

import (
	"testing"

	"github.com/cuemby/nexus/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_AppendAndReopen_Durable(t *testing.T) {
	dir := t.TempDir()

	s, err := NewStore(dir)
	require.NoError(t, err)

	v, err := s.AppendEvents("acct", []types.StateLogEvent{{EventTypeTag: "deposited"}, {EventTypeTag: "withdrawn"}}, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	require.NoError(t, s.SaveSnapshot("acct", 2, []byte("balance=700")))
	require.NoError(t, s.Close())

	reopened, err := NewStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	version, err := reopened.GetLatestVersion("acct")
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	events, err := reopened.GetEvents("acct", 0, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 1, events[0].Version)
	assert.Equal(t, "deposited", events[0].EventTypeTag)

	snap, err := reopened.GetLatestSnapshot("acct")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "balance=700", string(snap.State))
}

func TestStore_ConcurrencyConflict(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.AppendEvents("a1", []types.StateLogEvent{{EventTypeTag: "x"}}, 0)
	require.NoError(t, err)

	_, err = s.AppendEvents("a1", []types.StateLogEvent{{EventTypeTag: "stale"}}, 0)
	assert.ErrorIs(t, err, types.ErrConcurrencyConflict)
}
