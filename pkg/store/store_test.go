package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Both backends must satisfy the same contract, so the suite runs against
// each of them.
func backends(t *testing.T) map[string]Store {
	t.Helper()

	sqlitePath := t.TempDir() + "/test.db"
	sqlite, err := OpenSQLite(sqlitePath)
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"sqlite": sqlite,
		"memory": NewMemory(),
	}
}

func TestIdentityLifecycle(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			exists, err := s.IdentityExists("alice")
			require.NoError(t, err)
			assert.False(t, exists)

			require.NoError(t, s.CreateIdentity("alice", "hash-a"))

			exists, err = s.IdentityExists("alice")
			require.NoError(t, err)
			assert.True(t, exists)

			hash, err := s.CredentialHash("alice")
			require.NoError(t, err)
			assert.Equal(t, "hash-a", hash)

			// Duplicate registration is refused.
			err = s.CreateIdentity("alice", "hash-b")
			assert.ErrorIs(t, err, ErrIdentityExists)

			// Credential is unchanged by the failed attempt.
			hash, err = s.CredentialHash("alice")
			require.NoError(t, err)
			assert.Equal(t, "hash-a", hash)

			_, err = s.CredentialHash("nobody")
			assert.ErrorIs(t, err, ErrIdentityNotFound)

			require.NoError(t, s.CreateIdentity("bob", "hash-c"))
			users, err := s.ListIdentities()
			require.NoError(t, err)
			assert.Equal(t, []string{"alice", "bob"}, users)
		})
	}
}

func TestMessageOrdering(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			// Interleaved directions, deliberately out-of-order inserts
			// sharing a timestamp.
			id1, err := s.InsertMessage("alice", "bob", "first", 100)
			require.NoError(t, err)
			id2, err := s.InsertMessage("bob", "alice", "second", 200)
			require.NoError(t, err)
			id3, err := s.InsertMessage("alice", "bob", "third", 200)
			require.NoError(t, err)
			_, err = s.InsertMessage("alice", "carol", "other thread", 150)
			require.NoError(t, err)

			messages, err := s.FetchMessages("alice", "bob")
			require.NoError(t, err)
			require.Len(t, messages, 3)
			assert.Equal(t, []int64{id1, id2, id3}, []int64{messages[0].ID, messages[1].ID, messages[2].ID})

			// Symmetric regardless of argument order.
			reversed, err := s.FetchMessages("bob", "alice")
			require.NoError(t, err)
			assert.Equal(t, messages, reversed)
		})
	}
}

func TestUndeliveredTracking(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			id1, err := s.InsertMessage("alice", "bob", "one", 1)
			require.NoError(t, err)
			_, err = s.InsertMessage("alice", "bob", "two", 2)
			require.NoError(t, err)
			_, err = s.InsertMessage("bob", "alice", "reply", 3)
			require.NoError(t, err)

			count, err := s.CountUndelivered("bob")
			require.NoError(t, err)
			assert.Equal(t, int64(2), count)

			undelivered, err := s.FetchUndelivered("bob", 1)
			require.NoError(t, err)
			require.Len(t, undelivered, 1)
			assert.Equal(t, "one", undelivered[0].Body)

			require.NoError(t, s.MarkDelivered(id1))
			count, err = s.CountUndelivered("bob")
			require.NoError(t, err)
			assert.Equal(t, int64(1), count)

			require.NoError(t, s.MarkAllDelivered("bob"))
			count, err = s.CountUndelivered("bob")
			require.NoError(t, err)
			assert.Equal(t, int64(0), count)

			// alice's inbound message is untouched.
			count, err = s.CountUndelivered("alice")
			require.NoError(t, err)
			assert.Equal(t, int64(1), count)
		})
	}
}

func TestDeleteMessageAuthorization(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			id, err := s.InsertMessage("alice", "bob", "keep out", 1)
			require.NoError(t, err)

			err = s.DeleteMessage(id, "bob")
			assert.ErrorIs(t, err, ErrNotSender)

			// Message intact after the refused attempt.
			messages, err := s.FetchMessages("alice", "bob")
			require.NoError(t, err)
			require.Len(t, messages, 1)

			require.NoError(t, s.DeleteMessage(id, "alice"))
			messages, err = s.FetchMessages("alice", "bob")
			require.NoError(t, err)
			assert.Empty(t, messages)

			err = s.DeleteMessage(id, "alice")
			assert.ErrorIs(t, err, ErrMessageNotFound)
		})
	}
}

func TestDeleteIdentityCascades(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.CreateIdentity("alice", "h1"))
			require.NoError(t, s.CreateIdentity("bob", "h2"))
			_, err := s.InsertMessage("alice", "bob", "from alice", 1)
			require.NoError(t, err)
			_, err = s.InsertMessage("bob", "alice", "from bob", 2)
			require.NoError(t, err)

			require.NoError(t, s.DeleteIdentity("alice"))

			exists, err := s.IdentityExists("alice")
			require.NoError(t, err)
			assert.False(t, exists)

			// The whole conversation is gone for the surviving side.
			messages, err := s.FetchMessages("bob", "alice")
			require.NoError(t, err)
			assert.Empty(t, messages)

			err = s.DeleteIdentity("alice")
			assert.ErrorIs(t, err, ErrIdentityNotFound)
		})
	}
}

func TestOpenBackendSelection(t *testing.T) {
	s, err := Open("memory", "")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open("sqlite", t.TempDir()+"/sel.db")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open("postgres", "")
	assert.Error(t, err)
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	path := t.TempDir() + "/persist.db"

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.CreateIdentity("alice", "hash"))
	_, err = s.InsertMessage("alice", "bob", "durable", 42)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	exists, err := s.IdentityExists("alice")
	require.NoError(t, err)
	assert.True(t, exists)

	messages, err := s.FetchMessages("alice", "bob")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "durable", messages[0].Body)
}
