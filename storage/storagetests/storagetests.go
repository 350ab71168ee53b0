// Package storagetests provides common acceptance tests for storage.Store
// implementations.
package storagetests

import (
	"testing"

	"github.com/rush86999/atomagent/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Grant struct {
	ID        string
	UserID    string
	Resource  string
	Scopes    []string
	ExpiresIn *int
}

func (g Grant) PK() string { return g.ID }

type Account struct {
	ID    string
	Email string
}

func (a Account) PK() string { return a.ID }

type BadModel struct {
	ID      string
	Channel chan int
}

func (b BadModel) PK() string { return b.ID }

func pint(i int) *int { return &i }

// Run exercises a store created fresh by newStore for every subtest.
func Run(t *testing.T, newStore func() storage.Store) {
	t.Run("CreateReadRoundTrip", func(t *testing.T) {
		store := newStore()
		defer store.Close()

		calendar := Grant{ID: "1", UserID: "u1", Resource: "google_atom_calendar", Scopes: []string{"calendar"}, ExpiresIn: pint(0)}
		gmail := Grant{ID: "2", UserID: "u1", Resource: "atom_gmail"}
		require.NoError(t, store.Create(t.Context(), calendar, gmail))

		var got Grant
		require.NoError(t, store.Read(t.Context(), "1", &got))
		assert.Equal(t, calendar, got)

		got = Grant{}
		require.NoError(t, store.Read(t.Context(), "2", &got))
		assert.Equal(t, gmail, got)
	})

	t.Run("CreateConflict", func(t *testing.T) {
		store := newStore()
		defer store.Close()

		require.NoError(t, store.Create(t.Context(), Grant{ID: "1", Resource: "a"}))
		err := store.Create(t.Context(), Grant{ID: "1", Resource: "b"})
		assert.ErrorIs(t, err, storage.ErrAlreadyExists)

		var got Grant
		require.NoError(t, store.Read(t.Context(), "1", &got))
		assert.Equal(t, "a", got.Resource)
	})

	t.Run("CreateBadModel", func(t *testing.T) {
		store := newStore()
		defer store.Close()

		err := store.Create(t.Context(), BadModel{ID: "x", Channel: make(chan int)})
		assert.ErrorIs(t, err, storage.ErrInvalidModel)
	})

	t.Run("ReadNotFound", func(t *testing.T) {
		store := newStore()
		defer store.Close()

		err := store.Read(t.Context(), "missing", &Grant{})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ReadNilReceiver", func(t *testing.T) {
		store := newStore()
		defer store.Close()

		var g *Grant
		assert.ErrorIs(t, store.Read(t.Context(), "1", g), storage.ErrNilModel)
	})

	t.Run("ModelsAreNamespaced", func(t *testing.T) {
		store := newStore()
		defer store.Close()

		require.NoError(t, store.Create(t.Context(), Grant{ID: "1"}, Account{ID: "1", Email: "a@example.com"}))

		var acct Account
		require.NoError(t, store.Read(t.Context(), "1", &acct))
		assert.Equal(t, "a@example.com", acct.Email)

		require.NoError(t, store.Delete(t.Context(), Grant{ID: "1"}))
		ok, err := store.Exists(t.Context(), "1", Account{})
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("UpsertReplaces", func(t *testing.T) {
		store := newStore()
		defer store.Close()

		require.NoError(t, store.Upsert(t.Context(), Grant{ID: "1", Resource: "first", Scopes: []string{"a", "b"}}))
		require.NoError(t, store.Upsert(t.Context(), Grant{ID: "1", Resource: "second"}))

		var got Grant
		require.NoError(t, store.Read(t.Context(), "1", &got))
		assert.Equal(t, Grant{ID: "1", Resource: "second"}, got, "upsert replaces rather than merges")
	})

	t.Run("DeleteIsReportedOnce", func(t *testing.T) {
		store := newStore()
		defer store.Close()

		require.NoError(t, store.Create(t.Context(), Grant{ID: "1"}))
		require.NoError(t, store.Delete(t.Context(), Grant{ID: "1"}))
		assert.ErrorIs(t, store.Delete(t.Context(), Grant{ID: "1"}), storage.ErrNotFound)
		assert.ErrorIs(t, store.Read(t.Context(), "1", &Grant{}), storage.ErrNotFound)
	})

	t.Run("Exists", func(t *testing.T) {
		store := newStore()
		defer store.Close()

		ok, err := store.Exists(t.Context(), "1", Grant{})
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, store.Upsert(t.Context(), Grant{ID: "1"}))
		ok, err = store.Exists(t.Context(), "1", Grant{})
		require.NoError(t, err)
		assert.True(t, ok)
	})
}
