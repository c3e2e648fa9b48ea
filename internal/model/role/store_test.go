package role

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSeedRolesHaveAvatarNames(t *testing.T) {
	seen := map[string]bool{}
	for _, r := range Seed() {
		require.NotEmpty(t, r.AvatarName, "role %s", r.ID)
		require.NotEmpty(t, r.Label)
		require.False(t, seen[r.ID], "duplicate role %s", r.ID)
		seen[r.ID] = true
	}
	require.Len(t, seen, 5)
}

func TestMemoryStoreFindByID(t *testing.T) {
	store := NewMemoryStore(Seed())

	got, ok := store.FindByID("concierge")
	require.True(t, ok)
	require.Equal(t, "Anastasia_Chair_Sitting_public", got.AvatarName)

	_, ok = store.FindByID("sommelier")
	require.False(t, ok)
}

func TestMemoryStoreDefault(t *testing.T) {
	require.Equal(t, DefaultID, NewMemoryStore(Seed()).Default().ID)

	custom := NewMemoryStore([]Role{{ID: "only"}})
	require.Equal(t, "only", custom.Default().ID)

	require.Equal(t, Role{}, NewMemoryStore(nil).Default())
}

func TestMemoryStoreListIsCopy(t *testing.T) {
	store := NewMemoryStore(Seed())
	list := store.List()
	list[0].AvatarName = "changed"

	got, _ := store.FindByID(list[0].ID)
	require.NotEqual(t, "changed", got.AvatarName)
}
