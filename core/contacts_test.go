package core

import (
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type knownUsers map[UserID]bool

func (k knownUsers) Exists(u UserID) bool {
	return k[u]
}

func TestContactGraphAdd(t *testing.T) {
	g := NewContactGraph(knownUsers{"a": true, "b": true})

	testCases := []struct {
		name string
		a, b UserID
		err  error
	}{
		{name: "self", a: "a", b: "a", err: ErrSelfContact},
		{name: "unknown target", a: "a", b: "x", err: ErrUnknownUser},
		{name: "unknown source", a: "x", b: "a", err: ErrUnknownUser},
		{name: "ok", a: "a", b: "b"},
		{name: "re-add is idempotent", a: "b", b: "a"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := g.Add(tc.a, tc.b)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
		})
	}

	assert.True(t, g.AreContacts("a", "b"))
	assert.True(t, g.AreContacts("b", "a"))
	assert.Equal(t, 1, g.Count("a"))
	assert.False(t, g.AreContacts("a", "a"))
	assert.False(t, g.AreContacts("a", "x"))
}

func TestContactGraphRemoveIsIdempotent(t *testing.T) {
	g := NewContactGraph(knownUsers{"a": true, "b": true})
	require.NoError(t, g.Add("a", "b"))

	g.Remove("b", "a")
	g.Remove("b", "a")
	g.Remove("a", "nobody")

	assert.False(t, g.AreContacts("a", "b"))
	assert.False(t, g.AreContacts("b", "a"))
	assert.Empty(t, g.ContactsOf("a"))
}

func TestContactGraphSymmetryAndMutuals(t *testing.T) {
	ids := []UserID{"a", "b", "c", "d", "e", "f"}
	known := knownUsers{}
	for _, id := range ids {
		known[id] = true
	}
	g := NewContactGraph(known)
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		a, b := ids[rng.Intn(len(ids))], ids[rng.Intn(len(ids))]
		if rng.Intn(3) == 0 {
			g.Remove(a, b)
		} else {
			g.Add(a, b)
		}

		for _, x := range ids {
			for _, y := range ids {
				require.Equal(t, g.AreContacts(x, y), g.AreContacts(y, x))
				var want []UserID
				for _, c := range g.ContactsOf(x) {
					if slices.Contains(g.ContactsOf(y), c) {
						want = append(want, c)
					}
				}
				if want == nil {
					want = []UserID{}
				}
				require.Equal(t, want, g.Mutuals(x, y))
			}
		}
	}
}
