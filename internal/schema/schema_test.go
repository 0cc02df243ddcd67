package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CaseInsensitiveLookup(t *testing.T) {
	reg, err := NewRegistry(Class{Name: "Player"})
	require.NoError(t, err)

	for _, name := range []string{"Player", "player", "PLAYER"} {
		c, err := reg.Class(name)
		require.NoError(t, err)
		assert.Equal(t, "Player", c.Name)
	}
}

func TestRegistry_ClassNotFound(t *testing.T) {
	reg, err := NewRegistry(Class{Name: "Player"})
	require.NoError(t, err)

	_, err = reg.Class("Team")
	var nf *ClassNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "Team", nf.Class)
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(Class{Name: "Player"}, Class{Name: "player"})
	assert.Error(t, err)
}

func TestRegistry_RejectsEmptyName(t *testing.T) {
	_, err := NewRegistry(Class{})
	assert.Error(t, err)
}

func TestRegistry_ClassesSorted(t *testing.T) {
	reg, err := NewRegistry(Class{Name: "Team"}, Class{Name: "Player"})
	require.NoError(t, err)

	classes := reg.Classes()
	require.Len(t, classes, 2)
	assert.Equal(t, "Player", classes[0].Name)
	assert.Equal(t, "Team", classes[1].Name)
}

func TestClass_FieldResolvesDottedHead(t *testing.T) {
	c := Class{
		Name: "Player",
		Fields: map[string]Field{
			"profile": {Name: "profile", Kind: Object, Fields: map[string]Field{
				"bio": {Name: "bio"},
			}},
		},
	}

	f, ok := c.Field("profile.bio")
	require.True(t, ok)
	assert.Equal(t, "profile", f.Name)

	_, ok = c.Field("missing.bio")
	assert.False(t, ok)
}

func TestClass_VirtualFieldsSorted(t *testing.T) {
	c := Class{
		Name: "Player",
		Fields: map[string]Field{
			"zScore":   {Name: "zScore", Kind: Virtual},
			"age":      {Name: "age"},
			"initials": {Name: "initials", Kind: Virtual},
		},
	}

	virtuals := c.VirtualFields()
	require.Len(t, virtuals, 2)
	assert.Equal(t, "initials", virtuals[0].Name)
	assert.Equal(t, "zScore", virtuals[1].Name)
}
