package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrydb/quarry/internal/schema"
)

const sampleConfig = `
backend: sqlite
uri: ":memory:"
classes:
  - name: Player
    fields:
      name: {}
      age: {}
      tags:
        kind: array
      team:
        kind: pointer
        target: Team
      posts:
        kind: relation
        target: Post
    authorizedUsers:
      read: [u1, u2]
      write: [u1]
  - name: Team
    fields:
      name: {}
    cascades:
      - class: Player
        pointerField: team
  - name: Post
    fields:
      title: {}
`

func TestParse_Sample(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, BackendSQLite, cfg.Backend)
	assert.Equal(t, ":memory:", cfg.URI)
	require.Len(t, cfg.Classes, 3)

	player := cfg.Classes[0]
	assert.Equal(t, "Player", player.Name)
	assert.Equal(t, []string{"u1", "u2"}, player.AuthorizedUsers.Read)
	assert.Equal(t, "pointer", player.Fields["team"].Kind)
	assert.Equal(t, "Team", player.Fields["team"].Target)
}

func TestRegistry_FromSample(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	reg, err := cfg.Registry()
	require.NoError(t, err)

	player, err := reg.Class("player")
	require.NoError(t, err)

	team, ok := player.Field("team")
	require.True(t, ok)
	assert.Equal(t, schema.Pointer, team.Kind)
	assert.Equal(t, "Team", team.Target)

	posts, ok := player.Field("posts")
	require.True(t, ok)
	assert.Equal(t, schema.Relation, posts.Kind)

	tags, ok := player.Field("tags")
	require.True(t, ok)
	assert.Equal(t, schema.Array, tags.Kind)

	teamClass, err := reg.Class("Team")
	require.NoError(t, err)
	require.Len(t, teamClass.Cascades, 1)
	assert.Equal(t, "Player", teamClass.Cascades[0].Class)
	assert.Equal(t, "team", teamClass.Cascades[0].PointerField)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quarry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.Backend)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestParse_Validation(t *testing.T) {
	testCases := []struct {
		name string
		yaml string
	}{
		{"missing backend", "uri: x\nclasses: [{name: A}]"},
		{"unknown backend", "backend: oracle\nuri: x\nclasses: [{name: A}]"},
		{"missing uri", "backend: sqlite\nclasses: [{name: A}]"},
		{"no classes", "backend: sqlite\nuri: x"},
		{"unnamed class", "backend: sqlite\nuri: x\nclasses: [{fields: {}}]"},
		{"mongo without database", "backend: mongo\nuri: x\nclasses: [{name: A}]"},
		{"unknown field kind", "backend: sqlite\nuri: x\nclasses: [{name: A, fields: {f: {kind: blob}}}]"},
		{"pointer without target", "backend: sqlite\nuri: x\nclasses: [{name: A, fields: {f: {kind: pointer}}}]"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			assert.Error(t, err)
		})
	}
}
