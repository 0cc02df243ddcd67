package controller

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrydb/quarry/internal/access"
	"github.com/quarrydb/quarry/internal/adapter/sqlite"
	"github.com/quarrydb/quarry/internal/hook"
	"github.com/quarrydb/quarry/internal/metrics"
	"github.com/quarrydb/quarry/internal/schema"
	"github.com/quarrydb/quarry/internal/where"
)

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.NewRegistry(
		schema.Class{Name: "Player", Fields: map[string]schema.Field{
			"name":  {Name: "name"},
			"age":   {Name: "age"},
			"first": {Name: "first"},
			"last":  {Name: "last"},
			"fullName": {
				Name:      "fullName",
				Kind:      schema.Virtual,
				DependsOn: []string{"first", "last"},
				Compute: func(obj map[string]any) any {
					first, _ := obj["first"].(string)
					last, _ := obj["last"].(string)
					return first + " " + last
				},
			},
			"tags":   {Name: "tags", Kind: schema.Array},
			"team":   {Name: "team", Kind: schema.Pointer, Target: "Team"},
			"mentor": {Name: "mentor", Kind: schema.Pointer, Target: "Player"},
			"posts":  {Name: "posts", Kind: schema.Relation, Target: "Post"},
		}},
		schema.Class{
			Name:     "Team",
			Fields:   map[string]schema.Field{"name": {Name: "name"}},
			Cascades: []schema.Cascade{{Class: "Player", PointerField: "team"}},
		},
		schema.Class{Name: "Post", Fields: map[string]schema.Field{
			"title": {Name: "title"},
		}},
		schema.Class{
			Name:            "Report",
			Fields:          map[string]schema.Field{"title": {Name: "title"}},
			AuthorizedUsers: schema.Access{Read: []string{"alice"}, Write: []string{"alice"}},
		},
		schema.Class{
			Name:   "Note",
			Fields: map[string]schema.Field{"title": {Name: "title"}},
			DefaultACL: func(caller access.Identity, _ map[string]any) map[string]any {
				if !caller.Authenticated() {
					return nil
				}
				return map[string]any{
					"users": []any{access.UserEntry(caller.UserID, true, true)},
				}
			},
		},
	)
	require.NoError(t, err)
	return reg
}

func newTestController(t *testing.T) *Controller {
	t.Helper()
	reg := testRegistry(t)

	ad, err := sqlite.Open(filepath.Join(t.TempDir(), "quarry.db"), reg)
	require.NoError(t, err)
	t.Cleanup(func() { ad.Close(context.Background()) })

	for _, class := range reg.Classes() {
		require.NoError(t, ad.EnsureClass(context.Background(), class))
	}
	return New(reg, ad, hook.NewRegistry())
}

func mustCreate(t *testing.T, c *Controller, class string, data map[string]any) string {
	t.Helper()
	obj, err := c.Create(context.Background(), CreateParams{
		Class: class, Data: data, Select: where.IDOnly(),
	}, access.Root())
	require.NoError(t, err)
	return obj["id"].(string)
}

func aclFor(entries ...map[string]any) map[string]any {
	users := make([]any, 0)
	roles := make([]any, 0)
	for _, e := range entries {
		if _, ok := e["userId"]; ok {
			users = append(users, e)
		} else {
			roles = append(roles, e)
		}
	}
	acl := map[string]any{}
	if len(users) > 0 {
		acl["users"] = users
	}
	if len(roles) > 0 {
		acl["roles"] = roles
	}
	return acl
}

func TestCreateAndGet_RoundTrip(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	created, err := c.Create(ctx, CreateParams{
		Class: "Player",
		Data:  map[string]any{"name": "Alice", "age": 20},
	}, access.Root())
	require.NoError(t, err)
	id := created["id"].(string)
	assert.Equal(t, "Alice", created["name"])
	assert.Equal(t, float64(20), created["age"])

	got, err := c.Get(ctx, GetParams{Class: "Player", ID: id}, access.Root())
	require.NoError(t, err)
	assert.Equal(t, created["name"], got["name"])
}

func TestCreate_IDOnlySentinelSkipsReread(t *testing.T) {
	c := newTestController(t)

	obj, err := c.Create(context.Background(), CreateParams{
		Class:  "Player",
		Data:   map[string]any{"name": "Alice"},
		Select: where.IDOnly(),
	}, access.Root())
	require.NoError(t, err)

	// Exactly {id}: no other field leaks without a re-read.
	require.Len(t, obj, 1)
	assert.NotEmpty(t, obj["id"])
}

func TestGet_UnknownClass(t *testing.T) {
	c := newTestController(t)
	_, err := c.Get(context.Background(), GetParams{Class: "Ghost", ID: "x"}, access.Root())
	var nf *schema.ClassNotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestGet_MissingObject(t *testing.T) {
	c := newTestController(t)
	_, err := c.Get(context.Background(), GetParams{Class: "Player", ID: "missing"}, access.Root())
	assert.True(t, IsObjectNotFound(err))
}

func TestGet_ProjectionLimitsFields(t *testing.T) {
	c := newTestController(t)
	id := mustCreate(t, c, "Player", map[string]any{"name": "Alice", "age": 20})

	got, err := c.Get(context.Background(), GetParams{
		Class: "Player", ID: id, Select: where.Take("name"),
	}, access.Root())
	require.NoError(t, err)

	assert.Equal(t, "Alice", got["name"])
	assert.Equal(t, id, got["id"])
	_, leaked := got["age"]
	assert.False(t, leaked)
}

func TestGetMany_OrderByAge(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	mustCreate(t, c, "Player", map[string]any{"name": "A", "age": 20})
	mustCreate(t, c, "Player", map[string]any{"name": "B", "age": 18})

	rows, err := c.GetMany(ctx, GetManyParams{
		Class:  "Player",
		Select: where.Take("name", "age"),
		Order:  []where.Order{{Field: "age", Direction: where.Asc}},
	}, access.Root())
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, "B", rows[0]["name"])
	assert.Equal(t, "A", rows[1]["name"])
}

func TestGetMany_FirstOffset(t *testing.T) {
	c := newTestController(t)
	for _, name := range []string{"A", "B", "C"} {
		mustCreate(t, c, "Player", map[string]any{"name": name})
	}

	rows, err := c.GetMany(context.Background(), GetManyParams{
		Class:  "Player",
		Order:  []where.Order{{Field: "name", Direction: where.Asc}},
		First:  1,
		Offset: 1,
	}, access.Root())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "B", rows[0]["name"])
}

func TestCount(t *testing.T) {
	c := newTestController(t)
	mustCreate(t, c, "Player", map[string]any{"name": "A", "age": 20})
	mustCreate(t, c, "Player", map[string]any{"name": "B", "age": 18})

	n, err := c.Count(context.Background(), CountParams{
		Class: "Player",
		Where: where.Comparison{Field: "age", Op: where.OpGreaterThanOrEqualTo, Value: 20},
	}, access.Root())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestACL_UserWithoutGrantSeesNothing(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	id := mustCreate(t, c, "Player", map[string]any{
		"name": "secret",
		"acl":  aclFor(access.UserEntry("alice", true, true)),
	})

	// Alice reads it.
	got, err := c.Get(ctx, GetParams{Class: "Player", ID: id}, access.Identity{UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "secret", got["name"])

	// Bob gets the same error as for a missing object.
	_, err = c.Get(ctx, GetParams{Class: "Player", ID: id}, access.Identity{UserID: "bob"})
	assert.True(t, IsObjectNotFound(err))
}

func TestACL_GetManyFiltersSilently(t *testing.T) {
	c := newTestController(t)

	mustCreate(t, c, "Player", map[string]any{"name": "open"})
	mustCreate(t, c, "Player", map[string]any{
		"name": "closed",
		"acl":  aclFor(access.UserEntry("alice", true, false)),
	})

	rows, err := c.GetMany(context.Background(), GetManyParams{Class: "Player"},
		access.Identity{UserID: "bob"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "open", rows[0]["name"])
}

func TestACL_RoleGrant(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	id := mustCreate(t, c, "Player", map[string]any{
		"name": "staff only",
		"acl":  aclFor(access.RoleEntry("staff", true, false)),
	})

	_, err := c.Get(ctx, GetParams{Class: "Player", ID: id},
		access.Identity{UserID: "bob"})
	assert.True(t, IsObjectNotFound(err))

	got, err := c.Get(ctx, GetParams{Class: "Player", ID: id},
		access.Identity{UserID: "bob", RoleID: "staff"})
	require.NoError(t, err)
	assert.Equal(t, "staff only", got["name"])
}

func TestACL_UserEntryOverridesRoleGrant(t *testing.T) {
	c := newTestController(t)

	// Alice is explicitly denied even though her role is granted.
	id := mustCreate(t, c, "Player", map[string]any{
		"name": "x",
		"acl": aclFor(
			access.UserEntry("alice", false, false),
			access.RoleEntry("staff", true, true),
		),
	})

	_, err := c.Get(context.Background(), GetParams{Class: "Player", ID: id},
		access.Identity{UserID: "alice", RoleID: "staff"})
	assert.True(t, IsObjectNotFound(err))
}

func TestACL_UnauthenticatedSeesOpenObjectsOnly(t *testing.T) {
	c := newTestController(t)

	mustCreate(t, c, "Player", map[string]any{"name": "open"})
	mustCreate(t, c, "Player", map[string]any{
		"name": "closed",
		"acl":  aclFor(access.UserEntry("alice", true, false)),
	})

	rows, err := c.GetMany(context.Background(), GetManyParams{Class: "Player"}, access.Identity{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "open", rows[0]["name"])
}

func TestACL_WriteGrantRequiredForUpdate(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	id := mustCreate(t, c, "Player", map[string]any{
		"name": "x",
		"acl":  aclFor(access.UserEntry("alice", true, false)),
	})

	// Readable but not writable: the update sees no matching object.
	_, err := c.Update(ctx, UpdateParams{
		Class: "Player", ID: id, Data: map[string]any{"name": "y"},
	}, access.Identity{UserID: "alice"})
	assert.True(t, IsObjectNotFound(err))

	// The object is unchanged.
	got, err := c.Get(ctx, GetParams{Class: "Player", ID: id}, access.Root())
	require.NoError(t, err)
	assert.Equal(t, "x", got["name"])
}

func TestACL_ClassListsPopulateCreatedObjects(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	created, err := c.Create(ctx, CreateParams{
		Class:  "Report",
		Data:   map[string]any{"title": "q3"},
		Select: where.IDOnly(),
	}, access.Identity{UserID: "alice"})
	require.NoError(t, err)
	id := created["id"].(string)

	_, err = c.Get(ctx, GetParams{Class: "Report", ID: id}, access.Identity{UserID: "bob"})
	assert.True(t, IsObjectNotFound(err))

	got, err := c.Get(ctx, GetParams{Class: "Report", ID: id}, access.Identity{UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "q3", got["title"])
}

func TestUpdate_PartialMerge(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()
	id := mustCreate(t, c, "Player", map[string]any{"name": "Alice", "age": 20})

	got, err := c.Update(ctx, UpdateParams{
		Class: "Player", ID: id, Data: map[string]any{"name": "Bob"},
	}, access.Root())
	require.NoError(t, err)

	assert.Equal(t, "Bob", got["name"])
	assert.Equal(t, float64(20), got["age"])
}

func TestUpdateMany_RenamesInSnapshotOrder(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	var created []string
	for _, name := range []string{"A", "B", "C"} {
		created = append(created, mustCreate(t, c, "Player", map[string]any{"name": name, "age": 10}))
	}
	mustCreate(t, c, "Player", map[string]any{"name": "D", "age": 99})

	rows, err := c.UpdateMany(ctx, UpdateManyParams{
		Class: "Player",
		Where: where.Eq("age", 10),
		Data:  map[string]any{"name": "renamed"},
	}, access.Root())
	require.NoError(t, err)

	// Results follow the pre-mutation snapshot, which is taken in id
	// order regardless of backend row order.
	sort.Strings(created)
	require.Len(t, rows, 3)
	for i, row := range rows {
		assert.Equal(t, "renamed", row["name"])
		assert.Equal(t, created[i], row["id"])
	}

	// The one non-matching row is untouched.
	n, err := c.Count(ctx, CountParams{Class: "Player", Where: where.Eq("name", "D")}, access.Root())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestUpdateMany_SnapshotSurvivesFilterInvalidation(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	mustCreate(t, c, "Player", map[string]any{"name": "A", "age": 10})
	mustCreate(t, c, "Player", map[string]any{"name": "B", "age": 10})

	// The mutation changes the very field the filter matched on; the
	// results still cover every originally-matching object.
	rows, err := c.UpdateMany(ctx, UpdateManyParams{
		Class: "Player",
		Where: where.Eq("age", 10),
		Data:  map[string]any{"age": 11},
	}, access.Root())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, float64(11), row["age"])
	}
}

func TestUpdateMany_DivergentHookPayloads(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	require.NoError(t, c.Hooks().Register("Player", hook.BeforeUpdate, 1,
		func(_ context.Context, obj *hook.Object) error {
			obj.Data["stamp"] = obj.ID()
			return nil
		}))

	a := mustCreate(t, c, "Player", map[string]any{"name": "A", "age": 10})
	b := mustCreate(t, c, "Player", map[string]any{"name": "B", "age": 10})

	rows, err := c.UpdateMany(ctx, UpdateManyParams{
		Class: "Player",
		Where: where.Eq("age", 10),
		Data:  map[string]any{"name": "renamed"},
	}, access.Root())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byID := map[string]map[string]any{}
	for _, row := range rows {
		byID[row["id"].(string)] = row
	}
	assert.Equal(t, a, byID[a]["stamp"])
	assert.Equal(t, b, byID[b]["stamp"])
}

func TestUpdateMany_NoMatches(t *testing.T) {
	c := newTestController(t)
	rows, err := c.UpdateMany(context.Background(), UpdateManyParams{
		Class: "Player",
		Where: where.Eq("name", "nobody"),
		Data:  map[string]any{"x": 1},
	}, access.Root())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCreateMany_ResultsAlignWithInput(t *testing.T) {
	c := newTestController(t)

	rows, err := c.CreateMany(context.Background(), CreateManyParams{
		Class: "Player",
		Data: []map[string]any{
			{"name": "A"},
			{"name": "B"},
		},
		Select: where.Take("name"),
	}, access.Root())
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, "A", rows[0]["name"])
	assert.Equal(t, "B", rows[1]["name"])
}

func TestCreateMany_EmptyBatch(t *testing.T) {
	c := newTestController(t)
	rows, err := c.CreateMany(context.Background(), CreateManyParams{Class: "Player"}, access.Root())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCreateMany_IDOnlySentinel(t *testing.T) {
	c := newTestController(t)
	rows, err := c.CreateMany(context.Background(), CreateManyParams{
		Class:  "Player",
		Data:   []map[string]any{{"name": "A"}},
		Select: where.IDOnly(),
	}, access.Root())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Len(t, rows[0], 1)
	assert.NotEmpty(t, rows[0]["id"])
}

func TestDelete_ReturnsPriorState(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()
	id := mustCreate(t, c, "Player", map[string]any{"name": "Alice"})

	prior, err := c.Delete(ctx, DeleteParams{Class: "Player", ID: id}, access.Root())
	require.NoError(t, err)
	assert.Equal(t, "Alice", prior["name"])

	_, err = c.Get(ctx, GetParams{Class: "Player", ID: id}, access.Root())
	assert.True(t, IsObjectNotFound(err))
}

func TestDeleteMany_ReturnsPriorStates(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	mustCreate(t, c, "Player", map[string]any{"name": "A", "age": 10})
	mustCreate(t, c, "Player", map[string]any{"name": "B", "age": 10})
	mustCreate(t, c, "Player", map[string]any{"name": "C", "age": 99})

	rows, err := c.DeleteMany(ctx, DeleteManyParams{
		Class: "Player",
		Where: where.Eq("age", 10),
	}, access.Root())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	n, err := c.Count(ctx, CountParams{Class: "Player"}, access.Root())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestDelete_CascadesToDependents(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	teamID := mustCreate(t, c, "Team", map[string]any{"name": "Reds"})
	mustCreate(t, c, "Player", map[string]any{"name": "A", "team": teamID})
	mustCreate(t, c, "Player", map[string]any{"name": "B", "team": teamID})
	mustCreate(t, c, "Player", map[string]any{"name": "C"})

	_, err := c.Delete(ctx, DeleteParams{Class: "Team", ID: teamID, Select: where.IDOnly()}, access.Root())
	require.NoError(t, err)

	rows, err := c.GetMany(ctx, GetManyParams{Class: "Player"}, access.Root())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "C", rows[0]["name"])
}

func TestResolve_Pointer(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	teamID := mustCreate(t, c, "Team", map[string]any{"name": "Reds"})
	playerID := mustCreate(t, c, "Player", map[string]any{"name": "A", "team": teamID})

	got, err := c.Get(ctx, GetParams{
		Class: "Player", ID: playerID,
		Select: where.Select{
			"name": where.Leaf,
			"team": {Sub: where.Take("name")},
		},
	}, access.Root())
	require.NoError(t, err)

	team, ok := got["team"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Reds", team["name"])
	assert.Equal(t, teamID, team["id"])
}

func TestResolve_NullPointer(t *testing.T) {
	c := newTestController(t)
	id := mustCreate(t, c, "Player", map[string]any{"name": "A"})

	got, err := c.Get(context.Background(), GetParams{
		Class: "Player", ID: id,
		Select: where.Select{"team": {Sub: where.Take("name")}},
	}, access.Root())
	require.NoError(t, err)
	assert.Nil(t, got["team"])
}

func TestResolve_PointerHiddenByACLIsNull(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	teamID := mustCreate(t, c, "Team", map[string]any{
		"name": "Reds",
		"acl":  aclFor(access.UserEntry("alice", true, true)),
	})
	playerID := mustCreate(t, c, "Player", map[string]any{"name": "A", "team": teamID})

	got, err := c.Get(ctx, GetParams{
		Class: "Player", ID: playerID,
		Select: where.Select{"team": {Sub: where.Take("name")}},
	}, access.Identity{UserID: "bob"})
	require.NoError(t, err)
	// The target exists but the caller may not read it; the reference
	// resolves to null rather than failing the whole read.
	assert.Nil(t, got["team"])
}

func TestResolve_RelationWithCount(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	p1 := mustCreate(t, c, "Post", map[string]any{"title": "one"})
	p2 := mustCreate(t, c, "Post", map[string]any{"title": "two"})
	playerID := mustCreate(t, c, "Player", map[string]any{
		"name": "A", "posts": []any{p1, p2},
	})

	got, err := c.Get(ctx, GetParams{
		Class: "Player", ID: playerID,
		Select: where.Select{
			"posts": {Sub: where.Take("title"), WithCount: true},
		},
	}, access.Root())
	require.NoError(t, err)

	posts, ok := got["posts"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, int64(2), posts["totalCount"])
	children := posts["objects"].([]map[string]any)
	require.Len(t, children, 2)
}

func TestResolve_RelationSubFilter(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	p1 := mustCreate(t, c, "Post", map[string]any{"title": "keep"})
	p2 := mustCreate(t, c, "Post", map[string]any{"title": "drop"})
	playerID := mustCreate(t, c, "Player", map[string]any{
		"name": "A", "posts": []any{p1, p2},
	})

	got, err := c.Get(ctx, GetParams{
		Class: "Player", ID: playerID,
		Select: where.Select{
			"posts": {Sub: where.Take("title"), Where: where.Eq("title", "keep")},
		},
	}, access.Root())
	require.NoError(t, err)

	children := got["posts"].([]map[string]any)
	require.Len(t, children, 1)
	assert.Equal(t, "keep", children[0]["title"])
}

func TestResolve_DepthCap(t *testing.T) {
	reg := testRegistry(t)
	ad, err := sqlite.Open(filepath.Join(t.TempDir(), "quarry.db"), reg)
	require.NoError(t, err)
	defer ad.Close(context.Background())
	for _, class := range reg.Classes() {
		require.NoError(t, ad.EnsureClass(context.Background(), class))
	}
	c := New(reg, ad, hook.NewRegistry(), WithMaxDepth(1))

	rootID := mustCreate(t, c, "Player", map[string]any{"name": "root"})
	midID := mustCreate(t, c, "Player", map[string]any{"name": "mid", "mentor": rootID})
	leafID := mustCreate(t, c, "Player", map[string]any{"name": "leaf", "mentor": midID})

	// One level of resolution fits the cap.
	got, err := c.Get(context.Background(), GetParams{
		Class: "Player", ID: leafID,
		Select: where.Select{"mentor": {Sub: where.Take("name")}},
	}, access.Root())
	require.NoError(t, err)
	mentor := got["mentor"].(map[string]any)
	assert.Equal(t, "mid", mentor["name"])

	// Following the chain one step further exceeds it.
	_, err = c.Get(context.Background(), GetParams{
		Class: "Player", ID: leafID,
		Select: where.Select{
			"mentor": {Sub: where.Select{"mentor": {Sub: where.Take("name")}}},
		},
	}, access.Root())
	assert.Error(t, err)
}

func TestVirtualField_MaterializedWithoutLeakingDeps(t *testing.T) {
	c := newTestController(t)
	id := mustCreate(t, c, "Player", map[string]any{
		"name": "A", "first": "Ada", "last": "Lovelace",
	})

	got, err := c.Get(context.Background(), GetParams{
		Class: "Player", ID: id, Select: where.Take("fullName"),
	}, access.Root())
	require.NoError(t, err)

	assert.Equal(t, "Ada Lovelace", got["fullName"])
	// The dependencies were fetched internally but never surface.
	_, leaked := got["first"]
	assert.False(t, leaked)
	_, leaked = got["last"]
	assert.False(t, leaked)
}

func TestVirtualField_NeverPersisted(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	id := mustCreate(t, c, "Player", map[string]any{
		"first": "Ada", "last": "Lovelace", "fullName": "forged",
	})

	// The forged payload value was stripped before the write; reads
	// always compute from the dependencies.
	got, err := c.Get(ctx, GetParams{Class: "Player", ID: id}, access.Root())
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", got["fullName"])

	n, err := c.Count(ctx, CountParams{
		Class: "Player", Where: where.Eq("fullName", "forged"),
	}, access.Root())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestHook_BeforeCreateVeto(t *testing.T) {
	c := newTestController(t)
	veto := errors.New("quota exceeded")
	require.NoError(t, c.Hooks().Register("Player", hook.BeforeCreate, 1,
		func(context.Context, *hook.Object) error { return veto }))

	_, err := c.Create(context.Background(), CreateParams{
		Class: "Player", Data: map[string]any{"name": "A"},
	}, access.Root())
	assert.True(t, IsHookRejected(err))
	assert.ErrorIs(t, err, veto)

	// Nothing was written.
	n, err := c.Count(context.Background(), CountParams{Class: "Player"}, access.Root())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestHook_BeforeCreateMutatesPayload(t *testing.T) {
	c := newTestController(t)
	require.NoError(t, c.Hooks().Register("Player", hook.BeforeCreate, 1,
		func(_ context.Context, obj *hook.Object) error {
			obj.Data["name"] = "stamped"
			return nil
		}))

	created, err := c.Create(context.Background(), CreateParams{
		Class: "Player", Data: map[string]any{"name": "A"},
	}, access.Root())
	require.NoError(t, err)
	assert.Equal(t, "stamped", created["name"])
}

func TestHook_AfterCreateFailureIsPostCommit(t *testing.T) {
	c := newTestController(t)
	require.NoError(t, c.Hooks().Register("Player", hook.AfterCreate, 1,
		func(context.Context, *hook.Object) error { return errors.New("notify failed") }))

	_, err := c.Create(context.Background(), CreateParams{
		Class: "Player", Data: map[string]any{"name": "A"},
	}, access.Root())
	assert.True(t, IsPostCommit(err))

	// The write itself committed.
	n, err := c.Count(context.Background(), CountParams{Class: "Player"}, access.Root())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestHook_BeforeUpdateSeesPreImage(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()
	id := mustCreate(t, c, "Player", map[string]any{"name": "before"})

	var seen string
	require.NoError(t, c.Hooks().Register("Player", hook.BeforeUpdate, 1,
		func(ctx context.Context, obj *hook.Object) error {
			orig, err := obj.Original(ctx)
			if err != nil {
				return err
			}
			seen, _ = orig["name"].(string)
			return nil
		}))

	_, err := c.Update(ctx, UpdateParams{
		Class: "Player", ID: id, Data: map[string]any{"name": "after"},
		Select: where.IDOnly(),
	}, access.Root())
	require.NoError(t, err)
	assert.Equal(t, "before", seen)
}

func TestHook_InputPayloadNeverMutated(t *testing.T) {
	c := newTestController(t)
	require.NoError(t, c.Hooks().Register("Player", hook.BeforeCreate, 1,
		func(_ context.Context, obj *hook.Object) error {
			obj.Data["extra"] = true
			return nil
		}))

	payload := map[string]any{"name": "A"}
	_, err := c.Create(context.Background(), CreateParams{
		Class: "Player", Data: payload, Select: where.IDOnly(),
	}, access.Root())
	require.NoError(t, err)

	_, mutated := payload["extra"]
	assert.False(t, mutated, "hooks run on a copy of the caller's payload")
}

func TestReferenceFilter_TransitiveACL(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	redsID := mustCreate(t, c, "Team", map[string]any{"name": "Reds"})
	hiddenID := mustCreate(t, c, "Team", map[string]any{
		"name": "Reds",
		"acl":  aclFor(access.UserEntry("alice", true, true)),
	})
	mustCreate(t, c, "Player", map[string]any{"name": "A", "team": redsID})
	mustCreate(t, c, "Player", map[string]any{"name": "B", "team": hiddenID})

	// Bob's reference filter only sees the open team, so only player A
	// matches.
	rows, err := c.GetMany(ctx, GetManyParams{
		Class: "Player",
		Where: where.Reference{Field: "team", Where: where.Eq("name", "Reds")},
	}, access.Identity{UserID: "bob"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "A", rows[0]["name"])
}

func TestReferenceFilter_NoMatchesMeansNoResults(t *testing.T) {
	c := newTestController(t)
	mustCreate(t, c, "Player", map[string]any{"name": "A"})

	rows, err := c.GetMany(context.Background(), GetManyParams{
		Class: "Player",
		Where: where.Reference{Field: "team", Where: where.Eq("name", "nobody")},
	}, access.Root())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestProjection_Idempotent(t *testing.T) {
	reg := testRegistry(t)
	player, err := reg.Class("Player")
	require.NoError(t, err)

	sel := where.Take("name")
	row := map[string]any{"id": "p1", "name": "A", "age": 20}
	once := project(player, row, sel)
	twice := project(player, once, sel)
	assert.Equal(t, once, twice)
}

func TestHook_BeforeReadVetoBlocksGetMany(t *testing.T) {
	c := newTestController(t)
	veto := errors.New("read blocked")
	var fired int
	require.NoError(t, c.Hooks().Register("Player", hook.BeforeRead, 1,
		func(context.Context, *hook.Object) error {
			fired++
			return veto
		}))

	mustCreate(t, c, "Player", map[string]any{"name": "A"})

	_, err := c.GetMany(context.Background(), GetManyParams{Class: "Player"}, access.Root())
	assert.True(t, IsHookRejected(err))
	assert.ErrorIs(t, err, veto)
	assert.Equal(t, 1, fired)
}

func TestHook_BeforeReadVetoBlocksCount(t *testing.T) {
	c := newTestController(t)
	veto := errors.New("read blocked")
	require.NoError(t, c.Hooks().Register("Player", hook.BeforeRead, 1,
		func(context.Context, *hook.Object) error { return veto }))

	_, err := c.Count(context.Background(), CountParams{Class: "Player"}, access.Root())
	assert.True(t, IsHookRejected(err))
}

func TestHook_ReadHooksFireOnCollectionOps(t *testing.T) {
	c := newTestController(t)
	var before, after int
	require.NoError(t, c.Hooks().Register("Player", hook.BeforeRead, 1,
		func(context.Context, *hook.Object) error {
			before++
			return nil
		}))
	require.NoError(t, c.Hooks().Register("Player", hook.AfterRead, 1,
		func(context.Context, *hook.Object) error {
			after++
			return nil
		}))

	mustCreate(t, c, "Player", map[string]any{"name": "A"})
	before, after = 0, 0

	_, err := c.GetMany(context.Background(), GetManyParams{Class: "Player"}, access.Root())
	require.NoError(t, err)
	assert.Equal(t, 1, before)
	assert.Equal(t, 1, after) // once per fetched object

	_, err = c.Count(context.Background(), CountParams{Class: "Player"}, access.Root())
	require.NoError(t, err)
	assert.Equal(t, 2, before)
	assert.Equal(t, 2, after) // collection-level, no materialization
}

func TestACL_ClassCallbackGrantsCreatorOnly(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	created, err := c.Create(ctx, CreateParams{
		Class:  "Note",
		Data:   map[string]any{"title": "mine"},
		Select: where.IDOnly(),
	}, access.Identity{UserID: "alice"})
	require.NoError(t, err)
	id := created["id"].(string)

	got, err := c.Get(ctx, GetParams{Class: "Note", ID: id}, access.Identity{UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "mine", got["title"])

	_, err = c.Get(ctx, GetParams{Class: "Note", ID: id}, access.Identity{UserID: "bob"})
	assert.True(t, IsObjectNotFound(err))
}

func counterTotal(t *testing.T, g prometheus.Gatherer, name string) float64 {
	t.Helper()
	families, err := g.Gather()
	require.NoError(t, err)
	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestMetrics_RecordOperationsAndFailures(t *testing.T) {
	reg := testRegistry(t)
	ad, err := sqlite.Open(filepath.Join(t.TempDir(), "quarry.db"), reg)
	require.NoError(t, err)
	defer ad.Close(context.Background())
	for _, class := range reg.Classes() {
		require.NoError(t, ad.EnsureClass(context.Background(), class))
	}

	promReg := prometheus.NewRegistry()
	c := New(reg, ad, hook.NewRegistry(), WithMetrics(metrics.New(promReg)))
	ctx := context.Background()

	id := mustCreate(t, c, "Player", map[string]any{"name": "A"})
	_, err = c.Get(ctx, GetParams{Class: "Player", ID: id}, access.Root())
	require.NoError(t, err)
	_, err = c.Get(ctx, GetParams{Class: "Player", ID: "missing"}, access.Root())
	require.Error(t, err)

	assert.Equal(t, float64(3), counterTotal(t, promReg, "quarry_operations_total"))
	assert.Equal(t, float64(1), counterTotal(t, promReg, "quarry_operation_failures_total"))

	families, err := promReg.Gather()
	require.NoError(t, err)
	var samples uint64
	for _, f := range families {
		if f.GetName() != "quarry_operation_duration_seconds" {
			continue
		}
		for _, m := range f.GetMetric() {
			samples += m.GetHistogram().GetSampleCount()
		}
	}
	assert.Equal(t, uint64(3), samples)
}
