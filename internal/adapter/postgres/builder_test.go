package postgres

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrydb/quarry/internal/access"
	"github.com/quarrydb/quarry/internal/where"
)

// renderFilter captures SQL and bound parameters in a stable text form
// for golden comparison.
func renderFilter(t *testing.T, n where.Node) []byte {
	t.Helper()
	var args []any
	sql, err := buildFilter(n, &args)
	require.NoError(t, err)

	var b strings.Builder
	b.WriteString(sql)
	b.WriteString("\n")
	for i, a := range args {
		fmt.Fprintf(&b, "$%d = %v\n", i+1, a)
	}
	return []byte(b.String())
}

func golden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestBuildFilter_GoldenEqualScalar(t *testing.T) {
	golden(t).Assert(t, "equal_scalar", renderFilter(t, where.Eq("name", "Alice")))
}

func TestBuildFilter_GoldenACLReadClause(t *testing.T) {
	// The clause the filter compiler injects for an authenticated
	// caller with a role, in its read form.
	clause := where.Or{Nodes: []where.Node{
		where.Comparison{Field: access.ACLField, Op: where.OpEqualTo, Value: nil},
		where.Comparison{
			Field: access.ACLUsersPath,
			Op:    where.OpContains,
			Value: map[string]any{access.ACLUserIDKey: "u1", access.ACLReadKey: true},
		},
		where.And{Nodes: []where.Node{
			where.Comparison{
				Field: access.ACLRolesPath,
				Op:    where.OpContains,
				Value: map[string]any{access.ACLRoleIDKey: "r1", access.ACLReadKey: true},
			},
			where.Comparison{
				Field: access.ACLUsersPath,
				Op:    where.OpNotContains,
				Value: map[string]any{access.ACLUserIDKey: "u1"},
			},
		}},
	}}
	golden(t).Assert(t, "acl_read_clause", renderFilter(t, clause))
}

func TestBuildFilter_GoldenReferenceMembership(t *testing.T) {
	golden(t).Assert(t, "reference_membership",
		renderFilter(t, where.In("team", []any{"t1", "t2"})))
}

func TestBuildFilter_NilIsUnconstrained(t *testing.T) {
	var args []any
	sql, err := buildFilter(nil, &args)
	require.NoError(t, err)
	assert.Equal(t, "TRUE", sql)
	assert.Empty(t, args)
}

func TestBuildFilter_EqualNilMatchesNullAndAbsent(t *testing.T) {
	var args []any
	sql, err := buildFilter(where.Eq("acl", nil), &args)
	require.NoError(t, err)
	assert.Equal(t, "(data #> '{acl}' IS NULL OR data #> '{acl}' = 'null'::jsonb)", sql)
	assert.Empty(t, args)
}

func TestBuildFilter_EmptyInNeverMatches(t *testing.T) {
	var args []any
	sql, err := buildFilter(where.In("name", []any{}), &args)
	require.NoError(t, err)
	assert.Equal(t, "FALSE", sql)

	args = nil
	sql, err = buildFilter(where.Comparison{Field: "name", Op: where.OpNotIn, Value: []any{}}, &args)
	require.NoError(t, err)
	assert.Equal(t, "TRUE", sql)
}

func TestBuildFilter_IDColumn(t *testing.T) {
	var args []any
	sql, err := buildFilter(where.Eq("id", "p1"), &args)
	require.NoError(t, err)
	assert.Equal(t, "id = $1", sql)
	assert.Equal(t, []any{"p1"}, args)

	args = nil
	sql, err = buildFilter(where.In("id", []any{"p1", "p2"}), &args)
	require.NoError(t, err)
	assert.Equal(t, "id = ANY($1)", sql)
	assert.Equal(t, []any{[]string{"p1", "p2"}}, args)

	args = nil
	sql, err = buildFilter(where.In("id", []any{}), &args)
	require.NoError(t, err)
	assert.Equal(t, "FALSE", sql)
}

func TestBuildFilter_OrderedNumeric(t *testing.T) {
	var args []any
	sql, err := buildFilter(where.Comparison{
		Field: "age", Op: where.OpGreaterThanOrEqualTo, Value: 18,
	}, &args)
	require.NoError(t, err)
	assert.Equal(t, "(data #>> '{age}')::numeric >= $1", sql)
	assert.Equal(t, []any{18}, args)
}

func TestBuildFilter_OrderedText(t *testing.T) {
	var args []any
	sql, err := buildFilter(where.Comparison{
		Field: "name", Op: where.OpLessThan, Value: "m",
	}, &args)
	require.NoError(t, err)
	assert.Equal(t, "data #>> '{name}' < $1", sql)
}

func TestBuildFilter_MixedInFallsBackToJSONB(t *testing.T) {
	var args []any
	sql, err := buildFilter(where.In("age", []any{1, 2}), &args)
	require.NoError(t, err)
	assert.Equal(t, "data #> '{age}' = ANY(ARRAY[$1::jsonb, $2::jsonb])", sql)
	assert.Equal(t, []any{"1", "2"}, args)
}

func TestBuildFilter_ContainsMap(t *testing.T) {
	var args []any
	sql, err := buildFilter(where.Comparison{
		Field: "acl.users",
		Op:    where.OpContains,
		Value: map[string]any{"userId": "u1"},
	}, &args)
	require.NoError(t, err)
	assert.Equal(t, "COALESCE(data #> '{acl,users}' @> $1::jsonb, FALSE)", sql)
	assert.Equal(t, []any{`[{"userId":"u1"}]`}, args)
}

func TestBuildFilter_Exists(t *testing.T) {
	var args []any
	sql, err := buildFilter(where.Comparison{Field: "age", Op: where.OpExists, Value: false}, &args)
	require.NoError(t, err)
	assert.Equal(t, "data #> '{age}' IS NULL", sql)
}

func TestBuildFilter_Groups(t *testing.T) {
	var args []any
	sql, err := buildFilter(where.And{Nodes: []where.Node{
		where.Eq("name", "a"),
		where.Or{Nodes: []where.Node{
			where.Eq("id", "x"),
			where.Eq("id", "y"),
		}},
	}}, &args)
	require.NoError(t, err)
	assert.Equal(t, "(data #> '{name}' = $1::jsonb AND (id = $2 OR id = $3))", sql)
	assert.Equal(t, []any{`"a"`, "x", "y"}, args)
}

func TestOrderClause(t *testing.T) {
	assert.Equal(t, "", orderClause(nil))
	assert.Equal(t, " ORDER BY data #> '{age}' DESC, id ASC", orderClause([]where.Order{
		{Field: "age", Direction: where.Desc},
		{Field: "id", Direction: where.Asc},
	}))
}
