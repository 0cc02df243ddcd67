// Package access carries the per-request caller identity and the
// persisted ACL layout shared by the filter compiler and the builtin
// hooks.
package access

// Identity is the caller identity for one inbound request. It is
// constructed once per request and passed by value through the whole
// call chain; the only mutation ever performed is explicit elevation
// to root for hook-internal loads.
type Identity struct {
	IsRoot bool
	UserID string
	RoleID string
}

// Root is the elevated identity used for hook-internal and
// materializing reads. ACL injection is skipped entirely for root.
func Root() Identity {
	return Identity{IsRoot: true}
}

// Authenticated reports whether the caller carries a user id.
func (id Identity) Authenticated() bool {
	return id.UserID != ""
}

// Field names of the persisted ACL document. An object's acl field is
//
//	{users: [{userId, read, write}], roles: [{roleId, read, write}]}
//
// with absence equivalent to null: world-readable/writable subject to
// class-level permissions. A non-null ACL is authoritative, and a user
// entry for the caller's id makes role entries irrelevant for that
// caller.
const (
	ACLField     = "acl"
	ACLUsersPath = "acl.users"
	ACLRolesPath = "acl.roles"
	ACLUserIDKey = "userId"
	ACLRoleIDKey = "roleId"
	ACLReadKey   = "read"
	ACLWriteKey  = "write"
)

// UserEntry builds one acl.users entry.
func UserEntry(userID string, read, write bool) map[string]any {
	return map[string]any{ACLUserIDKey: userID, ACLReadKey: read, ACLWriteKey: write}
}

// RoleEntry builds one acl.roles entry.
func RoleEntry(roleID string, read, write bool) map[string]any {
	return map[string]any{ACLRoleIDKey: roleID, ACLReadKey: read, ACLWriteKey: write}
}
