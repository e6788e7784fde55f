package types

// Owner is the identity a session set belongs to. The zero value is the
// guest (no identity). Switching owners is a hard boundary: two owners'
// session sets are never merged.
type Owner struct {
	ID string
}

// Guest is the absent identity.
var Guest = Owner{}

// Authenticated builds an owner from a non-empty id.
func Authenticated(id string) Owner {
	return Owner{ID: id}
}

// IsGuest reports whether no identity is present.
func (o Owner) IsGuest() bool {
	return o.ID == ""
}

// ScopeKey is the local-cache scope this owner reads and writes. The guest
// scope is a fixed key distinct from every authenticated scope.
func (o Owner) ScopeKey() string {
	if o.IsGuest() {
		return "guest"
	}
	return "owner:" + o.ID
}

// String returns a log-friendly representation.
func (o Owner) String() string {
	if o.IsGuest() {
		return "guest"
	}
	return o.ID
}
