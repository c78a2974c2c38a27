package domain

import "strings"

// Identity is the signed-in user as seen by the data layer.
type Identity struct {
	// UserID is the primary owner identifier stored on records.
	UserID string
	// Email is the secondary identifier some older records were written under.
	Email string
	// Token is the bearer credential presented to the document store.
	Token string
}

// Owners returns the distinct non-empty identifiers the user may appear under,
// primary first.
func (id Identity) Owners() []string {
	var out []string
	for _, v := range []string{id.UserID, id.Email} {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		dup := false
		for _, o := range out {
			if strings.EqualFold(o, v) {
				dup = true
			}
		}
		if !dup {
			out = append(out, v)
		}
	}
	return out
}

// Owns reports whether owner matches one of the identity's identifiers.
func (id Identity) Owns(owner string) bool {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return false
	}
	for _, o := range id.Owners() {
		if strings.EqualFold(o, owner) {
			return true
		}
	}
	return false
}
