package auth

import (
	"sort"
	"strings"
)

// Principal names attached to an evaluated request
const (
	PrincipalTrustedCert         = "trusted:cert"
	principalAuthenticatedPrefix = "authenticated:"
	principalRolePrefix          = "role:"
)

// AuthenticatedPrincipal names the principal for a logged-in user
func AuthenticatedPrincipal(userID string) string {
	return principalAuthenticatedPrefix + userID
}

// RolePrincipal names the principal derived from an account role
func RolePrincipal(role string) string {
	return principalRolePrefix + role
}

// Principals is an immutable set of principal names
type Principals struct {
	set map[string]struct{}
}

// NewPrincipals builds a set from names
func NewPrincipals(names ...string) Principals {
	p := Principals{set: make(map[string]struct{}, len(names))}
	for _, n := range names {
		p.set[n] = struct{}{}
	}
	return p
}

// Has reports whether name is in the set
func (p Principals) Has(name string) bool {
	_, ok := p.set[name]
	return ok
}

// Authenticated reports whether any authenticated:<id> principal is present
func (p Principals) Authenticated() bool {
	for n := range p.set {
		if strings.HasPrefix(n, principalAuthenticatedPrefix) {
			return true
		}
	}
	return false
}

// TrustedCert reports whether the request proved a certificate of the session's user
func (p Principals) TrustedCert() bool {
	return p.Has(PrincipalTrustedCert)
}

// List returns the names sorted
func (p Principals) List() []string {
	out := make([]string, 0, len(p.set))
	for n := range p.set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
