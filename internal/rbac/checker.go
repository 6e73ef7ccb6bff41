package rbac

import (
	"context"
	"sort"
	"strings"
)

// grants is one role's permissions: exact names plus "prefix:*" patterns.
type grants struct {
	all      bool
	exact    map[string]bool
	prefixes []string
}

func (g grants) allows(perm string) bool {
	if g.all || g.exact[perm] {
		return true
	}
	for _, p := range g.prefixes {
		if strings.HasPrefix(perm, p) {
			return true
		}
	}
	return false
}

// Checker answers permission questions against a role table compiled once.
type Checker struct {
	roles map[string]grants
}

// NewChecker compiles rp, or RolePermissions when rp is nil.
func NewChecker(rp map[string][]string) *Checker {
	if rp == nil {
		rp = RolePermissions
	}
	c := &Checker{roles: make(map[string]grants, len(rp))}
	for role, perms := range rp {
		g := grants{exact: map[string]bool{}}
		for _, p := range perms {
			switch {
			case p == "*":
				g.all = true
			case strings.HasSuffix(p, "*"):
				g.prefixes = append(g.prefixes, strings.TrimSuffix(p, "*"))
			default:
				g.exact[p] = true
			}
		}
		c.roles[role] = g
	}
	return c
}

func (c *Checker) Has(role, perm string) bool {
	g, ok := c.roles[role]
	return ok && g.allows(perm)
}

// Any reports whether role holds at least one of perms.
func (c *Checker) Any(role string, perms ...string) bool {
	for _, p := range perms {
		if c.Has(role, p) {
			return true
		}
	}
	return false
}

// Granted lists the known permissions role holds, sorted.
func (c *Checker) Granted(role string) []string {
	out := []string{}
	for _, p := range AllPermissions {
		if c.Has(role, p) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

type roleKey struct{}

func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleKey{}, role)
}

func RoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(roleKey{}).(string)
	return role
}
