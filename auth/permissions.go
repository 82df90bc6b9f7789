package auth

import (
	"strings"

	"github.com/Comcast/automata/core"
)

// Scopes look like "automata:read:<realm>" or
// "automata:write:<realm>/<automataId>".  "*" matches any realm or
// any automata.  Write implies read.
const (
	Read  = "read"
	Write = "write"
)

// PermissionChecker answers questions for one Identity.
type PermissionChecker struct {
	Identity *Identity
}

func NewPermissionChecker(id *Identity) *PermissionChecker {
	return &PermissionChecker{
		Identity: id,
	}
}

func matchScope(scope, action, automataID, realmID string) bool {
	parts := strings.SplitN(scope, ":", 3)
	if len(parts) != 3 || parts[0] != "automata" {
		return false
	}
	if parts[1] != action && !(action == Read && parts[1] == Write) {
		return false
	}
	target := parts[2]
	if target == "*" {
		return true
	}
	realm, id := target, ""
	if i := strings.Index(target, "/"); 0 <= i {
		realm, id = target[:i], target[i+1:]
	}
	if realm != "*" && realm != realmID {
		return false
	}
	return id == "" || id == "*" || id == automataID
}

func (p *PermissionChecker) can(action, automataID, realmID string) bool {
	if p == nil || p.Identity == nil {
		return false
	}
	for _, s := range p.Identity.Scopes {
		if matchScope(s, action, automataID, realmID) {
			return true
		}
	}
	return false
}

func (p *PermissionChecker) CanReadAutomata(automataID, realmID string) bool {
	return p.can(Read, automataID, realmID)
}

func (p *PermissionChecker) CanWriteAutomata(automataID, realmID string) bool {
	return p.can(Write, automataID, realmID)
}

// Authorize checks the tenant and the scope for the Automata.
// Returns core.Forbidden or nil.
func (p *PermissionChecker) Authorize(a *core.Automata, action string) error {
	if p == nil || p.Identity == nil || p.Identity.TenantID != a.TenantID {
		return core.Forbidden
	}
	if !p.can(action, a.ID, a.RealmID) {
		return core.Forbidden
	}
	return nil
}
