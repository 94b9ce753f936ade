package services

// Hierarchy order, broad to narrow. Deeper means strictly later in this list.
var scopeOrder = [...]ScopeKind{ScopeRegion, ScopeZone, ScopeDistrict, ScopeSubdistrict, ScopeFacility}

func scopeRank(k ScopeKind) int {
	for i, s := range scopeOrder {
		if s == k {
			return i
		}
	}
	return -1
}

// GlobalScope is the unrestricted scope.
func GlobalScope() Scope { return Scope{Kind: ScopeNone} }

// IsGlobal reports whether s places no restriction.
func (s Scope) IsGlobal() bool { return s.Kind == ScopeNone || s.Kind == "" }

// IsWithin reports whether child falls inside parent's span of control.
//
// A global parent contains everything; a global child is contained by nothing
// but a global parent. At equal depth the node values must match. A strictly
// deeper child is presumed contained: the model carries only single node
// values, not lineage chains, so it cannot verify that e.g. a district
// actually belongs to the parent region.
func IsWithin(child, parent Scope) bool {
	if parent.IsGlobal() {
		return true
	}
	if child.IsGlobal() {
		return false
	}
	cRank, pRank := scopeRank(child.Kind), scopeRank(parent.Kind)
	if cRank < pRank {
		return false
	}
	if cRank == pRank {
		return child.Value == parent.Value
	}
	return true
}

// MaxScopeAllows reports whether a role capped at max may hold the requested
// scope. A cap of none allows anything; a global request is always allowed;
// otherwise the request must not be deeper than the cap.
func MaxScopeAllows(requested Scope, max ScopeKind) bool {
	if max == ScopeNone || max == "" {
		return true
	}
	if requested.IsGlobal() {
		return true
	}
	return scopeRank(requested.Kind) <= scopeRank(max)
}
