package services

import "sort"

// FacilityDirectory resolves facility names to their administrative lineage
// and answers distinct-value queries per hierarchy level. It is loaded once
// from the directory files and treated as read-only.
type FacilityDirectory struct {
	facilities []Facility
	byName     map[string]*Facility
	csos       []CSOMapping
}

func NewFacilityDirectory(facilities []Facility, csos []CSOMapping) *FacilityDirectory {
	d := &FacilityDirectory{
		facilities: facilities,
		byName:     make(map[string]*Facility, len(facilities)),
		csos:       csos,
	}
	for i := range d.facilities {
		f := &d.facilities[i]
		d.byName[f.Name] = f
	}
	return d
}

// Lookup returns the directory row for a facility name, or nil.
func (d *FacilityDirectory) Lookup(facility string) *Facility {
	if d == nil {
		return nil
	}
	return d.byName[facility]
}

func (d *FacilityDirectory) Facilities() []Facility {
	if d == nil {
		return nil
	}
	return d.facilities
}

// Values returns the sorted distinct node names at the given level,
// restricted to rows matching the non-empty filter dimensions.
func (d *FacilityDirectory) Values(level ScopeKind, filter LocationFilter) []string {
	if d == nil {
		return nil
	}
	set := map[string]struct{}{}
	for i := range d.facilities {
		f := &d.facilities[i]
		if filter.Region != "" && f.Region != filter.Region {
			continue
		}
		if filter.Zone != "" && f.Zone != filter.Zone {
			continue
		}
		if filter.District != "" && f.District != filter.District {
			continue
		}
		var v string
		switch level {
		case ScopeRegion:
			v = f.Region
		case ScopeZone:
			v = f.Zone
		case ScopeDistrict:
			v = f.District
		case ScopeSubdistrict:
			v = f.Subdistrict
		case ScopeFacility:
			v = f.Name
		}
		if v != "" {
			set[v] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// CSOsForDistrict returns the sorted distinct CSOs mapped to a district.
func (d *FacilityDirectory) CSOsForDistrict(district string) []string {
	if d == nil {
		return nil
	}
	set := map[string]struct{}{}
	for _, c := range d.csos {
		if c.District == district && c.CSO != "" {
			set[c.CSO] = struct{}{}
		}
	}
	return sortedKeys(set)
}

// CSOsForScope computes every CSO covered by a region or zone scope by
// collecting the districts inside it. Other scope kinds yield nothing.
func (d *FacilityDirectory) CSOsForScope(scope Scope) []string {
	if d == nil || (scope.Kind != ScopeRegion && scope.Kind != ScopeZone) {
		return nil
	}
	districts := map[string]struct{}{}
	for i := range d.facilities {
		f := &d.facilities[i]
		if scope.Kind == ScopeRegion && f.Region != scope.Value {
			continue
		}
		if scope.Kind == ScopeZone && f.Zone != scope.Value {
			continue
		}
		if f.District != "" {
			districts[f.District] = struct{}{}
		}
	}
	set := map[string]struct{}{}
	for _, c := range d.csos {
		if _, ok := districts[c.District]; ok && c.CSO != "" {
			set[c.CSO] = struct{}{}
		}
	}
	return sortedKeys(set)
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
