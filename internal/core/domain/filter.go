package domain

// FilterField is a column the change stream and the one-shot query can
// filter on by equality.
type FilterField string

const (
	FieldCreatedBy   FilterField = "created_by"
	FieldTerritoryID FilterField = "territory_id"
)

// Filter is a server-side equality filter. A nil *Filter means unrestricted.
type Filter struct {
	Field FilterField
	Value string
}

// Matches evaluates the filter against an estimate. A nil filter matches
// everything.
func (f *Filter) Matches(e *Estimate) bool {
	if f == nil {
		return true
	}
	if e == nil {
		return false
	}
	switch f.Field {
	case FieldCreatedBy:
		return e.CreatedBy == f.Value
	case FieldTerritoryID:
		return e.TerritoryID == f.Value
	default:
		return false
	}
}

// String renders the filter as field=value, or "*" when unrestricted.
func (f *Filter) String() string {
	if f == nil {
		return "*"
	}
	return string(f.Field) + "=" + f.Value
}
