// Package policy decides which estimates an identity may observe.
//
// Both enforcement points read the same role table: ServerFilter scopes the
// one-shot query and the change stream, IsVisible re-checks every record that
// arrives afterwards. A record passes IsVisible exactly when it matches the
// filter ServerFilter returns for the same identity.
package policy

import (
	"fmt"

	"github.com/99minutos/estimate-sync/internal/core/domain"
)

// rule describes how one role is scoped. An unrestricted rule sees every
// record; otherwise records must equal scope(identity) on field.
type rule struct {
	unrestricted bool
	field        domain.FilterField
	scope        func(domain.Identity) string
}

func byCreator(id domain.Identity) string   { return id.ID }
func byTerritory(id domain.Identity) string { return id.TerritoryID }

// subtrade managers are limited to estimates they created themselves. They
// have no territory assignment and never see other users' work.
var table = map[domain.Role]rule{
	domain.RoleAdmin:           {unrestricted: true},
	domain.RoleManager:         {field: domain.FieldTerritoryID, scope: byTerritory},
	domain.RoleRep:             {field: domain.FieldCreatedBy, scope: byCreator},
	domain.RoleProjectManager:  {field: domain.FieldCreatedBy, scope: byCreator},
	domain.RoleSubtradeManager: {field: domain.FieldCreatedBy, scope: byCreator},
}

// Roles lists every role the table knows about.
func Roles() []domain.Role {
	return []domain.Role{
		domain.RoleAdmin,
		domain.RoleManager,
		domain.RoleRep,
		domain.RoleProjectManager,
		domain.RoleSubtradeManager,
	}
}

// ServerFilter returns the equality filter that scopes queries and streams for
// id. A nil filter means unrestricted. Identities that cannot be scoped (no
// id, unknown role, manager without territory) yield ErrInvalidIdentity.
func ServerFilter(id domain.Identity) (*domain.Filter, error) {
	if id.ID == "" {
		return nil, fmt.Errorf("%w: missing id", domain.ErrInvalidIdentity)
	}
	r, ok := table[id.Role]
	if !ok {
		return nil, fmt.Errorf("%w: unknown role %q", domain.ErrInvalidIdentity, id.Role)
	}
	if r.unrestricted {
		return nil, nil
	}
	value := r.scope(id)
	if value == "" {
		return nil, fmt.Errorf("%w: role %s requires %s", domain.ErrInvalidIdentity, id.Role, r.field)
	}
	return &domain.Filter{Field: r.field, Value: value}, nil
}

// Validate reports whether id can be scoped at all.
func Validate(id domain.Identity) error {
	_, err := ServerFilter(id)
	return err
}

// IsVisible reports whether id may observe rec. Invalid identities see nothing.
func IsVisible(id domain.Identity, rec *domain.Estimate) bool {
	if rec == nil {
		return false
	}
	f, err := ServerFilter(id)
	if err != nil {
		return false
	}
	return f.Matches(rec)
}

// Scope filters records down to those visible to id, preserving order.
func Scope(id domain.Identity, records []domain.Estimate) []domain.Estimate {
	out := make([]domain.Estimate, 0, len(records))
	for i := range records {
		if IsVisible(id, &records[i]) {
			out = append(out, records[i])
		}
	}
	return out
}
