package policy

import (
	"errors"
	"testing"

	"github.com/99minutos/estimate-sync/internal/core/domain"
)

func sampleRecords() []domain.Estimate {
	return []domain.Estimate{
		{ID: "e1", CreatedBy: "U1", TerritoryID: "T1"},
		{ID: "e2", CreatedBy: "U2", TerritoryID: "T1"},
		{ID: "e3", CreatedBy: "U1", TerritoryID: "T2"},
		{ID: "e4", CreatedBy: "U3", TerritoryID: ""},
	}
}

func TestServerFilter_ByRole(t *testing.T) {
	tests := []struct {
		name string
		id   domain.Identity
		want *domain.Filter
	}{
		{"admin", domain.Identity{ID: "A", Role: domain.RoleAdmin}, nil},
		{"manager", domain.Identity{ID: "M", Role: domain.RoleManager, TerritoryID: "T1"},
			&domain.Filter{Field: domain.FieldTerritoryID, Value: "T1"}},
		{"rep", domain.Identity{ID: "U1", Role: domain.RoleRep},
			&domain.Filter{Field: domain.FieldCreatedBy, Value: "U1"}},
		{"project manager", domain.Identity{ID: "U1", Role: domain.RoleProjectManager},
			&domain.Filter{Field: domain.FieldCreatedBy, Value: "U1"}},
		{"subtrade manager", domain.Identity{ID: "S1", Role: domain.RoleSubtradeManager, TerritoryID: "T1"},
			&domain.Filter{Field: domain.FieldCreatedBy, Value: "S1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ServerFilter(tt.id)
			if err != nil {
				t.Fatalf("expected no error, got: %v", err)
			}
			if tt.want == nil {
				if got != nil {
					t.Fatalf("expected no filter, got %s", got)
				}
				return
			}
			if got == nil || *got != *tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestServerFilter_InvalidIdentities(t *testing.T) {
	tests := []struct {
		name string
		id   domain.Identity
	}{
		{"missing id", domain.Identity{Role: domain.RoleAdmin}},
		{"unknown role", domain.Identity{ID: "X", Role: "auditor"}},
		{"manager without territory", domain.Identity{ID: "M", Role: domain.RoleManager}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ServerFilter(tt.id)
			if !errors.Is(err, domain.ErrInvalidIdentity) {
				t.Fatalf("expected ErrInvalidIdentity, got: %v", err)
			}
			for _, rec := range sampleRecords() {
				rec := rec
				if IsVisible(tt.id, &rec) {
					t.Fatalf("invalid identity must see nothing, saw %s", rec.ID)
				}
			}
		})
	}
}

// IsVisible and the server filter must agree on every role and record.
func TestIsVisible_AgreesWithServerFilter(t *testing.T) {
	identities := []domain.Identity{
		{ID: "U1", Role: domain.RoleAdmin},
		{ID: "M1", Role: domain.RoleManager, TerritoryID: "T1"},
		{ID: "M2", Role: domain.RoleManager, TerritoryID: "T2"},
		{ID: "U1", Role: domain.RoleRep},
		{ID: "U2", Role: domain.RoleProjectManager},
		{ID: "U3", Role: domain.RoleSubtradeManager},
	}

	for _, id := range identities {
		f, err := ServerFilter(id)
		if err != nil {
			t.Fatalf("filter for %+v: %v", id, err)
		}
		for _, rec := range sampleRecords() {
			rec := rec
			if got, want := IsVisible(id, &rec), f.Matches(&rec); got != want {
				t.Errorf("%s/%s record %s: IsVisible=%v filter=%v", id.Role, id.ID, rec.ID, got, want)
			}
		}
	}
}

func TestScope_RepSeesOwnRecords(t *testing.T) {
	id := domain.Identity{ID: "U1", Role: domain.RoleRep}
	got := Scope(id, []domain.Estimate{
		{ID: "mine", CreatedBy: "U1"},
		{ID: "theirs", CreatedBy: "U2"},
	})

	if len(got) != 1 || got[0].ID != "mine" {
		t.Fatalf("expected only [mine], got %+v", got)
	}
}

func TestScope_ManagerSeesTerritory(t *testing.T) {
	id := domain.Identity{ID: "M1", Role: domain.RoleManager, TerritoryID: "T1"}
	got := Scope(id, sampleRecords())

	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	for _, rec := range got {
		if rec.TerritoryID != "T1" {
			t.Fatalf("record %s outside territory T1", rec.ID)
		}
	}
}

func TestIsVisible_NilRecord(t *testing.T) {
	if IsVisible(domain.Identity{ID: "A", Role: domain.RoleAdmin}, nil) {
		t.Fatalf("nil record must not be visible")
	}
}

func TestRoles_AllInTable(t *testing.T) {
	for _, r := range Roles() {
		if _, ok := table[r]; !ok {
			t.Fatalf("role %s missing from table", r)
		}
	}
	if len(Roles()) != len(table) {
		t.Fatalf("expected %d roles, got %d", len(table), len(Roles()))
	}
}
