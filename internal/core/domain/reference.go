package domain

// Territory is a sales region managers are scoped to.
type Territory struct {
	ID   string `json:"id"   bson:"_id"  db:"id"`
	Name string `json:"name" bson:"name" db:"name"`
}

// UserRole binds a user to a role and, for managers, a territory.
type UserRole struct {
	UserID      string `json:"user_id"                bson:"_id"                    db:"user_id"`
	Role        Role   `json:"role"                   bson:"role"                   db:"role"`
	TerritoryID string `json:"territory_id,omitempty" bson:"territory_id,omitempty" db:"territory_id"`
}

// Identity converts the binding into a session identity.
func (u UserRole) Identity() Identity {
	return Identity{ID: u.UserID, Role: u.Role, TerritoryID: u.TerritoryID}
}

// MaterialWaste is the waste percentage applied to a material when pricing.
type MaterialWaste struct {
	Material     string  `json:"material"      bson:"_id"           db:"material"`
	WastePercent float64 `json:"waste_percent" bson:"waste_percent" db:"waste_percent"`
}

// PricingTemplate is a named set of unit prices.
type PricingTemplate struct {
	ID         string             `json:"id"          bson:"_id"         db:"id"`
	Name       string             `json:"name"        bson:"name"        db:"name"`
	UnitPrices map[string]float64 `json:"unit_prices" bson:"unit_prices" db:"unit_prices"`
}
