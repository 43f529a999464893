package domain

import (
	"sort"
	"time"
)

// EstimateStatus represents the lifecycle state of an estimate.
type EstimateStatus string

const (
	EstimatePending  EstimateStatus = "pending"
	EstimateApproved EstimateStatus = "approved"
	EstimateRejected EstimateStatus = "rejected"
	EstimateSold     EstimateStatus = "sold"
)

// Valid reports whether s is a known lifecycle state.
func (s EstimateStatus) Valid() bool {
	switch s {
	case EstimatePending, EstimateApproved, EstimateRejected, EstimateSold:
		return true
	}
	return false
}

// Estimate is one synchronized record. ID and CreatedAt never change once
// assigned; Version is a server-side monotonic counter, zero when unknown.
type Estimate struct {
	ID           string         `json:"id"                     bson:"_id"                    db:"id"`
	CreatedBy    string         `json:"created_by"             bson:"created_by"             db:"created_by"`
	TerritoryID  string         `json:"territory_id,omitempty" bson:"territory_id,omitempty" db:"territory_id"`
	Status       EstimateStatus `json:"status"                 bson:"status"                 db:"status"`
	TotalPrice   float64        `json:"total_price"            bson:"total_price"            db:"total_price"`
	CustomerName string         `json:"customer_name"          bson:"customer_name"          db:"customer_name"`
	Address      string         `json:"address,omitempty"      bson:"address,omitempty"      db:"address"`
	Version      int64          `json:"version,omitempty"      bson:"version,omitempty"      db:"version"`
	CreatedAt    time.Time      `json:"created_at"             bson:"created_at"             db:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"             bson:"updated_at"             db:"updated_at"`
}

// SortNewestFirst orders estimates by CreatedAt descending. Ties keep their
// relative order.
func SortNewestFirst(list []Estimate) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}

// EstimateSummary aggregates the estimates visible to one identity.
type EstimateSummary struct {
	Total      int64                    `json:"total"`
	TotalValue float64                  `json:"total_value"`
	ByStatus   map[EstimateStatus]int64 `json:"by_status"`
}
