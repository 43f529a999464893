package postgres

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/99minutos/estimate-sync/internal/core/domain"
)

// filterColumns whitelists the columns a scope filter may reference.
var filterColumns = map[domain.FilterField]string{
	domain.FieldCreatedBy:   "created_by",
	domain.FieldTerritoryID: "territory_id",
}

// whereClause renders f as a parameterised WHERE clause. A nil filter
// yields no clause.
func whereClause(f *domain.Filter) (string, []any, error) {
	if f == nil {
		return "", nil, nil
	}
	col, ok := filterColumns[f.Field]
	if !ok {
		return "", nil, fmt.Errorf("unsupported filter field %q", f.Field)
	}
	return " WHERE " + col + " = $1", []any{f.Value}, nil
}

// Channel returns the NOTIFY channel for a scope on table. The notify
// trigger raises the unrestricted channel plus one per scope it touches.
func Channel(table string, f *domain.Filter) string {
	if f == nil {
		return channelName(table + ":all")
	}
	return channelName(table + ":" + string(f.Field) + ":" + f.Value)
}

// maxChannelLen is the longest identifier Postgres accepts (NAMEDATALEN-1).
const maxChannelLen = 63

// channelName folds names pg_notify would reject into a fixed-length digest.
// The notify trigger applies the same rule through md5() on the server.
func channelName(full string) string {
	if len(full) <= maxChannelLen {
		return full
	}
	sum := md5.Sum([]byte(full))
	return "estsync:" + hex.EncodeToString(sum[:])
}

func quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
