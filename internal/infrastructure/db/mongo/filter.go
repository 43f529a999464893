package mongo

import (
	"go.mongodb.org/mongo-driver/bson"

	"github.com/99minutos/estimate-sync/internal/core/domain"
)

var watchedOperations = bson.A{"insert", "update", "replace", "delete"}

// queryFilter translates a scope filter into a find filter.
func queryFilter(f *domain.Filter) bson.M {
	if f == nil {
		return bson.M{}
	}
	return bson.M{string(f.Field): f.Value}
}

// watchMatch builds the $match stage for a scoped change stream.
//
// With pre-images a change is delivered when the document matched the scope
// before or after it. Without them a record leaving the scope cannot be
// recognised server side, so every update, replace and delete is delivered
// and the reconciler drops what it does not hold. Inserts stay filtered.
func watchMatch(f *domain.Filter, preImages bool) bson.M {
	match := bson.M{"operationType": bson.M{"$in": watchedOperations}}
	if f == nil {
		return match
	}
	field := string(f.Field)
	if preImages {
		match["$or"] = bson.A{
			bson.M{"fullDocument." + field: f.Value},
			bson.M{"fullDocumentBeforeChange." + field: f.Value},
		}
		return match
	}
	match["$or"] = bson.A{
		bson.M{"fullDocument." + field: f.Value},
		bson.M{"operationType": bson.M{"$in": bson.A{"update", "replace", "delete"}}},
	}
	return match
}
