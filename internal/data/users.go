package data

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// UsersStore reads user records for display-name enrichment. Accounts are
// created and updated by the account service, never here.
type UsersStore struct {
	// coll is reference to "users" collection in MongoDB
	coll    *mongo.Collection
	timeout time.Duration
}

// NewUsersStore returns a UsersStore using the provided collection.
func NewUsersStore(coll *mongo.Collection, timeout time.Duration) *UsersStore {
	return &UsersStore{coll: coll, timeout: timeout}
}

// GetUsersByIDs returns the users found for the given hex ids. Unknown or
// malformed ids are skipped, so the result may be shorter than ids.
func (u *UsersStore) GetUsersByIDs(ctx context.Context, ids []string) ([]*User, error) {
	oids := make([]bson.ObjectID, 0, len(ids))
	for _, id := range ids {
		if oid, err := bson.ObjectIDFromHex(id); err == nil {
			oids = append(oids, oid)
		}
	}
	if len(oids) == 0 {
		return nil, nil
	}

	ctx, cancel := bounded(ctx, u.timeout)
	defer cancel()

	// Only project the public fields; the password hash never leaves the store.
	opts := options.Find().SetProjection(bson.M{"email": 1, "display_name": 1, "avatar_url": 1})
	cursor, err := u.coll.Find(ctx, bson.M{"_id": bson.M{"$in": oids}}, opts)
	if err != nil {
		return nil, storeErr("get users", err)
	}
	defer cursor.Close(ctx)

	var users []*User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, storeErr("decode users", err)
	}
	return users, nil
}

// UserExists checks if a user exists by id.
func (u *UsersStore) UserExists(ctx context.Context, id string) (bool, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return false, nil
	}

	ctx, cancel := bounded(ctx, u.timeout)
	defer cancel()

	// CountDocuments is cheaper than FindOne when only existence matters
	count, err := u.coll.CountDocuments(ctx, bson.M{"_id": oid}, options.Count().SetLimit(1))
	if err != nil {
		return false, storeErr("user exists", err)
	}
	return count > 0, nil
}
