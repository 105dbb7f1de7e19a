package identity

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"sqrl_server/internal/model"
)

type (
	// IdentityRepo is the mongo-backed store.Backend. One document per
	// identity, keyed by the primary identity public key.
	IdentityRepo struct {
		collection *mongo.Collection
	}
)

func NewIdentityRepo(db *mongo.Database) *IdentityRepo {
	return &IdentityRepo{
		collection: db.Collection("identities"),
	}
}

func (r *IdentityRepo) GetByIdentityKey(ctx context.Context, idk string) (*model.Identity, error) {
	filter := bson.M{
		"identity_key": idk,
	}

	var identity model.Identity
	err := r.collection.FindOne(ctx, filter).Decode(&identity)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "identityRepo.GetByIdentityKey.FindOne: ")
	}

	return &identity, nil
}

func (r *IdentityRepo) GetByPreviousIdentityKey(ctx context.Context, idk string) (*model.Identity, error) {
	filter := bson.M{
		"previous_identity_keys": idk,
	}

	var identity model.Identity
	err := r.collection.FindOne(ctx, filter).Decode(&identity)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "identityRepo.GetByPreviousIdentityKey.FindOne: ")
	}

	return &identity, nil
}

func (r *IdentityRepo) Create(ctx context.Context, identity *model.Identity) error {
	res, err := r.collection.InsertOne(ctx, identity)
	if err != nil {
		return errors.Wrap(err, "identityRepo.Create.InsertOne: ")
	}

	if id, ok := res.InsertedID.(primitive.ObjectID); ok {
		identity.ID = id
	}
	return nil
}

func (r *IdentityRepo) Update(ctx context.Context, identity *model.Identity) error {
	filter := bson.M{
		"_id": identity.ID,
	}

	_, err := r.collection.ReplaceOne(ctx, filter, identity)
	if err != nil {
		return errors.Wrap(err, "identityRepo.Update.ReplaceOne: ")
	}
	return nil
}

func (r *IdentityRepo) Delete(ctx context.Context, idk string) error {
	filter := bson.M{
		"identity_key": idk,
	}

	_, err := r.collection.DeleteOne(ctx, filter)
	if err != nil {
		return errors.Wrap(err, "identityRepo.Delete.DeleteOne: ")
	}
	return nil
}
