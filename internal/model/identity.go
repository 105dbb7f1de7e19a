package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type (
	// Identity is one durable user record, keyed by the per-site primary
	// identity public key (unpadded base64url). PreviousIdentityKeys holds
	// retired primaries from key rotations, newest last.
	Identity struct {
		ID                   primitive.ObjectID `bson:"_id,omitempty" json:"-"`
		IdentityKey          string             `bson:"identity_key" json:"identity_key"`
		PreviousIdentityKeys []string           `bson:"previous_identity_keys,omitempty" json:"previous_identity_keys,omitempty"`
		SessionUnlockKey     string             `bson:"session_unlock_key,omitempty" json:"session_unlock_key,omitempty"`
		VerifyUnlockKey      string             `bson:"verify_unlock_key,omitempty" json:"verify_unlock_key,omitempty"`
		SqrlOnly             bool               `bson:"sqrl_only" json:"sqrl_only"`
		HardLock             bool               `bson:"hard_lock" json:"hard_lock"`
		Disabled             bool               `bson:"disabled" json:"disabled"`
		CreatedAt            time.Time          `bson:"created_at" json:"created_at"`
		UpdatedAt            time.Time          `bson:"updated_at" json:"updated_at"`
	}
)

// HasPreviousKey reports whether key appears in the rotation history.
func (i *Identity) HasPreviousKey(key string) bool {
	for _, k := range i.PreviousIdentityKeys {
		if k == key {
			return true
		}
	}
	return false
}
