package store

import (
	"context"

	"sqrl_server/internal/model"
)

type (
	// AuthOutcome is what an identity operation reports back to the engine:
	// the matched or affected identity (nil when none), the TIF bits the
	// reply should carry, and the stored session unlock key when the client
	// asked for it.
	AuthOutcome struct {
		User *model.Identity
		Tif  model.Tif
		Suk  string
	}

	// IdentityStore is the engine's identity collaborator. A returned error
	// means the store itself failed (the engine answers 500 with
	// TransientError); refusals travel in-band as TIF bits on a nil-error
	// outcome. Implementations own idempotence and disabled-state policy.
	IdentityStore interface {
		Query(ctx context.Context, req *model.ClientRequest, rec *model.NutRecord) (*AuthOutcome, error)
		Ident(ctx context.Context, req *model.ClientRequest, rec *model.NutRecord) (*AuthOutcome, error)
		Disable(ctx context.Context, req *model.ClientRequest, rec *model.NutRecord) (*AuthOutcome, error)
		Enable(ctx context.Context, req *model.ClientRequest, rec *model.NutRecord) (*AuthOutcome, error)
		Remove(ctx context.Context, req *model.ClientRequest, rec *model.NutRecord) (*AuthOutcome, error)

		// GetByIdentityKey resolves a primary identity public key into its
		// record; nil when absent. The login-poll port reads identities
		// through this.
		GetByIdentityKey(ctx context.Context, idk string) (*model.Identity, error)
	}

	// Backend is the minimal CRUD surface a durable store must provide.
	// Store layers the SQRL command semantics on top, so the mongo and
	// in-memory backends share one implementation of rotation, disable
	// policy and retry idempotence.
	Backend interface {
		GetByIdentityKey(ctx context.Context, idk string) (*model.Identity, error)
		GetByPreviousIdentityKey(ctx context.Context, idk string) (*model.Identity, error)
		Create(ctx context.Context, identity *model.Identity) error
		Update(ctx context.Context, identity *model.Identity) error
		Delete(ctx context.Context, idk string) error
	}
)
