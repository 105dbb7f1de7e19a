package store

import (
	"context"
	"time"

	"sqrl_server/internal/model"
)

type (
	// Store implements the SQRL command semantics over any Backend.
	Store struct {
		backend Backend
	}
)

func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

func (s *Store) GetByIdentityKey(ctx context.Context, idk string) (*model.Identity, error) {
	return s.backend.GetByIdentityKey(ctx, idk)
}

// Query is the read-only probe: which of current-key-match,
// previous-key-match and id-disabled hold for the presented keys.
func (s *Store) Query(ctx context.Context, req *model.ClientRequest, _ *model.NutRecord) (*AuthOutcome, error) {
	out := &AuthOutcome{}

	identity, err := s.backend.GetByIdentityKey(ctx, req.IdentityKey)
	if err != nil {
		return nil, err
	}

	switch {
	case identity != nil:
		out.Tif |= model.TifCurrentIDMatch
	case req.PreviousIdentityKey != "":
		identity, err = s.backend.GetByIdentityKey(ctx, req.PreviousIdentityKey)
		if err != nil {
			return nil, err
		}
		if identity != nil {
			out.Tif |= model.TifPreviousIDMatch
		}
	}

	if identity == nil {
		// a retired key re-presented as the current one
		identity, err = s.backend.GetByPreviousIdentityKey(ctx, req.IdentityKey)
		if err != nil {
			return nil, err
		}
		if identity != nil {
			out.Tif |= model.TifPreviousIDMatch
		}
	}

	if identity == nil {
		return out, nil
	}

	out.User = identity
	if identity.Disabled {
		out.Tif |= model.TifIDDisabled
	}
	if req.ReturnSessionUnlockKey {
		out.Suk = identity.SessionUnlockKey
	}
	return out, nil
}

// Ident creates, updates, or rotates an identity. A matching previous key
// triggers rotation: the old primary joins the rotation history and the
// client's new key becomes primary.
func (s *Store) Ident(ctx context.Context, req *model.ClientRequest, _ *model.NutRecord) (*AuthOutcome, error) {
	now := time.Now()

	identity, err := s.backend.GetByIdentityKey(ctx, req.IdentityKey)
	if err != nil {
		return nil, err
	}

	if identity != nil {
		if identity.Disabled {
			return &AuthOutcome{
				User: identity,
				Tif:  model.TifCommandFailed | model.TifIDDisabled,
			}, nil
		}

		identity.SqrlOnly = req.SqrlOnly
		identity.HardLock = req.HardLock
		if req.ServerUnlockKey != "" {
			identity.SessionUnlockKey = req.ServerUnlockKey
		}
		if req.VerifyUnlockKey != "" {
			identity.VerifyUnlockKey = req.VerifyUnlockKey
		}
		identity.UpdatedAt = now
		if err := s.backend.Update(ctx, identity); err != nil {
			return nil, err
		}

		out := &AuthOutcome{User: identity, Tif: model.TifCurrentIDMatch}
		if req.ReturnSessionUnlockKey {
			out.Suk = identity.SessionUnlockKey
		}
		return out, nil
	}

	if req.PreviousIdentityKey != "" {
		prev, err := s.backend.GetByIdentityKey(ctx, req.PreviousIdentityKey)
		if err != nil {
			return nil, err
		}
		if prev != nil {
			if prev.Disabled {
				return &AuthOutcome{
					User: prev,
					Tif:  model.TifCommandFailed | model.TifIDDisabled,
				}, nil
			}
			return s.rotate(ctx, req, prev, now)
		}
	}

	identity = &model.Identity{
		IdentityKey:      req.IdentityKey,
		SessionUnlockKey: req.ServerUnlockKey,
		VerifyUnlockKey:  req.VerifyUnlockKey,
		SqrlOnly:         req.SqrlOnly,
		HardLock:         req.HardLock,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.backend.Create(ctx, identity); err != nil {
		return nil, err
	}
	return &AuthOutcome{User: identity}, nil
}

func (s *Store) rotate(ctx context.Context, req *model.ClientRequest, prev *model.Identity, now time.Time) (*AuthOutcome, error) {
	if !prev.HasPreviousKey(prev.IdentityKey) {
		prev.PreviousIdentityKeys = append(prev.PreviousIdentityKeys, prev.IdentityKey)
	}
	prev.IdentityKey = req.IdentityKey
	if req.ServerUnlockKey != "" {
		prev.SessionUnlockKey = req.ServerUnlockKey
	}
	if req.VerifyUnlockKey != "" {
		prev.VerifyUnlockKey = req.VerifyUnlockKey
	}
	prev.SqrlOnly = req.SqrlOnly
	prev.HardLock = req.HardLock
	prev.UpdatedAt = now

	if err := s.backend.Update(ctx, prev); err != nil {
		return nil, err
	}

	out := &AuthOutcome{
		User: prev,
		Tif:  model.TifCurrentIDMatch | model.TifPreviousIDMatch,
	}
	if req.ReturnSessionUnlockKey {
		out.Suk = prev.SessionUnlockKey
	}
	return out, nil
}

// Disable flags the identity so ident is refused until enable. Disabling a
// disabled identity succeeds; retries over flaky networks must not fail.
func (s *Store) Disable(ctx context.Context, req *model.ClientRequest, _ *model.NutRecord) (*AuthOutcome, error) {
	identity, err := s.findForCommand(ctx, req)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return &AuthOutcome{Tif: model.TifCommandFailed}, nil
	}

	if !identity.Disabled {
		identity.Disabled = true
		identity.UpdatedAt = time.Now()
		if err := s.backend.Update(ctx, identity); err != nil {
			return nil, err
		}
	}
	return &AuthOutcome{User: identity, Tif: model.TifCurrentIDMatch | model.TifIDDisabled}, nil
}

// Enable lifts a disable. Idempotent like Disable.
func (s *Store) Enable(ctx context.Context, req *model.ClientRequest, _ *model.NutRecord) (*AuthOutcome, error) {
	identity, err := s.findForCommand(ctx, req)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return &AuthOutcome{Tif: model.TifCommandFailed}, nil
	}

	if identity.Disabled {
		identity.Disabled = false
		identity.UpdatedAt = time.Now()
		if err := s.backend.Update(ctx, identity); err != nil {
			return nil, err
		}
	}
	return &AuthOutcome{User: identity, Tif: model.TifCurrentIDMatch}, nil
}

// Remove deletes the identity. Policy: only a disabled identity may be
// removed. Removing an identity that is already gone reports success so a
// retried remove does not fail.
func (s *Store) Remove(ctx context.Context, req *model.ClientRequest, _ *model.NutRecord) (*AuthOutcome, error) {
	identity, err := s.findForCommand(ctx, req)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return &AuthOutcome{}, nil
	}
	if !identity.Disabled {
		return &AuthOutcome{User: identity, Tif: model.TifCommandFailed}, nil
	}

	if err := s.backend.Delete(ctx, identity.IdentityKey); err != nil {
		return nil, err
	}
	return &AuthOutcome{Tif: model.TifCurrentIDMatch}, nil
}

func (s *Store) findForCommand(ctx context.Context, req *model.ClientRequest) (*model.Identity, error) {
	identity, err := s.backend.GetByIdentityKey(ctx, req.IdentityKey)
	if err != nil || identity != nil {
		return identity, err
	}
	if req.PreviousIdentityKey != "" {
		return s.backend.GetByIdentityKey(ctx, req.PreviousIdentityKey)
	}
	return nil, nil
}
