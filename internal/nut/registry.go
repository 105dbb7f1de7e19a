package nut

import (
	"context"

	"sqrl_server/internal/model"
)

// Registry tracks every nut the server has handed out and the ancestry
// chain linking follow-up nuts back to the origin nut of their
// conversation. It is the only shared mutable state the protocol core
// owns; implementations must be safe for concurrent use.
//
// Lookup is a plain read: consumed records stay visible until their TTL so
// the poll port can watch an origin that the conversation has already
// moved past. Consume is the single-use claim — at most one caller ever
// gets a record back for a given nut.
type Registry interface {
	// Issue records a freshly minted nut. originNut names the conversation's
	// origin when this is a follow-up nut; empty means this record is itself
	// an origin.
	Issue(ctx context.Context, un model.UrlAndNut, originNut string) error

	// Lookup returns the record for nut, or nil when unknown or evicted.
	Lookup(ctx context.Context, nutVal string) (*model.NutRecord, error)

	// Consume atomically claims nut. It returns nil for an unknown, evicted,
	// or already-claimed nut; two racing claims yield at most one record.
	Consume(ctx context.Context, nutVal string) (*model.NutRecord, error)

	// MarkLoggedIn flips the logged-in flag on the origin record and binds
	// the authenticated identity key to it.
	MarkLoggedIn(ctx context.Context, originNut, identityKey string) error
}
