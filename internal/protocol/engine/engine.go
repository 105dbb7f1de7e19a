package engine

import (
	"context"
	"net"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"sqrl_server/internal/model"
	"sqrl_server/internal/nut"
	"sqrl_server/internal/protocol/envelope"
	"sqrl_server/internal/protocol/request"
	"sqrl_server/internal/store"
	"sqrl_server/internal/utils/log"
	"sqrl_server/pkg/errors"
)

type (
	// Options carries the site-level knobs the engine renders into replies.
	Options struct {
		URLPath    string // path clients POST to, e.g. /sqrl
		SuccessURL string // where a cps client redirects the browser
		CancelURL  string // rendered as can= when set
	}

	// Engine is the per-request SQRL state machine: it validates and
	// verifies the envelope, spends the presented nut, mints and registers
	// the follow-up nut, dispatches the verified command into the identity
	// store, and frames the reply.
	Engine struct {
		registry nut.Registry
		store    store.IdentityStore
		gen      nut.Generator
		opts     Options
	}
)

func New(registry nut.Registry, identityStore store.IdentityStore, gen nut.Generator, opts Options) *Engine {
	return &Engine{
		registry: registry,
		store:    identityStore,
		gen:      gen,
		opts:     opts,
	}
}

// Handle processes one POST body and returns the HTTP status plus the
// base64url reply. Failures are normally-framed SQRL replies too; nothing
// escapes as a panic or a bare 500.
func (e *Engine) Handle(ctx context.Context, form url.Values, remoteIP string) (int, []byte) {
	req, err := request.Validate(form)
	if err != nil {
		return e.fail(ctx, remoteIP, nil, err)
	}

	if req.Version != 1 {
		return e.fail(ctx, remoteIP, nil, errors.UnsupportedVersion(req.Version))
	}

	rec, err := e.registry.Consume(ctx, req.Nut)
	if err != nil {
		return e.fail(ctx, remoteIP, nil, errors.TransientInternal("nut lookup failed", err))
	}
	if rec == nil {
		return e.fail(ctx, remoteIP, nil, errors.UnknownNut(req.Nut))
	}

	// The follow-up nut is registered before the store runs, so a poll of
	// the origin always observes a consistent chain.
	next, err := e.mintNext(ctx, remoteIP, rec)
	if err != nil {
		return e.fail(ctx, remoteIP, rec, errors.TransientInternal("nut mint failed", err))
	}

	out, err := e.dispatch(ctx, req, rec)
	if err != nil {
		log.Error("identity store failed",
			zap.String("cmd", string(req.Command)), zap.Error(err))
		return e.failWithNut(next, errors.TransientInternal("identity store failed", err))
	}

	tif := out.Tif
	if e.ipMatches(req.Nut, remoteIP) {
		tif |= model.TifIPMatched
	}

	if req.Command == model.CommandIdent && !tif.Has(model.TifCommandFailed) {
		if err := e.registry.MarkLoggedIn(ctx, rec.Origin(), req.IdentityKey); err != nil {
			log.Error("mark logged in failed", zap.String("origin", rec.Origin()), zap.Error(err))
			return e.failWithNut(next, errors.TransientInternal("login record failed", err))
		}
	}

	reply := &model.ServerReply{
		Versions: []int{1},
		Nut:      next.Nut,
		Tif:      tif,
		Qry:      next.URL,
	}
	if req.ClientProvidedSession && req.Command != model.CommandQuery && !tif.Has(model.TifCommandFailed) {
		reply.URL = e.opts.SuccessURL
	}
	if req.ReturnSessionUnlockKey && out.Suk != "" {
		reply.Suk = out.Suk
	}
	if e.opts.CancelURL != "" {
		reply.Can = e.opts.CancelURL
	}

	return http.StatusOK, encodeReply(reply)
}

func (e *Engine) dispatch(ctx context.Context, req *model.ClientRequest, rec *model.NutRecord) (*store.AuthOutcome, error) {
	switch req.Command {
	case model.CommandQuery:
		return e.store.Query(ctx, req, rec)
	case model.CommandIdent:
		return e.store.Ident(ctx, req, rec)
	case model.CommandDisable:
		return e.store.Disable(ctx, req, rec)
	case model.CommandEnable:
		return e.store.Enable(ctx, req, rec)
	case model.CommandRemove:
		return e.store.Remove(ctx, req, rec)
	}
	// the validator only lets the closed command set through
	return nil, errors.UnknownCommand(string(req.Command))
}

// mintNext issues the follow-up nut, chained to the presented record's
// origin. prev may be nil when the presented nut was never known; the new
// nut then starts its own conversation.
func (e *Engine) mintNext(ctx context.Context, remoteIP string, prev *model.NutRecord) (model.UrlAndNut, error) {
	nutVal, raw, err := e.gen.Generate(remoteIP)
	if err != nil {
		return model.UrlAndNut{}, err
	}

	un := model.UrlAndNut{
		URL:    e.opts.URLPath + "?nut=" + nutVal,
		Nut:    nutVal,
		NutRaw: raw,
	}

	origin := ""
	if prev != nil {
		origin = prev.Origin()
	}
	if err := e.registry.Issue(ctx, un, origin); err != nil {
		return model.UrlAndNut{}, err
	}
	return un, nil
}

func (e *Engine) ipMatches(nutVal, remoteIP string) bool {
	binder, ok := e.gen.(nut.IPBinder)
	if !ok {
		return false
	}
	bound, ok := binder.BoundIP(nutVal)
	if !ok {
		return false
	}
	ip := net.ParseIP(remoteIP)
	return ip != nil && bound.Equal(ip)
}

// fail renders err as a framed reply. A follow-up nut is minted so the
// client can retry; when the failed request consumed a known nut its
// conversation is preserved through prev.
func (e *Engine) fail(ctx context.Context, remoteIP string, prev *model.NutRecord, err error) (int, []byte) {
	perr := errors.From(err)
	log.Debug("sqrl request failed",
		zap.String("code", string(perr.Code)), zap.String("cause", perr.Message))

	next, mintErr := e.mintNext(ctx, remoteIP, prev)
	if mintErr != nil {
		log.Error("mint for failure reply failed", zap.Error(mintErr))
	}
	return e.failWithNut(next, perr)
}

func (e *Engine) failWithNut(next model.UrlAndNut, err error) (int, []byte) {
	perr := errors.From(err)

	reply := &model.ServerReply{
		Versions: []int{1},
		Nut:      next.Nut,
		Tif:      perr.Tif,
		Qry:      next.URL,
		Ask:      perr.Message,
	}
	if e.opts.CancelURL != "" {
		reply.Can = e.opts.CancelURL
	}
	return perr.Status, encodeReply(reply)
}

func encodeReply(reply *model.ServerReply) []byte {
	return []byte(envelope.Encode(envelope.EncodeBlock(reply.Fields())))
}
