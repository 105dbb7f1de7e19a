package engine

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/go-test/deep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqrl_server/internal/cryptographic/signature"
	"sqrl_server/internal/model"
	"sqrl_server/internal/nut"
	"sqrl_server/internal/protocol/envelope"
	"sqrl_server/internal/service/app"
	"sqrl_server/internal/store"
)

type fixture struct {
	engine   *Engine
	registry *nut.MemoryRegistry
	store    *store.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	registry := nut.NewMemoryRegistry(time.Hour)
	t.Cleanup(registry.Close)

	identityStore := store.NewMemoryStore()
	e := New(registry, identityStore, nut.NewRandomGenerator(), Options{
		URLPath:    "/sqrl",
		SuccessURL: "https://example.com/loggedIn",
	})
	return &fixture{engine: e, registry: registry, store: identityStore}
}

// issueOrigin plants the QR-code nut the way the login page would.
func (f *fixture) issueOrigin(t *testing.T, nutVal string) string {
	t.Helper()
	err := f.registry.Issue(context.Background(), model.UrlAndNut{
		URL: "sqrl://example.com/sqrl?nut=" + nutVal,
		Nut: nutVal,
	}, "")
	require.NoError(t, err)
	return envelope.Encode([]byte("sqrl://example.com/sqrl?nut=" + nutVal))
}

func decodeReply(t *testing.T, body []byte) map[string]string {
	t.Helper()
	data, err := envelope.Decode(string(body))
	require.NoError(t, err)
	fields, err := envelope.ParseBlock(data)
	require.NoError(t, err)
	return fields
}

type client struct {
	pub, priv []byte
}

func newClient(t *testing.T) *client {
	t.Helper()
	pub, priv, err := signature.NewEd25519Keypair()
	require.NoError(t, err)
	return &client{pub: pub, priv: priv}
}

func (c *client) form(cmd, serverStr, opt string) url.Values {
	fields := [][2]string{
		{"ver", "1"},
		{"cmd", cmd},
		{"idk", envelope.Encode(c.pub)},
	}
	if opt != "" {
		fields = append(fields, [2]string{"opt", opt})
	}
	return app.BuildEnvelope(c.priv, fields, serverStr)
}

func TestQueryThenIdentUnknownUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := newClient(t)

	serverEcho := f.issueOrigin(t, "AAAA")

	status, body := f.engine.Handle(ctx, c.form("query", serverEcho, ""), "203.0.113.7")
	require.Equal(t, http.StatusOK, status)

	reply := decodeReply(t, body)
	assert.Equal(t, "1", reply["ver"])
	assert.Equal(t, "0", reply["tif"], "unknown user matches nothing")
	assert.NotEmpty(t, reply["nut"])
	assert.Equal(t, "/sqrl?nut="+reply["nut"], reply["qry"])

	// next message presents the fresh nut, echoing the reply verbatim
	status, body = f.engine.Handle(ctx, c.form("ident", string(body), ""), "203.0.113.7")
	require.Equal(t, http.StatusOK, status)
	reply = decodeReply(t, body)
	assert.Equal(t, "0", reply["tif"])

	origin, err := f.registry.Lookup(ctx, "AAAA")
	require.NoError(t, err)
	require.NotNil(t, origin)
	assert.True(t, origin.LoggedIn, "ident marks the origin nut")
	assert.Equal(t, envelope.Encode(c.pub), origin.IdentityKey)
}

func TestQueryReturningUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := newClient(t)

	// enrol
	serverEcho := f.issueOrigin(t, "AAAA")
	_, body := f.engine.Handle(ctx, c.form("query", serverEcho, ""), "")
	_, body = f.engine.Handle(ctx, c.form("ident", string(body), ""), "")

	// come back
	serverEcho = f.issueOrigin(t, "BBBB")
	status, body := f.engine.Handle(ctx, c.form("query", serverEcho, ""), "")
	require.Equal(t, http.StatusOK, status)

	reply := decodeReply(t, body)
	tif, err := model.ParseTif(reply["tif"])
	require.NoError(t, err)
	assert.Equal(t, model.TifCurrentIDMatch, tif)
}

func TestIdentKeyRotation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	oldClient := newClient(t)
	serverEcho := f.issueOrigin(t, "AAAA")
	_, body := f.engine.Handle(ctx, oldClient.form("query", serverEcho, ""), "")
	_, body = f.engine.Handle(ctx, oldClient.form("ident", string(body), ""), "")

	freshClient := newClient(t)
	serverEcho = f.issueOrigin(t, "BBBB")
	_, body = f.engine.Handle(ctx, oldClient.form("query", serverEcho, ""), "")

	rotateForm := app.BuildEnvelopeWithPrevious(freshClient.priv, oldClient.priv, [][2]string{
		{"ver", "1"},
		{"cmd", "ident"},
		{"idk", envelope.Encode(freshClient.pub)},
		{"pidk", envelope.Encode(oldClient.pub)},
	}, string(body))

	status, body := f.engine.Handle(ctx, rotateForm, "")
	require.Equal(t, http.StatusOK, status)

	reply := decodeReply(t, body)
	tif, err := model.ParseTif(reply["tif"])
	require.NoError(t, err)
	assert.Equal(t, model.TifCurrentIDMatch|model.TifPreviousIDMatch, tif)

	rotated, err := f.store.GetByIdentityKey(ctx, envelope.Encode(freshClient.pub))
	require.NoError(t, err)
	require.NotNil(t, rotated)
	assert.Contains(t, rotated.PreviousIdentityKeys, envelope.Encode(oldClient.pub))
}

func TestBadSignatureRejected(t *testing.T) {
	f := newFixture(t)
	c := newClient(t)

	serverEcho := f.issueOrigin(t, "AAAA")
	form := c.form("query", serverEcho, "")
	form.Set("ids", envelope.Encode(make([]byte, 64)))

	status, body := f.engine.Handle(context.Background(), form, "")
	assert.Equal(t, http.StatusBadRequest, status)

	reply := decodeReply(t, body)
	tif, err := model.ParseTif(reply["tif"])
	require.NoError(t, err)
	assert.True(t, tif.Has(model.TifCommandFailed|model.TifClientFailure))
	assert.NotEmpty(t, reply["nut"], "error replies still mint a retry nut")
}

func TestUnknownNutRejected(t *testing.T) {
	f := newFixture(t)
	c := newClient(t)

	serverEcho := envelope.Encode([]byte("sqrl://example.com/sqrl?nut=neverissued"))
	status, body := f.engine.Handle(context.Background(), c.form("query", serverEcho, ""), "")

	assert.Equal(t, http.StatusBadRequest, status)
	reply := decodeReply(t, body)
	assert.Contains(t, reply["ask"], "unknown nut")
}

func TestNutSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := newClient(t)

	serverEcho := f.issueOrigin(t, "AAAA")

	status, _ := f.engine.Handle(ctx, c.form("query", serverEcho, ""), "")
	require.Equal(t, http.StatusOK, status)

	status, body := f.engine.Handle(ctx, c.form("query", serverEcho, ""), "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, decodeReply(t, body)["ask"], "unknown nut")
}

func TestVersionRejected(t *testing.T) {
	f := newFixture(t)
	c := newClient(t)

	serverEcho := f.issueOrigin(t, "AAAA")
	form := app.BuildEnvelope(c.priv, [][2]string{
		{"ver", "2"},
		{"cmd", "query"},
		{"idk", envelope.Encode(c.pub)},
	}, serverEcho)

	status, body := f.engine.Handle(context.Background(), form, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, decodeReply(t, body)["ask"], "protocol revision 1")
}

func TestAncestryAcrossQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := newClient(t)

	serverEcho := f.issueOrigin(t, "ORIGIN")
	_, body := f.engine.Handle(ctx, c.form("query", serverEcho, ""), "")
	_, body = f.engine.Handle(ctx, c.form("query", string(body), ""), "")

	identNut := decodeReply(t, body)["nut"]
	rec, err := f.registry.Lookup(ctx, identNut)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "ORIGIN", rec.OriginalLoginNut)

	_, body = f.engine.Handle(ctx, c.form("ident", string(body), ""), "")

	origin, err := f.registry.Lookup(ctx, "ORIGIN")
	require.NoError(t, err)
	require.NotNil(t, origin)
	assert.True(t, origin.LoggedIn)
}

func TestCpsIncludesSuccessURL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := newClient(t)

	serverEcho := f.issueOrigin(t, "AAAA")
	_, body := f.engine.Handle(ctx, c.form("query", serverEcho, "cps"), "")

	reply := decodeReply(t, body)
	assert.Empty(t, reply["url"], "query never redirects")

	_, body = f.engine.Handle(ctx, c.form("ident", string(body), "cps"), "")
	reply = decodeReply(t, body)
	assert.Equal(t, "https://example.com/loggedIn", reply["url"])
}

func TestSukReturned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := newClient(t)

	// enrol with a server unlock key on file
	serverEcho := f.issueOrigin(t, "AAAA")
	_, body := f.engine.Handle(ctx, c.form("query", serverEcho, ""), "")
	enrol := app.BuildEnvelope(c.priv, [][2]string{
		{"ver", "1"},
		{"cmd", "ident"},
		{"idk", envelope.Encode(c.pub)},
		{"suk", "suk-value"},
		{"vuk", "vuk-value"},
	}, string(body))
	_, body = f.engine.Handle(ctx, enrol, "")

	serverEcho = f.issueOrigin(t, "BBBB")
	_, body = f.engine.Handle(ctx, c.form("query", serverEcho, "suk"), "")

	reply := decodeReply(t, body)
	assert.Equal(t, "suk-value", reply["suk"])
}

func TestReplyFieldsRoundTrip(t *testing.T) {
	want := &model.ServerReply{
		Versions: []int{1},
		Nut:      "NUTVALUE",
		Tif:      model.TifCurrentIDMatch | model.TifIPMatched,
		Qry:      "/sqrl?nut=NUTVALUE",
		Suk:      "suk-value",
	}

	fields, err := envelope.ParseBlock(envelope.EncodeBlock(want.Fields()))
	require.NoError(t, err)

	tif, err := model.ParseTif(fields["tif"])
	require.NoError(t, err)

	got := &model.ServerReply{
		Versions: []int{1},
		Nut:      fields["nut"],
		Tif:      tif,
		Qry:      fields["qry"],
		Suk:      fields["suk"],
	}
	if diff := deep.Equal(want, got); diff != nil {
		t.Fatal(diff)
	}
}

func TestEncryptedGeneratorSetsIPMatch(t *testing.T) {
	registry := nut.NewMemoryRegistry(time.Hour)
	t.Cleanup(registry.Close)

	var key [32]byte
	copy(key[:], "0123456789abcdef0123456789abcdef")
	gen := nut.NewEncryptedGenerator(key)

	e := New(registry, store.NewMemoryStore(), gen, Options{URLPath: "/sqrl"})
	ctx := context.Background()
	c := newClient(t)

	// origin nut minted for this client's address
	nutVal, _, err := gen.Generate("203.0.113.7")
	require.NoError(t, err)
	require.NoError(t, registry.Issue(ctx, model.UrlAndNut{
		URL: "sqrl://example.com/sqrl?nut=" + nutVal,
		Nut: nutVal,
	}, ""))

	serverEcho := envelope.Encode([]byte("sqrl://example.com/sqrl?nut=" + nutVal))

	status, body := e.Handle(ctx, c.form("query", serverEcho, ""), "203.0.113.7")
	require.Equal(t, http.StatusOK, status)
	tif, err := model.ParseTif(decodeReply(t, body)["tif"])
	require.NoError(t, err)
	assert.True(t, tif.Has(model.TifIPMatched))

	// a different device does not get the bit
	nutVal2, _, err := gen.Generate("203.0.113.7")
	require.NoError(t, err)
	require.NoError(t, registry.Issue(ctx, model.UrlAndNut{Nut: nutVal2}, ""))
	serverEcho = envelope.Encode([]byte("sqrl://example.com/sqrl?nut=" + nutVal2))

	status, body = e.Handle(ctx, c.form("query", serverEcho, ""), "198.51.100.20")
	require.Equal(t, http.StatusOK, status)
	tif, err = model.ParseTif(decodeReply(t, body)["tif"])
	require.NoError(t, err)
	assert.False(t, tif.Has(model.TifIPMatched))
}
