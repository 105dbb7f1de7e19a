package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"sqrl_server/internal/cryptographic/signature"
	"sqrl_server/internal/model"
	"sqrl_server/internal/protocol/envelope"
	"sqrl_server/internal/protocol/sqrlurl"
	"sqrl_server/internal/utils/log"
)

type (
	// App is a mock SQRL client: it holds a per-site keypair and walks a
	// query/ident conversation against a server, echoing each reply back as
	// the next server value the way a real SQRL app does.
	App struct {
		httpBase string
		client   *http.Client

		pub  []byte
		priv []byte

		// serverEcho is the still-encoded server value for the next message
		serverEcho string
		qry        string
	}
)

func NewApp(httpBase string) (*App, error) {
	pub, priv, err := signature.NewEd25519Keypair()
	if err != nil {
		return nil, err
	}
	return &App{
		httpBase: strings.TrimSuffix(httpBase, "/"),
		client:   &http.Client{},
		pub:      pub,
		priv:     priv,
	}, nil
}

// Run drives a complete login: canonicalize the scanned URL, query, then
// ident.
func (c *App) Run(ctx context.Context, sqrlURL string) error {
	canonical, err := sqrlurl.Canonicalize(sqrlURL)
	if err != nil {
		return err
	}

	u, err := url.Parse(canonical)
	if err != nil {
		return err
	}
	c.qry = u.Path + "?" + u.RawQuery
	c.serverEcho = envelope.Encode([]byte(canonical))

	reply, err := c.Do(ctx, model.CommandQuery, "")
	if err != nil {
		return err
	}
	log.Info("query reply", zap.String("tif", reply["tif"]), zap.String("nut", reply["nut"]))

	reply, err = c.Do(ctx, model.CommandIdent, "")
	if err != nil {
		return err
	}
	log.Info("ident reply", zap.String("tif", reply["tif"]), zap.String("nut", reply["nut"]))

	return nil
}

// Do sends one command and returns the decoded reply fields. The raw reply
// body becomes the server echo of the following message.
func (c *App) Do(ctx context.Context, cmd model.Command, opt string) (map[string]string, error) {
	clientFields := [][2]string{
		{"ver", "1"},
		{"cmd", string(cmd)},
		{"idk", envelope.Encode(c.pub)},
	}
	if opt != "" {
		clientFields = append(clientFields, [2]string{"opt", opt})
	}

	form := BuildEnvelope(c.priv, clientFields, c.serverEcho)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.httpBase+c.qry, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	data, err := envelope.Decode(string(body))
	if err != nil {
		return nil, fmt.Errorf("reply is not base64url: %w", err)
	}
	fields, err := envelope.ParseBlock(data)
	if err != nil {
		return nil, fmt.Errorf("reply block: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fields, fmt.Errorf("server answered %d: %s", resp.StatusCode, fields["ask"])
	}

	c.serverEcho = string(body)
	if qry := fields["qry"]; qry != "" {
		c.qry = qry
	}
	return fields, nil
}
