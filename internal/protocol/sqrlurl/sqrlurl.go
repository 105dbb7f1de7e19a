package sqrlurl

import (
	"fmt"
	"net/url"
	"strings"

	"sqrl_server/internal/model"
	"sqrl_server/internal/protocol/envelope"
)

type (
	// Factory builds the canonical sqrl:// URLs a site hands out in its QR
	// codes and follow-up queries. Domain is required; Port of 0 means the
	// standard port and is omitted. Extension is the x= hint telling the
	// client how many leading path characters join the per-site key
	// derivation, so sub-sites on one domain get distinct identities.
	Factory struct {
		Domain    string
		Port      int
		Path      string
		Extension int
	}
)

// URLForRaw renders a URL around freshly minted nut bytes; the nut is
// embedded as unpadded base64url.
func (f *Factory) URLForRaw(nutRaw []byte) model.UrlAndNut {
	un := f.URLFor(envelope.Encode(nutRaw))
	un.NutRaw = nutRaw
	return un
}

// URLFor renders a URL around a pre-encoded nut string.
func (f *Factory) URLFor(nut string) model.UrlAndNut {
	var b strings.Builder
	b.WriteString("sqrl://")
	b.WriteString(f.Domain)
	if f.Port != 0 {
		fmt.Fprintf(&b, ":%d", f.Port)
	}

	path := normalizePath(f.Path)
	b.WriteString(path)

	b.WriteString("?nut=")
	b.WriteString(nut)

	if f.Extension > 0 && path != "" {
		x := f.Extension
		if x > len(path) {
			x = len(path)
		}
		fmt.Fprintf(&b, "&x=%d", x)
	}

	return model.UrlAndNut{URL: b.String(), Nut: nut}
}

// normalizePath forces a leading '/' and strips the trailing '?' some
// callers use as an append-the-query marker.
func normalizePath(p string) string {
	p = strings.TrimSuffix(p, "?")
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// Canonicalize rewrites a sqrl URL into the form the client signs over:
// lowercase scheme and host, userinfo and explicit port stripped, path and
// query preserved verbatim.
func Canonicalize(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "sqrl" {
		return "", fmt.Errorf("not a sqrl url: scheme %q", u.Scheme)
	}

	host := strings.ToLower(u.Hostname())

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	b.WriteString(u.EscapedPath())
	if u.RawQuery != "" {
		b.WriteString("?")
		b.WriteString(u.RawQuery)
	}
	return b.String(), nil
}

// ExtractNut pulls the nut query parameter out of a sqrl URL.
func ExtractNut(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	nut := u.Query().Get("nut")
	if nut == "" {
		return "", fmt.Errorf("sqrl url carries no nut: %q", raw)
	}
	return nut, nil
}
