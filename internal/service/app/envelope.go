package app

import (
	"net/url"

	"sqrl_server/internal/cryptographic/signature"
	"sqrl_server/internal/protocol/envelope"
)

// BuildEnvelope assembles a signed SQRL POST body: the encoded client
// block, the echoed server value, and an ids signature by priv over the
// concatenation of the two still-encoded strings.
func BuildEnvelope(priv []byte, clientFields [][2]string, serverStr string) url.Values {
	clientStr := envelope.Encode(envelope.EncodeBlock(clientFields))

	form := url.Values{}
	form.Set("client", clientStr)
	form.Set("server", serverStr)
	form.Set("ids", envelope.Encode(signature.ED25519Sign(priv, []byte(clientStr+serverStr))))
	return form
}

// BuildEnvelopeWithPrevious additionally signs with the retired identity
// key, as a client does while rotating keys.
func BuildEnvelopeWithPrevious(priv, prevPriv []byte, clientFields [][2]string, serverStr string) url.Values {
	form := BuildEnvelope(priv, clientFields, serverStr)
	clientStr := form.Get("client")
	form.Set("pids", envelope.Encode(signature.ED25519Sign(prevPriv, []byte(clientStr+serverStr))))
	return form
}
