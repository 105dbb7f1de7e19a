package request

import (
	"crypto/ed25519"
	"net/url"
	"strconv"
	"strings"

	"sqrl_server/internal/cryptographic/signature"
	"sqrl_server/internal/model"
	"sqrl_server/internal/protocol/envelope"
	"sqrl_server/pkg/errors"
)

// Validate turns the raw POST fields into a verified ClientRequest.
// Signatures are checked over the concatenation of the still-encoded
// client and server strings, exactly the bytes the SQRL app signed.
func Validate(form url.Values) (*model.ClientRequest, error) {
	clientStr := form.Get("client")
	serverStr := form.Get("server")
	if clientStr == "" || serverStr == "" {
		return nil, errors.MalformedEnvelope("envelope requires client and server fields")
	}

	clientData, err := envelope.Decode(clientStr)
	if err != nil {
		return nil, errors.MalformedEnvelope("client field is not base64url")
	}
	fields, err := envelope.ParseBlock(clientData)
	if err != nil {
		return nil, errors.MalformedEnvelope("client field: " + err.Error())
	}

	req := &model.ClientRequest{
		IdentityKey:            fields["idk"],
		PreviousIdentityKey:    fields["pidk"],
		ServerUnlockKey:        fields["suk"],
		VerifyUnlockKey:        fields["vuk"],
		IndexSecret:            fields["ins"],
		PreviousIndexSecret:    fields["pins"],
		UnlockRequestSignature: form.Get("urs"),
	}

	if req.IdentityKey == "" {
		return nil, errors.MissingIdentityKey()
	}

	if req.Version, err = parseVersion(fields["ver"]); err != nil {
		return nil, err
	}

	cmd, ok := model.ParseCommand(fields["cmd"])
	if !ok {
		return nil, errors.UnknownCommand(fields["cmd"])
	}
	req.Command = cmd

	if err := verifySignatures(form, req, clientStr, serverStr); err != nil {
		return nil, err
	}

	if req.Nut, err = serverNut(serverStr); err != nil {
		return nil, err
	}

	if err := applyOptions(req, fields["opt"]); err != nil {
		return nil, err
	}

	if btn := fields["btn"]; btn != "" {
		sel, err := strconv.Atoi(btn)
		if err != nil || sel < 1 || sel > 3 {
			return nil, errors.MalformedEnvelope("btn must be 1..3")
		}
		req.AskResponse = sel
	}

	return req, nil
}

func parseVersion(ver string) (int, error) {
	if ver == "" {
		return 0, errors.MalformedEnvelope("client envelope carries no ver")
	}
	v, err := strconv.Atoi(ver)
	if err != nil {
		return 0, errors.MalformedEnvelope("ver is not an integer")
	}
	return v, nil
}

// verifySignatures checks ids against idk over client||server, and pids
// against pidk when a previous identity is presented.
func verifySignatures(form url.Values, req *model.ClientRequest, clientStr, serverStr string) error {
	signed := []byte(clientStr + serverStr)

	ids := form.Get("ids")
	if ids == "" {
		return errors.MissingSignature("ids")
	}
	idk, err := envelope.Decode(req.IdentityKey)
	if err != nil || len(idk) != ed25519.PublicKeySize {
		return errors.MalformedEnvelope("idk is not a 32-byte base64url key")
	}
	sig, err := envelope.Decode(ids)
	if err != nil {
		return errors.MalformedEnvelope("ids is not base64url")
	}
	if !signature.ED25519Verify(idk, signed, sig) {
		return errors.BadSignature("ids")
	}

	if req.PreviousIdentityKey == "" {
		return nil
	}

	pids := form.Get("pids")
	if pids == "" {
		return errors.MissingSignature("pids")
	}
	pidk, err := envelope.Decode(req.PreviousIdentityKey)
	if err != nil || len(pidk) != ed25519.PublicKeySize {
		return errors.MalformedEnvelope("pidk is not a 32-byte base64url key")
	}
	psig, err := envelope.Decode(pids)
	if err != nil {
		return errors.MalformedEnvelope("pids is not base64url")
	}
	if !signature.ED25519Verify(pidk, signed, psig) {
		return errors.BadSignature("pids")
	}
	return nil
}

// serverNut extracts the nut the client is replying against. The server
// field is either the original sqrl:// URL or the name-value block of the
// previous reply, echoed back still-encoded.
func serverNut(serverStr string) (string, error) {
	data, err := envelope.Decode(serverStr)
	if err != nil {
		return "", errors.MalformedServerField("server field is not base64url")
	}

	if strings.HasPrefix(string(data), "sqrl") {
		u, err := url.Parse(string(data))
		if err != nil {
			return "", errors.MalformedServerField("server field is not a parsable url")
		}
		nut := u.Query().Get("nut")
		if nut == "" {
			return "", errors.MalformedServerField("server url carries no nut")
		}
		return nut, nil
	}

	fields, err := envelope.ParseBlock(data)
	if err != nil {
		return "", errors.MalformedServerField("server field: " + err.Error())
	}
	nut := fields["nut"]
	if nut == "" {
		return "", errors.MalformedServerField("server block carries no nut")
	}
	return nut, nil
}

func applyOptions(req *model.ClientRequest, opt string) error {
	if opt == "" {
		return nil
	}
	for _, flag := range strings.Split(opt, "~") {
		switch flag {
		case "":
		case "sqrlonly":
			req.SqrlOnly = true
		case "hardlock":
			req.HardLock = true
		case "cps":
			req.ClientProvidedSession = true
		case "suk":
			req.ReturnSessionUnlockKey = true
		default:
			return errors.UnknownOption(flag)
		}
	}
	return nil
}
