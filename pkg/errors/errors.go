package errors

import (
	"errors"
	"fmt"
	"net/http"

	"sqrl_server/internal/model"
)

// ProtocolError is a SQRL failure that still produces a normally-framed
// reply: it knows its HTTP status and which TIF bits the reply carries.
type ProtocolError struct {
	Code    Code
	Message string
	Status  int
	Tif     model.Tif
	Cause   error
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ProtocolError) Unwrap() error { return e.Cause }

// clientFault is the disposition shared by every 400-class kind.
func clientFault(code Code, message string) error {
	return &ProtocolError{
		Code:    code,
		Message: message,
		Status:  http.StatusBadRequest,
		Tif:     model.TifCommandFailed | model.TifClientFailure,
	}
}

func MalformedEnvelope(msg string) error {
	return clientFault(CodeMalformedEnvelope, msg)
}

func MissingIdentityKey() error {
	return clientFault(CodeMissingIdentityKey, "client envelope carries no identity key")
}

func MissingSignature(field string) error {
	return clientFault(CodeMissingSignature, "client envelope carries no "+field+" signature")
}

func BadSignature(field string) error {
	return clientFault(CodeBadSignature, field+" signature verification failed")
}

func MalformedServerField(msg string) error {
	return clientFault(CodeMalformedServerField, msg)
}

func UnknownOption(opt string) error {
	return clientFault(CodeUnknownOption, "unknown opt flag: "+opt)
}

func UnsupportedVersion(got int) error {
	return clientFault(CodeUnsupportedVersion,
		fmt.Sprintf("server requires protocol revision 1, client sent %d", got))
}

func UnknownCommand(cmd string) error {
	return clientFault(CodeUnknownCommand, "unknown command: "+cmd)
}

func UnknownNut(nut string) error {
	return clientFault(CodeUnknownNut, "unknown nut: "+nut)
}

func TransientInternal(msg string, cause error) error {
	return &ProtocolError{
		Code:    CodeTransientInternal,
		Message: msg,
		Status:  http.StatusInternalServerError,
		Tif:     model.TifCommandFailed | model.TifTransientError,
		Cause:   cause,
	}
}

// From extracts the ProtocolError from err, converting anything else into
// a TransientInternal so callers always get a renderable disposition.
func From(err error) *ProtocolError {
	var perr *ProtocolError
	if errors.As(err, &perr) {
		return perr
	}
	return TransientInternal("internal error", err).(*ProtocolError)
}

func IsCode(err error, code Code) bool {
	var perr *ProtocolError
	return errors.As(err, &perr) && perr.Code == code
}
