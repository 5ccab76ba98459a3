package sftp

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"syscall"

	sshfx "github.com/sshtools/sftp/encoding/ssh/filexfer"
)

// Errors returned by the client and server engines.
var (
	// ErrBadMessage means the peer sent something that cannot be decoded as
	// an SFTP packet: a malformed body, or a packet type that makes no sense
	// in the current direction. The server ends the session when the opening
	// packet is not SSH_FXP_INIT. The client returns it for the single request
	// whose reply was malformed or of the wrong type; the session stays open.
	ErrBadMessage = errors.New("sftp: bad message")

	// ErrUnexpectedPacket means a decodable packet arrived that violates the
	// protocol: a reply without a matching request, an opening packet other
	// than SSH_FXP_VERSION, or an SSH_FX_OK status where data was expected.
	ErrUnexpectedPacket = errors.New("sftp: unexpected packet")

	// ErrUnexpectedVersion means the peer negotiated a protocol version this
	// library does not speak.
	ErrUnexpectedVersion = errors.New("sftp: unexpected protocol version")

	// ErrConnectionLost means the underlying stream closed or failed while
	// requests were still outstanding.
	ErrConnectionLost = errors.New("sftp: connection lost")

	// ErrTimeout means a request exceeded the client's configured deadline.
	// The request's ID stays quarantined until the server's late reply arrives.
	ErrTimeout = errors.New("sftp: request timed out")

	// ErrLimitExceeded means a request would exceed a bound advertised by the
	// server's limits@openssh.com extension.
	ErrLimitExceeded = errors.New("sftp: server limit exceeded")
)

// A StatusError is returned when an sftp operation fails, and provides
// additional information about the failure.
type StatusError struct {
	Code      sshfx.Status
	msg, lang string
}

// NewStatusError returns a StatusError for the given code and message.
// Server handlers return one to pick the exact SSH_FX_* code sent on the wire.
func NewStatusError(code sshfx.Status, msg string) *StatusError {
	return &StatusError{Code: code, msg: msg}
}

func (s *StatusError) Error() string {
	if s.msg == "" {
		return "sftp: " + s.Code.String()
	}

	return "sftp: " + s.Code.String() + ": " + s.msg
}

// Message returns the error message the peer attached to the status, if any.
func (s *StatusError) Message() string { return s.msg }

// Is supports errors.Is matching against another *StatusError with the same code.
func (s *StatusError) Is(target error) bool {
	if t, ok := target.(*StatusError); ok {
		return s.Code == t.Code
	}

	return false
}

// normaliseError converts a *StatusError into its idiomatic Go equivalent
// where one exists: EOF statuses become io.EOF so streaming loops terminate
// naturally, and the common filesystem failures become the os sentinels that
// callers already test with errors.Is.
func normaliseError(err error) error {
	var status *StatusError
	if !errors.As(err, &status) {
		return err
	}

	switch status.Code {
	case sshfx.StatusOK:
		return nil
	case sshfx.StatusEOF:
		return io.EOF
	case sshfx.StatusNoSuchFile:
		return os.ErrNotExist
	case sshfx.StatusPermissionDenied:
		return os.ErrPermission
	default:
		return status
	}
}

// statusFromError translates a handler error into the SSH_FX_* code sent on
// the wire. A *StatusError passes through verbatim, so handlers can pick
// exact codes; everything else is classified by the usual sentinels.
func statusFromError(id uint32, err error) *sshfx.StatusPacket {
	pkt := &sshfx.StatusPacket{
		RequestID:  id,
		StatusCode: sshfx.StatusOK,
	}

	if err == nil {
		return pkt
	}

	pkt.StatusCode = sshfx.StatusFailure
	pkt.ErrorMessage = err.Error()

	var status *StatusError
	if errors.As(err, &status) {
		pkt.StatusCode = status.Code
		pkt.ErrorMessage = status.msg
		pkt.LanguageTag = status.lang
		return pkt
	}

	switch {
	case errors.Is(err, io.EOF):
		pkt.StatusCode = sshfx.StatusEOF
		pkt.ErrorMessage = ""
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENOENT):
		pkt.StatusCode = sshfx.StatusNoSuchFile
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		pkt.StatusCode = sshfx.StatusPermissionDenied
	}

	return pkt
}
