// Package transfer implements the Transfer Acceptor (C6) and Sender (C7):
// the TCP request/response protocol that moves one file from a sender's
// disk to a receiver's download directory, with per-chunk streaming and an
// end-to-end MD5 check.
package transfer

import (
	"errors"
	"time"
)

// timeDeadline converts a relative duration into an absolute deadline for
// net.Conn.SetReadDeadline/SetWriteDeadline.
func timeDeadline(d time.Duration) time.Time {
	return time.Now().Add(d)
}

var (
	// ErrRejected is returned to a Sender when the remote operator declines
	// the offer, or when no verdict arrives before the confirm timeout.
	ErrRejected = errors.New("transfer: offer rejected by remote peer")

	// ErrIntegrityMismatch is returned when the receiver's computed MD5 does
	// not match the hash the sender carries in FILE_DONE.
	ErrIntegrityMismatch = errors.New("transfer: md5 mismatch after transfer")

	// ErrUnexpectedMessage is returned when a peer sends a wire message that
	// is not valid in the connection's current state.
	ErrUnexpectedMessage = errors.New("transfer: unexpected message for current state")
)

// ProgressEvent reports streaming progress for one transfer, sent or
// received, so a caller (e.g. cmd/wispd) can render a progress indicator.
type ProgressEvent struct {
	Filename   string
	BytesDone  int64
	TotalBytes int64
	Sending    bool
	Done       bool
	Err        error
}

// SendResult is the outcome of Sender.Send.
type SendResult struct {
	Filename string
	Size     int64
	MD5      string
	Accepted bool
}
