package transfer

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"

	"github.com/arnshah/wisp/internal/config"
	"github.com/arnshah/wisp/internal/retry"
	"github.com/arnshah/wisp/internal/wire"
)

// Sender implements C7: it drives one outbound file transfer through
// PREP -> CONNECT -> OFFER -> META -> STREAM -> DONE -> VERIFY against a
// single target peer.
type Sender struct {
	log      *slog.Logger
	progress chan<- ProgressEvent
}

// NewSender constructs a Sender. progress may be nil.
func NewSender(progress chan<- ProgressEvent, log *slog.Logger) *Sender {
	return &Sender{log: log.With("component", "transfer-sender"), progress: progress}
}

// Send offers path to the peer at target ("ip:port") and streams it if
// accepted.
func (s *Sender) Send(target string, path string) (*SendResult, error) {
	cfg := config.Load()

	// T0: PREP — hash the whole file up front since FILE_OFFER must carry
	// its MD5 before any bytes are streamed.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("transfer: open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("transfer: stat %s: %w", path, err)
	}

	hash := md5.New()
	if _, err := io.Copy(hash, f); err != nil {
		return nil, fmt.Errorf("transfer: hash %s: %w", path, err)
	}
	sum := fmt.Sprintf("%x", hash.Sum(nil))

	filename := info.Name()
	result := &SendResult{Filename: filename, Size: info.Size(), MD5: sum}

	// T1: CONNECT — a peer's transfer listener can be briefly unready right
	// after a heartbeat announces it (e.g. still finishing a prior accept),
	// so dialing gets a couple of quick retries rather than failing the
	// whole send on the first refused connection.
	var conn net.Conn
	dialErr := retry.Do(context.Background(), func(ctx context.Context) error {
		c, err := net.DialTimeout("tcp4", target, cfg.DialTimeout)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}, retry.WithMaxAttempts(3), retry.WithInitialDelay(cfg.DialTimeout/10))
	if dialErr != nil {
		return result, fmt.Errorf("transfer: dial %s: %w", target, dialErr)
	}
	defer conn.Close()

	// T2: OFFER
	conn.SetWriteDeadline(timeDeadline(cfg.MessageTimeout))
	if err := wire.WriteMessage(conn, wire.FileOffer{Filename: filename, Size: info.Size(), MD5: sum}); err != nil {
		return result, fmt.Errorf("transfer: send offer: %w", err)
	}

	conn.SetReadDeadline(timeDeadline(cfg.OfferTimeout))
	resp, err := wire.ReadMessage(conn)
	if err != nil {
		return result, fmt.Errorf("transfer: await verdict: %w", err)
	}
	switch v := resp.(type) {
	case wire.FileReject:
		return result, fmt.Errorf("%w: %s", ErrRejected, v.Reason)
	case wire.FileAccept:
		result.Accepted = true
	default:
		return result, fmt.Errorf("%w: expected FILE_ACCEPT/FILE_REJECT", ErrUnexpectedMessage)
	}

	// T3: META
	chunkSize := cfg.ChunkBytes
	chunks := int((info.Size() + int64(chunkSize) - 1) / int64(chunkSize))
	if info.Size() == 0 {
		chunks = 0
	}

	conn.SetWriteDeadline(timeDeadline(cfg.MessageTimeout))
	if err := wire.WriteMessage(conn, wire.FileMeta{Chunks: chunks, ChunkSize: chunkSize}); err != nil {
		return result, fmt.Errorf("transfer: send meta: %w", err)
	}

	// T4: STREAM
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return result, fmt.Errorf("transfer: rewind %s: %w", path, err)
	}

	buf := make([]byte, chunkSize)
	var sent int64
	for seq := 0; seq < chunks; seq++ {
		n, err := io.ReadFull(f, buf)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return result, fmt.Errorf("transfer: read chunk %d: %w", seq, err)
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		conn.SetWriteDeadline(timeDeadline(cfg.MessageTimeout))
		if err := wire.WriteMessage(conn, wire.FileChunk{Seq: seq, Data: data}); err != nil {
			return result, fmt.Errorf("transfer: send chunk %d: %w", seq, err)
		}

		sent += int64(n)
		if s.progress != nil {
			select {
			case s.progress <- ProgressEvent{Filename: filename, BytesDone: sent, TotalBytes: info.Size(), Sending: true}:
			default:
			}
		}
	}

	// T5: DONE
	conn.SetWriteDeadline(timeDeadline(cfg.MessageTimeout))
	if err := wire.WriteMessage(conn, wire.FileDone{MD5: sum}); err != nil {
		return result, fmt.Errorf("transfer: send done: %w", err)
	}

	// T6: VERIFY
	conn.SetReadDeadline(timeDeadline(cfg.MessageTimeout))
	verify, err := wire.ReadMessage(conn)
	if err != nil {
		return result, fmt.Errorf("transfer: await verify: %w", err)
	}
	switch v := verify.(type) {
	case wire.FileVerifyOK:
		if s.progress != nil {
			select {
			case s.progress <- ProgressEvent{Filename: filename, BytesDone: sent, TotalBytes: info.Size(), Sending: true, Done: true}:
			default:
			}
		}
		return result, nil
	case wire.FileVerifyFail:
		return result, fmt.Errorf("%w: expected %s, got %s", ErrIntegrityMismatch, v.Expected, v.Got)
	default:
		return result, fmt.Errorf("%w: expected FILE_VERIFY_OK/FILE_VERIFY_FAIL", ErrUnexpectedMessage)
	}
}
