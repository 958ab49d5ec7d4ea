package transfer

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"

	"github.com/arnshah/wisp/internal/confirm"
	"github.com/arnshah/wisp/internal/config"
	"github.com/arnshah/wisp/internal/wire"
)

// Acceptor implements C6: it listens for inbound transfer connections and
// drives each one through WAIT_OFFER -> CONFIRMING -> META -> STREAMING ->
// VERIFY independently, one goroutine per connection.
type Acceptor struct {
	log         *slog.Logger
	bridge      *confirm.Bridge
	downloadDir string
	progress    chan<- ProgressEvent

	ln net.Listener
}

// NewAcceptor binds the first available TCP port starting at base,
// trying up to 16 successive ports, per the transfer port binding rule.
func NewAcceptor(base uint16, downloadDir string, bridge *confirm.Bridge, progress chan<- ProgressEvent, log *slog.Logger) (*Acceptor, error) {
	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("transfer: create download dir: %w", err)
	}

	var (
		ln  net.Listener
		err error
	)
	for port := base; port < base+16; port++ {
		ln, err = net.Listen("tcp4", fmt.Sprintf(":%d", port))
		if err == nil {
			break
		}
	}
	if ln == nil {
		return nil, fmt.Errorf("transfer: no free port in [%d, %d): %w", base, base+16, err)
	}

	return &Acceptor{
		log:         log.With("component", "transfer-acceptor"),
		bridge:      bridge,
		downloadDir: downloadDir,
		progress:    progress,
		ln:          ln,
	}, nil
}

// Port reports the TCP port actually bound.
func (a *Acceptor) Port() uint16 {
	return uint16(a.ln.Addr().(*net.TCPAddr).Port)
}

// Run accepts connections until ctx is cancelled or the listener closes.
func (a *Acceptor) Run(ctx context.Context) error {
	defer a.ln.Close()

	go func() {
		<-ctx.Done()
		a.ln.Close()
	}()

	for {
		conn, err := a.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			a.log.Warn("accept failed", "error", err.Error())
			continue
		}
		go a.handle(ctx, conn)
	}
}

func (a *Acceptor) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	remote, _ := netip.ParseAddrPort(conn.RemoteAddr().String())
	log := a.log.With("remote", remote)

	// S0: WAIT_OFFER
	conn.SetReadDeadline(timeDeadline(config.Load().MessageTimeout))
	msg, err := wire.ReadMessage(conn)
	if err != nil {
		log.Warn("failed to read offer", "error", err.Error())
		return
	}
	offer, ok := msg.(wire.FileOffer)
	if !ok {
		log.Warn("expected FILE_OFFER, got something else")
		return
	}

	// S1: CONFIRMING
	verdict, err := a.bridge.Request(ctx, confirm.Offer{
		From:     remote,
		Filename: offer.Filename,
		Size:     offer.Size,
		MD5:      offer.MD5,
	})
	if err != nil {
		log.Info("offer auto-rejected", "filename", offer.Filename, "error", err.Error())
	}
	if verdict != confirm.Accept {
		wire.WriteMessage(conn, wire.FileReject{Reason: "declined by recipient"})
		return
	}
	if err := wire.WriteMessage(conn, wire.FileAccept{}); err != nil {
		log.Warn("failed to send accept", "error", err.Error())
		return
	}

	// S2: META
	conn.SetReadDeadline(timeDeadline(config.Load().MessageTimeout))
	msg, err = wire.ReadMessage(conn)
	if err != nil {
		log.Warn("failed to read meta", "error", err.Error())
		return
	}
	meta, ok := msg.(wire.FileMeta)
	if !ok {
		log.Warn("expected FILE_META, got something else")
		return
	}

	dest, err := resolveCollision(a.downloadDir, offer.Filename)
	if err != nil {
		log.Warn("failed to resolve destination path", "error", err.Error())
		return
	}
	f, err := os.Create(dest)
	if err != nil {
		log.Warn("failed to create destination file", "error", err.Error())
		return
	}
	defer f.Close()

	// S3: STREAMING
	hash := md5.New()
	var received int64
	for seq := 0; seq < meta.Chunks; seq++ {
		conn.SetReadDeadline(timeDeadline(config.Load().MessageTimeout))
		msg, err = wire.ReadMessage(conn)
		if err != nil {
			log.Warn("failed to read chunk", "seq", seq, "error", err.Error())
			return
		}
		chunk, ok := msg.(wire.FileChunk)
		if !ok || chunk.Seq != seq {
			log.Warn("chunk out of sequence", "expected", seq)
			return
		}
		if _, err := f.Write(chunk.Data); err != nil {
			log.Warn("failed to write chunk", "error", err.Error())
			return
		}
		hash.Write(chunk.Data)
		received += int64(len(chunk.Data))

		if a.progress != nil {
			select {
			case a.progress <- ProgressEvent{Filename: offer.Filename, BytesDone: received, TotalBytes: offer.Size}:
			default:
			}
		}
	}

	// S4: VERIFY
	conn.SetReadDeadline(timeDeadline(config.Load().MessageTimeout))
	msg, err = wire.ReadMessage(conn)
	if err != nil {
		log.Warn("failed to read done", "error", err.Error())
		return
	}
	doneMsg, ok := msg.(wire.FileDone)
	if !ok {
		log.Warn("expected FILE_DONE, got something else")
		return
	}

	got := fmt.Sprintf("%x", hash.Sum(nil))
	if got != doneMsg.MD5 {
		wire.WriteMessage(conn, wire.FileVerifyFail{Expected: doneMsg.MD5, Got: got})
		os.Remove(dest)
		log.Warn("integrity check failed, discarded file", "filename", offer.Filename)
		if a.progress != nil {
			select {
			case a.progress <- ProgressEvent{Filename: offer.Filename, Done: true, Err: ErrIntegrityMismatch}:
			default:
			}
		}
		return
	}

	wire.WriteMessage(conn, wire.FileVerifyOK{})
	log.Info("transfer complete", "filename", offer.Filename, "bytes", received, "path", dest)
	if a.progress != nil {
		select {
		case a.progress <- ProgressEvent{Filename: offer.Filename, BytesDone: received, TotalBytes: offer.Size, Done: true}:
		default:
		}
	}
}
