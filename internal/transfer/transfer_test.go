package transfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arnshah/wisp/internal/confirm"
	"github.com/arnshah/wisp/internal/wire"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startAcceptor(t *testing.T, bridge *confirm.Bridge, dir string) *Acceptor {
	t.Helper()

	a, err := NewAcceptor(0, dir, bridge, nil, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go a.Run(ctx)
	return a
}

func TestEndToEndTransferSucceeds(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()

	path := filepath.Join(srcDir, "hello.txt")
	require.NoError(t, os.WriteFile(path, []byte("Hello, world!"), 0o644))

	bridge := confirm.New(time.Second, 4)
	go func() {
		p := <-bridge.Offers()
		p.Resolve(confirm.Accept)
	}()

	acceptor := startAcceptor(t, bridge, dstDir)

	sender := NewSender(nil, discardLogger())
	result, err := sender.Send(fmt.Sprintf("127.0.0.1:%d", acceptor.Port()), path)
	require.NoError(t, err)
	require.True(t, result.Accepted)
	require.Equal(t, int64(13), result.Size)

	got, err := os.ReadFile(filepath.Join(dstDir, "hello.txt"))
	require.NoError(t, err)
	require.Equal(t, "Hello, world!", string(got))
}

func TestEndToEndTransferRejected(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()

	path := filepath.Join(srcDir, "hello.txt")
	require.NoError(t, os.WriteFile(path, []byte("Hello, world!"), 0o644))

	bridge := confirm.New(time.Second, 4)
	go func() {
		p := <-bridge.Offers()
		p.Resolve(confirm.Reject)
	}()

	acceptor := startAcceptor(t, bridge, dstDir)

	sender := NewSender(nil, discardLogger())
	_, err := sender.Send(fmt.Sprintf("127.0.0.1:%d", acceptor.Port()), path)
	require.ErrorIs(t, err, ErrRejected)

	entries, err := os.ReadDir(dstDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

// TestEndToEndIntegrityMismatch drives the acceptor's wire protocol by hand
// so it can send a FILE_OFFER whose promised MD5 does not match the bytes
// actually streamed, exercising the receiver's integrity check (S4).
func TestEndToEndIntegrityMismatch(t *testing.T) {
	dstDir := t.TempDir()

	bridge := confirm.New(time.Second, 4)
	go func() {
		p := <-bridge.Offers()
		p.Resolve(confirm.Accept)
	}()

	acceptor := startAcceptor(t, bridge, dstDir)

	conn, err := net.Dial("tcp4", fmt.Sprintf("127.0.0.1:%d", acceptor.Port()))
	require.NoError(t, err)
	defer conn.Close()

	payload := []byte("not the real content")

	require.NoError(t, wire.WriteMessage(conn, wire.FileOffer{
		Filename: "corrupt.bin",
		Size:     int64(len(payload)),
		MD5:      "0000000000000000000000000000000000",
	}))

	resp, err := wire.ReadMessage(conn)
	require.NoError(t, err)
	_, ok := resp.(wire.FileAccept)
	require.True(t, ok)

	require.NoError(t, wire.WriteMessage(conn, wire.FileMeta{Chunks: 1, ChunkSize: len(payload)}))
	require.NoError(t, wire.WriteMessage(conn, wire.FileChunk{Seq: 0, Data: payload}))
	require.NoError(t, wire.WriteMessage(conn, wire.FileDone{MD5: "0000000000000000000000000000000000"}))

	verify, err := wire.ReadMessage(conn)
	require.NoError(t, err)
	fail, ok := verify.(wire.FileVerifyFail)
	require.True(t, ok, "expected FILE_VERIFY_FAIL, got %T", verify)
	require.NotEqual(t, fail.Expected, fail.Got)

	entries, err := os.ReadDir(dstDir)
	require.NoError(t, err)
	require.Empty(t, entries, "corrupt file must be discarded")
}
