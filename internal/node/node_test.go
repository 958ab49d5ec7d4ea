package node

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/arnshah/wisp/internal/config"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestNodeDiscoversPeerAndShutsDownCleanly starts two nodes sharing a
// broadcast port, waits for them to discover one another, and confirms
// that Stop unwinds every goroutine with no leaks.
func TestNodeDiscoversPeerAndShutsDownCleanly(t *testing.T) {
	defer goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)

	config.Update(func(c *config.Config) {
		c.BroadcastPort = 29123
		c.TransferPortBase = 0
		c.HeartbeatInterval = 20 * time.Millisecond
		c.SweepInterval = 50 * time.Millisecond
		c.PeerTTL = time.Second
		c.SilenceWarnAfter = time.Minute
		c.DownloadDir = t.TempDir()
	})

	a, err := New("alpha", quietLogger())
	require.NoError(t, err)
	b, err := New("beta", quietLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	doneA := make(chan error, 1)
	doneB := make(chan error, 1)
	go func() { doneA <- a.Run(ctx) }()
	go func() { doneB <- b.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(a.PeersSnapshot()) > 0 && len(b.PeersSnapshot()) > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	require.NotEmpty(t, a.PeersSnapshot(), "alpha should have discovered beta")
	require.NotEmpty(t, b.PeersSnapshot(), "beta should have discovered alpha")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), ShutdownGrace)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx))
	require.NoError(t, b.Stop(stopCtx))

	cancel()
	<-doneA
	<-doneB
}
