// Command wispd is the runnable glue around the wisp node core: it wires
// up logging and config, starts a Node, and drives it through a minimal
// stdin command loop. None of this file is part of the specified core —
// it exists only so the core is exercisable from a terminal.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/arnshah/wisp/internal/config"
	"github.com/arnshah/wisp/internal/confirm"
	"github.com/arnshah/wisp/internal/logging"
	"github.com/arnshah/wisp/internal/node"
	"github.com/arnshah/wisp/internal/transfer"
)

func main() {
	name := flag.String("name", "", "override this node's advertised name")
	broadcastPort := flag.Int("broadcast-port", 0, "override the discovery broadcast port")
	downloadDir := flag.String("download-dir", "", "override the directory received files are written to")
	flag.Parse()

	setupLogger()

	config.Update(func(c *config.Config) {
		if *broadcastPort != 0 {
			c.BroadcastPort = uint16(*broadcastPort)
		}
		if *downloadDir != "" {
			c.DownloadDir = *downloadDir
		}
	})

	n, err := node.New(*name, slog.Default())
	if err != nil {
		slog.Error("failed to build node", "error", err.Error())
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := make(chan error, 1)
	go func() { runErr <- n.Run(ctx) }()

	fmt.Printf("wisp node %q listening; commands: peers, send <peer> <file>, quit\n", n.Identity().Name)
	runCommandLoop(ctx, n)

	stopCtx, cancel := context.WithTimeout(context.Background(), node.ShutdownGrace)
	defer cancel()
	if err := n.Stop(stopCtx); err != nil {
		slog.Warn("node did not stop cleanly", "error", err.Error())
	}
	<-runErr
}

func setupLogger() {
	opts := logging.DefaultOptions()
	opts.SlogOpts.Level = slog.LevelInfo
	opts.SlogOpts.AddSource = false

	h := logging.NewPrettyHandler(os.Stdout, &opts)
	slog.SetDefault(slog.New(h))
}

func runCommandLoop(ctx context.Context, n *node.Node) {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	confirmations := n.Confirmations()
	progress := n.Progress()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-progress:
			if !ok {
				continue
			}
			printProgress(ev)

		case offer, ok := <-confirmations:
			if !ok {
				continue
			}
			if !promptOffer(ctx, offer, lines) {
				return
			}

		case line, ok := <-lines:
			if !ok {
				return
			}
			if !handleCommand(ctx, n, line) {
				return
			}
		}
	}
}

func promptOffer(ctx context.Context, offer *confirm.PendingOffer, lines <-chan string) bool {
	fmt.Printf("incoming offer from %s: %q (%d bytes) — accept? [y/N] ",
		offer.Offer.From, offer.Offer.Filename, offer.Offer.Size)

	select {
	case line, ok := <-lines:
		if !ok {
			offer.Resolve(confirm.Reject)
			return false
		}
		if strings.EqualFold(strings.TrimSpace(line), "y") {
			offer.Resolve(confirm.Accept)
		} else {
			offer.Resolve(confirm.Reject)
		}
		return true
	case <-ctx.Done():
		offer.Resolve(confirm.Reject)
		return false
	}
}

func handleCommand(ctx context.Context, n *node.Node, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}

	switch fields[0] {
	case "quit", "exit":
		return false

	case "peers":
		printPeers(n)

	case "send":
		if len(fields) != 3 {
			fmt.Println("usage: send <peer-name-or-ip:port> <path>")
			return true
		}
		go func() {
			result, err := n.SubmitSend(ctx, fields[1], fields[2])
			if err != nil {
				fmt.Printf("send failed: %s\n", err.Error())
				return
			}
			fmt.Printf("sent %s (%d bytes, md5 %s)\n", result.Filename, result.Size, result.MD5)
		}()

	default:
		fmt.Printf("unknown command %q\n", fields[0])
	}
	return true
}

func printPeers(n *node.Node) {
	peers := n.PeersSnapshot()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"name", "address", "os", "last seen"})
	for _, p := range peers {
		table.Append([]string{
			p.Identity.Name,
			fmt.Sprintf("%s:%d", p.Identity.IP, p.Identity.Port),
			p.Identity.OS,
			p.LastSeen.Format(time.RFC3339),
		})
	}
	table.Render()
}

func printProgress(ev transfer.ProgressEvent) {
	verb := "receiving"
	if ev.Sending {
		verb = "sending"
	}
	if ev.Err != nil {
		fmt.Printf("%s %s: failed: %s\n", verb, ev.Filename, ev.Err.Error())
		return
	}
	if ev.Done {
		fmt.Printf("%s %s: done (%d bytes)\n", verb, ev.Filename, ev.BytesDone)
		return
	}
	fmt.Printf("%s %s: %d/%d bytes\n", verb, ev.Filename, ev.BytesDone, ev.TotalBytes)
}
