// Braccio monitor: command-line client for the braccio daemon. It prints
// status, streams the live feeds, and sends arm commands.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-braccio/internal/httpc"
	"github.com/teslashibe/go-braccio/pkg/braccio"
	"github.com/teslashibe/go-braccio/pkg/web"
)

const usageText = `usage: braccio-monitor [flags] <command> [args]

commands:
  watch                      stream status changes (default)
  logs                       stream daemon logs
  status                     print the current status
  start | stop               start or stop the arm driver
  move <x> <y> <z>           move to a Cartesian target in mm
  wrist horizontal|vertical  set the wrist rotation
  gripper open|close         set the gripper
  home | on | off            rest pose, power on, power off

flags:
`

func main() {
	url := flag.String("url", envOr("BRACCIO_URL", "http://localhost:8080"), "Daemon base URL")
	timeout := flag.Duration("timeout", 15*time.Second, "Request timeout")
	moveTimeout := flag.Duration("move-timeout", 0, "Arm timeout for move (0 uses the daemon default)")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usageText)
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		args = []string{"watch"}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := &monitor{
		client:      httpc.New(*url, *timeout),
		out:         os.Stdout,
		errOut:      os.Stderr,
		moveTimeout: *moveTimeout,
	}
	if err := m.run(ctx, args); err != nil {
		fmt.Fprintf(os.Stderr, "braccio-monitor: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var errUsage = errors.New("invalid arguments, see -h")

type monitor struct {
	client      *httpc.Client
	out         io.Writer
	errOut      io.Writer
	moveTimeout time.Duration
	maxBackoff  time.Duration
}

func (m *monitor) run(ctx context.Context, args []string) error {
	switch cmd, rest := args[0], args[1:]; cmd {
	case "watch":
		return m.watch(ctx, "/ws/status", formatStatus)
	case "logs":
		return m.watch(ctx, "/ws/logs", formatLog)
	case "status":
		var snap braccio.Snapshot
		if err := m.client.Get(ctx, "/api/status", &snap); err != nil {
			return err
		}
		fmt.Fprintln(m.out, describe(snap))
		return nil
	case "start", "stop":
		var snap braccio.Snapshot
		if err := m.client.Post(ctx, "/api/"+cmd, nil, &snap); err != nil {
			return err
		}
		fmt.Fprintln(m.out, describe(snap))
		return nil
	case "move":
		if len(rest) != 3 {
			return errUsage
		}
		var xyz [3]float64
		for i, s := range rest {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return fmt.Errorf("bad coordinate %q: %w", s, err)
			}
			xyz[i] = v
		}
		return m.command(ctx, "/api/move", web.MoveRequest{
			X: xyz[0], Y: xyz[1], Z: xyz[2],
			TimeoutMS: m.moveTimeout.Milliseconds(),
		})
	case "wrist":
		if len(rest) != 1 {
			return errUsage
		}
		return m.command(ctx, "/api/wrist", web.WristRequest{Orientation: rest[0]})
	case "gripper":
		if len(rest) != 1 {
			return errUsage
		}
		return m.command(ctx, "/api/gripper", web.GripperRequest{State: rest[0]})
	case "home", "on", "off":
		return m.command(ctx, "/api/"+cmd, nil)
	}
	return fmt.Errorf("unknown command %q", args[0])
}

// command posts one arm command and prints its outcome.
func (m *monitor) command(ctx context.Context, path string, body any) error {
	var resp web.CommandResponse
	err := m.client.Post(ctx, path, body, &resp)
	if resp.RequestID != "" {
		outcome := "ok"
		if !resp.OK {
			outcome = "failed"
		}
		fmt.Fprintf(m.out, "%s status=%s elapsed=%dms request=%s\n", outcome, resp.Status, resp.ElapsedMS, resp.RequestID)
	}
	return err
}

// watch streams a websocket feed, reconnecting with backoff until ctx ends.
func (m *monitor) watch(ctx context.Context, path string, format func([]byte) string) error {
	url := m.client.WebSocketURL(path)
	maxBackoff := m.maxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}

	backoff := time.Second
	for {
		connected, err := m.stream(ctx, url, format)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			backoff = time.Second
		}

		fmt.Fprintf(m.errOut, "disconnected from %s: %v (retrying in %s)\n", url, err, backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// stream prints messages from url until the connection fails. It reports
// whether a connection was established.
func (m *monitor) stream(ctx context.Context, url string, format func([]byte) string) (bool, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		fmt.Fprintln(m.out, format(data))
	}
}

func formatStatus(data []byte) string {
	var snap braccio.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return string(data)
	}
	return time.Now().Format("15:04:05") + " " + describe(snap)
}

func describe(s braccio.Snapshot) string {
	var b strings.Builder
	if !s.Configured {
		b.WriteString("not configured")
	} else {
		fmt.Fprintf(&b, "arm=%s address=%s", s.Config.Name, s.Config.Address)
	}
	fmt.Fprintf(&b, " running=%t connected=%t status=%s", s.Running, s.Connected, s.Status)
	if s.Driver != nil {
		fmt.Fprintf(&b, " state=%s", s.Driver.State)
	}
	if p := s.Position; p != nil {
		fmt.Fprintf(&b, " joints=%d/%d/%d/%d wrist=%s gripper=%s",
			p.Base, p.Shoulder, p.Elbow, p.Wrist, p.Rotation, p.Gripper)
	}
	return b.String()
}

func formatLog(data []byte) string {
	var e web.LogEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return string(data)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s %s", e.Time.Format("15:04:05"), e.Level, e.Message)

	keys := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Attrs[k])
	}
	return b.String()
}
