// Package web serves the arm's HTTP API and live websocket feeds.
package web

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-braccio/pkg/ble"
	"github.com/teslashibe/go-braccio/pkg/braccio"
	"github.com/teslashibe/go-braccio/pkg/hub"
)

// DefaultStatusInterval is how often the status feed samples the arm.
const DefaultStatusInterval = 250 * time.Millisecond

// ScanFunc discovers nearby arms.
type ScanFunc func(ctx context.Context) ([]ble.Device, error)

// PortsFunc lists local serial ports.
type PortsFunc func() ([]string, error)

// Options configures a Server.
type Options struct {
	StatusInterval time.Duration
	Logs           *LogBuffer
	Scan           ScanFunc
	Ports          PortsFunc
	Logger         *slog.Logger
}

// Server is the HTTP front end for a braccio.Manager.
type Server struct {
	app     *fiber.App
	manager *braccio.Manager
	opts    Options
	logger  *slog.Logger

	statusHub *hub.Hub
	logHub    *hub.Hub

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewServer builds the routes for m.
func NewServer(m *braccio.Manager, opts Options) *Server {
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = DefaultStatusInterval
	}
	if opts.Logs == nil {
		opts.Logs = NewLogBuffer(DefaultLogCapacity)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Server{
		manager:   m,
		opts:      opts,
		logger:    opts.Logger.With("component", "web"),
		statusHub: hub.New("status", opts.Logger),
		logHub:    hub.New("logs", opts.Logger),
		stop:      make(chan struct{}),
	}

	opts.Logs.Subscribe(func(e LogEntry) {
		if err := s.logHub.BroadcastJSON(e); err != nil {
			s.logger.Debug("encode log entry", "error", err)
		}
	})

	app := fiber.New(fiber.Config{
		AppName:               "Braccio",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/config", s.handleGetConfig)
	api.Put("/config", s.handlePutConfig)
	api.Delete("/config", s.handleDeleteConfig)
	api.Post("/start", s.handleStart)
	api.Post("/stop", s.handleStop)
	api.Post("/move", s.handleMove)
	api.Post("/wrist", s.handleWrist)
	api.Post("/gripper", s.handleGripper)
	api.Post("/home", s.handleHome)
	api.Post("/on", s.handleOn)
	api.Post("/off", s.handleOff)
	api.Get("/scan", s.handleScan)
	api.Get("/ports", s.handlePorts)
	api.Get("/logs", s.handleGetLogs)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	app.Get("/ws/logs", websocket.New(s.handleLogsWS))

	s.app = app
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start runs the hubs and the status feed, then serves on addr until
// Shutdown.
func (s *Server) Start(addr string) error {
	go s.statusHub.Run()
	go s.logHub.Run()

	s.wg.Add(1)
	go s.publishStatus()

	s.logger.Info("http api listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown stops the status feed, the hubs and the listener.
func (s *Server) Shutdown() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()

	s.statusHub.Stop()
	s.logHub.Stop()
	return s.app.Shutdown()
}

// publishStatus samples the manager and broadcasts the snapshot whenever it
// changes.
func (s *Server) publishStatus() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.StatusInterval)
	defer ticker.Stop()

	var last []byte
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			data, err := json.Marshal(s.manager.Snapshot())
			if err != nil {
				s.logger.Warn("encode status", "error", err)
				continue
			}
			if bytes.Equal(data, last) {
				continue
			}
			last = data
			s.statusHub.Broadcast(hub.NewMessage(data))
		}
	}
}

func (s *Server) handleStatusWS(c *websocket.Conn) {
	data, err := json.Marshal(s.manager.Snapshot())
	if err != nil {
		c.Close()
		return
	}
	hub.NewClient(s.statusHub, c, hub.NewMessage(data)).Run()
}

func (s *Server) handleLogsWS(c *websocket.Conn) {
	entries := s.opts.Logs.Entries()
	backlog := make([]hub.Message, 0, len(entries))
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			continue
		}
		backlog = append(backlog, hub.NewMessage(data))
	}
	hub.NewClient(s.logHub, c, backlog...).Run()
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	return c.Status(code).JSON(ErrorResponse{
		RequestID: requestID(c),
		Error:     err.Error(),
	})
}
