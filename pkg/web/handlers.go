package web

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-braccio/pkg/armconfig"
	"github.com/teslashibe/go-braccio/pkg/braccio"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	RequestID string `json:"request_id"`
	Error     string `json:"error"`
}

// CommandResponse reports the outcome of one arm command.
type CommandResponse struct {
	RequestID string         `json:"request_id"`
	OK        bool           `json:"ok"`
	Status    braccio.Status `json:"status"`
	ElapsedMS int64          `json:"elapsed_ms"`
	Error     string         `json:"error,omitempty"`
}

// MoveRequest is the body of POST /api/move.
type MoveRequest struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
	TimeoutMS int64   `json:"timeout_ms"`
}

// WristRequest is the body of POST /api/wrist.
type WristRequest struct {
	Orientation string `json:"orientation"`
}

// GripperRequest is the body of POST /api/gripper.
type GripperRequest struct {
	State string `json:"state"`
}

func requestID(c *fiber.Ctx) string {
	id, _ := c.Locals("requestid").(string)
	return id
}

func fail(c *fiber.Ctx, code int, err error) error {
	return c.Status(code).JSON(ErrorResponse{RequestID: requestID(c), Error: err.Error()})
}

// statusCode maps a command result onto an HTTP status.
func statusCode(st braccio.Status) int {
	switch st {
	case braccio.StatusOK:
		return fiber.StatusOK
	case braccio.StatusOutOfRange:
		return fiber.StatusUnprocessableEntity
	case braccio.StatusNotConfigured:
		return fiber.StatusConflict
	case braccio.StatusNotConnected:
		return fiber.StatusServiceUnavailable
	case braccio.StatusTimeout:
		return fiber.StatusGatewayTimeout
	}
	return fiber.StatusBadGateway
}

func (s *Server) respond(c *fiber.Ctx, action string, res braccio.Result) error {
	resp := CommandResponse{
		RequestID: requestID(c),
		OK:        res.OK,
		Status:    res.Status,
		ElapsedMS: res.Elapsed.Milliseconds(),
	}
	if err := res.Err(); err != nil {
		resp.Error = err.Error()
	}

	s.logger.Info("arm command",
		"request_id", resp.RequestID,
		"action", action,
		"status", res.Status,
		"elapsed", res.Elapsed,
	)
	return c.Status(statusCode(res.Status)).JSON(resp)
}

// handleStatus returns the manager snapshot.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.manager.Snapshot())
}

func (s *Server) handleGetConfig(c *fiber.Ctx) error {
	cfg, ok := s.manager.Config()
	if !ok {
		return fail(c, fiber.StatusNotFound, braccio.ErrNotConfigured)
	}
	return c.JSON(cfg)
}

func (s *Server) handlePutConfig(c *fiber.Ctx) error {
	var cfg armconfig.ArmConfig
	if err := c.BodyParser(&cfg); err != nil {
		return fail(c, fiber.StatusBadRequest, err)
	}
	if err := cfg.Validate(); err != nil {
		return fail(c, fiber.StatusBadRequest, err)
	}
	if err := s.manager.SaveConfig(cfg); err != nil {
		return fail(c, fiber.StatusInternalServerError, err)
	}

	s.logger.Info("arm configured", "request_id", requestID(c), "name", cfg.Name, "address", cfg.Address)
	return c.JSON(cfg)
}

func (s *Server) handleDeleteConfig(c *fiber.Ctx) error {
	if err := s.manager.ResetConfig(); err != nil {
		return fail(c, fiber.StatusInternalServerError, err)
	}
	s.logger.Info("arm config removed", "request_id", requestID(c))
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleStart(c *fiber.Ctx) error {
	if err := s.manager.Start(); err != nil {
		if errors.Is(err, braccio.ErrNotConfigured) {
			return fail(c, fiber.StatusConflict, err)
		}
		return fail(c, fiber.StatusInternalServerError, err)
	}
	return c.JSON(s.manager.Snapshot())
}

func (s *Server) handleStop(c *fiber.Ctx) error {
	if err := s.manager.Stop(); err != nil {
		return fail(c, fiber.StatusInternalServerError, err)
	}
	return c.JSON(s.manager.Snapshot())
}

func (s *Server) handleMove(c *fiber.Ctx) error {
	var req MoveRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, err)
	}
	timeout := time.Duration(req.TimeoutMS) * time.Millisecond
	return s.respond(c, "move", s.manager.Move(c.UserContext(), req.X, req.Y, req.Z, timeout))
}

func (s *Server) handleWrist(c *fiber.Ctx) error {
	var req WristRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, err)
	}
	o, err := braccio.ParseWrist(req.Orientation)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, err)
	}
	return s.respond(c, "wrist", s.manager.Wrist(c.UserContext(), o))
}

func (s *Server) handleGripper(c *fiber.Ctx) error {
	var req GripperRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, err)
	}
	g, err := braccio.ParseGripper(req.State)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, err)
	}
	return s.respond(c, "gripper", s.manager.Gripper(c.UserContext(), g))
}

func (s *Server) handleHome(c *fiber.Ctx) error {
	return s.respond(c, "home", s.manager.Home(c.UserContext()))
}

func (s *Server) handleOn(c *fiber.Ctx) error {
	return s.respond(c, "on", s.manager.On(c.UserContext()))
}

func (s *Server) handleOff(c *fiber.Ctx) error {
	return s.respond(c, "off", s.manager.Off(c.UserContext()))
}

// handleScan lists nearby arms.
func (s *Server) handleScan(c *fiber.Ctx) error {
	if s.opts.Scan == nil {
		return fail(c, fiber.StatusNotImplemented, errors.New("scanning is not available"))
	}
	devices, err := s.opts.Scan(c.UserContext())
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, err)
	}
	return c.JSON(devices)
}

// handlePorts lists local serial ports.
func (s *Server) handlePorts(c *fiber.Ctx) error {
	if s.opts.Ports == nil {
		return fail(c, fiber.StatusNotImplemented, errors.New("serial ports are not available"))
	}
	ports, err := s.opts.Ports()
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, err)
	}
	if ports == nil {
		ports = []string{}
	}
	return c.JSON(ports)
}

// handleGetLogs returns recent log entries.
func (s *Server) handleGetLogs(c *fiber.Ctx) error {
	return c.JSON(s.opts.Logs.Entries())
}
