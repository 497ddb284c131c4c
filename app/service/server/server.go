// Package server exposes rooms over HTTP: posting messages and inspecting
// or cancelling the action plan.
package server

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	"hearth/app/config"
	"hearth/app/service/queue"
	"hearth/app/service/room"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/samber/do"
)

const replyTimeout = 5 * time.Minute

var _ do.Shutdownable = (*Service)(nil)

type Service struct {
	listen   string
	store    *room.Store
	queueSvc *queue.Service
	validate *validator.Validate
	timeout  time.Duration
	app      *fiber.App
}

type MessageRequest struct {
	Name string `json:"name"`
	Text string `json:"text" validate:"required"`
}

type MessageResponse struct {
	Reply       string   `json:"reply"`
	Reason      string   `json:"reason"`
	ToolResults []string `json:"tool_results,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return NewService(
		cfg.Server.Listen,
		do.MustInvoke[*room.Store](di),
		do.MustInvoke[*queue.Service](di),
		replyTimeout,
	), nil
}

func NewService(listen string, store *room.Store, queueSvc *queue.Service, timeout time.Duration) *Service {
	s := &Service{
		listen:   listen,
		store:    store,
		queueSvc: queueSvc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		timeout:  timeout,
	}

	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	rooms := s.app.Group("/rooms/:room")
	rooms.Post("/messages", s.postMessage)
	rooms.Get("/plan", s.getPlan)
	rooms.Delete("/plan", s.deletePlan)

	return s
}

func (s *Service) App() *fiber.App {
	return s.app
}

// Run serves until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		if err := s.app.ShutdownWithTimeout(10 * time.Second); err != nil {
			slog.Warn("HTTP server shutdown failed", "error", err)
		}
	}()

	slog.Info("HTTP server listening", "listen", s.listen)

	return s.app.Listen(s.listen)
}

func (s *Service) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Service) postMessage(c *fiber.Ctx) error {
	name := c.Params("room")
	if err := room.ValidateName(name); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	var req MessageRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body: "+err.Error())
	}
	req.Text = strings.TrimSpace(req.Text)
	if err := s.validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	replies := make(chan queue.Outcome, 1)
	err := s.queueSvc.Add(queue.Request{Room: name, Name: req.Name, Text: req.Text, Reply: replies})
	switch {
	case errors.Is(err, queue.ErrFull), errors.Is(err, queue.ErrClosed):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	case err != nil:
		return err
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), s.timeout)
	defer cancel()

	select {
	case out := <-replies:
		if out.Err != nil {
			return out.Err
		}
		return c.JSON(MessageResponse{
			Reply:       out.Reply.Text,
			Reason:      string(out.Reply.Reason),
			ToolResults: out.Reply.ToolResults,
		})
	case <-ctx.Done():
		return fiber.NewError(fiber.StatusGatewayTimeout, "turn is still running")
	}
}

func (s *Service) existing(c *fiber.Ctx) (*room.Room, error) {
	r, err := s.store.Existing(c.Params("room"))
	switch {
	case errors.Is(err, room.ErrInvalidName):
		return nil, fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, os.ErrNotExist):
		return nil, fiber.NewError(fiber.StatusNotFound, "room not found")
	}
	return r, err
}

func (s *Service) getPlan(c *fiber.Ctx) error {
	r, err := s.existing(c)
	if err != nil {
		return err
	}

	plan, err := r.ActivePlan()
	if err != nil {
		return err
	}
	if plan == nil {
		return fiber.NewError(fiber.StatusNotFound, "no action plan")
	}

	return c.JSON(plan)
}

func (s *Service) deletePlan(c *fiber.Ctx) error {
	r, err := s.existing(c)
	if err != nil {
		return err
	}

	if err = r.ClearPlan(); err != nil {
		return err
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}

	if code >= fiber.StatusInternalServerError {
		slog.Error("Request failed", "path", c.Path(), "error", err)
	}

	return c.Status(code).JSON(errorResponse{Error: err.Error()})
}
