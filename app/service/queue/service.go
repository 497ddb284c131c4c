package queue

import (
	"errors"
	"log/slog"

	"hearth/app/service/agent"

	"github.com/samber/do"
)

const bufferSize = 64

var (
	ErrFull   = errors.New("turn queue is full")
	ErrClosed = errors.New("turn queue is closed")
)

var _ do.Shutdownable = (*Service)(nil)

type Service struct {
	queue chan Request
}

// Request asks for one agent turn in a room: a user message, or an event
// for an autonomous turn.
type Request struct {
	Room  string
	Name  string
	Text  string
	Event string
	// Reply, when set, receives the outcome. It should be buffered.
	Reply chan Outcome
}

type Outcome struct {
	Reply agent.Reply
	Err   error
}

func New(_ *do.Injector) (*Service, error) {
	return NewService(bufferSize), nil
}

func NewService(size int) *Service {
	return &Service{
		queue: make(chan Request, size),
	}
}

func (s *Service) Add(req Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrClosed
		}
	}()

	select {
	case s.queue <- req:
		return nil
	default:
		slog.Warn("Turn queue is full", "room", req.Room)
		return ErrFull
	}
}

func (s *Service) Channel() <-chan Request {
	return s.queue
}

func (s *Service) Shutdown() error {
	close(s.queue)

	return nil
}
