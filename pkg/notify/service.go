package notify

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/mgmtcore/pkg/model"
)

// Recorder receives notification metrics. telemetry.Metrics implements it.
type Recorder interface {
	RecordNotification(typ string, handlers int)
	RecordNotificationDropped(typ string)
	RecordHandlerFailure(typ string)
}

type nopRecorder struct{}

func (nopRecorder) RecordNotification(string, int)   {}
func (nopRecorder) RecordNotificationDropped(string) {}
func (nopRecorder) RecordHandlerFailure(string)      {}

// DropHook observes emissions that matched no handler.
type DropHook func(source model.Address, typ string)

// Service emits notifications to the handlers of a Registry.
//
// A Service is created once at process startup and handed to the components
// that emit or subscribe. It is safe for concurrent use.
type Service struct {
	*Registry

	logger   zerolog.Logger
	recorder Recorder
	onDrop   DropHook
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used for handler failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger.With().Str("component", "notifications").Logger()
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithDropHook sets a hook called for every emission that matched no
// handler.
func WithDropHook(h DropHook) Option {
	return func(s *Service) {
		s.onDrop = h
	}
}

// WithClock overrides the emission clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRegistry shares an existing registry.
func WithRegistry(r *Registry) Option {
	return func(s *Service) {
		if r != nil {
			s.Registry = r
		}
	}
}

// NewService creates a notification service with its own registry.
func NewService(opts ...Option) *Service {
	s := &Service{
		Registry: NewRegistry(),
		logger:   zerolog.Nop(),
		recorder: nopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Emit delivers a notification to the handlers matching source and returns
// how many received it without failing.
//
// Handlers registered exactly at source take precedence; when there are none
// the wildcard fallback address of source is consulted. An emission without
// any matching handler is dropped silently. Handlers run on the caller's
// goroutine. A handler that returns an error or panics is logged and does
// not affect delivery to the others.
func (s *Service) Emit(source model.Address, typ, message string, data any) int {
	handlers := s.Match(source)
	if len(handlers) == 0 {
		s.recorder.RecordNotificationDropped(typ)
		if s.onDrop != nil {
			s.onDrop(source, typ)
		}
		s.logger.Debug().
			Str("address", source.String()).
			Str("type", typ).
			Msg("notification dropped: no handlers")
		return 0
	}

	n := New(source, typ, message, data, s.now())
	delivered := 0
	for _, h := range handlers {
		if err := s.deliver(h, n); err != nil {
			s.recorder.RecordHandlerFailure(typ)
			s.logger.Warn().
				Err(err).
				Str("address", source.String()).
				Str("type", typ).
				Msg("notification handler failed")
			continue
		}
		delivered++
	}
	s.recorder.RecordNotification(typ, delivered)
	return delivered
}

func (s *Service) deliver(h Handler, n *Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("notification handler panicked")
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.HandleNotification(n)
}
