package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/finsight/finsight/internal/common/logger"
	"github.com/finsight/finsight/internal/events/bus"
	"github.com/finsight/finsight/internal/progress/repository"
	v1 "github.com/finsight/finsight/pkg/api/v1"
)

const (
	// subjectPrefix namespaces progress events on the bus, one subject per session.
	subjectPrefix = "progress."

	// EventTypeProgressLog is the bus event type for published progress events.
	EventTypeProgressLog = "progress.log"

	sourceName = "progress-relay"
)

// Service owns the session registry and bridges it to the event bus and the
// history store. Events published on any relay instance reach local
// subscribers through the bus subscription, so broadcast works across
// processes when NATS is configured.
type Service struct {
	registry *Registry
	repo     repository.Repository
	bus      bus.EventBus
	logger   *logger.Logger
	sub      bus.Subscription
}

// NewService creates the relay service.
func NewService(eventBus bus.EventBus, repo repository.Repository, log *logger.Logger) *Service {
	return &Service{
		registry: NewRegistry(log),
		repo:     repo,
		bus:      eventBus,
		logger:   log,
	}
}

// Start subscribes the service to all progress subjects.
func (s *Service) Start() error {
	sub, err := s.bus.Subscribe(subjectPrefix+">", s.handleEvent)
	if err != nil {
		return fmt.Errorf("subscribe to progress events: %w", err)
	}
	s.sub = sub
	return nil
}

// Stop tears down the bus subscription and disconnects all subscribers.
func (s *Service) Stop() {
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			s.logger.Warn("failed to unsubscribe from progress events", zap.Error(err))
		}
		s.sub = nil
	}
	s.registry.Close()
}

// Subscribe registers a client for a session's broadcast events.
func (s *Service) Subscribe(sessionID string) *Subscriber {
	return s.registry.Subscribe(sessionID)
}

// Unsubscribe removes a client registered with Subscribe.
func (s *Service) Unsubscribe(sub *Subscriber) {
	s.registry.Unsubscribe(sub)
}

// SubscriberCount returns the number of live subscribers for a session.
func (s *Service) SubscriberCount(sessionID string) int {
	return s.registry.Count(sessionID)
}

// PublishEvent publishes an arbitrary JSON payload as a progress event for a
// session. Delivery to subscribers happens through the bus subscription;
// publishing succeeds whether or not anyone is listening.
func (s *Service) PublishEvent(ctx context.Context, sessionID string, payload []byte) error {
	compact := &bytes.Buffer{}
	if err := json.Compact(compact, payload); err != nil {
		// Not JSON: wrap the raw body so the stream frame stays well-formed.
		wrapped, _ := json.Marshal(map[string]string{"message": string(payload)})
		compact = bytes.NewBuffer(wrapped)
	}

	event := bus.NewEvent(EventTypeProgressLog, sourceName, map[string]any{
		"session_id": sessionID,
		"payload":    compact.String(),
	})
	return s.bus.Publish(ctx, subjectPrefix+sessionID, event)
}

// handleEvent fans a bus event into the local registry and appends it to the
// session's history when it carries a well-formed progress log entry.
func (s *Service) handleEvent(ctx context.Context, event *bus.Event) error {
	sessionID, _ := event.Data["session_id"].(string)
	payload, _ := event.Data["payload"].(string)
	if sessionID == "" || payload == "" {
		s.logger.Warn("dropping malformed progress event", zap.String("event_id", event.ID))
		return nil
	}

	delivered := s.registry.Publish(sessionID, []byte(payload))
	s.logger.Debug("progress event dispatched",
		zap.String("session_id", sessionID),
		zap.Int("delivered", delivered))

	var entry v1.ProgressLog
	if err := json.Unmarshal([]byte(payload), &entry); err == nil && entry.Level.Valid() {
		if err := s.repo.Append(ctx, sessionID, &entry); err != nil {
			s.logger.Error("failed to persist progress log",
				zap.String("session_id", sessionID),
				zap.Error(err))
		}
	}

	return nil
}

// Logs returns the stored history for a session in arrival order.
func (s *Service) Logs(ctx context.Context, sessionID string) ([]*v1.ProgressLog, error) {
	return s.repo.List(ctx, sessionID)
}

// ClearLogs removes the stored history for a session.
func (s *Service) ClearLogs(ctx context.Context, sessionID string) error {
	return s.repo.Clear(ctx, sessionID)
}

// Sessions lists the sessions with stored history.
func (s *Service) Sessions(ctx context.Context) ([]string, error) {
	return s.repo.Sessions(ctx)
}

// FormatSSE frames a payload as a server-sent event message.
func FormatSSE(payload []byte) []byte {
	var b strings.Builder
	b.Grow(len(payload) + 8)
	b.WriteString("data: ")
	b.Write(payload)
	b.WriteString("\n\n")
	return []byte(b.String())
}
