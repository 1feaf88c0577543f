package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"
)

// Notification is the payload of a deployment event NOTIFY.
type Notification struct {
	InstanceID string `json:"instance_id"`
	EventID    string `json:"event_id"`
	EventType  string `json:"event_type,omitempty"`
}

// Listener delivers NOTIFY payloads of a channel until ctx ends.
type Listener interface {
	Listen(ctx context.Context, channel string, handle func(payload string)) error
}

// Resetter drops cached read models.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Broadcaster forwards payloads to subscribers of an instance.
type Broadcaster interface {
	Broadcast(instanceID string, payload []byte)
}

// Service turns database notifications into cache invalidations and
// subscriber pushes.
type Service struct {
	listener Listener
	cache    Resetter
	hub      Broadcaster
	channel  string
	logger   *slog.Logger
	backoff  time.Duration
}

// New constructs a feed for channel.
func New(listener Listener, cache Resetter, hub Broadcaster, channel string, logger *slog.Logger) Service {
	return Service{
		listener: listener,
		cache:    cache,
		hub:      hub,
		channel:  channel,
		logger:   logger,
		backoff:  2 * time.Second,
	}
}

// Run listens until ctx is cancelled, reconnecting after failures.
func (s Service) Run(ctx context.Context) error {
	s.logger.Info("event feed listening", "channel", s.channel)
	for {
		err := s.listener.Listen(ctx, s.channel, func(payload string) {
			s.Handle(ctx, payload)
		})
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			s.logger.Error("event feed interrupted", "channel", s.channel, "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.backoff):
		}
	}
}

// Handle processes one notification payload.
func (s Service) Handle(ctx context.Context, payload string) {
	var n Notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		s.logger.Warn("invalid event notification", "payload", payload, "error", err)
		return
	}
	n.InstanceID = strings.TrimSpace(n.InstanceID)
	if s.cache != nil {
		if err := s.cache.Reset(ctx); err != nil {
			s.logger.Warn("cache reset failed", "error", err)
		}
	}
	if n.InstanceID == "" {
		return
	}
	body, err := json.Marshal(n)
	if err != nil {
		return
	}
	s.hub.Broadcast(n.InstanceID, body)
	s.logger.Debug("event notification forwarded", "instance_id", n.InstanceID, "event_id", n.EventID)
}
