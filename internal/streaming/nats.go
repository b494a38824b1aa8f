package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// SubjectPrefix is prepended to the event type to form the NATS subject.
const SubjectPrefix = "pinnacle.events."

// OriginHeader carries the id of the hub that published a message.
const OriginHeader = "Pinnacle-Origin"

// Subject returns the NATS subject an event is published on.
func Subject(eventType string) string {
	return SubjectPrefix + eventType
}

// NATSHub delivers events to local subscribers through a MemoryHub and
// forwards every event to NATS for other processes. Events published by
// other hubs on the same bus are relayed to local subscribers.
type NATSHub struct {
	*MemoryHub
	conn   *nats.Conn
	origin string
	logger *slog.Logger
}

// NewNATSHub connects to the NATS server at url with automatic reconnection.
func NewNATSHub(url string, logger *slog.Logger, opts ...nats.Option) (*NATSHub, error) {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := []nats.Option{
		nats.Name("pinnacle"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}

	h := &NATSHub{MemoryHub: NewMemoryHub(), conn: nc, origin: uuid.NewString(), logger: logger}
	if _, err := nc.Subscribe(SubjectPrefix+">", h.relay); err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribing to %s>: %w", SubjectPrefix, err)
	}
	return h, nil
}

// Origin returns the id stamped on messages this hub publishes.
func (h *NATSHub) Origin() string { return h.origin }

// Publish delivers the event locally, then publishes it as JSON to NATS.
// A NATS failure is logged; local delivery is never affected.
func (h *NATSHub) Publish(ctx context.Context, event StreamEvent) error {
	if err := h.MemoryHub.Publish(ctx, event); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	msg := nats.NewMsg(Subject(event.EventType))
	msg.Header.Set(OriginHeader, h.origin)
	msg.Data = data
	if err := h.conn.PublishMsg(msg); err != nil {
		h.logger.Warn("nats publish failed", "event_type", event.EventType, "error", err)
	}
	return nil
}

// relay hands events from other hubs to local subscribers only.
func (h *NATSHub) relay(msg *nats.Msg) {
	if msg.Header.Get(OriginHeader) == h.origin {
		return
	}
	var event StreamEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		h.logger.Warn("dropping malformed nats event", "subject", msg.Subject, "error", err)
		return
	}
	if err := h.MemoryHub.Publish(context.Background(), event); err != nil {
		h.logger.Warn("relaying nats event failed", "event_type", event.EventType, "error", err)
	}
}

// Flush waits until the server has processed every published message.
func (h *NATSHub) Flush() error {
	return h.conn.Flush()
}

// Close drains and closes the NATS connection.
func (h *NATSHub) Close() error {
	return h.conn.Drain()
}

var _ EventHub = (*NATSHub)(nil)
