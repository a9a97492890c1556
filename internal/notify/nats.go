package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/brokercrm/chat-ingest/pkg/logger"
)

const subjectPrefix = "crm.events."

// NATSNotifier publishes events to NATS subjects crm.events.<kind>.
type NATSNotifier struct {
	conn *nats.Conn
	log  *logger.Logger
}

// Connect establishes the NATS connection and returns a notifier over it.
func Connect(url, token string, log *logger.Logger) (*NATSNotifier, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NATSNotifier{conn: nc, log: log}, nil
}

// Notify implements Notifier. Publish failures are logged and dropped; the
// authoritative store already holds the data a poller will eventually see.
func (n *NATSNotifier) Notify(ctx context.Context, e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		n.log.Warn("notify encode failed", zap.Error(err))
		return
	}
	if err := n.conn.Publish(subjectPrefix+e.Kind, data); err != nil {
		n.log.Warn("notify publish failed",
			zap.String("kind", e.Kind),
			zap.Error(err),
		)
	}
}

// Close drains the underlying connection.
func (n *NATSNotifier) Close() {
	if n.conn != nil {
		n.conn.Close()
	}
}
