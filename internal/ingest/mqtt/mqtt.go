// Package mqtt implements the broker subscriber the Ingestor uses to
// receive reader messages.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"tagbridge/internal/logging"
)

// Message is a single delivered broker message.
type Message struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// Config holds broker connection parameters.
type Config struct {
	Host           string
	Port           int
	Topic          string // subscription pattern, e.g. "rfid/#"
	ClientIDPrefix string // 6-char random, persisted per home.Dir.ClientIDPrefix
	Mobile         bool   // selects the "-mobile" vs "-fixed" client-id suffix
	AliveInterval  time.Duration
	Logger         *slog.Logger
}

func (c Config) clientID() string {
	mode := "fixed"
	if c.Mobile {
		mode = "mobile"
	}
	return fmt.Sprintf("%s-%s", c.ClientIDPrefix, mode)
}

// Subscriber consumes messages from an MQTT broker topic pattern.
type Subscriber struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Subscriber. Connectivity is not attempted until Run.
func New(cfg Config) *Subscriber {
	return &Subscriber{
		cfg:    cfg,
		logger: logging.Default(cfg.Logger).With("component", "ingest", "type", "mqtt"),
	}
}

// Run connects to the broker and delivers messages to out until ctx is
// cancelled. Every message is QoS 2. Reconnection is handled by the
// underlying client per spec.md §6: clean-session, keepalive, a 1s
// reconnect period, and a 30s connect timeout.
func (s *Subscriber) Run(ctx context.Context, out chan<- Message) error {
	clientID := s.cfg.clientID()

	opts := paho.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", s.cfg.Host, s.cfg.Port)).
		SetClientID(clientID).
		SetCleanSession(true).
		SetKeepAlive(s.cfg.AliveInterval).
		SetConnectTimeout(30 * time.Second).
		SetConnectRetryInterval(time.Second).
		SetConnectRetry(true).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(time.Second).
		SetOrderMatters(true)

	opts.OnConnect = func(client paho.Client) {
		s.logger.Info("mqtt connected", "client_id", clientID, "topic", s.cfg.Topic)
		token := client.Subscribe(s.cfg.Topic, 2, func(_ paho.Client, msg paho.Message) {
			m := Message{
				Topic:      msg.Topic(),
				Payload:    msg.Payload(),
				ReceivedAt: time.Now(),
			}
			select {
			case out <- m:
			case <-ctx.Done():
			}
		})
		token.Wait()
		if err := token.Error(); err != nil {
			s.logger.Error("mqtt subscribe failed", "error", err)
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		s.logger.Warn("mqtt connection lost", "error", err)
	}
	opts.OnReconnecting = func(paho.Client, *paho.ClientOptions) {
		s.logger.Info("mqtt reconnecting")
	}

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return fmt.Errorf("mqtt: connect timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: connect: %w", err)
	}

	<-ctx.Done()
	client.Disconnect(250)
	s.logger.Info("mqtt subscriber stopped")
	return nil
}
