// Package mqtt publishes tuning state changes to an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"guitar-tuner/internal/domain"
)

const (
	publishTimeout = 10 * time.Second
	connectTimeout = 30 * time.Second
)

// MessagePublisher is the part of a broker client the Publisher needs.
type MessagePublisher interface {
	Publish(topic string, payload []byte) error
	Disconnect()
}

type Config struct {
	Broker   string
	ClientID string
	Topic    string
	Username string
	Password string
}

// Publisher implements application.StateNotifier. Notify only stores the
// newest state in a one-slot mailbox; a worker goroutine does the network I/O
// and always ends up publishing the latest reading.
type Publisher struct {
	client MessagePublisher
	topic  string
	logger *slog.Logger

	pending chan domain.TuningState
	dropped atomic.Uint64

	mu      sync.Mutex
	last    domain.TuningState
	hasLast bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPublisher(client MessagePublisher, topic string, logger *slog.Logger) *Publisher {
	return &Publisher{
		client:  client,
		topic:   topic,
		logger:  logger,
		pending: make(chan domain.TuningState, 1),
	}
}

// Connect dials the broker and returns a Publisher using it.
func Connect(cfg Config, logger *slog.Logger) (*Publisher, error) {
	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(func(paho.Client) {
		logger.Info("connected to MQTT broker", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn("connection to MQTT broker lost", "broker", cfg.Broker, "error", err)
	})

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("connecting to %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Broker, err)
	}

	return NewPublisher(&pahoClient{client: client}, cfg.Topic, logger), nil
}

// Notify hands state to the worker when the displayed reading changed. An
// unpublished older state still waiting in the mailbox is replaced.
func (p *Publisher) Notify(state domain.TuningState) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.hasLast && p.last.SameReading(state) {
		return
	}
	p.last = state
	p.hasLast = true

	for {
		select {
		case p.pending <- state:
			return
		default:
		}
		select {
		case <-p.pending:
			p.dropped.Add(1)
		default:
		}
	}
}

// Dropped returns the number of updates superseded before they were published.
func (p *Publisher) Dropped() uint64 {
	return p.dropped.Load()
}

func (p *Publisher) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()
}

// Stop waits for the worker and disconnects from the broker.
func (p *Publisher) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.client.Disconnect()
}

func (p *Publisher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case state := <-p.pending:
			if err := p.publish(state); err != nil {
				p.logger.Warn("publishing tuning state", "topic", p.topic, "error", err)
			}
		}
	}
}

func (p *Publisher) publish(state domain.TuningState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}
	return p.client.Publish(p.topic, payload)
}

type pahoClient struct {
	client paho.Client
}

// Publish sends a retained QoS 1 message so new subscribers see the current state.
func (c *pahoClient) Publish(topic string, payload []byte) error {
	token := c.client.Publish(topic, 1, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s: timeout", topic)
	}
	return token.Error()
}

func (c *pahoClient) Disconnect() {
	if c.client.IsConnected() {
		c.client.Disconnect(250)
	}
}
