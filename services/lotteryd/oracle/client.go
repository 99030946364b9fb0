// Package oracle carries randomness requests to an external VRF service over
// NATS and feeds its answers back into the lottery engine.
package oracle

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"lotterychain/native/lottery"
	"lotterychain/observability"
)

// Config describes the NATS transport.
type Config struct {
	URL            string
	RequestSubject string
	FulfilSubject  string
	PublishTimeout time.Duration
}

// RequestMessage is published for every randomness request.
type RequestMessage struct {
	Handle      string `json:"handle"`
	Lottery     string `json:"lottery"`
	Epoch       uint64 `json:"epoch"`
	MaxNumber   uint8  `json:"maxNumber"`
	RequestedAt int64  `json:"requestedAt"`
}

// FulfilMessage is what the VRF service publishes back. Randomness is hex.
type FulfilMessage struct {
	Handle     string `json:"handle"`
	Randomness string `json:"randomness"`
	Proof      string `json:"proof,omitempty"`
}

// Publisher is the subset of *nats.Conn used to send requests.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Fulfiller applies delivered randomness.
type Fulfiller interface {
	FulfillRandomness(handle string, randomness []byte) (*lottery.DrawResult, error)
}

var errNotConnected = errors.New("oracle: not connected")

// Client implements lottery.Oracle on top of NATS.
type Client struct {
	conn    *nats.Conn
	pub     Publisher
	cfg     Config
	logger  *slog.Logger
	metrics *observability.LotteryMetrics
	sub     *nats.Subscription
}

// Connect dials the NATS server and returns a client publishing on the
// configured request subject.
func Connect(cfg Config, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("oracle: nats url required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(cfg.URL,
		nats.Name("lotteryd"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("oracle transport disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("oracle transport reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	client := New(conn, cfg, logger)
	client.conn = conn
	return client, nil
}

// New builds a client around an existing publisher.
func New(pub Publisher, cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	return &Client{pub: pub, cfg: cfg, logger: logger, metrics: observability.Lottery()}
}

// RequestRandomness implements lottery.Oracle.
func (c *Client) RequestRandomness(ctx context.Context, req lottery.RandomnessRequest) error {
	if c == nil || c.pub == nil {
		return errNotConnected
	}
	payload, err := json.Marshal(RequestMessage{
		Handle:      req.Handle,
		Lottery:     req.Manager.String(),
		Epoch:       req.Epoch,
		MaxNumber:   req.MaxNumber,
		RequestedAt: req.RequestedAt,
	})
	if err != nil {
		return err
	}
	if err := c.pub.Publish(c.cfg.RequestSubject, payload); err != nil {
		c.metrics.RecordOracle("request", "error")
		return fmt.Errorf("publish randomness request: %w", err)
	}
	if c.conn != nil {
		flushCtx, cancel := context.WithTimeout(ctx, c.cfg.PublishTimeout)
		defer cancel()
		if err := c.conn.FlushWithContext(flushCtx); err != nil {
			c.metrics.RecordOracle("request", "error")
			return fmt.Errorf("flush randomness request: %w", err)
		}
	}
	c.metrics.RecordOracle("request", "ok")
	c.logger.Info("randomness requested", "lottery", req.Manager.String(), "handle", req.Handle, "epoch", req.Epoch)
	return nil
}

// Subscribe routes fulfilment messages into f until Close.
func (c *Client) Subscribe(f Fulfiller) error {
	if c == nil || c.conn == nil {
		return errNotConnected
	}
	sub, err := c.conn.Subscribe(c.cfg.FulfilSubject, func(msg *nats.Msg) {
		_ = c.HandleFulfil(f, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", c.cfg.FulfilSubject, err)
	}
	c.sub = sub
	return nil
}

// HandleFulfil decodes one fulfilment message and applies it.
func (c *Client) HandleFulfil(f Fulfiller, data []byte) error {
	msg, randomness, err := DecodeFulfil(data)
	if err != nil {
		c.metrics.RecordOracle("fulfil", "invalid")
		c.logger.Warn("discarding oracle message", "error", err)
		return err
	}
	res, err := f.FulfillRandomness(msg.Handle, randomness)
	if err != nil {
		c.metrics.RecordOracle("fulfil", lottery.KindOf(err).String())
		c.logger.Warn("randomness fulfilment rejected", "handle", msg.Handle, "error", err)
		return err
	}
	c.metrics.RecordOracle("fulfil", "ok")
	c.logger.Info("randomness fulfilled", "lottery", res.Manager.String(), "handle", msg.Handle,
		"epoch", res.Epoch, "numbers", res.WinningNumbers.String())
	return nil
}

// DecodeFulfil parses a fulfilment payload.
func DecodeFulfil(data []byte) (*FulfilMessage, []byte, error) {
	var msg FulfilMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, nil, fmt.Errorf("decode fulfilment: %w", err)
	}
	msg.Handle = strings.TrimSpace(msg.Handle)
	if msg.Handle == "" {
		return nil, nil, errors.New("fulfilment missing handle")
	}
	randomness, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(msg.Randomness), "0x"))
	if err != nil {
		return nil, nil, fmt.Errorf("decode randomness: %w", err)
	}
	return &msg, randomness, nil
}

// Close drains the subscription and the connection.
func (c *Client) Close() {
	if c == nil {
		return
	}
	if c.sub != nil {
		_ = c.sub.Unsubscribe()
	}
	if c.conn != nil {
		_ = c.conn.Drain()
	}
}
