// Package signal bridges the bot to a signald-style daemon over its unix
// JSON socket. The client subscribes to the bot account's message stream,
// reduces incoming envelopes to dispatchable events, and writes outbound
// send requests.
package signal

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m3rciful/paybot/core/bot"
	"github.com/m3rciful/paybot/core/config"
	"github.com/m3rciful/paybot/core/fault"
	"github.com/m3rciful/paybot/core/identity"
	"github.com/m3rciful/paybot/core/logger"
)

// maxLine bounds one socket line; envelopes with inline attachments can
// get large.
const maxLine = 8 << 20

// Client implements the bot transport over the daemon's unix socket. It
// re-dials on any read error and keeps the event channel open across
// reconnects; the channel closes only when the subscribe context ends.
type Client struct {
	cfg config.SignalConfig

	mu   sync.Mutex
	conn net.Conn

	seq atomic.Int64
}

// NewClient builds a client for the configured socket and account.
func NewClient(cfg config.SignalConfig) *Client {
	return &Client{cfg: cfg}
}

type address struct {
	Number string `json:"number,omitempty"`
	UUID   string `json:"uuid,omitempty"`
}

type envelope struct {
	Type string `json:"type"`
	Data struct {
		Source      address `json:"source"`
		SourceName  string  `json:"source_name"`
		DataMessage struct {
			Message     string `json:"message"`
			Timestamp   int64  `json:"timestamp"`
			Attachments []struct {
				ContentType    string `json:"contentType"`
				StoredFilename string `json:"storedFilename"`
			} `json:"attachments"`
		} `json:"dataMessage"`
	} `json:"data"`
	Error string `json:"error,omitempty"`
}

type sendRequest struct {
	Type             string       `json:"type"`
	Username         string       `json:"username"`
	RecipientAddress address      `json:"recipientAddress"`
	MessageBody      string       `json:"messageBody,omitempty"`
	Attachments      []attachment `json:"attachments,omitempty"`
}

type attachment struct {
	ContentType string `json:"contentType"`
	Data        string `json:"data"`
}

type subscribeRequest struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

// Subscribe dials the socket and yields inbound events until ctx is done.
// Connection drops are retried with the configured pause; the returned
// channel survives reconnects.
func (c *Client) Subscribe(ctx context.Context) (<-chan bot.InboundEvent, error) {
	events := make(chan bot.InboundEvent, 64)
	go c.readLoop(ctx, events)
	return events, nil
}

func (c *Client) readLoop(ctx context.Context, events chan<- bot.InboundEvent) {
	defer close(events)
	defer c.closeConn()

	pause := c.cfg.Reconnect()
	if pause <= 0 {
		pause = 5 * time.Second
	}

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := c.dial(ctx)
		if err != nil {
			logger.SIG.Warn("socket dial failed",
				slog.String("event", "signal.dial"),
				slog.String("socket", c.cfg.SocketPath),
				slog.String("err", err.Error()),
			)
			if !sleepCtx(ctx, pause) {
				return
			}
			continue
		}

		logger.SIG.Info("socket connected",
			slog.String("event", "signal.connect"),
			slog.String("socket", c.cfg.SocketPath),
		)

		c.scan(ctx, conn, events)
		c.closeConn()

		if !sleepCtx(ctx, pause) {
			return
		}
	}
}

func (c *Client) scan(ctx context.Context, conn net.Conn, events chan<- bot.InboundEvent) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLine)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var env envelope
		if err := json.Unmarshal(line, &env); err != nil {
			logger.SIG.Warn("undecodable envelope dropped",
				slog.String("event", "signal.recv"),
				slog.String("err", err.Error()),
				slog.String("payload", logger.SanitizeLimit(string(line), 256)),
			)
			continue
		}

		ev, ok := c.reduce(env)
		if !ok {
			continue
		}

		select {
		case events <- ev:
		case <-ctx.Done():
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		logger.SIG.Warn("socket read failed",
			slog.String("event", "signal.recv"),
			slog.String("err", err.Error()),
		)
	}
}

// reduce maps one daemon envelope to a dispatchable event. Non-message
// envelopes and unparseable senders are dropped here, before dispatch.
func (c *Client) reduce(env envelope) (bot.InboundEvent, bool) {
	if env.Type != "message" {
		return bot.InboundEvent{}, false
	}
	dm := env.Data.DataMessage
	if dm.Message == "" && len(dm.Attachments) == 0 {
		return bot.InboundEvent{}, false
	}

	raw := env.Data.Source.UUID
	if raw == "" {
		raw = env.Data.Source.Number
	}
	sender, err := identity.Parse(raw, c.cfg.Region)
	if err != nil {
		logger.SIG.Warn("unparseable sender dropped",
			slog.String("event", "signal.recv"),
			slog.String("identity", logger.SanitizeLimit(raw, 64)),
		)
		return bot.InboundEvent{}, false
	}

	ev := bot.InboundEvent{
		Sender:     sender,
		SenderName: env.Data.SourceName,
		Text:       dm.Message,
		Timestamp:  time.UnixMilli(dm.Timestamp),
		ID:         c.seq.Add(1),
	}

	for _, att := range dm.Attachments {
		if att.StoredFilename == "" {
			continue
		}
		data, err := os.ReadFile(att.StoredFilename)
		if err != nil {
			logger.SIG.Warn("attachment unreadable",
				slog.String("event", "signal.recv"),
				slog.String("err", err.Error()),
			)
			continue
		}
		ev.Attachment = data
		break
	}

	return ev, true
}

// Send writes one outbound message to the socket. Errors are transport
// faults; the outbound queue retries them.
func (c *Client) Send(ctx context.Context, msg bot.OutboundMessage) error {
	req := sendRequest{
		Type:        "send",
		Username:    c.cfg.Account,
		MessageBody: msg.Text,
	}
	if _, err := identity.Parse(msg.Recipient.String(), c.cfg.Region); err != nil {
		return fault.Validationf("unroutable recipient")
	}
	if len(msg.Recipient.String()) > 0 && msg.Recipient.String()[0] == '+' {
		req.RecipientAddress.Number = msg.Recipient.String()
	} else {
		req.RecipientAddress.UUID = msg.Recipient.String()
	}
	if len(msg.Image) > 0 {
		req.Attachments = append(req.Attachments, attachment{
			ContentType: "image/png",
			Data:        base64.StdEncoding.EncodeToString(msg.Image),
		})
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fault.Wrap(fault.KindTransport, err, "encode send request")
	}
	payload = append(payload, '\n')

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fault.Transportf("socket not connected")
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
		defer conn.SetWriteDeadline(time.Time{})
	}
	if _, err := conn.Write(payload); err != nil {
		return fault.Wrap(fault.KindTransport, err, "socket write")
	}
	return nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.cfg.SocketPath)
	if err != nil {
		return nil, err
	}

	sub, _ := json.Marshal(subscribeRequest{Type: "subscribe", Username: c.cfg.Account})
	sub = append(sub, '\n')
	if _, err := conn.Write(sub); err != nil {
		_ = conn.Close()
		return nil, err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return conn, nil
}

func (c *Client) closeConn() {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
