package signal

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/m3rciful/paybot/core/bot"
	"github.com/m3rciful/paybot/core/config"
	"github.com/m3rciful/paybot/core/identity"
)

func testSocket(t *testing.T) (string, net.Listener) {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "signald.sock")
	ln, err := net.Listen("unix", sock)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	return sock, ln
}

func TestSubscribeReducesMessages(t *testing.T) {
	sock, ln := testSocket(t)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		// swallow the subscribe line, then feed envelopes
		r := bufio.NewReader(conn)
		_, _ = r.ReadString('\n')

		lines := []string{
			`{"type":"version","data":{}}`,
			`{"type":"message","data":{"source":{"number":"+16505550100"},"source_name":"Alice","dataMessage":{"message":"pay bob 500","timestamp":1700000000000}}}`,
			`not json at all`,
			`{"type":"message","data":{"source":{"number":"garbage"},"dataMessage":{"message":"hello"}}}`,
			`{"type":"message","data":{"source":{"number":"+16505550101"},"dataMessage":{"message":"balance"}}}`,
		}
		for _, l := range lines {
			_, _ = conn.Write([]byte(l + "\n"))
		}
		// keep the connection open until the test ends
		time.Sleep(time.Second)
	}()

	c := NewClient(config.SignalConfig{
		SocketPath:       sock,
		Account:          "+16505550199",
		Region:           "US",
		ReconnectSeconds: 1,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := c.Subscribe(ctx)
	require.NoError(t, err)

	var got []bot.InboundEvent
	deadline := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("timed out with %d events", len(got))
		}
	}

	require.Equal(t, identity.Identity("+16505550100"), got[0].Sender)
	require.Equal(t, "Alice", got[0].SenderName)
	require.Equal(t, "pay bob 500", got[0].Text)
	require.Equal(t, "balance", got[1].Text)
	require.NotEqual(t, got[0].ID, got[1].ID)
}

func TestSendWritesEnvelope(t *testing.T) {
	sock, ln := testSocket(t)

	recv := make(chan string, 4)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			recv <- line
		}
	}()

	c := NewClient(config.SignalConfig{
		SocketPath:       sock,
		Account:          "+16505550199",
		Region:           "US",
		ReconnectSeconds: 1,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := c.Subscribe(ctx)
	require.NoError(t, err)

	// first line on the wire is the subscribe request
	var sub map[string]any
	require.NoError(t, json.Unmarshal([]byte(<-recv), &sub))
	require.Equal(t, "subscribe", sub["type"])
	require.Equal(t, "+16505550199", sub["username"])

	err = c.Send(ctx, bot.OutboundMessage{
		Recipient: identity.Identity("+16505550100"),
		Text:      "Payment settled.",
	})
	require.NoError(t, err)

	var req map[string]any
	require.NoError(t, json.Unmarshal([]byte(<-recv), &req))
	require.Equal(t, "send", req["type"])
	require.Equal(t, "Payment settled.", req["messageBody"])
	addr, ok := req["recipientAddress"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "+16505550100", addr["number"])
}

func TestSendWithoutConnection(t *testing.T) {
	c := NewClient(config.SignalConfig{SocketPath: "/nonexistent", Account: "+16505550199", Region: "US"})
	err := c.Send(context.Background(), bot.OutboundMessage{
		Recipient: identity.Identity("+16505550100"),
		Text:      "hi",
	})
	require.Error(t, err)
}
