package channel

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/edgepipe/internal/testutil/testlog"
)

func TestWebSocketExchange(t *testing.T) {
	testlog.Start(t)

	serverID := MustParseIdentity("http://server.test")
	clientID := MustParseIdentity("http://client.test")

	acceptor := NewAcceptor(serverID)
	defer acceptor.Close()
	srv := httptest.NewServer(acceptor)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := DialWebSocket(ctx, DialConfig{
		URL:         "ws" + strings.TrimPrefix(srv.URL, "http"),
		Local:       clientID,
		Remote:      serverID,
		MaxAttempts: 3,
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	server, err := acceptor.Accept(ctx)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	defer server.Close()
	if server.Remote() != clientID {
		t.Fatalf("server attributed wrong remote: %s", server.Remote())
	}

	got := make(chan Inbound, 1)
	if _, err := server.Subscribe(func(in Inbound) { got <- in }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := client.Send(serverID, `{"hello":true}`); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case in := <-got:
		if in.Sender != clientID || in.Payload != `{"hello":true}` {
			t.Fatalf("unexpected inbound: %+v", in)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for payload")
	}

	if err := client.Send(MustParseIdentity("http://elsewhere.test"), "x"); !errors.Is(err, ErrUnbound) {
		t.Fatalf("expected ErrUnbound for foreign target, got %v", err)
	}

	client.Close()
	select {
	case <-server.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("server side did not observe close")
	}
}

func TestDialWebSocketGivesUp(t *testing.T) {
	testlog.Start(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := DialWebSocket(ctx, DialConfig{
		URL:              "ws://127.0.0.1:1/pipe",
		Local:            MustParseIdentity("http://client.test"),
		MaxAttempts:      2,
		MaxRetryInterval: 10 * time.Millisecond,
	})
	if err == nil {
		t.Fatalf("expected dial failure")
	}
}
