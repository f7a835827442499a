package main

import (
	"context"
	"testing"
	"time"

	"github.com/danmuck/edgepipe/internal/channel"
	"github.com/danmuck/edgepipe/internal/pipe"
	"github.com/danmuck/edgepipe/internal/testutil/testlog"
)

func TestPingLoopAgainstEchoResponder(t *testing.T) {
	testlog.Start(t)

	hostID := channel.MustParseIdentity("http://host.test")
	guestID := channel.MustParseIdentity("http://guest.test")
	bus := channel.NewBus()
	hostPort, err := bus.Attach(hostID)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	guestPort, err := bus.Attach(guestID)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer hostPort.Close()
	defer guestPort.Close()

	rt := defaultRuntimeConfig()
	rt.ProbeInterval = 20 * time.Millisecond
	rt.PingInterval = 10 * time.Millisecond
	rt.PingCount = 3

	hostCfg := pipe.DefaultConfig()
	hostCfg.Name = "host"
	hostCfg.Target = guestID
	hostCfg.Channel = hostPort
	hostCfg.ProbeInterval = rt.ProbeInterval
	hostCfg.Handlers.OnReceived = echoResponder
	host := pipe.New(hostCfg)
	defer host.Dispose()

	guestCfg := pipe.DefaultConfig()
	guestCfg.Name = "guest"
	guestCfg.Target = hostID
	guestCfg.Channel = guestPort
	guestCfg.ProbeInterval = rt.ProbeInterval
	guestCfg.IDs = rt.ids()
	guest := pipe.New(guestCfg)
	defer guest.Dispose()

	ctx, cancel := context.WithTimeout(testContext(t), 5*time.Second)
	defer cancel()
	if _, err := host.Connect(); err != nil {
		t.Fatalf("connect host: %v", err)
	}
	connected, err := guest.Connect()
	if err != nil {
		t.Fatalf("connect guest: %v", err)
	}
	if _, err := connected.Wait(ctx); err != nil {
		t.Fatalf("guest handshake: %v", err)
	}

	if err := pingLoop(ctx, guest, rt); err != nil {
		t.Fatalf("ping loop: %v", err)
	}
	if n := len(guest.Snapshot().Pending); n != 0 {
		t.Fatalf("answered pings still pending: %d", n)
	}

	v, err := guest.Send(pipe.Command{Method: "status"}).Wait(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	echo, _ := v.(map[string]any)
	if echo["method"] != "status" {
		t.Fatalf("unexpected echo: %#v", v)
	}
}

func TestPingLoopStopsWithContext(t *testing.T) {
	testlog.Start(t)

	p := pipe.New(pipe.DefaultConfig())
	rt := defaultRuntimeConfig()
	rt.PingInterval = time.Hour

	ctx, cancel := context.WithCancel(testContext(t))
	cancel()
	if err := pingLoop(ctx, p, rt); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
