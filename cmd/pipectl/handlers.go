package main

import (
	"context"
	"time"

	"github.com/danmuck/edgepipe/internal/pipe"
	"github.com/rs/zerolog/log"
)

// echoResponder answers every command with its own method and params.
func echoResponder(cmd pipe.ReceivedCommand) {
	cmd.RespondWith(map[string]any{
		"method": cmd.Method,
		"params": cmd.Params,
		"at":     time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// pingLoop sends rt.PingMethod every rt.PingInterval and logs the round
// trip. A positive PingCount bounds the loop. Failed pings are logged and
// do not stop the loop; the pipe's own timeouts bound each wait.
func pingLoop(ctx context.Context, p *pipe.Pipe, rt runtimeConfig) error {
	ticker := time.NewTicker(rt.PingInterval)
	defer ticker.Stop()

	for seq := 1; rt.PingCount <= 0 || seq <= rt.PingCount; seq++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		start := time.Now()
		data, err := p.Send(pipe.Command{
			Method: rt.PingMethod,
			Params: map[string]any{"seq": seq},
		}).Wait(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Int("seq", seq).Msg("ping failed")
			continue
		}
		log.Info().
			Int("seq", seq).
			Dur("rtt", time.Since(start)).
			Interface("data", data).
			Msg("ping answered")
	}
	return nil
}
