package node

import (
	"context"
	"errors"
	"net"

	"github.com/cuemby/fabric/pkg/wire"
)

// requestReadDeadline is unbounded: spec §4.1 reserves the 10s default
// deadline for heartbeat-bearing sockets only.
const requestReadDeadline = 0

// Serve runs the accept loop on ln until ctx is cancelled or Shutdown
// is called. Each accepted connection is handled on its own goroutine
// and may carry more than one request (spec §5: one connection handler
// per accepted socket, may suspend on reads).
func (a *Agent) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	go func() {
		<-a.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-a.Done():
				return nil
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}
		go a.handleConn(ctx, conn)
	}
}

func (a *Agent) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	for {
		env, err := wire.ReceiveMessage(conn, requestReadDeadline)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				a.log.Debug().Err(err).Msg("connection closed")
			}
			return
		}

		reply, err := a.Handle(ctx, env)
		if err != nil {
			a.log.Warn().Err(err).Str("kind", env.Kind.String()).Msg("handler error")
			return
		}
		if reply == nil {
			continue
		}

		if env.ReplyHint != "" {
			if err := a.pool.WithConn(env.ReplyHint, func(dest net.Conn) error {
				return wire.SendMessage(dest, reply)
			}); err != nil {
				a.log.Warn().Err(err).Str("reply_hint", env.ReplyHint).Msg("failed to send reply via reply_hint")
			}
			continue
		}
		if err := wire.SendMessage(conn, reply); err != nil {
			a.log.Warn().Err(err).Msg("failed to send reply")
		}
	}
}
