package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Handler consumes inbound customer messages.
type Handler interface {
	HandleInbound(ctx context.Context, msg InboundMessage) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg InboundMessage) error

// HandleInbound calls f.
func (f HandlerFunc) HandleInbound(ctx context.Context, msg InboundMessage) error {
	return f(ctx, msg)
}

// Runner is a background job that lives as long as the daemon, such as the
// stats scheduler.
type Runner interface {
	Run(ctx context.Context)
}

// Daemon connects to a chat platform via an Adapter and pumps inbound
// messages to a Handler.
type Daemon struct {
	adapter Adapter
	handler Handler
	runners []Runner
	logger  *slog.Logger
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	Adapter Adapter
	Handler Handler
	Runners []Runner // optional background jobs
	Logger  *slog.Logger
}

// NewDaemon creates a Daemon with the given options.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("channel: adapter is required")
	}
	if opts.Handler == nil {
		return nil, fmt.Errorf("channel: handler is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Daemon{
		adapter: opts.Adapter,
		handler: opts.Handler,
		runners: opts.Runners,
		logger:  logger,
	}, nil
}

// Run connects the adapter, starts the background runners and handles
// inbound messages until ctx is cancelled or the adapter closes its inbound
// channel. Each message is handled on its own goroutine; Run waits for
// in-flight handlers before returning.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("channel: connecting")
	if err := d.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("channel: connect: %w", err)
	}

	inbound, err := d.adapter.Listen(ctx)
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("channel: listen: %w", err)
	}

	runCtx, stopRunners := context.WithCancel(ctx)
	defer stopRunners()

	var wg sync.WaitGroup
	for _, r := range d.runners {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			r.Run(runCtx)
		}(r)
	}

	d.logger.Info("channel: online")

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("channel: shutting down")
			if err := d.adapter.Close(); err != nil {
				d.logger.Warn("channel: close adapter", "error", err)
			}
			wg.Wait()
			d.logger.Info("channel: stopped")
			return nil

		case msg, ok := <-inbound:
			if !ok {
				d.logger.Info("channel: inbound channel closed")
				stopRunners()
				wg.Wait()
				return nil
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				d.handle(ctx, msg)
			}()
		}
	}
}

func (d *Daemon) handle(ctx context.Context, msg InboundMessage) {
	if err := d.handler.HandleInbound(ctx, msg); err != nil {
		d.logger.Error("channel: handle inbound",
			"platform", msg.Platform,
			"chat_id", msg.ChatID,
			"error", err,
		)
	}
}
