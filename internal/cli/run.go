// internal/cli/run.go
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tamzrod/fieldcomm/internal/comm"
	"github.com/tamzrod/fieldcomm/internal/config"
	"github.com/tamzrod/fieldcomm/internal/link"
	"github.com/tamzrod/fieldcomm/internal/logging"
	"github.com/tamzrod/fieldcomm/internal/poller"
	pmodbus "github.com/tamzrod/fieldcomm/internal/protocol/modbus"
	"github.com/tamzrod/fieldcomm/internal/status"
	"github.com/tamzrod/fieldcomm/internal/writer"
)

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "run <config.yaml>",
		Short: "Run every configured link until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(args[0])
			if err != nil {
				return err
			}
			if logLevel != "" {
				c.Logging.Level = logLevel
			}

			log, err := logging.New(c.Logging)
			if err != nil {
				return err
			}
			defer func() { _ = logging.Sync(log) }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return Run(ctx, c, log)
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "", "override logging.level from the config file")
	return cmd
}

// Engine is everything built from one configuration.
type Engine struct {
	Board  *status.Board
	Links  []*link.Link
	Mirror *writer.Mirror

	closeMirror func() error
	log         *zap.Logger
}

// Build wires links, the status board and the optional status mirror.
// Nothing is opened yet.
func Build(c *config.Config, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{Board: status.NewBoard(log), log: log}

	samples := log.Named("samples")
	sink := func(s pmodbus.Sample) {
		samples.Debug("sample",
			zap.String("controller", s.Controller),
			zap.Time("stamp", s.Stamp),
			zap.Bool("live", s.Live),
			zap.Uint16s("values", s.Values))
	}

	for _, lc := range c.Links {
		l, err := link.Build(lc, sink, log)
		if err != nil {
			return nil, err
		}
		e.Board.Attach(l.Scheduler)
		for _, ctl := range l.Controllers {
			e.Board.Track(ctl)
		}
		e.Links = append(e.Links, l)
	}

	m, closeMirror, err := writer.Build(c, e.Board, log)
	if err != nil {
		return nil, fmt.Errorf("status memory: %w", err)
	}
	e.Mirror, e.closeMirror = m, closeMirror
	return e, nil
}

// Run builds the engine and blocks until ctx is done. A halted link is
// logged and marked disabled; the remaining links keep running.
func Run(ctx context.Context, c *config.Config, log *zap.Logger) error {
	e, err := Build(c, log)
	if err != nil {
		return err
	}
	defer func() { _ = e.closeMirror() }()
	return e.Run(ctx)
}

func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	results := make(chan poller.CycleResult, len(e.Links)+1)

	for _, l := range e.Links {
		l := l
		lctx, lcancel := context.WithCancel(ctx)

		g.Go(func() error {
			defer lcancel()
			err := l.Scheduler.Run(lctx)
			switch {
			case errors.Is(err, comm.ErrLinkHalted):
				e.log.Error("link halted", zap.String("link", l.Name), zap.Error(err))
				return nil
			case ctx.Err() != nil:
				return nil
			default:
				return err
			}
		})

		if l.Poller != nil {
			g.Go(func() error {
				l.Poller.Run(lctx, results)
				return nil
			})
		}
	}

	if e.Mirror != nil {
		g.Go(func() error { return e.Mirror.Run(ctx) })
	}

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case r := <-results:
				e.log.Info("cycle complete",
					zap.String("link", r.Link),
					zap.Int("ops", r.Ops),
					zap.Int("failed", r.Failed),
					zap.Duration("elapsed", r.Elapsed()))
			}
		}
	})

	e.log.Info("engine started", zap.Int("links", len(e.Links)), zap.Bool("status_memory", e.Mirror != nil))
	err := g.Wait()
	e.log.Info("engine stopped")
	return err
}
