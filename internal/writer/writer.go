// internal/writer/writer.go
package writer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tamzrod/fieldcomm/internal/status"
)

// Mirror copies the status board into status memory once per second.
// Only slots that changed are written after the first full block.
type Mirror struct {
	board   *status.Board
	log     *zap.Logger
	writers []*controllerStatusWriter
	period  time.Duration
}

func NewMirror(board *status.Board, cli endpointClient, plans []StatusPlan, log *zap.Logger) *Mirror {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Mirror{board: board, log: log, period: time.Second}
	for _, p := range plans {
		m.writers = append(m.writers, newControllerStatusWriter(p, cli))
	}
	return m
}

// Run writes on start and then on every tick until ctx is done.
func (m *Mirror) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()

	m.WriteOnce()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.WriteOnce()
		}
	}
}

// WriteOnce pushes the current board state for every planned controller.
// Errors are logged; the affected block is re-asserted next time.
func (m *Mirror) WriteOnce() {
	now := m.board.Now()
	for _, w := range m.writers {
		snap, ok := m.board.Get(w.plan.Controller)
		if !ok {
			continue
		}
		if err := w.WriteStatus(snap.LiveAt(now)); err != nil {
			m.log.Warn("status write failed", zap.String("controller", w.plan.Controller), zap.Error(err))
		}
	}
}
