// internal/writer/builder.go
package writer

import (
	"time"

	"go.uber.org/zap"

	cfg "github.com/tamzrod/fieldcomm/internal/config"
	"github.com/tamzrod/fieldcomm/internal/status"
	wmodbus "github.com/tamzrod/fieldcomm/internal/writer/modbus"
)

// BuildPlans collects the status plan of every controller that opted in.
// Assumes config has already passed validation.
func BuildPlans(c *cfg.Config) []StatusPlan {
	var plans []StatusPlan
	for _, l := range c.Links {
		for _, ctl := range l.Controllers {
			if ctl.StatusSlot == nil {
				continue
			}
			plans = append(plans, StatusPlan{
				Controller: ctl.Name,
				UnitID:     c.StatusMemory.UnitID,
				BaseSlot:   *ctl.StatusSlot,
				Name:       cfg.StatusName(ctl),
			})
		}
	}
	return plans
}

// Build creates the status mirror and its endpoint client. It returns a nil
// mirror when no status memory is configured or no controller opted in.
func Build(c *cfg.Config, board *status.Board, log *zap.Logger) (*Mirror, func() error, error) {
	plans := BuildPlans(c)
	if c.StatusMemory.Endpoint == "" || len(plans) == 0 {
		return nil, func() error { return nil }, nil
	}

	cli, err := wmodbus.NewEndpointClient(wmodbus.Config{
		Endpoint: c.StatusMemory.Endpoint,
		Timeout:  time.Duration(c.StatusMemory.TimeoutMs) * time.Millisecond,
	})
	if err != nil {
		return nil, nil, err
	}

	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("status_memory", c.StatusMemory.Endpoint))
	return NewMirror(board, cli, plans, log), cli.Close, nil
}
