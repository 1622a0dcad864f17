package schedule

import (
	"fmt"
	"time"

	"github.com/hashicorp/cronexpr"
)

// Cron is a parsed cron schedule.
type Cron struct {
	spec string
	expr *cronexpr.Expression
}

func ParseCron(spec string) (*Cron, error) {
	expr, err := cronexpr.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return &Cron{spec: spec, expr: expr}, nil
}

func (c *Cron) String() string { return c.spec }

// Next returns the first run strictly after t. ok is false when the
// schedule never fires again.
func (c *Cron) Next(after time.Time) (next time.Time, ok bool) {
	next = c.expr.Next(after)
	return next, !next.IsZero()
}

// Until returns how long from now the next run is.
func (c *Cron) Until(now time.Time) (time.Duration, error) {
	next, ok := c.Next(now)
	if !ok {
		return 0, fmt.Errorf("cron %q has no upcoming run", c.spec)
	}
	return next.Sub(now), nil
}
