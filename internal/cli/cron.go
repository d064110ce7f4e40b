package cli

import (
	"time"

	"github.com/robfig/cron/v3"

	applog "bilancio/internal/log"
)

// cronLogger routes cron's own messages through the component logger.
type cronLogger struct {
	logger *applog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, applog.FieldError, err)...)
}

// NewScheduler returns a cron scheduler evaluating specs in loc. Jobs
// recover from panics and a tick is skipped while the previous run of the
// same job is still going.
func NewScheduler(logger *applog.Logger, loc *time.Location) *cron.Cron {
	if loc == nil {
		loc = time.Local
	}
	cl := cronLogger{logger: logger.WithComponent(applog.ComponentScheduler)}
	return cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
}
