// Package scheduler drives the periodic jobs. A job that is still running
// when its next tick arrives skips that tick.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Runner struct {
	cron    *cron.Cron
	logger  *zap.Logger
	baseCtx context.Context
}

func New(logger *zap.Logger, baseCtx context.Context) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Runner{
		cron:    cron.New(cron.WithLogger(cronLogger{logger.Sugar()})),
		logger:  logger,
		baseCtx: baseCtx,
	}
}

// Every registers job at a fixed interval.
func (r *Runner) Every(name string, interval time.Duration, job func(context.Context)) (cron.EntryID, error) {
	if interval <= 0 {
		return 0, fmt.Errorf("job %s: interval must be positive", name)
	}
	id := r.cron.Schedule(cron.Every(interval), r.wrap(name, job))
	r.logger.Info("job scheduled", zap.String("job", name), zap.Duration("every", interval))
	return id, nil
}

func (r *Runner) wrap(name string, job func(context.Context)) cron.Job {
	chain := cron.NewChain(cron.Recover(cronLogger{r.logger.Sugar()}), cron.SkipIfStillRunning(cronLogger{r.logger.Sugar().With("job", name)}))
	return chain.Then(cron.FuncJob(func() {
		job(r.baseCtx)
	}))
}

func (r *Runner) Start() {
	r.logger.Info("cron started")
	r.cron.Start()
}

// Stop waits for running jobs to finish.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("cron stopped")
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
