package main

import (
	"log/slog"

	"github.com/robfig/cron/v3"
	"vawter.tech/stopper"
)

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, kv ...any) { c.l.Debug(msg, kv...) }

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.l.Error(msg, append(kv, "error", err)...)
}

// scheduleExports runs logs.export_schedule until the stopper stops.
func (d *daemon) scheduleExports(sctx *stopper.Context) error {
	spec := d.cfg.Logs.ExportSchedule
	sched := cron.New(cron.WithLogger(cronLogger{d.logger}), cron.WithChain(cron.SkipIfStillRunning(cronLogger{d.logger})))
	if _, err := sched.AddFunc(spec, d.exportLogs); err != nil {
		return err
	}
	sctx.Go(func(c *stopper.Context) error {
		sched.Start()
		d.logger.Info("scheduled log export", "schedule", spec, "level", d.cfg.Logs.ExportLevel)
		<-c.Stopping()
		<-sched.Stop().Done()
		return nil
	})
	return nil
}

func (d *daemon) exportLogs() {
	path, err := d.sup.ExportLogs("", d.cfg.Logs.ExportLevel, 0)
	if err != nil {
		d.logger.Error("scheduled log export failed", "error", err)
		return
	}
	d.logger.Info("logs exported", "path", path)
}
