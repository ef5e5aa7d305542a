package main

import (
	"github.com/spf13/afero"

	tracker "github.com/coredb/changedpage"
	"github.com/coredb/changedpage/config"
	"github.com/coredb/changedpage/internal/simplelog"
)

// stdLogger adapts tracker.Logger to only emit warnings when the
// configured level requests them.
type stdLogger struct {
	tracker.StdLogger
	warnOnly bool
}

func newStdLogger(level string) stdLogger {
	return stdLogger{StdLogger: tracker.NewStdLogger(), warnOnly: level == "warn"}
}

func (l stdLogger) Infof(format string, args ...any) {
	if l.warnOnly {
		return
	}
	l.StdLogger.Infof(format, args...)
}

func buildController(cfg *config.Config, logger tracker.Logger) (*tracker.Controller, error) {
	fs := afero.NewOsFs()

	source := simplelog.NewSource(fs, cfg.LogGroupFiles)
	parser := simplelog.Parser{}
	constants := simplelog.Constants(cfg.Engine.UnivPageSizeMax, 0)
	constants.DoublewriteSpace = cfg.Engine.DoublewriteSpace

	return tracker.New(tracker.Config{
		Fs:                fs,
		DataHome:          cfg.DataHome,
		MaxBitmapFileSize: int64(cfg.MaxBitmapFileSize),
		Logger:            logger,
	}, source, parser, constants), nil
}
