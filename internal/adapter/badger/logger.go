package badger

import (
	"fmt"
	"log/slog"
	"strings"
)

// slogAdapter routes badger's printf-style logging through slog.
// Badger's info output is routine compaction chatter, so it logs at debug.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Errorf(f string, v ...any) {
	a.logger.Error(msg(f, v))
}

func (a slogAdapter) Warningf(f string, v ...any) {
	a.logger.Warn(msg(f, v))
}

func (a slogAdapter) Infof(f string, v ...any) {
	a.logger.Debug(msg(f, v))
}

func (a slogAdapter) Debugf(f string, v ...any) {
	a.logger.Debug(msg(f, v))
}

func msg(f string, v []any) string {
	return strings.TrimRight(fmt.Sprintf(f, v...), "\n")
}
