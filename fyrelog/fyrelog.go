// Package fyrelog fixes the logging interface used across Fyre's core
// packages (chunkedfile, params, remote/server, remote/client, cluster)
// to github.com/ausocean/utils/logging's Logger, the same interface
// the teacher repo exposes as revid.Logger and wires through
// revid/config.Config.Logger.
package fyrelog

import (
	"io"

	"github.com/ausocean/utils/logging"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the logging interface Fyre's core packages accept. A nil
// Logger is valid everywhere it's accepted; callers that don't care
// about diagnostics may omit one.
type Logger = logging.Logger

// Log levels, re-exported for callers that don't want to import
// ausocean/utils/logging directly.
const (
	Debug   = logging.Debug
	Info    = logging.Info
	Warning = logging.Warning
	Error   = logging.Error
	Fatal   = logging.Fatal
)

// FileConfig describes a rolled log file, matching the Filename/MaxSize
// /MaxBackups/MaxAge fields the teacher's cmd/rv and cmd/audio-netsender
// set on their lumberjack.Logger.
type FileConfig struct {
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewFile returns a Logger at the given verbosity that writes to a
// lumberjack-rolled file, optionally tee'd to an additional writer
// (e.g. os.Stderr during interactive use).
func NewFile(level int8, fc FileConfig, suppress bool, extra ...io.Writer) Logger {
	roller := &lumberjack.Logger{
		Filename:   fc.Filename,
		MaxSize:    fc.MaxSizeMB,
		MaxBackups: fc.MaxBackups,
		MaxAge:     fc.MaxAgeDays,
	}
	writers := append([]io.Writer{roller}, extra...)
	return logging.New(level, io.MultiWriter(writers...), suppress)
}
