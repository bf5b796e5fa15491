// Package logflags configures per-layer loggers for the debugger client.
// Layers are enabled by the comma-separated argument of --log-output.
package logflags

import (
	"errors"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var session = false
var ipc = false
var breakpoint = false
var fidlcat = false
var minidump = false
var symbolizer = false

var logOut io.WriteCloser

func makeLogger(flag bool, fields Fields) Logger {
	var out io.Writer = os.Stderr
	if logOut != nil {
		out = logOut
	}
	if loggerFactory != nil {
		return loggerFactory(flag, fields, out)
	}
	logger := logrus.New()
	logger.Formatter = &logrus.TextFormatter{
		ForceColors: isatty.IsTerminal(os.Stderr.Fd()) && logOut == nil,
	}
	if logOut == nil {
		logger.Out = colorable.NewColorableStderr()
	} else {
		logger.Out = out
	}
	logger.Level = logrus.DebugLevel
	if !flag {
		logger.Level = logrus.ErrorLevel
	}
	return &logrusLogger{logger.WithFields(logrus.Fields(fields))}
}

// Session returns true if the session package should log.
func Session() bool {
	return session
}

// SessionLogger returns a logger for the session state machine.
func SessionLogger() Logger {
	return makeLogger(session, Fields{"layer": "session"})
}

// IPC returns true if messages exchanged with the debug agent should be
// logged.
func IPC() bool {
	return ipc
}

// IPCLogger returns a logger for the agent wire protocol.
func IPCLogger() Logger {
	return makeLogger(ipc, Fields{"layer": "ipc"})
}

// Breakpoint returns true if breakpoint resolution and backend sync should be
// logged.
func Breakpoint() bool {
	return breakpoint
}

// BreakpointLogger returns a logger for breakpoint bookkeeping.
func BreakpointLogger() Logger {
	return makeLogger(breakpoint, Fields{"layer": "breakpoint"})
}

// Fidlcat returns true if the syscall interception workflow should log.
func Fidlcat() bool {
	return fidlcat
}

// FidlcatLogger returns a logger for the interception workflow.
func FidlcatLogger() Logger {
	return makeLogger(fidlcat, Fields{"layer": "fidlcat"})
}

// Minidump returns true if the minidump loader should be logged.
func Minidump() bool {
	return minidump
}

// MinidumpLogger returns a logger for minidump sessions.
func MinidumpLogger() Logger {
	return makeLogger(minidump, Fields{"layer": "minidump"})
}

// Symbolizer returns true if symbol index operations should be logged.
func Symbolizer() bool {
	return symbolizer
}

// SymbolizerLogger returns a logger for the symbol index.
func SymbolizerLogger() Logger {
	return makeLogger(symbolizer, Fields{"layer": "symbolizer"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets logger flags based on the contents of logstr. If logDest is
// non-empty logs are appended to that file instead of standard error.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		f, err := os.OpenFile(logDest, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		logOut = f
	}
	if !logFlag {
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "session"
	}
	for _, logcmd := range strings.Split(logstr, ",") {
		switch logcmd {
		case "session":
			session = true
		case "ipc":
			ipc = true
		case "breakpoint":
			breakpoint = true
		case "fidlcat":
			fidlcat = true
		case "minidump":
			minidump = true
		case "symbolizer":
			symbolizer = true
		}
	}
	return nil
}

// Close closes the logger output file, if any.
func Close() {
	if logOut != nil {
		logOut.Close()
		logOut = nil
	}
}
