package fileintegrity

import (
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/rs/zerolog"
)

var globalVerboseLevel int
var debugFlags map[string]bool

// logger is the package logger. Console output on stderr by default.
var logger = newConsoleLogger(os.Stderr)

func newConsoleLogger(w io.Writer) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "15:04:05",
	}
	return zerolog.New(output).Level(levelFor(globalVerboseLevel)).With().Timestamp().Logger()
}

// levelFor maps a verbose level onto a zerolog level
func levelFor(verbose int) zerolog.Level {
	switch {
	case verbose <= 0:
		return zerolog.WarnLevel
	case verbose == 1:
		return zerolog.InfoLevel
	case verbose == 2:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// SetLogOutput redirects the logger. When json is set the raw zerolog JSON
// encoding is written instead of the console format.
func SetLogOutput(w io.Writer, json bool) {
	if json {
		logger = zerolog.New(w).Level(levelFor(globalVerboseLevel)).With().Timestamp().Logger()
		return
	}
	logger = newConsoleLogger(w)
}

// Logger returns the package logger
func Logger() *zerolog.Logger {
	return &logger
}

// SetVerboseLevel sets the global verbose level
func SetVerboseLevel(level int) {
	globalVerboseLevel = level
	logger = logger.Level(levelFor(level))
}

// GetVerboseLevel returns the current verbose level
func GetVerboseLevel() int {
	return globalVerboseLevel
}

// VerboseEnter logs function entry at level 3+ and returns a defer function for exit logging
func VerboseEnter() func() {
	if globalVerboseLevel < 3 {
		return func() {}
	}

	pc, _, _, ok := runtime.Caller(1)
	if !ok {
		return func() {}
	}

	funcName := runtime.FuncForPC(pc).Name()
	if idx := strings.LastIndex(funcName, "."); idx != -1 {
		funcName = funcName[idx+1:]
	}

	logger.Trace().Str("func", funcName).Msg("enter")
	return func() {
		logger.Trace().Str("func", funcName).Msg("exit")
	}
}

// VerboseLog logs a message at the specified verbose level
func VerboseLog(level int, format string, args ...interface{}) {
	if globalVerboseLevel < level {
		return
	}
	logger.WithLevel(levelFor(level)).Int("verbose", level).Msgf(strings.TrimSuffix(format, "\n"), args...)
}

// SetDebugFlags sets the debug flags from a comma-separated string
// Supports both simple flags ("scan,reconcile") and key:value format ("scan:true,reconcile:false")
func SetDebugFlags(flagsStr string) {
	debugFlags = make(map[string]bool)
	if flagsStr == "" {
		return
	}

	for _, flag := range strings.Split(flagsStr, ",") {
		flag = strings.TrimSpace(flag)
		if flag == "" {
			continue
		}

		parts := strings.SplitN(flag, ":", 2)
		flagName := strings.ToLower(parts[0])
		flagValue := true

		if len(parts) > 1 {
			switch strings.ToLower(parts[1]) {
			case "false", "0", "no", "off":
				flagValue = false
			}
		}

		debugFlags[flagName] = flagValue
	}
}

// IsDebugEnabled returns true if the specified debug flag is enabled
func IsDebugEnabled(flag string) bool {
	if debugFlags == nil {
		return false
	}
	return debugFlags[strings.ToLower(flag)]
}
