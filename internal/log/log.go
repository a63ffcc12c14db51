package log

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// Fields is re-exported so callers do not need to import logrus directly.
type Fields = logrus.Fields

const successKey = "_success"

var (
	std           = newLogger(os.Stderr)
	isLogTerminal bool
	colorReset    = "\033[0m"
	colorRed      = "\033[31m"
	colorBlue     = "\033[34m"
	colorCyan     = "\033[36m"
	colorGreen    = "\033[32m"
	colorYellow   = "\033[33m"
)

func newLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&prefixFormatter{})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// Init points the logger at logOutput and sets its level.
// "" and "stderr" log to stderr, "shell" logs to stderr with colours when it
// is a terminal, anything else is a file opened for append. Stdout carries
// the status stream and is never used for logs.
func Init(logOutput, level string) error {
	switch logOutput {
	case "", "stderr":
		std.SetOutput(os.Stderr)
		isLogTerminal = false
	case "shell":
		std.SetOutput(os.Stderr)
		isLogTerminal = isStderrTerminal() && isTerminal()
	default:
		file, err := os.OpenFile(logOutput, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		std.SetOutput(file)
		isLogTerminal = false
	}

	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	std.SetLevel(lvl)
	return nil
}

// SetOutput redirects the logger, mostly for tests.
func SetOutput(w io.Writer) {
	std.SetOutput(w)
	isLogTerminal = false
}

func isTerminal() bool {
	return runtime.GOOS != "windows" && os.Getenv("TERM") != "" && os.Getenv("TERM") != "dumb"
}

func isStderrTerminal() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

func colorWrap(s, color string) string {
	if isLogTerminal {
		return color + s + colorReset
	}
	return s
}

// prefixFormatter keeps the bracketed level tags used by the plain-text output
// and appends structured fields as key=value pairs.
type prefixFormatter struct{}

func (f *prefixFormatter) Format(e *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(e.Time.Format("2006/01/02 15:04:05.000000"))
	b.WriteByte(' ')
	b.WriteString(levelTag(e))
	b.WriteByte(' ')
	b.WriteString(e.Message)

	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		if k == successKey {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Data[k])
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func levelTag(e *logrus.Entry) string {
	if _, ok := e.Data[successKey]; ok {
		return colorWrap("[SUCCESS]", colorGreen)
	}
	switch e.Level {
	case logrus.DebugLevel, logrus.TraceLevel:
		return colorWrap("[DEBUG]", colorBlue)
	case logrus.InfoLevel:
		return colorWrap("[INFO]", colorCyan)
	case logrus.WarnLevel:
		return colorWrap("[WARNING]", colorYellow)
	case logrus.ErrorLevel:
		return colorWrap("[ERROR]", colorRed)
	default:
		return colorWrap("["+strings.ToUpper(e.Level.String())+"]", colorRed)
	}
}

// WithFields returns an entry carrying fields, e.g. the interface name.
func WithFields(fields Fields) *logrus.Entry {
	return std.WithFields(fields)
}

func Debug(format string, args ...interface{}) {
	std.Debugf(format, args...)
}

func Info(format string, args ...interface{}) {
	std.Infof(format, args...)
}

func Error(format string, args ...interface{}) {
	std.Errorf(format, args...)
}

func Success(format string, args ...interface{}) {
	std.WithField(successKey, true).Infof(format, args...)
}

func Fatal(format string, args ...interface{}) {
	std.Fatalf(format, args...)
}

func Warning(format string, args ...interface{}) {
	std.Warnf(format, args...)
}
