// Package log provides leveled logging with systemd-style priority
// prefixes (https://www.freedesktop.org/software/systemd/man/sd-daemon.html).
// Time/date are omitted by default since systemd / journald already stamps
// every line; call SetLogDateTime(true) when running outside of systemd.
package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"
)

type level int

const (
	levelDebug level = iota
	levelInfo
	levelWarn
	levelError
	levelCrit
)

var prefixes = map[level]string{
	levelDebug: "<7>[DEBUG]    ",
	levelInfo:  "<6>[INFO]     ",
	levelWarn:  "<4>[WARNING]  ",
	levelError: "<3>[ERROR]    ",
	levelCrit:  "<2>[CRITICAL] ",
}

var (
	writers  = map[level]io.Writer{}
	loggers  = map[level]*log.Logger{}
	minLevel = levelDebug

	logDateTime bool
)

func init() {
	for lvl, prefix := range prefixes {
		flags := log.Lshortfile
		if lvl == levelError || lvl == levelCrit {
			flags = log.Llongfile
		}
		writers[lvl] = os.Stderr
		loggers[lvl] = log.New(os.Stderr, prefix, flags)
	}
}

// SetLogLevel enables lvl and every level above it; everything below is
// silently dropped. Accepts "debug", "info", "warn", "err"/"fatal", "crit".
func SetLogLevel(lvl string) {
	switch lvl {
	case "crit":
		minLevel = levelCrit
	case "err", "fatal":
		minLevel = levelError
	case "warn":
		minLevel = levelWarn
	case "info", "notice":
		minLevel = levelInfo
	case "debug":
		minLevel = levelDebug
	default:
		fmt.Printf("log: invalid log level %q, defaulting to \"info\"\n", lvl)
		minLevel = levelInfo
	}
}

func SetLogDateTime(withDate bool) {
	logDateTime = withDate
	for lvl, prefix := range prefixes {
		flags := log.Lshortfile
		if lvl == levelError || lvl == levelCrit {
			flags = log.Llongfile
		}
		if withDate {
			flags |= log.LstdFlags
		}
		loggers[lvl] = log.New(writers[lvl], prefix, flags)
	}
}

func write(lvl level, msg string) {
	if lvl < minLevel {
		return
	}
	loggers[lvl].Output(3, msg)
}

func Debug(v ...interface{})                 { write(levelDebug, fmt.Sprint(v...)) }
func Info(v ...interface{})                  { write(levelInfo, fmt.Sprint(v...)) }
func Warn(v ...interface{})                  { write(levelWarn, fmt.Sprint(v...)) }
func Error(v ...interface{})                 { write(levelError, fmt.Sprint(v...)) }
func Crit(v ...interface{})                  { write(levelCrit, fmt.Sprint(v...)) }
func Print(v ...interface{})                 { Info(v...) }
func Debugf(format string, v ...interface{}) { write(levelDebug, fmt.Sprintf(format, v...)) }
func Infof(format string, v ...interface{})  { write(levelInfo, fmt.Sprintf(format, v...)) }
func Warnf(format string, v ...interface{})  { write(levelWarn, fmt.Sprintf(format, v...)) }
func Errorf(format string, v ...interface{}) { write(levelError, fmt.Sprintf(format, v...)) }
func Critf(format string, v ...interface{})  { write(levelCrit, fmt.Sprintf(format, v...)) }
func Printf(format string, v ...interface{}) { Infof(format, v...) }

// Panic logs at error level, then panics. The process keeps running only if
// a recover() further up the call stack catches it.
func Panic(v ...interface{}) {
	Error(v...)
	panic(fmt.Sprint(v...))
}

// Fatal logs at error level and exits the process immediately.
func Fatal(v ...interface{}) {
	Error(v...)
	os.Exit(1)
}

func Fatalf(format string, v ...interface{}) {
	Errorf(format, v...)
	os.Exit(1)
}

// Finfof writes directly to w instead of the configured info writer, used
// for one-off log lines that must go somewhere other than stderr (e.g. an
// access-log sink).
func Finfof(w io.Writer, format string, v ...interface{}) {
	if logDateTime {
		fmt.Fprintf(w, "%s"+prefixes[levelInfo]+format+"\n", append([]interface{}{time.Now().String()}, v...)...)
	} else {
		fmt.Fprintf(w, prefixes[levelInfo]+format+"\n", v...)
	}
}
