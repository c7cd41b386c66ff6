// Copyright 2015-2021 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

// minilog extends Go's logging functionality to allow for multiple loggers,
// each one with their own logging level. To use minilog, call AddLogger() to
// set up each desired logger, then use the package-level logging functions
// defined to send messages to all defined loggers.
package minilog

import (
	"flag"
	"fmt"
	"io"
	golog "log"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
)

var (
	LevelFlag = flag.String("level", "warn", "set log level: [debug, info, warn, error, fatal]")
	Verbose   = flag.Bool("v", true, "log on stderr")
	File      = flag.String("logfile", "", "also log to file")
)

var (
	loggers = make(map[string]*minilogger)
	logLock sync.RWMutex
)

var (
	colorLine  = FgYellow
	colorDebug = FgBlue
	colorInfo  = FgGreen
	colorWarn  = FgYellow
	colorError = FgRed
	colorFatal = FgRed
)

type minilogger struct {
	*golog.Logger

	Level Level
	Color bool // print in color
}

func (l *minilogger) prologue(level Level) (msg string) {
	switch level {
	case DEBUG:
		msg += "DEBUG "
	case INFO:
		msg += "INFO "
	case WARN:
		msg += "WARN "
	case ERROR:
		msg += "ERROR "
	default:
		msg += "FATAL "
	}

	_, file, line, _ := runtime.Caller(4)
	short := file
	for i := len(file) - 1; i > 0; i-- {
		if file[i] == '/' {
			short = file[i+1:]
			break
		}
	}
	msg += short + ":" + strconv.Itoa(line) + ": "

	if l.Color {
		msg = colorLine + msg
		switch level {
		case DEBUG:
			msg += colorDebug
		case INFO:
			msg += colorInfo
		case WARN:
			msg += colorWarn
		case ERROR:
			msg += colorError
		default:
			msg += colorFatal
		}
	}
	return
}

func (l *minilogger) epilogue() string {
	if l.Color {
		return Reset
	}
	return ""
}

func (l *minilogger) log(level Level, format string, arg ...interface{}) {
	l.Println(l.prologue(level) + fmt.Sprintf(format, arg...) + l.epilogue())
}

func (l *minilogger) logln(level Level, arg ...interface{}) {
	l.Println(l.prologue(level) + fmt.Sprint(arg...) + l.epilogue())
}

// AddLogger creates a named logger writing events at level or higher to
// output. Calling AddLogger with an existing name replaces the old logger.
func AddLogger(name string, output io.Writer, level Level, color bool) {
	logLock.Lock()
	defer logLock.Unlock()

	loggers[name] = &minilogger{golog.New(output, "", golog.LstdFlags), level, color}
}

// DelLogger removes a named logger that was added using AddLogger.
func DelLogger(name string) {
	logLock.Lock()
	defer logLock.Unlock()

	delete(loggers, name)
}

// WillLog returns true if logging to a specific log level will result in
// actual logging. Useful if the logging text itself is expensive to produce.
func WillLog(level Level) bool {
	logLock.RLock()
	defer logLock.RUnlock()

	for _, v := range loggers {
		if v.Level <= level {
			return true
		}
	}
	return false
}

// SetLevel changes the log level for a named logger.
func SetLevel(name string, level Level) error {
	logLock.Lock()
	defer logLock.Unlock()

	if loggers[name] == nil {
		return fmt.Errorf("no such logger %v", name)
	}
	loggers[name].Level = level
	return nil
}

// GetLevel returns the log level for a named logger.
func GetLevel(name string) (Level, error) {
	logLock.RLock()
	defer logLock.RUnlock()

	if loggers[name] == nil {
		return -1, fmt.Errorf("no such logger %v", name)
	}
	return loggers[name].Level, nil
}

// Init sets up logging according to the package flags. Replaces the
// logSetup() that each binary used to have.
func Init() {
	level, err := ParseLevel(*LevelFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	color := runtime.GOOS != "windows"

	if *Verbose {
		AddLogger("stdio", os.Stderr, level, color)
	}

	if *File != "" {
		if err := os.MkdirAll(filepath.Dir(*File), 0755); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		logfile, err := os.OpenFile(*File, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0660)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		AddLogger("file", logfile, level, false)
	}
}

func log(level Level, format string, arg ...interface{}) {
	logLock.RLock()
	defer logLock.RUnlock()

	for _, logger := range loggers {
		if logger.Level <= level {
			logger.log(level, format, arg...)
		}
	}
}

func logln(level Level, arg ...interface{}) {
	logLock.RLock()
	defer logLock.RUnlock()

	for _, logger := range loggers {
		if logger.Level <= level {
			logger.logln(level, arg...)
		}
	}
}

func Debug(format string, arg ...interface{}) {
	log(DEBUG, format, arg...)
}

func Info(format string, arg ...interface{}) {
	log(INFO, format, arg...)
}

func Warn(format string, arg ...interface{}) {
	log(WARN, format, arg...)
}

func Error(format string, arg ...interface{}) {
	log(ERROR, format, arg...)
}

func Fatal(format string, arg ...interface{}) {
	log(FATAL, format, arg...)

	os.Exit(1)
}

func Debugln(arg ...interface{}) {
	logln(DEBUG, arg...)
}

func Infoln(arg ...interface{}) {
	logln(INFO, arg...)
}

func Warnln(arg ...interface{}) {
	logln(WARN, arg...)
}

func Errorln(arg ...interface{}) {
	logln(ERROR, arg...)
}

func Fatalln(arg ...interface{}) {
	logln(FATAL, arg...)

	os.Exit(1)
}
