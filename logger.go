/* ipp-client - IPP printer client library and command-line tool
 *
 * Copyright (C) 2020 and up by Alexander Pevzner (pzz@apevzner.com)
 * See LICENSE for license terms and conditions
 *
 * Logging
 */

package ippclient

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	logMessagePool = sync.Pool{New: func() interface{} { return &LogMessage{} }}
	logBufferPool  = sync.Pool{New: func() interface{} { return &bytes.Buffer{} }}
)

// LogLevel enumerates possible log levels. Levels are
// bits, so Logger may enable any combination of them
type LogLevel int

// Log levels
const (
	LogError LogLevel = 1 << iota
	LogInfo
	LogDebug
	LogTraceIPP
	LogTraceHTTP

	LogAll      = LogError | LogInfo | LogDebug | LogTraceAll
	LogTraceAll = LogTraceIPP | LogTraceHTTP
)

// Logger implements logging facilities
type Logger struct {
	lock       sync.Mutex   // Write lock
	levels     LogLevel     // Enabled levels
	path       string       // Path to log file
	time       bytes.Buffer // Time prefix buffer
	out        io.Writer    // Output stream
	file       *os.File     // Output file, if logging to file
	console    bool         // true for console logger
	color      bool         // Colorize console output
	maxSize    int64        // Max file size before rotation
	maxBackups uint         // Count of preserved rotated files
}

// NewConsoleLogger creates a logger that writes to the stdout
func NewConsoleLogger(levels LogLevel) *Logger {
	return &Logger{
		out:     os.Stdout,
		levels:  levels,
		console: true,
		color:   logIsAtty(os.Stdout),
	}
}

// NewFileLogger creates a logger that writes to the file,
// rotating it when it grows larger that maxSize
func NewFileLogger(path string, levels LogLevel,
	maxSize int64, maxBackups uint) *Logger {
	return &Logger{
		path:       path,
		levels:     levels,
		maxSize:    maxSize,
		maxBackups: maxBackups,
	}
}

// NewWriterLogger creates a logger that writes to io.Writer
func NewWriterLogger(out io.Writer, levels LogLevel) *Logger {
	return &Logger{
		out:     out,
		levels:  levels,
		console: true,
	}
}

// nopLogger discards everything
var nopLogger = &Logger{}

// SetLevels changes enabled log levels
func (l *Logger) SetLevels(levels LogLevel) {
	l.lock.Lock()
	l.levels = levels
	l.lock.Unlock()
}

// Enabled tells if any of given levels is enabled
func (l *Logger) Enabled(level LogLevel) bool {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.levels&level != 0
}

// Close the logger
func (l *Logger) Close() {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.file != nil {
		l.file.Close()
		l.file = nil
		l.out = nil
	}
}

// Begin new log message
func (l *Logger) Begin() *LogMessage {
	msg := logMessagePool.Get().(*LogMessage)
	msg.logger = l
	return msg
}

// Debug writes a LogDebug message
func (l *Logger) Debug(prefix byte, format string, args ...interface{}) {
	l.Begin().Debug(prefix, format, args...).Commit()
}

// Info writes a LogInfo message
func (l *Logger) Info(prefix byte, format string, args ...interface{}) {
	l.Begin().Info(prefix, format, args...).Commit()
}

// Error writes a LogError message
func (l *Logger) Error(prefix byte, format string, args ...interface{}) {
	l.Begin().Error(prefix, format, args...).Commit()
}

// Dump writes HEX dump with optional title. If title is not "",
// it is formatted, as fmt.Printf does, and prepended to the dump
func (l *Logger) Dump(level LogLevel, data []byte, title string, args ...interface{}) {
	l.Begin().Dump(level, data, title, args...).Commit()
}

// LineWriter creates a LineWriter that writes each line
// as a separate message of the given level
func (l *Logger) LineWriter(level LogLevel, prefix byte) *LineWriter {
	return &LineWriter{
		Func: func(line []byte) {
			l.Begin().add(level, prefix, "%s", line).Commit()
		},
	}
}

// Format a time prefix
func (l *Logger) fmtTime() {
	l.time.Reset()

	if l.console {
		return
	}

	now := time.Now()

	year, month, day := now.Date()
	fmt.Fprintf(&l.time, "%2.2d-%2.2d-%4.4d ", day, month, year)

	hour, min, sec := now.Clock()
	fmt.Fprintf(&l.time, "%2.2d:%2.2d:%2.2d", hour, min, sec)

	l.time.WriteString(": ")
}

// Handle log rotation
func (l *Logger) rotate() {
	if l.file == nil || l.maxSize <= 0 {
		return
	}

	// Do we need to rotate?
	stat, err := l.file.Stat()
	if err != nil || stat.Size() <= l.maxSize {
		return
	}

	// Perform rotation
	prevpath := ""
	for i := int(l.maxBackups); i >= 0; i-- {
		nextpath := l.path
		if i > 0 {
			nextpath += fmt.Sprintf(".%d.gz", i-1)
		}

		switch {
		case i == int(l.maxBackups):
			os.Remove(nextpath)
		case i == 0:
			err := l.gzip(nextpath, prevpath)
			if err == nil {
				l.file.Truncate(0)
			}
		default:
			os.Rename(nextpath, prevpath)
		}

		prevpath = nextpath
	}
}

// gzip the log file
func (l *Logger) gzip(ipath, opath string) error {
	// Open input file
	ifile, err := os.Open(ipath)
	if err != nil {
		return err
	}

	defer ifile.Close()

	// Open output file
	ofile, err := os.OpenFile(opath, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0644)
	if err != nil {
		return err
	}

	// gzip ifile->ofile
	w := gzip.NewWriter(ofile)
	_, err = io.Copy(w, ifile)
	err2 := w.Close()
	err3 := ofile.Close()

	switch {
	case err == nil && err2 != nil:
		err = err2
	case err == nil && err3 != nil:
		err = err3
	}

	// Cleanup and exit
	if err != nil {
		os.Remove(opath)
	}

	return err
}

// LogMessage represents a single (possible multi line) log
// message, which will appear in the output log atomically,
// and will not be interrupted in the middle by other log activity
type LogMessage struct {
	logger *Logger         // Underlying logger
	lines  []*bytes.Buffer // One buffer per line
	levels []LogLevel      // Level of each line
}

// add formats a next line of log message, with level and prefix char
func (msg *LogMessage) add(level LogLevel, prefix byte,
	format string, args ...interface{}) *LogMessage {

	buf := logBufAlloc()
	buf.Write([]byte{prefix, ' '})
	fmt.Fprintf(buf, format, args...)
	buf.WriteByte('\n')
	msg.lines = append(msg.lines, buf)
	msg.levels = append(msg.levels, level)
	return msg
}

// Debug writes a LogDebug message
func (msg *LogMessage) Debug(prefix byte, format string, args ...interface{}) *LogMessage {
	return msg.add(LogDebug, prefix, format, args...)
}

// Info writes a LogInfo message
func (msg *LogMessage) Info(prefix byte, format string, args ...interface{}) *LogMessage {
	return msg.add(LogInfo, prefix, format, args...)
}

// Error writes a LogError message
func (msg *LogMessage) Error(prefix byte, format string, args ...interface{}) *LogMessage {
	return msg.add(LogError, prefix, format, args...)
}

// Dump writes HEX dump with optional title. If title is not "",
// it is formatted, as fmt.Printf does, and prepended to the dump
func (msg *LogMessage) Dump(level LogLevel, data []byte,
	title string, args ...interface{}) *LogMessage {

	if title != "" {
		msg.add(level, ' ', title, args...)
	}

	hex := logBufAlloc()
	chr := logBufAlloc()

	defer logBufFree(hex)
	defer logBufFree(chr)

	off := 0

	for len(data) > 0 {
		hex.Reset()
		chr.Reset()

		sz := len(data)
		if sz > 16 {
			sz = 16
		}

		i := 0
		for ; i < sz; i++ {
			c := data[i]
			fmt.Fprintf(hex, "%2.2x", data[i])
			if i%4 == 3 {
				hex.Write([]byte(":"))
			} else {
				hex.Write([]byte(" "))
			}

			if 0x20 <= c && c < 0x80 {
				chr.WriteByte(c)
			} else {
				chr.WriteByte('.')
			}
		}

		for ; i < 16; i++ {
			hex.WriteString("   ")
		}

		msg.add(level, ' ', "%4.4x: %s %s", off, hex, chr)

		off += sz
		data = data[sz:]
	}

	return msg
}

// Commit message to the log
func (msg *LogMessage) Commit() {
	// Don't forget to free the message
	defer msg.free()

	// Ignore empty messages
	if len(msg.lines) == 0 {
		return
	}

	// Lock the logger
	l := msg.logger
	l.lock.Lock()
	defer l.lock.Unlock()

	// Filter by level
	enabled := false
	for _, level := range msg.levels {
		if l.levels&level != 0 {
			enabled = true
			break
		}
	}

	if !enabled {
		return
	}

	// Open log file on demand
	if l.out == nil && l.path != "" {
		os.MkdirAll(filepath.Dir(l.path), 0755)
		l.file, _ = os.OpenFile(l.path,
			os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
		if l.file != nil {
			l.out = l.file
		}
	}

	if l.out == nil {
		return
	}

	// Rotate now
	l.rotate()

	// Send message content to the logger
	l.fmtTime()
	for i, line := range msg.lines {
		if l.levels&msg.levels[i] == 0 {
			continue
		}
		if l.color {
			logColorConsoleWrite(l.out, msg.levels[i], line.Bytes())
		} else {
			l.out.Write(l.time.Bytes())
			l.out.Write(line.Bytes())
		}
	}
}

// Reject the message
func (msg *LogMessage) Reject() {
	msg.free()
}

// Return message to the logMessagePool
func (msg *LogMessage) free() {
	for _, l := range msg.lines {
		logBufFree(l)
	}

	// Reset the message and put it to the pool
	if len(msg.lines) < 16 {
		msg.lines = msg.lines[:0] // Keep memory, reset content
		msg.levels = msg.levels[:0]
	} else {
		msg.lines = nil
		msg.levels = nil
	}

	msg.logger = nil

	// Put the message
	logMessagePool.Put(msg)
}

// Allocate a buffer
func logBufAlloc() *bytes.Buffer {
	return logBufferPool.Get().(*bytes.Buffer)
}

// Free a buffer
func logBufFree(buf *bytes.Buffer) {
	if buf.Cap() <= 256 {
		buf.Reset()
		logBufferPool.Put(buf)
	}
}
