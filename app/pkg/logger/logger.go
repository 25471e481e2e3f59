// Package logger mirrors service logs to stdout and a dated file so a
// pipeline run can be reconstructed after the fact.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

var (
	InfoLogger  *log.Logger
	ErrorLogger *log.Logger
)

// Init opens today's log file under logDir and wires Info and Error to
// write both there and to stdout. One file per calendar day.
func Init(logDir string) error {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return err
	}

	name := fmt.Sprintf("deskmind_%s.log", time.Now().Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(logDir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	out := io.MultiWriter(os.Stdout, file)
	InfoLogger = log.New(out, "[INFO] ", log.Ldate|log.Ltime)
	ErrorLogger = log.New(out, "[ERROR] ", log.Ldate|log.Ltime|log.Lshortfile)
	return nil
}

// Info logs at info level. Before Init it degrades to the default logger
// so early startup messages are not lost.
func Info(format string, v ...interface{}) {
	if InfoLogger != nil {
		InfoLogger.Output(2, fmt.Sprintf(format, v...))
	} else {
		log.Printf("[INFO] "+format, v...)
	}
}

// Error logs at error level with the caller's file and line.
func Error(format string, v ...interface{}) {
	if ErrorLogger != nil {
		ErrorLogger.Output(2, fmt.Sprintf(format, v...))
	} else {
		log.Printf("[ERROR] "+format, v...)
	}
}

// GetCaller reports the file:line of the function two frames up, for
// messages built outside the logging call itself.
func GetCaller() string {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}
