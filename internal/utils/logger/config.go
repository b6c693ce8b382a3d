// internal/utils/logger/config.go
package logger

import "io"

// Config описывает консольный поток и файл с ротацией.
type Config struct {
	// LogFile is the rotated JSON log; empty disables the file core.
	LogFile     string
	MaxSize     int  // мегабайты
	MaxAge      int  // дни
	MaxBackups  int
	Compress    bool
	Development bool
	// Console receives the human readable stream; nil means stdout.
	Console io.Writer
}

// DefaultConfig keeps two weeks of history in 50MB files.
func DefaultConfig() *Config {
	return &Config{
		LogFile:    "logs/bot.log",
		MaxSize:    50,
		MaxAge:     14,
		MaxBackups: 5,
		Compress:   true,
	}
}

// ForCommand is the CLI setup: tables own stdout, so the console stream goes
// to stderr, and debug only widens the console since the file is always debug.
func ForCommand(logFile string, debug bool, stderr io.Writer) *Config {
	cfg := DefaultConfig()
	cfg.LogFile = logFile
	cfg.Development = debug
	cfg.Console = stderr
	return cfg
}
