// internal/logger/logger.go
//
// Structured JSON logger (Zap + Lumberjack).
//
// Context
// -------
// The gate writes lifecycle, decision, and error events to one JSON log
// per day under `<root>/logs/YYYY-MM-DD.log`.  When running in an
// interactive TTY we tee the same events to stdout.  Rotation,
// compression, and retention are handled by Lumberjack; no external
// log-rotate job is required.
//
// Usage
// -----
//
//	log, err := logger.New(cfg.Paths.Root, term.IsTTY(), cfg.Log.Level)
//	if err != nil { … }
//	log.Info("gate online", zap.String("addr", addr))
//
// Notes
// -----
// • Zap core uses ISO-8601 timestamps and lowercase levels.
// • Errors are written to the same sink via `ErrorOutput`.
// • Components take a *zap.Logger; boot code may still call zap.S().
// • Oxford commas, two spaces after periods.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ParseLevel maps "debug", "info", "warn", and "error" to a zap level.
func ParseLevel(s string) (zapcore.Level, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return zap.InfoLevel, fmt.Errorf("log level %q: %w", s, err)
	}
	return lvl, nil
}

// New returns a *zap.Logger that writes JSON to /logs/YYYY-MM-DD.log.
// When tee == true, a console core is also attached.  The logger is
// installed as the process-wide default via zap.ReplaceGlobals.
func New(rootDir string, tee bool, level string) (*zap.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	logDir := filepath.Join(rootDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}

	fileName := time.Now().Format("2006-01-02") + ".log"
	fileSink := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, fileName),
		MaxSize:    50, // MB
		MaxBackups: 7,  // keep last seven files
		MaxAge:     14, // days
		Compress:   true,
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:      "ts",
		LevelKey:     "level",
		NameKey:      "logger",
		MessageKey:   "msg",
		CallerKey:    "caller",
		EncodeTime:   zapcore.ISO8601TimeEncoder,
		EncodeLevel:  zapcore.LowercaseLevelEncoder,
		EncodeCaller: zapcore.ShortCallerEncoder,
	}
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(fileSink), lvl),
	}

	if tee {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(encCfg),
			zapcore.AddSync(os.Stdout),
			lvl,
		))
	}

	z := zap.New(
		zapcore.NewTee(cores...),
		zap.ErrorOutput(zapcore.AddSync(fileSink)),
		zap.AddCaller(),
	)

	// Make this the global logger so zap.L() works everywhere after startup.
	zap.ReplaceGlobals(z)

	z.Info("logger online", zap.Bool("tee", tee), zap.String("level", lvl.String()))
	return z, nil
}
