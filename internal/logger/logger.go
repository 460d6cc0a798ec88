package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Rotator implements zapcore.WriteSyncer and handles log file rotation based on size.
type Rotator struct {
	Filename   string
	MaxSize    int64 // Bytes
	MaxBackups int
	file       *os.File
	size       int64
	mu         sync.Mutex
}

// Setup builds the process logger: console output on stdout plus JSON lines
// in a size-rotated file. The std library logger is redirected into it so
// SDK output lands in the same place.
func Setup(filename string, maxSizeMB int64, maxBackups int, level string) *zap.Logger {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(strings.ToLower(level)); err != nil {
		lvl = zapcore.InfoLevel
	}

	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(os.Stdout), lvl),
	}

	rotator := &Rotator{
		Filename:   filename,
		MaxSize:    maxSizeMB * 1024 * 1024,
		MaxBackups: maxBackups,
	}
	if err := rotator.openExistingOrNew(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file, using stdout only: %v\n", err)
	} else {
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), rotator, lvl))
	}

	l := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	zap.RedirectStdLog(l)
	return l
}

func (r *Rotator) openExistingOrNew() error {
	info, err := os.Stat(r.Filename)
	if os.IsNotExist(err) {
		return r.openNew()
	}
	if err != nil {
		return err
	}

	f, err := os.OpenFile(r.Filename, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	r.file = f
	r.size = info.Size()
	return nil
}

func (r *Rotator) openNew() error {
	f, err := os.OpenFile(r.Filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	r.file = f
	r.size = 0
	return nil
}

// Write checks size and rotates if needed.
func (r *Rotator) Write(p []byte) (n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	writeLen := int64(len(p))

	if r.file == nil {
		if err = r.openExistingOrNew(); err != nil {
			return 0, err
		}
	}

	if r.MaxSize > 0 && r.size+writeLen > r.MaxSize {
		if err := r.rotate(); err != nil {
			// Keep writing to whatever is open rather than dropping lines.
			fmt.Fprintf(os.Stderr, "Log rotation failed: %v\n", err)
		}
	}

	n, err = r.file.Write(p)
	r.size += int64(n)
	return n, err
}

// Sync flushes the current file.
func (r *Rotator) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	return r.file.Sync()
}

// rotate closes the current file, renames backups, and opens a new file.
// Example: log.2 -> log.3, log.1 -> log.2, log -> log.1
func (r *Rotator) rotate() error {
	if r.file != nil {
		r.file.Close()
	}

	for i := r.MaxBackups - 1; i >= 1; i-- {
		oldPath := fmt.Sprintf("%s.%d", r.Filename, i)
		newPath := fmt.Sprintf("%s.%d", r.Filename, i+1)

		if _, err := os.Stat(oldPath); os.IsNotExist(err) {
			continue
		}
		os.Rename(oldPath, newPath)
	}

	if r.MaxBackups > 0 {
		if _, err := os.Stat(r.Filename); err == nil {
			os.Rename(r.Filename, fmt.Sprintf("%s.1", r.Filename))
		}
	}

	return r.openNew()
}
