package sink

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/fkie-cad/honeypots/internal/event"
)

// FileConfig controls the JSON-lines file sink and its rotation.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// File appends one JSON object per event, rotated by lumberjack.
type File struct {
	mu  sync.Mutex
	out *lumberjack.Logger
}

func NewFile(cfg FileConfig) *File {
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 50
	}
	return &File{
		out: &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		},
	}
}

func (f *File) Log(e event.Event) {
	line, err := json.Marshal(e)
	if err != nil {
		log.Debug().Err(err).Str("action", e.Action).Msg("file sink: event not serializable")
		return
	}
	line = append(line, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.out.Write(line); err != nil {
		log.Error().Err(err).Str("path", f.out.Filename).Msg("file sink: write failed")
	}
}

func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.Close()
}
