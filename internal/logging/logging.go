package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"chip-settlement/internal/config"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	writerMu sync.RWMutex
	writer   io.Writer = os.Stdout
)

// Init configures the global zerolog logger. When cfg.File is set, output
// goes to both stdout and a size-capped file.
func Init(cfg config.LogConfig) {
	level := zerolog.InfoLevel
	if v := strings.TrimSpace(cfg.Level); v != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(v)); err == nil {
			level = parsed
		}
	}

	var stdout io.Writer = os.Stdout
	if cfg.Pretty {
		stdout = zerolog.ConsoleWriter{Out: os.Stdout}
	}
	output := stdout
	raw := io.Writer(os.Stdout)
	if path := strings.TrimSpace(cfg.File); path != "" {
		fw, err := newSizeLimitedWriter(path, cfg.MaxMB)
		if err == nil {
			output = zerolog.MultiLevelWriter(stdout, fw)
			raw = io.MultiWriter(os.Stdout, fw)
		}
	}
	setWriter(raw)

	zerolog.SetGlobalLevel(level)
	lctx := zerolog.New(output).With().Timestamp()
	if cfg.Service != "" {
		lctx = lctx.Str("service", cfg.Service)
	}
	logger := lctx.Logger()
	if cfg.SampleEvery > 1 {
		logger = logger.Sample(&zerolog.BasicSampler{N: uint32(cfg.SampleEvery)})
	}
	log.Logger = logger
}

// Writer returns the raw sink used by Init, for loggers outside zerolog.
func Writer() io.Writer {
	writerMu.RLock()
	defer writerMu.RUnlock()
	return writer
}

func setWriter(w io.Writer) {
	writerMu.Lock()
	writer = w
	writerMu.Unlock()
}
