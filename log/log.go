package log

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jkaberg/linkarr/config"
)

const FileName = "linkarr.log"

// Load configures the global zerolog logger to write to the console and to a
// rotating log file under cfg.Path.
func Load(cfg *config.Log) {
	var writers []io.Writer
	writers = append(writers, zerolog.ConsoleWriter{Out: colorable.NewColorableStdout()})

	if cfg.Path != "" {
		if err := os.MkdirAll(cfg.Path, 0744); err != nil {
			log.Error().Err(err).Str("path", cfg.Path).Msg("error creating log folder, logging to console only")
		} else {
			writers = append(writers, newRollingFile(cfg))
		}
	}

	mw := io.MultiWriter(writers...)
	log.Logger = log.Output(mw)
	zerolog.SetGlobalLevel(Level(cfg))
}

// Level resolves the configured level, debug wins over level.
func Level(cfg *config.Log) zerolog.Level {
	if cfg.Debug {
		return zerolog.DebugLevel
	}

	if cfg.Level == "" {
		return zerolog.InfoLevel
	}

	l, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}

	return l
}

func newRollingFile(cfg *config.Log) io.Writer {
	return &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Path, FileName),
		MaxBackups: cfg.MaxBackups, // files
		MaxSize:    cfg.MaxSize,    // megabytes
		MaxAge:     cfg.MaxAge,     // days
	}
}
