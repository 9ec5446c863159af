package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ChunkCore/game"
	"ChunkCore/journal"
	"ChunkCore/world"
)

var (
	isDebug    = flag.Bool("debug", false, "Enable debug log output")
	configPath = flag.String("config", "config.toml", "Path of the config file")
)

func main() {
	flag.Parse()

	var logger *zap.Logger
	if *isDebug {
		logger = unwrap(zap.NewDevelopment())
	} else {
		logger = unwrap(zap.NewProduction())
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	logger.Info("Streamer start")
	printBuildInfo(logger)
	defer logger.Info("Streamer exit")

	config, err := readConfig(*configPath)
	if err != nil {
		logger.Error("Read config fail", zap.Error(err))
		return
	}

	var observer world.LoadObserver
	if config.JournalPath != "" {
		j, err := journal.Open(logger.Named("journal"), config.JournalPath, config.QueueSize)
		if err != nil {
			logger.Error("Open journal fail", zap.Error(err))
			return
		}
		defer func() {
			if err := j.Close(); err != nil {
				logger.Error("Close journal fail", zap.Error(err))
			}
			if n := j.Dropped(); n > 0 {
				logger.Warn("Journal events dropped", zap.Int64("dropped", n))
			}
		}()
		observer = j
	}

	streamer, err := game.NewStreamer(logger, config, observer)
	if err != nil {
		logger.Error("Init streamer fail", zap.Error(err))
		return
	}
	defer streamer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return streamer.Run(ctx) })
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Streaming error", zap.Error(err))
	}
}

func printBuildInfo(logger *zap.Logger) {
	binaryInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	settings := make(map[string]string)
	for _, v := range binaryInfo.Settings {
		settings[v.Key] = v.Value
	}
	logger.Debug("Build info", zap.Any("settings", settings))
}

// readConfig rejects keys it does not know.
func readConfig(path string) (game.Config, error) {
	var c game.Config
	meta, err := toml.DecodeFile(path, &c)
	if err != nil {
		return game.Config{}, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		var err errUnknownConfig
		for _, key := range undecoded {
			err = append(err, key.String())
		}
		return game.Config{}, err
	}

	return c, nil
}

type errUnknownConfig []string

func (e errUnknownConfig) Error() string {
	return "unknown config keys: [" + strings.Join(e, ", ") + "]"
}

func unwrap[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
