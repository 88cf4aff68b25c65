package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"tts-cache/config"
	"tts-cache/db"
	"tts-cache/extractor"
	"tts-cache/logger"
	"tts-cache/sweep"

	"go.uber.org/zap"
)

// bootstrap handles shared initialization logic for commands.
func bootstrap(path string) (config.Config, *db.Ledger) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		logger.Log.Fatalw("Failed to load configuration", zap.Error(err))
	}

	if cfg.LogFile != logger.File() {
		logger.InitLogger(cfg.LogFile)
	}

	db.InitDatabase(cfg.DatabasePath, logger.Named("db"))
	logger.Log.Infow("Database initialized", zap.String("path", cfg.DatabasePath))

	return cfg, db.NewLedger(db.DB, logger.Named("ledger"))
}

// dirsOf returns the mod trees of the configured data directory.
func dirsOf(cfg config.Config) sweep.Dirs {
	return sweep.Dirs{Mods: cfg.ModsDir, Saves: cfg.SavesDir}
}

// resolveModArg turns a command line argument into a mod filename. A bare
// workshop id names the workshop mod, a path inside the data directory is
// made relative to it, and anything else is taken as a filename.
func resolveModArg(d sweep.Dirs, arg string) (string, error) {
	if arg == "" {
		return "", fmt.Errorf("empty mod name")
	}
	if isWorkshopID(arg) {
		return "Workshop/" + arg + ".json", nil
	}
	if filepath.IsAbs(arg) {
		name, ok := d.Filename(arg)
		if !ok {
			return "", fmt.Errorf("%s is outside the Workshop and Saves directories", arg)
		}
		return name, nil
	}
	name := filepath.ToSlash(arg)
	if !strings.HasSuffix(strings.ToLower(name), ".json") {
		name += ".json"
	}
	return name, nil
}

func isWorkshopID(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// toModMeta maps the metadata of a parsed save to its ledger form.
func toModMeta(info extractor.ModInfo) db.ModMeta {
	return db.ModMeta{
		Name:           info.SaveName,
		EpochTime:      info.EpochTime,
		Date:           info.Date,
		Version:        info.VersionNumber,
		GameMode:       info.GameMode,
		GameType:       info.GameType,
		GameComplexity: info.GameComplexity,
		MinPlayers:     info.MinPlayers,
		MaxPlayers:     info.MaxPlayers,
		MinPlayTime:    info.MinPlayTime,
		MaxPlayTime:    info.MaxPlayTime,
		Tags:           info.Tags,
	}
}

// signalContext is cancelled on interrupt, letting downloads keep their
// partial files for the next run.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
