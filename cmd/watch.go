package cmd

import (
	"context"
	"errors"
	"time"

	"tts-cache/db"
	"tts-cache/logger"
	"tts-cache/sweep"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Rescans mods whenever the game writes a save",
	Long: `Runs a full scan, then watches the Workshop and Saves directories and
indexes every save file the game creates or rewrites. With --download the
missing assets of changed mods are fetched right away.`,
	Run: func(cmd *cobra.Command, args []string) {
		download, _ := cmd.Flags().GetBool("download")
		delay, _ := cmd.Flags().GetDuration("delay")

		cfg, ledger := bootstrap(configDir)
		ctx, stop := signalContext()
		defer stop()

		log := logger.Named("watch")
		report, err := runScan(ctx, ledger, dirsOf(cfg), scanOptions{}, log)
		if err != nil {
			log.Fatalw("Initial scan failed", zap.Error(err))
		}
		log.Info(report.String())

		w, err := sweep.NewWatcher(dirsOf(cfg), delay, log)
		if err != nil {
			log.Fatalw("Failed to watch mod directories", zap.Error(err))
		}

		var handle func(context.Context, []string) error
		if download {
			handle = func(ctx context.Context, mods []string) error {
				_, err := runDownload(ctx, cfg, ledger, mods, nil, logger.Named("download"))
				return err
			}
		}
		if err := watchMods(ctx, w, ledger, dirsOf(cfg), handle, log); err != nil {
			log.Fatalw("Watch failed", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().Bool("download", false, "Download missing assets of changed mods")
	watchCmd.Flags().Duration("delay", 2*time.Second, "Quiet period before a changed save is read")
}

// watchMods scans every batch of changed saves the watcher reports and hands
// the changed mods to after, if set, until ctx is done.
func watchMods(ctx context.Context, w *sweep.Watcher, ledger *db.Ledger, d sweep.Dirs, after func(context.Context, []string) error, log *zap.SugaredLogger) error {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()

	for batch := range w.Changes() {
		report, err := runScan(ctx, ledger, d, scanOptions{Only: batch}, log)
		if errors.Is(err, context.Canceled) {
			break
		}
		if err != nil {
			return err
		}
		log.Infow("Rescanned changed saves", zap.Strings("mods", batch), zap.Int("parsed", report.Parsed))

		if after != nil && report.Parsed > 0 {
			if err := after(ctx, batch); err != nil && !errors.Is(err, context.Canceled) {
				log.Warnw("Failed to handle changed mods", zap.Strings("mods", batch), zap.Error(err))
			}
		}
	}
	return <-errc
}
