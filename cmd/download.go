package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"tts-cache/config"
	"tts-cache/db"
	"tts-cache/fetch"
	"tts-cache/logger"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// downloadCmd represents the download command
var downloadCmd = &cobra.Command{
	Use:   "download [mod...]",
	Short: "Downloads the missing assets of mods",
	Long: `Downloads every asset the given mods reference that is absent from the
cache or fails verification. Without arguments every known mod is
processed. Run 'scan' first so the ledger knows about new mods.

Mods are named by workshop id (123456789), by filename relative to the
data directory (Saves/TS_Save_1.json) or by absolute path.`,
	Run: func(cmd *cobra.Command, args []string) {
		useTUI, _ := cmd.Flags().GetBool("tui")

		cfg, ledger := bootstrap(configDir)
		ctx, stop := signalContext()
		defer stop()

		mods := make([]string, 0, len(args))
		for _, arg := range args {
			name, err := resolveModArg(dirsOf(cfg), arg)
			if err != nil {
				logger.Log.Fatalw("Invalid mod argument", zap.String("mod", arg), zap.Error(err))
			}
			mods = append(mods, name)
		}

		if useTUI {
			runDownloadTUI(ctx, cfg, ledger, mods)
			return
		}

		summary, err := runDownload(ctx, cfg, ledger, mods, nil, logger.Named("download"))
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Log.Fatalw("Download failed", zap.Error(err))
		}
		fmt.Println(summaryLine(summary))
	},
}

func init() {
	rootCmd.AddCommand(downloadCmd)

	downloadCmd.Flags().Bool("tui", false, "Show live download progress")
}

func summaryLine(s fetch.Summary) string {
	return fmt.Sprintf("Downloaded %d assets, %d failed.", s.Succeeded, s.Failed)
}

// runDownload queues the missing assets of mods, or of every known mod when
// mods is empty, and runs the download daemons until the queue is drained or
// ctx is cancelled. The aggregates of affected mods are recounted afterwards.
func runDownload(ctx context.Context, cfg config.Config, ledger *db.Ledger, mods []string, observer fetch.Observer, log *zap.SugaredLogger) (fetch.Summary, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if len(mods) == 0 {
		all, err := ledger.ModFilenames(ctx)
		if err != nil {
			return fetch.Summary{}, err
		}
		mods = all
	}

	queue := fetch.NewQueue()
	queued := 0
	for _, mod := range mods {
		missing, err := ledger.MissingAssetsFor(ctx, mod)
		if err != nil {
			return fetch.Summary{}, err
		}
		for _, m := range missing {
			if queue.Enqueue(m.URL, m.Trail) {
				queued++
			}
		}
	}
	queue.Close()
	log.Infow("Queued missing assets", zap.Int("mods", len(mods)), zap.Int("assets", queued))

	engine, err := fetch.NewEngine(fetch.Options{
		Root:              cfg.ModsDir,
		Attempts:          cfg.DownloadAttempts,
		Timeout:           cfg.Timeout(),
		IgnoreContentType: cfg.IgnoreContentType,
		UserAgent:         cfg.UserAgent,
		Observer:          observer,
		Log:               log.Named("engine"),
	})
	if err != nil {
		return fetch.Summary{}, err
	}

	summary, runErr := fetch.NewPool(engine, queue, ledger, cfg.DownloadWorkers, log).Run(ctx)
	log.Infow("Download finished", zap.Int64("succeeded", summary.Succeeded), zap.Int64("failed", summary.Failed), zap.Error(runErr))

	// Recount even after an interrupt; the outcomes recorded so far stand.
	if _, err := refreshAggregates(context.WithoutCancel(ctx), ledger, log); err != nil && runErr == nil {
		runErr = err
	}
	return summary, runErr
}

func runDownloadTUI(parent context.Context, cfg config.Config, ledger *db.Ledger, mods []string) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	model := initialDownloadModel()
	result := make(chan downloadResult, 1)
	go func() {
		defer close(model.progressChan)
		summary, err := runDownload(ctx, cfg, ledger, mods, fetch.ChanObserver(model.progressChan), logger.Named("download"))
		result <- downloadResult{summary: summary, err: err}
	}()

	p := tea.NewProgram(model)
	if _, err := p.Run(); err != nil {
		fmt.Printf("Alas, there's been an error: %v", err)
		os.Exit(1)
	}

	// Quitting early stops the daemons; keep draining so none blocks on a
	// full progress channel.
	cancel()
	go func() {
		for range model.progressChan {
		}
	}()
	res := <-result
	if res.err != nil && !errors.Is(res.err, context.Canceled) {
		logger.Log.Fatalw("Download failed", zap.Error(res.err))
	}
	fmt.Println(summaryLine(res.summary))
}

type downloadResult struct {
	summary fetch.Summary
	err     error
}
