package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"tts-cache/cachepath"
	"tts-cache/db"
	"tts-cache/extractor"
	"tts-cache/logger"
	"tts-cache/sweep"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Indexes mods, saves and the asset cache",
	Long: `Parses every workshop mod and save that changed since the last scan,
records the assets they reference, registers files found in the cache
directories and recounts the affected mods.`,
	Run: func(cmd *cobra.Command, args []string) {
		verify, _ := cmd.Flags().GetBool("verify")

		cfg, ledger := bootstrap(configDir)
		ctx, stop := signalContext()
		defer stop()

		report, err := runScan(ctx, ledger, dirsOf(cfg), scanOptions{Verify: verify}, logger.Named("scan"))
		if err != nil {
			logger.Log.Fatalw("Scan failed", zap.Error(err))
		}
		fmt.Println(report)
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().Bool("verify", false, "Hash cached files that changed since they were last verified")
}

// scanOptions narrows a scan.
type scanOptions struct {
	Verify bool     // Hash changed cache files
	Only   []string // Mod filenames to parse; empty means every mod on disk
}

// scanReport counts what a scan did.
type scanReport struct {
	Mods      int   // Save files looked at
	Parsed    int   // Save files parsed
	Skipped   int   // Save files that could not be parsed
	Sightings int64 // Cache rows touched by the filesystem sweep
	Hashed    int
	Refreshed int // Mods whose aggregates were recounted
}

func (r scanReport) String() string {
	s := fmt.Sprintf("Scanned %d mods: %d parsed, %d skipped. %d cache files registered, %d mods recounted.",
		r.Mods, r.Parsed, r.Skipped, r.Sightings, r.Refreshed)
	if r.Hashed > 0 {
		s += fmt.Sprintf(" %d files verified.", r.Hashed)
	}
	return s
}

// runScan runs the scan pipeline: mod discovery, reparsing of changed mods,
// the cache sweep, optional hashing and the aggregate recount. A save that
// fails to parse is logged and left untouched; ledger errors abort.
func runScan(ctx context.Context, ledger *db.Ledger, d sweep.Dirs, opts scanOptions, log *zap.SugaredLogger) (scanReport, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	var report scanReport

	files, err := modFilesFor(d, opts.Only)
	if err != nil {
		return report, err
	}
	report.Mods = len(files)

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		outcome, err := reparseMod(ctx, ledger, d, f, log)
		if err != nil {
			return report, err
		}
		switch outcome {
		case parsed:
			report.Parsed++
		case unreadable:
			report.Skipped++
		}
	}

	// Files written while the walk runs are picked up by the next sweep.
	now := time.Now()
	last, err := ledger.LastSweepTime(ctx)
	if err != nil {
		return report, err
	}
	sightings, err := sweep.CacheFiles(d.Mods, last)
	if err != nil {
		return report, err
	}
	if report.Sightings, err = ledger.UpsertFilesystemSightings(ctx, sightings, now); err != nil {
		return report, err
	}
	log.Infow("Cache sweep finished", zap.Int("files", len(sightings)), zap.Int64("touched", report.Sightings))

	if opts.Verify {
		if report.Hashed, err = sweep.Verify(ctx, ledger, d.Mods, log); err != nil {
			return report, err
		}
		log.Infow("Verified cached files", zap.Int("hashed", report.Hashed))
	}

	report.Refreshed, err = refreshAggregates(ctx, ledger, log)
	return report, err
}

// modFilesFor lists the save files to consider. Named files that vanished
// are skipped.
func modFilesFor(d sweep.Dirs, only []string) ([]sweep.ModFile, error) {
	if len(only) == 0 {
		return sweep.ModFiles(d)
	}
	files := make([]sweep.ModFile, 0, len(only))
	for _, name := range only {
		path := d.Path(name)
		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to stat '%s': %w", path, err)
		}
		files = append(files, sweep.ModFile{Filename: name, Path: path, Mtime: info.ModTime().Unix()})
	}
	return files, nil
}

type parseOutcome int

const (
	unchanged parseOutcome = iota
	parsed
	unreadable
)

// reparseMod parses a save file the ledger has not seen at its current mtime
// and stores its references and metadata.
func reparseMod(ctx context.Context, ledger *db.Ledger, d sweep.Dirs, f sweep.ModFile, log *zap.SugaredLogger) (parseOutcome, error) {
	needed, err := ledger.ModNeedsReparse(ctx, f.Filename, f.Mtime)
	if err != nil || !needed {
		return unchanged, err
	}

	modLog := log.With(zap.String("mod", f.Filename))
	result, err := extractor.ExtractFile(f.Path)
	if err != nil {
		modLog.Warnw("Skipping unreadable save file", zap.Error(err))
		return unreadable, nil
	}

	if _, err := ledger.UpsertModSighting(ctx, f.Filename); err != nil {
		return unchanged, err
	}

	refs := make([]db.Reference, 0, len(result.Refs))
	for _, r := range result.Refs {
		cand := cachepath.ResolveExisting(d.Mods, r.URL, r.Trail)
		refs = append(refs, db.Reference{
			Key:   r.Key(),
			URL:   r.URL,
			Trail: r.Trail,
			Dir:   cand.Dir,
			Ext:   cand.Ext,
		})
	}

	if err := ledger.UpsertModReferences(ctx, f.Filename, refs); err != nil {
		return unchanged, err
	}
	// The mtime is stored last, so an interrupted parse is retried.
	if err := ledger.UpdateModMetadata(ctx, f.Filename, toModMeta(result.Mod), f.Mtime); err != nil {
		return unchanged, err
	}
	modLog.Infow("Parsed save file", zap.String("name", result.Mod.SaveName), zap.Int("references", len(refs)))
	return parsed, nil
}

// refreshAggregates recounts every mod the ledger reports as needing it.
func refreshAggregates(ctx context.Context, ledger *db.Ledger, log *zap.SugaredLogger) (int, error) {
	names, err := ledger.ModsNeedingRefresh(ctx)
	if err != nil {
		return 0, err
	}
	for _, name := range names {
		mod, err := ledger.RecomputeAggregates(ctx, name)
		if err != nil {
			return 0, err
		}
		log.Debugw("Recounted mod", zap.String("mod", name), zap.Int("total", mod.TotalAssets), zap.Int("missing", mod.MissingAssets))
	}
	return len(names), nil
}
