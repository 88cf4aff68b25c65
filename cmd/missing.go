package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"tts-cache/db"
	"tts-cache/logger"
	"tts-cache/ui"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// missingCmd represents the missing command
var missingCmd = &cobra.Command{
	Use:   "missing <mod>",
	Short: "Lists the assets a mod still needs",
	Long: `Lists every asset of a mod that is absent from the cache or fails
verification, with the JSON trail it was found at and the reason the
last download failed. Ignored references are not listed.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, ledger := bootstrap(configDir)
		mod, err := resolveModArg(dirsOf(cfg), args[0])
		if err != nil {
			logger.Log.Fatalw("Invalid mod argument", zap.String("mod", args[0]), zap.Error(err))
		}
		if err := printMissing(cmd.Context(), os.Stdout, ledger, mod); err != nil {
			logger.Log.Fatalw("Failed to list missing assets", zap.String("mod", mod), zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(missingCmd)
}

func printMissing(ctx context.Context, w io.Writer, ledger *db.Ledger, modFilename string) error {
	mod, err := ledger.GetMod(ctx, modFilename)
	if err != nil {
		return err
	}
	rows, err := ledger.ModAssets(ctx, modFilename)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s %s\n", ui.Title.Render(modTitle(mod)), ui.MissingCount(mod.MissingAssets, mod.TotalAssets))
	for _, r := range rows {
		if !r.Missing || r.IgnoreMissing {
			continue
		}
		fmt.Fprintf(w, "  %s\n    %s  %s\n", r.URL, ui.Faint.Render(strings.Join(r.Trail, " / ")), downloadState(r.DownloadStatus, r.Mtime))
	}
	return nil
}

// downloadState describes a missing asset: never tried, or why it failed.
func downloadState(status string, mtime int64) string {
	if status != "" {
		return ui.Status(status)
	}
	if mtime > 0 {
		return ui.Warning.Render("hash mismatch")
	}
	return ui.Faint.Render("not downloaded")
}

// modTitle is the save name, or the filename for unnamed saves.
func modTitle(m db.Mod) string {
	if m.Name != "" {
		return fmt.Sprintf("%s (%s)", m.Name, m.Filename)
	}
	return m.Filename
}
