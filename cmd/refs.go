package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"tts-cache/cachepath"
	"tts-cache/db"
	"tts-cache/logger"
	"tts-cache/ui"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// refsCmd represents the refs command
var refsCmd = &cobra.Command{
	Use:   "refs <url>",
	Short: "Shows which mods reference an asset",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		_, ledger := bootstrap(configDir)
		if err := printReferences(cmd.Context(), os.Stdout, ledger, args[0]); err != nil {
			logger.Log.Fatalw("Failed to look up references", zap.String("url", args[0]), zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(refsCmd)
}

func printReferences(ctx context.Context, w io.Writer, ledger *db.Ledger, url string) error {
	asset, err := ledger.AssetByURL(ctx, url)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		fmt.Fprintf(w, "%s is not referenced by any known mod.\n", url)
		return nil
	}
	if err != nil {
		return err
	}

	state := ui.Success.Render("cached")
	if asset.Missing() {
		state = downloadState(asset.DownloadStatus, asset.Mtime)
	}
	fmt.Fprintf(w, "%s\n  %s  %s  %s\n", ui.Title.Render(url), cacheLocation(asset), ui.Size(asset.Size), state)

	mods, err := ledger.ModsReferencing(ctx, url)
	if err != nil {
		return err
	}
	for _, m := range mods {
		fmt.Fprintf(w, "  • %s\n", m)
	}
	return nil
}

// cacheLocation is the cache-relative path of an asset. Assets never seen on
// disk show their candidate.
func cacheLocation(a db.Asset) string {
	if a.CacheDir != "" {
		return a.Path()
	}
	return ui.Faint.Render(cachepath.Recode(a.URL))
}
