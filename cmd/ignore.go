package cmd

import (
	"fmt"

	"tts-cache/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ignoreCmd represents the ignore command
var ignoreCmd = &cobra.Command{
	Use:   "ignore <mod> <url>",
	Short: "Stops counting an asset of a mod as missing",
	Long: `Marks a reference of a mod as ignored: it no longer counts as missing
and is not downloaded. Use --undo to count it again.
Example: tts-cache ignore 123456789 http://example.com/gone.png`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		undo, _ := cmd.Flags().GetBool("undo")

		cfg, ledger := bootstrap(configDir)
		mod, err := resolveModArg(dirsOf(cfg), args[0])
		if err != nil {
			logger.Log.Fatalw("Invalid mod argument", zap.String("mod", args[0]), zap.Error(err))
		}

		log := logger.Log.With(zap.String("mod", mod), zap.String("url", args[1]))
		if err := ledger.SetIgnoreMissing(cmd.Context(), mod, args[1], !undo); err != nil {
			log.Fatalw("Failed to update reference", zap.Error(err))
		}
		log.Infow("Updated reference", zap.Bool("ignored", !undo))

		updated, err := ledger.RecomputeAggregates(cmd.Context(), mod)
		if err != nil {
			log.Fatalw("Failed to recount mod", zap.Error(err))
		}
		fmt.Printf("%s: %d of %d assets missing\n", mod, updated.MissingAssets, updated.TotalAssets)
	},
}

func init() {
	rootCmd.AddCommand(ignoreCmd)

	ignoreCmd.Flags().Bool("undo", false, "Count the asset as missing again")
}
