package cmd

import (
	"fmt"
	"os"

	"tts-cache/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// namesCmd groups the content name commands
var namesCmd = &cobra.Command{
	Use:   "names",
	Short: "Exports or imports the display names of downloaded assets",
	Long: `Asset hosts often send the original file name of an upload. These
names are kept in the ledger and can be shared as a CSV file of
"url,name" rows.`,
}

var namesExportCmd = &cobra.Command{
	Use:   "export <csv>",
	Short: "Writes known display names to a CSV file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		_, ledger := bootstrap(configDir)

		f, err := os.Create(args[0])
		if err != nil {
			logger.Log.Fatalw("Failed to create file", zap.String("file", args[0]), zap.Error(err))
		}
		n, err := ledger.ExportContentNames(cmd.Context(), f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			logger.Log.Fatalw("Failed to export content names", zap.Error(err))
		}
		fmt.Printf("Exported %d names to %s\n", n, args[0])
	},
}

var namesImportCmd = &cobra.Command{
	Use:   "import <csv>",
	Short: "Reads display names from a CSV file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		_, ledger := bootstrap(configDir)

		f, err := os.Open(args[0])
		if err != nil {
			logger.Log.Fatalw("Failed to open file", zap.String("file", args[0]), zap.Error(err))
		}
		defer f.Close()
		n, err := ledger.ImportContentNames(cmd.Context(), f)
		if err != nil {
			logger.Log.Fatalw("Failed to import content names", zap.Error(err))
		}
		fmt.Printf("Imported %d names from %s\n", n, args[0])
	},
}

func init() {
	rootCmd.AddCommand(namesCmd)
	namesCmd.AddCommand(namesExportCmd, namesImportCmd)
}
