package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configDir string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tts-cache",
	Short: "Keeps the Tabletop Simulator asset cache complete",
	Long: `tts-cache finds every asset referenced by your Tabletop Simulator
mods and saves, tracks which of them are cached, and downloads the
missing ones into the game's Mods directory.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "Directory holding the .env file")
}
