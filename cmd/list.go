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

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists known mods with their cache state",
	Run: func(cmd *cobra.Command, args []string) {
		incomplete, _ := cmd.Flags().GetBool("incomplete")

		_, ledger := bootstrap(configDir)
		if err := printModList(cmd.Context(), os.Stdout, ledger, incomplete); err != nil {
			logger.Log.Fatalw("Failed to list mods", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().BoolP("incomplete", "i", false, "Only list mods with missing assets")
}

var (
	nameColumn  = lipgloss.NewStyle().Width(40).MaxWidth(40)
	countColumn = lipgloss.NewStyle().Width(12).Align(lipgloss.Right)
	sizeColumn  = lipgloss.NewStyle().Width(10).Align(lipgloss.Right)
)

func printModList(ctx context.Context, w io.Writer, ledger *db.Ledger, incomplete bool) error {
	mods, err := ledger.ListMods(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, ui.Title.Render(nameColumn.Render("Mod")+countColumn.Render("Missing")+sizeColumn.Render("Size")+"  Tags"))
	shown := 0
	for _, m := range mods {
		if incomplete && m.MissingAssets <= 0 {
			continue
		}
		name := m.Name
		if name == "" {
			name = m.Filename
		}
		fmt.Fprintf(w, "%s%s%s  %s\n",
			nameColumn.Render(name),
			countColumn.Render(ui.MissingCount(m.MissingAssets, m.TotalAssets)),
			sizeColumn.Render(ui.Size(m.Size)),
			ui.Faint.Render(strings.Join(m.TagNames(), ", ")),
		)
		shown++
	}
	if shown == 0 {
		fmt.Fprintln(w, "No mods found. Run 'tts-cache scan' first.")
	}
	return nil
}
