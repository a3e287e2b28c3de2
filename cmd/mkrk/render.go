package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"muckrake/internal/model"
)

var (
	styleBold   = lipgloss.NewStyle().Bold(true)
	styleDim    = lipgloss.NewStyle().Faint(true)
	styleOk     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	styleWarn   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	styleBad    = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	styleAccent = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
)

func printFiles(files []model.TrackedFile) {
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "  (no files)")
		return
	}
	for i := range files {
		f := &files[i]
		protection := "editable"
		if f.Immutable {
			protection = "immutable"
		}
		fmt.Printf("  %s %s [%s] %s\n",
			styleBold.Render(f.Name),
			styleDim.Render(f.Path),
			protection,
			styleDim.Render(humanize.Bytes(uint64(f.Size))),
		)
	}
}

func protectionLabel(level model.ProtectionLevel, flagSet bool) string {
	if level == model.Immutable && !flagSet {
		return "immutable (flag failed)"
	}
	return level.String()
}
