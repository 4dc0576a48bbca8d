package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner outputs the Conduit ASCII banner.
func PrintBanner(w io.Writer) {
	p := termenv.ColorProfile()
	// Using a subtle gradient-like color scheme (Teal/Cyan)
	lines := []struct {
		text  string
		color string
	}{
		{"   ___                _       _ _   ", "#2dd4bf"},
		{"  / __\\___  _ __   __| |_   _(_) |_ ", "#22d3ee"},
		{" / /  / _ \\| '_ \\ / _` | | | | | __|", "#38bdf8"},
		{"/ /__| (_) | | | | (_| | |_| | | |_ ", "#60a5fa"},
		{"\\____/\\___/|_| |_|\\__,_|\\__,_|_|\\__|", "#818cf8"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w)
}

// StatusColor renders a run status in the colour of its outcome.
func StatusColor(status string) string {
	p := termenv.ColorProfile()
	color := "#a1a1aa"
	switch status {
	case "completed":
		color = "#4ade80"
	case "failed":
		color = "#f87171"
	case "awaiting_approval":
		color = "#facc15"
	case "cancelled":
		color = "#fb923c"
	}
	return termenv.String(status).Foreground(p.Color(color)).Bold().String()
}
