// Package tui provides terminal output styling for the jn CLI.
// Simple, streaming, no complex TUI - just clean prompts and output.
package tui

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"

	"github.com/botassembly/jn/pkg/plugin"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
)

// PrintError writes a single-line error to stderr. Record output on
// stdout stays machine-readable; everything human goes here.
func PrintError(err error) {
	fmt.Fprintf(os.Stderr, "%s %v\n", accentStyle.Render("Error:"), err)
}

// PrintStageFailure writes one stage's captured stderr under a header.
// Used by verbose mode after a pipeline failure.
func PrintStageFailure(stage string, exitCode int, stderr string) {
	fmt.Fprintf(os.Stderr, "%s %s exited %d\n", accentStyle.Render("▸"), titleStyle.Render(stage), exitCode)
	if stderr != "" {
		fmt.Fprintln(os.Stderr, mutedStyle.Render(stderr))
	}
}

// PrintPluginList renders the discovered plugin table, grouped by
// category, name-sorted within each group.
func PrintPluginList(plugins map[string]*plugin.Metadata) {
	byCategory := map[string][]*plugin.Metadata{}
	for _, meta := range plugins {
		byCategory[meta.Category] = append(byCategory[meta.Category], meta)
	}

	categories := make([]string, 0, len(byCategory))
	for cat := range byCategory {
		categories = append(categories, cat)
	}
	sort.Strings(categories)

	for _, cat := range categories {
		group := byCategory[cat]
		sort.Slice(group, func(i, j int) bool { return group[i].Name < group[j].Name })

		fmt.Println()
		fmt.Println(accentStyle.Render("▸ " + cat))
		for _, meta := range group {
			role := string(meta.Role)
			if role == "" {
				role = "filter"
			}
			fmt.Printf("  %s %s\n", titleStyle.Render(padRight(meta.Name, 18)), mutedStyle.Render(role))
		}
	}
	fmt.Println()
}

// PrintPluginDetail renders one plugin's metadata.
func PrintPluginDetail(meta *plugin.Metadata) {
	fmt.Println()
	fmt.Println(titleStyle.Render("  " + meta.Name))
	fmt.Printf("  %s %s\n", mutedStyle.Render("Path:"), meta.Path)
	fmt.Printf("  %s %s\n", mutedStyle.Render("Category:"), meta.Category)
	fmt.Printf("  %s %s\n", mutedStyle.Render("Role:"), string(meta.Role))
	if len(meta.Matches) > 0 {
		fmt.Printf("  %s\n", mutedStyle.Render("Matches:"))
		for _, pat := range meta.Matches {
			fmt.Printf("    %s\n", pat)
		}
	}
	if meta.SupportsRaw {
		fmt.Println(mutedStyle.Render("  Supports raw streaming"))
	}
	fmt.Println()
}

// PrintWatchEvent reports one watch-triggered rerun.
func PrintWatchEvent(path string, when time.Time) {
	fmt.Fprintf(os.Stderr, "%s %s %s\n",
		accentStyle.Render("⟳"),
		titleStyle.Render(path),
		mutedStyle.Render(when.Format("15:04:05")))
}

// PrintDone reports successful completion with timing, verbose mode only.
func PrintDone(records int64, elapsed time.Duration) {
	fmt.Fprintf(os.Stderr, "%s %s records %s\n",
		successStyle.Render("✓"),
		titleStyle.Render(formatNumber(records)),
		mutedStyle.Render("("+formatDuration(elapsed)+")"))
}

func padRight(s string, width int) string {
	for len(s) < width {
		s += " "
	}
	return s
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

// ShowProgress creates a progress bar for record copies with a known
// total, such as bounded head output.
func ShowProgress(total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// Spinner shows a simple loading indicator while discovery runs.
func Spinner(message string, done chan bool) {
	frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	i := 0
	for {
		select {
		case <-done:
			fmt.Fprint(os.Stderr, "\r\033[K")
			return
		default:
			fmt.Fprintf(os.Stderr, "\r%s %s", accentStyle.Render(frames[i]), message)
			i = (i + 1) % len(frames)
			time.Sleep(80 * time.Millisecond)
		}
	}
}
