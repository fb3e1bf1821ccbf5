package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hypernetix/foundry-chat-go/pkg/foundry"
)

// formatSize formats file size in a human-readable format
func formatSize(size int64) string {
	if size == 0 {
		return "N/A"
	}

	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}

// truncateString truncates a string if it's longer than maxLen and adds "..."
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func printTableHeader(w io.Writer, columns []string, widths []int) {
	for i, col := range columns {
		fmt.Fprintf(w, "%-*s", widths[i], col)
		if i < len(columns)-1 {
			fmt.Fprint(w, " | ")
		}
	}
	fmt.Fprintln(w)

	for i, width := range widths {
		fmt.Fprint(w, strings.Repeat("-", width))
		if i < len(widths)-1 {
			fmt.Fprint(w, "-+-")
		}
	}
	fmt.Fprintln(w)
}

func modelStatus(m foundry.ModelDescriptor) string {
	if m.IsCached {
		return "cached"
	}
	return "(download required)"
}

// printModels prints the catalog as a table or JSON. The preferred model is
// marked with an asterisk.
func printModels(w io.Writer, models []foundry.ModelDescriptor, preferred string, jsonOutput bool) error {
	if jsonOutput {
		data, err := json.MarshalIndent(models, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal models: %w", err)
		}
		fmt.Fprintln(w, string(data))
		return nil
	}

	fmt.Fprintf(w, "\nModels:\n")
	if len(models) == 0 {
		fmt.Fprintln(w, "No models found")
		return nil
	}

	longest := 15
	for _, m := range models {
		longest = max(longest, len(m.ID))
	}
	longest += 2

	columns := []string{"ID", "Name", "Format", "Size", "Status"}
	widths := []int{longest, 25, 10, 10, 20}
	printTableHeader(w, columns, widths)

	for _, m := range models {
		id := m.ID
		if id == preferred {
			id = "* " + id
		}
		format := m.Format
		if format == "" {
			format = "N/A"
		}
		fmt.Fprintf(w, "%-*s | %-25s | %-10s | %-10s | %-20s\n",
			longest,
			truncateString(id, longest),
			truncateString(m.DisplayName, 25),
			truncateString(format, 10),
			formatSize(m.Size),
			modelStatus(m))
	}
	return nil
}

// displayProgressBar redraws a one-line progress bar; percentage is 0-100.
func displayProgressBar(w io.Writer, percentage float64) {
	const barWidth = 50
	filled := int(percentage / 100 * barWidth)
	filled = min(max(filled, 0), barWidth)

	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
	fmt.Fprintf(w, "\r: [%s] %.2f%%", bar, percentage)
}
