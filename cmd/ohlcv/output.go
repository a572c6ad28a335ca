package main

import (
	"encoding/json"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
)

const displayTimeLayout = "2006-01-02 15:04"

// Output formatting functions

// outputJSON writes v as indented JSON
func outputJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// outputTable writes rows as a bordered table
func outputTable(w io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.AppendBulk(rows)
	table.Render()
}

// formatTime renders an optional timestamp for table output
func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(displayTimeLayout)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonEmptySlice(values ...[]string) []string {
	for _, v := range values {
		if len(v) > 0 {
			return v
		}
	}
	return nil
}
