package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"
)

// Table renders data as a formatted table.
type Table struct {
	headers []string
	rows    [][]string
	writer  io.Writer
}

// NewTable creates a new table with the given headers.
func NewTable(headers ...string) *Table {
	return &Table{
		headers: headers,
		writer:  os.Stdout,
	}
}

// AddRow adds a row to the table.
func (t *Table) AddRow(cols ...string) {
	t.rows = append(t.rows, cols)
}

// Render writes the table.
func (t *Table) Render() {
	w := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, strings.Join(t.headers, "\t"))
	sep := make([]string, len(t.headers))
	for i, h := range t.headers {
		sep[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(w, strings.Join(sep, "\t"))
	for _, row := range t.rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}

	w.Flush()
}

// wantsTable reports whether the caller should render a table itself
func wantsTable() bool {
	f := getOutputFormat()
	return f == "" || f == "table"
}

// printStructured prints data as JSON or YAML. Table output falls back to YAML
// for values that have no tabular form.
func printStructured(data interface{}) error {
	switch getOutputFormat() {
	case "json":
		return printJSON(os.Stdout, data)
	default:
		return printYAML(os.Stdout, data)
	}
}

func printJSON(w io.Writer, data interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// printYAML round-trips through JSON so field names match the API
func printYAML(w io.Writer, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(generic)
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// formatPriority renders a priority rank with its severity label.
func formatPriority(priority int) string {
	switch priority {
	case 1:
		return "[!] P1 critical"
	case 2:
		return "[H] P2 high"
	case 3:
		return "[M] P3 medium"
	default:
		return "[L] P4 low"
	}
}

// formatHealth returns a health or status string with a visual marker.
func formatHealth(status string) string {
	switch strings.ToLower(status) {
	case "healthy", "resolved", "closed", "dispatched":
		return "[+] " + status
	case "failed", "disabled":
		return "[-] " + status
	case "degraded", "open", "pending", "in_progress":
		return "[*] " + status
	case "acknowledged":
		return "[~] " + status
	default:
		return status
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
