package output

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.English)

// Title converts snake_case or lower-case labels to Title Case.
func Title(s string) string {
	return titleCaser.String(strings.ReplaceAll(s, "_", " "))
}

// FormatHeader returns a markdown heading.
func FormatHeader(level int, text string) string {
	if level < 1 {
		level = 1
	}
	return strings.Repeat("#", level) + " " + text
}

// FormatKeyValue returns a markdown list item "- **key**: value".
func FormatKeyValue(key, value string) string {
	return fmt.Sprintf("- **%s**: %s", key, value)
}

// Table writes rows under headers: a light box table in text mode, a pipe
// table in markdown mode.
func (r *Renderer) Table(headers []string, rows [][]string) {
	t := table.NewWriter()
	t.SetOutputMirror(r.out)

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = Title(h)
	}
	t.AppendHeader(header)

	for _, row := range rows {
		tr := make(table.Row, len(row))
		for i, v := range row {
			tr[i] = v
		}
		t.AppendRow(tr)
	}

	if r.EffectiveMode() == ModeMarkdown {
		t.RenderMarkdown()
		return
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}

// Diff writes a unified diff, coloring added and removed lines in text mode.
func (r *Renderer) Diff(diff string) {
	if r.EffectiveMode() == ModeMarkdown {
		r.Println("```diff")
		r.Printf("%s", diff)
		if !strings.HasSuffix(diff, "\n") {
			r.Println("")
		}
		r.Println("```")
		return
	}
	for _, line := range strings.Split(strings.TrimSuffix(diff, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			r.Println(r.styles.Bold.Render(line))
		case strings.HasPrefix(line, "+"):
			r.Println(r.styles.Added.Render(line))
		case strings.HasPrefix(line, "-"):
			r.Println(r.styles.Remove.Render(line))
		case strings.HasPrefix(line, "@@"):
			r.Println(r.styles.NodeID.Render(line))
		default:
			r.Println(line)
		}
	}
}
