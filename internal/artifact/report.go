// ABOUTME: Task report rendering into workspace output directories
// ABOUTME: Writes report.md alongside a goldmark-converted report.html

package artifact

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yuin/goldmark"
)

// Report holds the fields rendered into a task report.
type Report struct {
	TaskID          string
	Description     string
	AgentName       string
	Model           string
	OutputText      string
	InputTokens     int64
	OutputTokens    int64
	CostUSD         float64
	DurationSeconds float64
	CompletedAt     time.Time
}

//go:embed templates/report.html.tmpl
var reportShell string

var reportTmpl = template.Must(template.New("report").Parse(reportShell))

type reportPage struct {
	Title string
	Body  template.HTML
}

// WriteReport renders r as markdown and HTML into dir, returning the
// paths of the two files written.
func WriteReport(dir string, r Report) (mdPath, htmlPath string, err error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", "", fmt.Errorf("creating report directory: %w", err)
	}

	md := renderMarkdown(r)
	mdPath = filepath.Join(dir, "report.md")
	if err := os.WriteFile(mdPath, []byte(md), 0644); err != nil {
		return "", "", fmt.Errorf("writing report.md: %w", err)
	}

	var htmlBuf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &htmlBuf); err != nil {
		return "", "", fmt.Errorf("converting report markdown: %w", err)
	}

	var page bytes.Buffer
	err = reportTmpl.Execute(&page, reportPage{
		Title: r.TaskID,
		Body:  template.HTML(htmlBuf.String()),
	})
	if err != nil {
		return "", "", fmt.Errorf("rendering report page: %w", err)
	}

	htmlPath = filepath.Join(dir, "report.html")
	if err := os.WriteFile(htmlPath, page.Bytes(), 0644); err != nil {
		return "", "", fmt.Errorf("writing report.html: %w", err)
	}

	return mdPath, htmlPath, nil
}

func renderMarkdown(r Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Task Report: %s\n\n", r.TaskID)
	if r.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", r.Description)
	}

	b.WriteString("| | |\n|---|---|\n")
	if r.AgentName != "" {
		fmt.Fprintf(&b, "| Agent | %s |\n", r.AgentName)
	}
	if r.Model != "" {
		fmt.Fprintf(&b, "| Model | %s |\n", r.Model)
	}
	fmt.Fprintf(&b, "| Input tokens | %d |\n", r.InputTokens)
	fmt.Fprintf(&b, "| Output tokens | %d |\n", r.OutputTokens)
	if r.CostUSD > 0 {
		fmt.Fprintf(&b, "| Cost | $%.4f |\n", r.CostUSD)
	}
	fmt.Fprintf(&b, "| Duration | %.1fs |\n", r.DurationSeconds)
	if !r.CompletedAt.IsZero() {
		fmt.Fprintf(&b, "| Completed | %s |\n", r.CompletedAt.UTC().Format(time.RFC3339))
	}
	b.WriteString("\n## Output\n\n")
	b.WriteString(r.OutputText)
	b.WriteString("\n")
	return b.String()
}
