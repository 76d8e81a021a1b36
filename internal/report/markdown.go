package report

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/farid/autostrike/internal/models"
)

// Assembler renders a finished session's transcript into a markdown
// artifact on disk. The returned reference is the artifact's path.
type Assembler struct {
	// Dir is the directory report files are written under.
	Dir string
}

// NewAssembler returns an Assembler writing under dir.
func NewAssembler(dir string) *Assembler {
	return &Assembler{Dir: dir}
}

// Assemble writes the report for sess and returns the artifact reference.
func (a *Assembler) Assemble(sess *models.ScanSession) (string, error) {
	if err := os.MkdirAll(a.Dir, 0755); err != nil {
		return "", fmt.Errorf("report: creating report directory: %w", err)
	}

	path := filepath.Join(a.Dir, sanitizeName(sess.ID)+".md")
	if err := os.WriteFile(path, []byte(Render(sess)), 0644); err != nil {
		return "", fmt.Errorf("report: writing %s: %w", path, err)
	}
	return path, nil
}

// Render produces the markdown report body for a session.
func Render(sess *models.ScanSession) string {
	var b strings.Builder

	// Header
	b.WriteString("# Scan Session Report\n\n")
	b.WriteString(fmt.Sprintf("**Session:** %s (%s)\n", sess.Name, sess.ID))
	b.WriteString(fmt.Sprintf("**Target:** %s\n", sess.Target))
	b.WriteString(fmt.Sprintf("**Mode:** %s | **Status:** %s | **Rounds:** %d/%d\n",
		sess.Mode, sess.Status, sess.ExecutedRounds(), sess.IterationLimit))
	b.WriteString(fmt.Sprintf("**Started:** %s\n", formatTime(sess.StartedAt)))
	b.WriteString(fmt.Sprintf("**Finished:** %s\n\n", formatTime(sess.FinishedAt)))

	if sess.Failure != "" {
		b.WriteString("## Failure\n\n")
		b.WriteString(sess.Failure + "\n\n")
	}

	// Command summary table
	b.WriteString("## Commands\n\n")
	if len(sess.Transcript) > 0 {
		b.WriteString("| # | Command | Source | Exit | Note |\n")
		b.WriteString("|---|---------|--------|------|------|\n")
		for i, rec := range sess.Transcript {
			b.WriteString(fmt.Sprintf("| %d | `%s` | %s | %s | %s |\n",
				i+1, escapePipes(rec.Command), rec.ProposedBy, exitCell(rec), noteCell(rec)))
		}
	} else {
		b.WriteString("No commands were executed.\n")
	}
	b.WriteString("\n")

	// Per-round detail
	for i, rec := range sess.Transcript {
		b.WriteString(fmt.Sprintf("## Round %d: `%s`\n\n", i+1, escapePipes(rec.Command)))
		if rec.Superseded {
			b.WriteString("_Proposed by the generator but superseded by an operator override; never executed._\n\n")
			continue
		}
		if rec.Reasoning != "" {
			b.WriteString(rec.Reasoning + "\n\n")
		}
		if rec.Outcome == nil {
			b.WriteString("_No outcome recorded._\n\n")
			continue
		}
		b.WriteString(fmt.Sprintf("Exit code: %d\n\n", rec.Outcome.ExitCode))
		if rec.Outcome.Error != "" {
			b.WriteString("Error: " + rec.Outcome.Error + "\n\n")
		}
		if rec.Outcome.Output != "" {
			b.WriteString("```\n")
			b.WriteString(strings.TrimRight(rec.Outcome.Output, "\n"))
			b.WriteString("\n```\n\n")
		}
	}

	return b.String()
}

// exitCell renders the exit-code column for the summary table.
func exitCell(rec models.CommandRecord) string {
	if rec.Outcome == nil {
		return "—"
	}
	return fmt.Sprintf("%d", rec.Outcome.ExitCode)
}

// noteCell renders the note column for the summary table.
func noteCell(rec models.CommandRecord) string {
	switch {
	case rec.Superseded:
		return "superseded"
	case rec.Outcome != nil && rec.Outcome.Error != "":
		return "failed"
	case rec.Outcome == nil:
		return "pending"
	}
	return ""
}

// escapePipes keeps command text from breaking markdown table cells.
func escapePipes(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9.\-]+`)

// sanitizeName replaces characters unsafe for filesystem paths.
func sanitizeName(name string) string {
	return unsafeNameChars.ReplaceAllString(name, "_")
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "—"
	}
	return t.Format("2006-01-02 15:04:05")
}
