// Package diff computes line diffs between fragment versions for the
// version-history views. Built on sergi/go-diff with a line-level reduction
// so prose edits show up as whole changed lines.
package diff

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"storyloom/internal/types"
)

// LineType classifies one diff line.
type LineType int

const (
	LineContext LineType = iota
	LineAdded
	LineRemoved
)

// Line is a single line of the diff.
type Line struct {
	Type    LineType
	Content string
}

// Result is the line diff between two contents.
type Result struct {
	Lines   []Line
	Added   int
	Removed int
}

// Changed reports whether the contents differ.
func (r *Result) Changed() bool {
	return r.Added > 0 || r.Removed > 0
}

// Engine wraps a configured diff-match-patch instance.
type Engine struct {
	dmp *diffmatchpatch.DiffMatchPatch
}

// NewEngine builds an engine tuned for accuracy over speed.
func NewEngine() *Engine {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	return &Engine{dmp: dmp}
}

// DefaultEngine serves package-level calls.
var DefaultEngine = NewEngine()

// Compute diffs two content strings line by line.
func (e *Engine) Compute(oldContent, newContent string) *Result {
	result := &Result{}
	if oldContent == newContent {
		for _, l := range splitLines(oldContent) {
			result.Lines = append(result.Lines, Line{Type: LineContext, Content: l})
		}
		return result
	}

	// Line-level reduction avoids newline boundary artifacts.
	a, b, lineArray := e.dmp.DiffLinesToChars(oldContent, newContent)
	diffs := e.dmp.DiffMain(a, b, false)
	diffs = e.dmp.DiffCleanupSemantic(diffs)
	diffs = e.dmp.DiffCharsToLines(diffs, lineArray)

	for _, d := range diffs {
		for _, l := range splitLines(d.Text) {
			switch d.Type {
			case diffmatchpatch.DiffInsert:
				result.Lines = append(result.Lines, Line{Type: LineAdded, Content: l})
				result.Added++
			case diffmatchpatch.DiffDelete:
				result.Lines = append(result.Lines, Line{Type: LineRemoved, Content: l})
				result.Removed++
			default:
				result.Lines = append(result.Lines, Line{Type: LineContext, Content: l})
			}
		}
	}
	return result
}

// Compute diffs two content strings with the default engine.
func Compute(oldContent, newContent string) *Result {
	return DefaultEngine.Compute(oldContent, newContent)
}

// Versions diffs the content of two version snapshots of a fragment.
func Versions(from, to *types.VersionSnapshot) *Result {
	return Compute(from.Content, to.Content)
}

// Render formats a result in unified-style text (+/-/space prefixes).
func Render(r *Result) string {
	var b strings.Builder
	for _, l := range r.Lines {
		switch l.Type {
		case LineAdded:
			fmt.Fprintf(&b, "+ %s\n", l.Content)
		case LineRemoved:
			fmt.Fprintf(&b, "- %s\n", l.Content)
		default:
			fmt.Fprintf(&b, "  %s\n", l.Content)
		}
	}
	return b.String()
}

func splitLines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
