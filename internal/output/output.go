// Package output renders CLI results: styled text on a terminal, plain
// text when piped, JSON on request.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/llmc-dev/llmc/internal/planner"
)

// Palette, single accent.
const (
	colorAccent    = "154"
	colorAccentDim = "106"
	colorGray      = "245"
	colorRed       = "196"
	colorYellow    = "220"
)

// Styles holds the render styles in use.
type Styles struct {
	Header  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Dim     lipgloss.Style
	Accent  lipgloss.Style
}

func styledStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorAccent)),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color(colorAccent)),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color(colorYellow)),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color(colorRed)),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray)),
		Accent:  lipgloss.NewStyle().Foreground(lipgloss.Color(colorAccentDim)),
	}
}

func plainStyles() Styles {
	return Styles{}
}

// Writer renders to one stream.
type Writer struct {
	out    io.Writer
	styles Styles
	json   bool
}

// Option configures a Writer.
type Option func(*Writer)

// WithJSON switches the writer to JSON rendering.
func WithJSON() Option {
	return func(w *Writer) { w.json = true }
}

// WithColor forces styled output regardless of TTY detection.
func WithColor(on bool) Option {
	return func(w *Writer) {
		if on {
			w.styles = styledStyles()
		} else {
			w.styles = plainStyles()
		}
	}
}

// New builds a writer, styling only when out is a terminal.
func New(out io.Writer, opts ...Option) *Writer {
	w := &Writer{out: out, styles: plainStyles()}
	if f, ok := out.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		w.styles = styledStyles()
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// JSON reports whether the writer is in JSON mode.
func (w *Writer) JSON() bool { return w.json }

// Successf prints a success line.
func (w *Writer) Successf(format string, args ...any) {
	fmt.Fprintln(w.out, w.styles.Success.Render("ok")+" "+fmt.Sprintf(format, args...))
}

// Warnf prints a warning line.
func (w *Writer) Warnf(format string, args ...any) {
	fmt.Fprintln(w.out, w.styles.Warning.Render("warn")+" "+fmt.Sprintf(format, args...))
}

// Errorf prints an error line.
func (w *Writer) Errorf(format string, args ...any) {
	fmt.Fprintln(w.out, w.styles.Error.Render("error")+" "+fmt.Sprintf(format, args...))
}

// Statusf prints a neutral status line.
func (w *Writer) Statusf(format string, args ...any) {
	fmt.Fprintln(w.out, fmt.Sprintf(format, args...))
}

// Headerf prints a section header.
func (w *Writer) Headerf(format string, args ...any) {
	fmt.Fprintln(w.out, w.styles.Header.Render(fmt.Sprintf(format, args...)))
}

// KV prints an aligned key/value detail line.
func (w *Writer) KV(key, value string) {
	fmt.Fprintf(w.out, "  %s %s\n", w.styles.Dim.Render(fmt.Sprintf("%-14s", key)), value)
}

// Emit marshals v in JSON mode; returns false otherwise so the caller
// renders text.
func (w *Writer) Emit(v any) bool {
	if !w.json {
		return false
	}
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
	return true
}

// Plan renders a query plan.
func (w *Writer) Plan(res *planner.PlanResult) {
	if w.Emit(res) {
		return
	}

	w.Headerf("%s  %s", res.Route.Strategy, res.Query)
	w.KV("intent", fmt.Sprintf("%s (%.2f)", res.Intent.IntentType, res.Intent.Confidence))
	w.KV("freshness", res.Freshness)
	w.KV("source", res.Source)
	if res.Cached {
		w.KV("cache", "hit")
	}
	if len(res.Spans) == 0 {
		fmt.Fprintln(w.out, w.styles.Dim.Render("  no spans"))
		return
	}
	fmt.Fprintln(w.out)
	for i, s := range res.Spans {
		loc := s.FilePath
		if s.Symbol != "" {
			loc += "  " + w.styles.Accent.Render(s.Symbol)
		}
		fmt.Fprintf(w.out, "  %2d. %s %s\n", i+1, loc,
			w.styles.Dim.Render(fmt.Sprintf("(%.4f %s)", s.Score, channelNames(s.Channels))))
	}
}

func channelNames(channels map[string]float64) string {
	if len(channels) == 0 {
		return ""
	}
	names := make([]string, 0, len(channels))
	for name := range channels {
		names = append(names, name)
	}
	// Stable order for output and tests.
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j] < names[j-1]; j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}
	return strings.Join(names, "+")
}
