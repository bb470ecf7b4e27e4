package output

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Printer writes human-facing progress: bold application lines, dimmed command lines, and
// italic command output. Writes are safe for concurrent use.
type Printer struct {
	mu sync.Mutex

	out                io.Writer
	appStyle           lipgloss.Style
	commandStyle       lipgloss.Style
	commandOutputStyle lipgloss.Style
	passStyle          lipgloss.Style
	failStyle          lipgloss.Style
	last               outputKind
}

type outputKind int

const (
	outputNone outputKind = iota
	outputApp
	outputCommand
)

// NewPrinter creates a Printer that writes to out. Color is used only when out is a terminal
// that supports it.
func NewPrinter(out io.Writer) *Printer {
	if out == nil {
		out = io.Discard
	}
	r := lipgloss.NewRenderer(out)
	base := r.NewStyle().TabWidth(lipgloss.NoTabConversion)

	return &Printer{
		out:                out,
		appStyle:           base.Bold(true),
		commandStyle:       base.Foreground(lipgloss.AdaptiveColor{Light: "25", Dark: "110"}),
		commandOutputStyle: base.Italic(true).Foreground(lipgloss.AdaptiveColor{Light: "238", Dark: "252"}),
		passStyle:          base.Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "28", Dark: "78"}),
		failStyle:          base.Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "124", Dark: "203"}),
		last:               outputNone,
	}
}

// App writes bold application output.
func (p *Printer) App(text string) error {
	return p.appLine(p.appStyle, text)
}

func (p *Printer) Appf(format string, args ...any) error {
	return p.App(fmt.Sprintf(format, args...))
}

// Verdict writes an application line colored by outcome.
func (p *Printer) Verdict(passed bool, text string) error {
	style := p.failStyle
	if passed {
		style = p.passStyle
	}
	return p.appLine(style, text)
}

func (p *Printer) appLine(style lipgloss.Style, text string) error {
	if text == "" {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == outputCommand {
		if _, err := io.WriteString(p.out, "\n"); err != nil {
			return err
		}
	}
	if err := p.writeStyled(style, ensureTrailingNewline(text)); err != nil {
		return err
	}
	p.last = outputApp
	return nil
}

// Command prints a command invocation. Output written afterwards through CommandOutput is
// grouped under it.
func (p *Printer) Command(name string, args ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last != outputNone {
		if _, err := io.WriteString(p.out, "\n"); err != nil {
			return err
		}
	}
	if err := p.writeStyled(p.commandStyle, ensureTrailingNewline(formatCommand(name, args))); err != nil {
		return err
	}
	p.last = outputCommand
	return nil
}

// CommandOutput returns a writer that styles everything written to it as command output.
func (p *Printer) CommandOutput() io.Writer {
	return &styledWriter{p: p}
}

// writeStyled renders line by line so multi-line text is not padded into a block. Callers
// hold p.mu.
func (p *Printer) writeStyled(style lipgloss.Style, text string) error {
	if text == "" {
		return nil
	}
	var b strings.Builder
	for {
		line, rest, found := strings.Cut(text, "\n")
		if line != "" {
			b.WriteString(style.Render(line))
		}
		if !found {
			break
		}
		b.WriteString("\n")
		text = rest
	}
	_, err := io.WriteString(p.out, b.String())
	return err
}

type styledWriter struct {
	p *Printer
}

func (w *styledWriter) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	w.p.mu.Lock()
	defer w.p.mu.Unlock()
	if err := w.p.writeStyled(w.p.commandOutputStyle, string(b)); err != nil {
		return 0, err
	}
	w.p.last = outputCommand
	return len(b), nil
}

func ensureTrailingNewline(text string) string {
	if strings.HasSuffix(text, "\n") {
		return text
	}
	return text + "\n"
}

func formatCommand(name string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, quoteArg(name))
	for _, arg := range args {
		parts = append(parts, quoteArg(arg))
	}
	return strings.Join(parts, " ")
}

func quoteArg(arg string) string {
	if arg == "" {
		return "''"
	}
	if !strings.ContainsAny(arg, " \t\n'\"\\$&|;<>*?[]{}()") {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", "'\"'\"'") + "'"
}
