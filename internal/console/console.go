// Package console implements the interactive confirmation gate and the
// post-release version prompt.
package console

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"relcut/internal/staging"
)

var (
	headingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	kindStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801"))
	signedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50"))
	excerptStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	promptStyle    = lipgloss.NewStyle().Bold(true)
	containerStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// Gate presents the staged release for review and reads the operator's
// decision. Input and output are injectable so tests can script the
// session.
type Gate struct {
	in  *bufio.Reader
	out io.Writer
}

// NewGate returns a gate reading decisions from in and rendering to out.
func NewGate(in io.Reader, out io.Writer) *Gate {
	return &Gate{in: bufio.NewReader(in), out: out}
}

// Confirm renders the artifact summary and changelog excerpt, then asks
// whether to publish. Only an affirmative answer proceeds; any other
// input, including end of input, declines.
func (g *Gate) Confirm(coll *staging.Collection, excerpt string) (bool, error) {
	g.render(coll, excerpt)

	fmt.Fprint(g.out, promptStyle.Render(fmt.Sprintf("Publish release %s? [y/N] ", coll.Version())))
	line, err := readLine(g.in)
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("reading confirmation: %w", err)
	}
	return affirmative(line), nil
}

// NextVersion asks for the development version the tree moves to after
// publication, re-asking until the operator provides one.
func (g *Gate) NextVersion(published string) (string, error) {
	for {
		fmt.Fprint(g.out, promptStyle.Render(fmt.Sprintf("Next development version after %s: ", published)))
		line, err := readLine(g.in)
		if v := strings.TrimSpace(line); v != "" {
			return v, nil
		}
		if err != nil {
			return "", fmt.Errorf("reading next version: %w", err)
		}
	}
}

func (g *Gate) render(coll *staging.Collection, excerpt string) {
	var b strings.Builder

	b.WriteString(headingStyle.Render(fmt.Sprintf("Release %s", coll.Version())))
	b.WriteString("\n\n")
	for _, a := range coll.Artifacts() {
		state := " "
		if a.Signed {
			state = signedStyle.Render("signed")
		}
		fmt.Fprintf(&b, "  %-8s %s  %s\n", kindStyle.Render(string(a.Kind)), a.Name, state)
	}
	if excerpt != "" {
		b.WriteString("\n")
		b.WriteString(excerptStyle.Render(excerpt))
		b.WriteString("\n")
	}

	fmt.Fprintln(g.out, containerStyle.Render(strings.TrimRight(b.String(), "\n")))
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return line, nil
}

func affirmative(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
