package report

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Gate blocks a live execution on explicit operator confirmation. It is
// invoked only by the top-level command handler, never by the planner or
// classifier.
type Gate struct {
	in             io.Reader
	out            io.Writer
	nonInteractive bool
}

// NewGate creates a Gate reading confirmations from in and prompting on
// out. When nonInteractive is true, Confirm approves without prompting.
func NewGate(in io.Reader, out io.Writer, nonInteractive bool) *Gate {
	return &Gate{in: in, out: out, nonInteractive: nonInteractive}
}

// Confirm asks the operator to approve n deletions. Anything other than an
// explicit "y"/"yes" declines.
func (g *Gate) Confirm(n int) (bool, error) {
	if g.nonInteractive {
		return true, nil
	}

	fmt.Fprintf(g.out, "About to delete %d resources. Continue? [y/N] ", n)
	line, err := bufio.NewReader(g.in).ReadString('\n')
	if err != nil && line == "" {
		return false, fmt.Errorf("gate: read confirmation: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
