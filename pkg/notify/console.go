package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
)

// ConsoleSink prints notifications to a terminal.
type ConsoleSink struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsoleSink writes to out, or stdout when out is nil.
func NewConsoleSink(out io.Writer) *ConsoleSink {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleSink{out: out}
}

var kindColors = map[Kind]*color.Color{
	KindRelease:   color.New(color.FgGreen, color.Bold),
	KindStar:      color.New(color.FgYellow, color.Bold),
	KindIssue:     color.New(color.FgCyan, color.Bold),
	KindHealth:    color.New(color.FgMagenta, color.Bold),
	KindActivity:  color.New(color.FgBlue, color.Bold),
	KindMilestone: color.New(color.FgHiYellow, color.Bold),
}

// Deliver writes a two or three line summary of n.
func (s *ConsoleSink) Deliver(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := kindColors[n.Kind]
	if !ok {
		c = color.New(color.Bold)
	}
	if _, err := fmt.Fprintf(s.out, "%s %s\n", c.Sprintf("[%s]", n.Kind), n.Title); err != nil {
		return err
	}
	if n.Body != "" {
		if _, err := fmt.Fprintf(s.out, "  %s\n", n.Body); err != nil {
			return err
		}
	}
	if n.TargetURL != "" {
		if _, err := fmt.Fprintf(s.out, "  %s\n", color.New(color.Faint).Sprint(n.TargetURL)); err != nil {
			return err
		}
	}
	return nil
}
