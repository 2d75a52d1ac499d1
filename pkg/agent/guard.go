package agent

import "strings"

const (
	guardWindow    = 6
	guardThreshold = 3
)

// repetitionGuard watches the recent action inputs for verbatim repeats. The
// step budget is the hard backstop; this trips earlier when the model is
// plainly looping.
type repetitionGuard struct {
	recent []string
}

func newRepetitionGuard() *repetitionGuard {
	return &repetitionGuard{}
}

// record adds an action input and reports whether the loop should stop.
func (g *repetitionGuard) record(input string) bool {
	sig := strings.TrimSpace(input)
	g.recent = append(g.recent, sig)
	if len(g.recent) > guardWindow {
		g.recent = g.recent[len(g.recent)-guardWindow:]
	}
	n := 0
	for _, s := range g.recent {
		if s == sig {
			n++
		}
	}
	return n >= guardThreshold
}
