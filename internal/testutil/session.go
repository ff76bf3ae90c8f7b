package testutil

// DefaultSession is used when a FixedSessionGenerator is given no name.
const DefaultSession = "test-session-default"

// FixedSessionGenerator names every SysLog session the same, so scenario
// runs produce byte-identical event logs.
type FixedSessionGenerator struct {
	session string
}

// NewFixedSessionGenerator returns a generator for session. An empty
// session falls back to DefaultSession.
func NewFixedSessionGenerator(session string) *FixedSessionGenerator {
	if session == "" {
		session = DefaultSession
	}
	return &FixedSessionGenerator{session: session}
}

// Generate implements axiom.SessionGenerator.
func (g *FixedSessionGenerator) Generate() string {
	return g.session
}
