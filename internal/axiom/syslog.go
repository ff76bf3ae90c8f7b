package axiom

import (
	"sync"

	"go.uber.org/zap"

	"github.com/roach88/axiom/internal/logging"
	"github.com/roach88/axiom/internal/metrics"
	"github.com/roach88/axiom/internal/state"
)

// Request is the payload of a request event.
type Request struct {
	Num  uint64    `json:"num"`
	Args [4]uint64 `json:"args"`
}

// Response is the payload of a response event.
type Response struct {
	RequestID EventID `json:"request_id"`
	Result    int64   `json:"result"`
}

// SysEvent is one SysLog entry. Exactly one of Request and Response is set.
type SysEvent struct {
	ID        EventID   `json:"id"`
	Session   string    `json:"session"`
	Sender    state.PID `json:"sender"`
	Timestamp uint64    `json:"timestamp"`
	Request   *Request  `json:"request,omitempty"`
	Response  *Response `json:"response,omitempty"`
}

// EventSink persists SysLog events.
type EventSink interface {
	AppendEvent(e SysEvent) error
}

// SessionGenerator names a SysLog session. Every event carries the
// session so that audit trails from different boots can be told apart.
type SessionGenerator interface {
	Generate() string
}

// SysLog is the append-only audit trail of syscall requests and
// responses. It is diagnostic only: replay never reads it, and a failing
// sink is logged rather than propagated.
type SysLog struct {
	mu      sync.Mutex
	events  []SysEvent
	session string
	sink    EventSink
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// SysLogOption configures a SysLog.
type SysLogOption func(*SysLog)

// WithSession names the session with gen.Generate().
func WithSession(gen SessionGenerator) SysLogOption {
	return func(s *SysLog) { s.session = gen.Generate() }
}

// WithEventSink persists every event.
func WithEventSink(sink EventSink) SysLogOption {
	return func(s *SysLog) { s.sink = sink }
}

// WithSysLogLogger sets the logger.
func WithSysLogLogger(logger *zap.Logger) SysLogOption {
	return func(s *SysLog) { s.logger = logging.OrNop(logger) }
}

// WithSysLogMetrics counts events.
func WithSysLogMetrics(m *metrics.Metrics) SysLogOption {
	return func(s *SysLog) { s.metrics = m }
}

// NewSysLog returns an empty SysLog. Without WithSession the session is a
// fresh UUIDv7.
func NewSysLog(opts ...SysLogOption) *SysLog {
	s := &SysLog{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.session == "" {
		s.session = UUIDv7Generator{}.Generate()
	}
	return s
}

// LogRequest records a syscall request and returns its id.
func (s *SysLog) LogRequest(sender state.PID, num uint64, args [4]uint64, ts uint64) EventID {
	return s.append(SysEvent{Sender: sender, Timestamp: ts, Request: &Request{Num: num, Args: args}})
}

// LogResponse records the result of the request with id requestID.
func (s *SysLog) LogResponse(sender state.PID, requestID EventID, result int64, ts uint64) EventID {
	return s.append(SysEvent{Sender: sender, Timestamp: ts, Response: &Response{RequestID: requestID, Result: result}})
}

func (s *SysLog) append(e SysEvent) EventID {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.ID = EventID(len(s.events) + 1)
	e.Session = s.session
	s.events = append(s.events, e)
	s.metrics.EventLogged()

	if s.sink != nil {
		if err := s.sink.AppendEvent(e); err != nil {
			s.logger.Warn("syslog sink failed", zap.Uint64("event", uint64(e.ID)), zap.Error(err))
		}
	}
	return e.ID
}

// Session returns the session name.
func (s *SysLog) Session() string {
	return s.session
}

// Events returns a copy of every event.
func (s *SysLog) Events() []SysEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SysEvent(nil), s.events...)
}

// Len returns the number of events.
func (s *SysLog) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}
