// Package diag is the diagnostic sink handed to every stage of the
// disassembler. It wraps an apex/log logger and keeps a per-kind count of
// the recoverable problems seen during a run, so the end-of-run summary
// can report how many instructions or files were degraded.
package diag

import (
	"sort"
	"sync"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
)

// Kind classifies a recorded deficiency
type Kind int

const (
	Malformed Kind = iota
	DanglingReference
	UnknownOpcode
	RegisterOutOfRange
	InvalidInstruction
	UnresolvedQuickRef
	Verification
	OutputWrite
	Warning
	Internal
)

var kindNames = map[Kind]string{
	Malformed:          "malformed-container",
	DanglingReference:  "dangling-reference",
	UnknownOpcode:      "unknown-opcode",
	RegisterOutOfRange: "register-out-of-range",
	InvalidInstruction: "invalid-instruction",
	UnresolvedQuickRef: "unresolved-quick-ref",
	Verification:       "verification-error",
	OutputWrite:        "output-write-failure",
	Warning:            "warning",
	Internal:           "internal",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Sink is safe for concurrent use by emitter workers.
type Sink struct {
	log.Interface

	mu     sync.Mutex
	counts map[Kind]int
}

// New wraps l. A nil logger discards everything.
func New(l log.Interface) *Sink {
	if l == nil {
		l = &log.Logger{Handler: discard.New(), Level: log.FatalLevel}
	}
	return &Sink{Interface: l, counts: map[Kind]int{}}
}

// Discard returns a sink that only counts.
func Discard() *Sink {
	return New(nil)
}

// Record counts one deficiency of the given kind and logs it as a warning
// (or an error for the fatal kinds) with the supplied fields.
func (s *Sink) Record(kind Kind, err error, fields log.Fields) {
	s.mu.Lock()
	s.counts[kind]++
	s.mu.Unlock()

	entry := s.WithFields(fields).WithField("kind", kind.String())
	if err != nil {
		entry = entry.WithError(err)
	}
	switch kind {
	case Malformed, Internal:
		entry.Error("fatal")
	default:
		entry.Warn("recovered")
	}
}

// Warnf records a plain warning.
func (s *Sink) Warnf(msg string, v ...interface{}) {
	s.mu.Lock()
	s.counts[Warning]++
	s.mu.Unlock()
	s.Interface.Warnf(msg, v...)
}

// Count returns how many deficiencies of kind were recorded
func (s *Sink) Count(kind Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[kind]
}

// Total returns the number of recorded deficiencies, warnings excluded.
func (s *Sink) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for k, n := range s.counts {
		if k != Warning {
			total += n
		}
	}
	return total
}

// Counts returns a snapshot ordered by kind.
func (s *Sink) Counts() []Count {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Count, 0, len(s.counts))
	for k, n := range s.counts {
		out = append(out, Count{Kind: k, N: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// Count pairs a kind with its tally
type Count struct {
	Kind Kind
	N    int
}
