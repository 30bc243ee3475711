// Event and trace identifier generation
// Random UUIDs in production, a deterministic counter in tests
package collect

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator mints process-unique identifiers for events and traces.
type IDGenerator interface {
	EventID() string
	TraceID() string
}

// RandomIDs generates UUIDv4 identifiers.
type RandomIDs struct{}

func (RandomIDs) EventID() string { return uuid.NewString() }
func (RandomIDs) TraceID() string { return uuid.NewString() }

// SequentialIDs generates deterministic identifiers ("event-1",
// "trace-1", ...). Safe for concurrent use.
type SequentialIDs struct {
	events atomic.Int64
	traces atomic.Int64
}

func (s *SequentialIDs) EventID() string {
	return "event-" + strconv.FormatInt(s.events.Add(1), 10)
}

func (s *SequentialIDs) TraceID() string {
	return "trace-" + strconv.FormatInt(s.traces.Add(1), 10)
}
