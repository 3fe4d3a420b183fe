package channel

import (
	"sync"

	"github.com/anillo-os/ferrocore/internal/sched"
	"github.com/anillo-os/ferrocore/internal/sema"
	"github.com/anillo-os/ferrocore/internal/status"
	"github.com/anillo-os/ferrocore/internal/waitq"
)

// Server is a listening endpoint (spec.md §4.E "Server channels"):
// clients Connect to get one half of a freshly created pair while the
// server Accepts the other half, FIFO.
type Server struct {
	mu       sync.Mutex
	pending  []*Channel
	capacity int

	arrivalSem *sema.Semaphore // counts entries in pending

	clientArrival waitq.Queue
	queueEmpty    waitq.Queue

	ringCapacity int // capacity handed to NewPair for each accepted channel
}

// NewServer creates a server with room for backlog pending connections
// and ringCapacity-deep message rings on each accepted channel.
func NewServer(backlog, ringCapacity int) *Server {
	if backlog < 1 {
		backlog = 1
	}
	return &Server{
		capacity:     backlog,
		arrivalSem:   sema.New(0),
		ringCapacity: ringCapacity,
	}
}

// Connect creates a new channel pair, hands the server half to the
// server's pending queue, and returns the client's half. Fails with
// status.TemporaryOutage if the backlog is full.
func (s *Server) Connect() (*Channel, error) {
	s.mu.Lock()
	if len(s.pending) >= s.capacity {
		s.mu.Unlock()
		return nil, status.New("channel_connect", status.TemporaryOutage)
	}
	serverHalf, clientHalf := NewPair(s.ringCapacity)
	s.pending = append(s.pending, serverHalf)
	s.mu.Unlock()

	s.arrivalSem.Up()
	s.clientArrival.WakeMany(1)
	return clientHalf, nil
}

// Accept blocks (per mode) until a client has connected, then returns
// the server-side half of that pair.
func (s *Server) Accept(th *sched.Thread, mode BlockMode) (*Channel, error) {
	var err error
	switch mode {
	case NonBlocking:
		err = s.arrivalSem.DownNonBlocking()
	case Interruptible:
		err = s.arrivalSem.DownInterruptible(th.InterruptChan())
	default:
		err = s.arrivalSem.DownBlocking()
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	ch := s.pending[0]
	s.pending = s.pending[1:]
	nowEmpty := len(s.pending) == 0
	s.mu.Unlock()

	if nowEmpty {
		s.queueEmpty.WakeMany(1)
	}
	return ch, nil
}

// ClientArrivalQueue and QueueEmptyQueue are the two waitqueues the
// monitor hook fabric subscribes to for Server targets (spec.md §4.F).
func (s *Server) ClientArrivalQueue() *waitq.Queue { return &s.clientArrival }
func (s *Server) QueueEmptyQueue() *waitq.Queue    { return &s.queueEmpty }

// HasPending reports whether any connection is currently waiting to be
// accepted, for the monitor's EventClientArrival level recheck.
func (s *Server) HasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) > 0
}
