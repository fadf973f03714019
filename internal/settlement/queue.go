package settlement

import (
	"BucketClear/internal/ledger"
	"container/heap"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var ErrAlreadyQueued = errors.New("position already queued for settlement")

// Instruction is a not-yet-applied changeset produced by a verified hit
type Instruction struct {
	ID          string
	OrderbookID string
	OrderID     string
	PositionID  string
	MakerID     string
	FillerID    string

	ClockSeq  uint64 // Clock sequence of the tick that produced it
	Payout    int64
	Price     int64
	Changeset *ledger.Changeset // nil when nothing moves
	CreatedAt int64

	insertion uint64
}

type instructionHeap []*Instruction

func (h instructionHeap) Len() int { return len(h) }
func (h instructionHeap) Less(i, j int) bool {
	if h[i].ClockSeq != h[j].ClockSeq {
		return h[i].ClockSeq < h[j].ClockSeq
	}
	return h[i].insertion < h[j].insertion
}
func (h instructionHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *instructionHeap) Push(x any)   { *h = append(*h, x.(*Instruction)) }
func (h *instructionHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Queue stages settlement instructions for one orderbook and hands them out
// in increasing clock sequence, each exactly once. Once drained, a position
// cannot come back: the engine only enqueues on the one-way OPEN -> HIT
// transition.
// Not thread-safe: only accessed under the owning orderbook's lock.
type Queue struct {
	h         instructionHeap
	insertion uint64
	staged    map[string]struct{} // positions currently in h
}

func NewQueue() *Queue {
	return &Queue{staged: make(map[string]struct{})}
}

// Enqueue stages an instruction. A position can be staged only once per drain.
func (q *Queue) Enqueue(in Instruction) error {
	if _, dup := q.staged[in.PositionID]; dup {
		return fmt.Errorf("%w: %s", ErrAlreadyQueued, in.PositionID)
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	q.insertion++
	in.insertion = q.insertion
	q.staged[in.PositionID] = struct{}{}
	heap.Push(&q.h, &in)
	return nil
}

// Drain removes and returns every staged instruction in clock-sequence order
func (q *Queue) Drain() []Instruction {
	out := make([]Instruction, 0, q.h.Len())
	for q.h.Len() > 0 {
		in := heap.Pop(&q.h).(*Instruction)
		delete(q.staged, in.PositionID)
		out = append(out, *in)
	}
	return out
}

func (q *Queue) Len() int { return q.h.Len() }

// Staged returns how many positions the queue is tracking
func (q *Queue) Staged() int { return len(q.staged) }
