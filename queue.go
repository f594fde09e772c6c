package ports

import "container/heap"

// messageHeap is a min-heap of *Message ordered by SequenceNum, backing
// MessageQueue. It implements container/heap.Interface directly rather than
// reimplementing sift-up/down by hand.
type messageHeap []*Message

func (h messageHeap) Len() int            { return len(h) }
func (h messageHeap) Less(i, j int) bool  { return h[i].SequenceNum < h[j].SequenceNum }
func (h messageHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *messageHeap) Push(x interface{}) { *h = append(*h, x.(*Message)) }
func (h *messageHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// MessageQueue holds the not-yet-delivered messages for a single port,
// ordered by sequence number so that GetNextMessageIf only ever releases
// messages in the exact order they were sent, regardless of the order they
// arrived in (proxy hops and network reordering can deliver them out of
// order).
//
// signalable gates whether AcceptMessage reports a freshly queued message
// as ready to deliver. It starts true for an ordinary port and is forced
// false by acceptPort for a port that has just been transferred to this
// node, so that no readiness signal is raised for that port's incoming
// backlog until the carrying message itself has been consumed (and
// SetSignalable(true) called). It gates only that signal: HasNextMessage
// and GetNextMessageIf do not consult it.
type MessageQueue struct {
	heap              messageHeap
	nextSequenceNum   uint64
	signalable        bool
}

// NewMessageQueue creates an empty queue expecting its first message to
// carry sequence number nextSequenceNum.
func NewMessageQueue(nextSequenceNum uint64) *MessageQueue {
	return &MessageQueue{
		nextSequenceNum: nextSequenceNum,
		signalable:      true,
	}
}

// NextSequenceNum returns the sequence number GetNextMessageIf will release
// next, once a message carrying it has arrived.
func (q *MessageQueue) NextSequenceNum() uint64 { return q.nextSequenceNum }

// SetSignalable toggles whether queued messages are reported as available.
func (q *MessageQueue) SetSignalable(signalable bool) { q.signalable = signalable }

// Len returns the number of messages currently buffered, whether or not
// they are next in order.
func (q *MessageQueue) Len() int { return len(q.heap) }

// HasNextMessage reports whether the message with sequence number
// NextSequenceNum has already arrived and is ready to be taken.
func (q *MessageQueue) HasNextMessage() bool {
	return len(q.heap) > 0 && q.heap[0].SequenceNum == q.nextSequenceNum
}

// MessageSelector decides whether a candidate message should be taken by
// GetNextMessageIf. A nil selector accepts any message.
type MessageSelector func(*Message) bool

// GetNextMessageIf returns and removes the next in-order message if one has
// arrived and, when selector is non-nil, the selector accepts it. It never
// skips ahead: a later-sequenced message sitting in the heap is invisible
// until every message before it has been taken.
func (q *MessageQueue) GetNextMessageIf(selector MessageSelector) *Message {
	if len(q.heap) == 0 || q.heap[0].SequenceNum != q.nextSequenceNum {
		return nil
	}
	if selector != nil && !selector(q.heap[0]) {
		return nil
	}
	msg := heap.Pop(&q.heap).(*Message)
	q.nextSequenceNum++
	return msg
}

// AcceptMessage inserts a newly arrived message into the queue and reports
// whether the queue now has its next in-order message ready for delivery.
// hasNextMessage is always false while the queue is not signalable.
func (q *MessageQueue) AcceptMessage(msg *Message) (hasNextMessage bool) {
	heap.Push(&q.heap, msg)
	if !q.signalable {
		return false
	}
	return q.heap[0].SequenceNum == q.nextSequenceNum
}
