package ports

import "testing"

func msgWithSeq(seq uint64) *Message {
	return &Message{Type: EventTypeUser, SequenceNum: seq}
}

func TestMessageQueueDeliversInOrder(t *testing.T) {
	q := NewMessageQueue(1)

	q.AcceptMessage(msgWithSeq(2))
	q.AcceptMessage(msgWithSeq(3))

	if q.HasNextMessage() {
		t.Fatalf("queue reports a next message before seq 1 has arrived")
	}
	if msg := q.GetNextMessageIf(nil); msg != nil {
		t.Fatalf("got a message out of order: %+v", msg)
	}

	has := q.AcceptMessage(msgWithSeq(1))
	if !has {
		t.Fatalf("AcceptMessage should report the queue ready once seq 1 arrives")
	}

	for _, want := range []uint64{1, 2, 3} {
		msg := q.GetNextMessageIf(nil)
		if msg == nil || msg.SequenceNum != want {
			t.Fatalf("want seq %d, got %+v", want, msg)
		}
	}
	if msg := q.GetNextMessageIf(nil); msg != nil {
		t.Fatalf("queue should be empty, got %+v", msg)
	}
}

func TestMessageQueueNotSignalableSuppressesReady(t *testing.T) {
	q := NewMessageQueue(1)
	q.SetSignalable(false)

	if has := q.AcceptMessage(msgWithSeq(1)); has {
		t.Fatalf("AcceptMessage should not report ready while not signalable")
	}
	// The message is still queued and retrievable, only the readiness
	// signal is suppressed.
	if msg := q.GetNextMessageIf(nil); msg == nil || msg.SequenceNum != 1 {
		t.Fatalf("message should still be retrievable, got %+v", msg)
	}
}

func TestMessageQueueSelectorRejectsWithoutPopping(t *testing.T) {
	q := NewMessageQueue(1)
	q.AcceptMessage(msgWithSeq(1))

	reject := func(*Message) bool { return false }
	if msg := q.GetNextMessageIf(reject); msg != nil {
		t.Fatalf("selector rejected the message but it was returned anyway")
	}

	accept := func(*Message) bool { return true }
	msg := q.GetNextMessageIf(accept)
	if msg == nil || msg.SequenceNum != 1 {
		t.Fatalf("expected to retrieve seq 1, got %+v", msg)
	}
}
