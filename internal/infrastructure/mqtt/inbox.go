package mqtt

import (
	"sync"
	"time"
)

// Message is an inbound publish copied off the paho router goroutine.
type Message struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// Inbox is a bounded queue between a subscription and one consumer
// goroutine. Handler enqueues in arrival order; when the queue is full
// the paho router blocks, which applies backpressure to the broker
// instead of dropping or reordering messages.
type Inbox struct {
	messages  chan Message
	done      chan struct{}
	closeOnce sync.Once
	now       func() time.Time
}

// NewInbox creates an Inbox buffering up to size messages.
func NewInbox(size int) *Inbox {
	if size < 1 {
		size = 1
	}
	return &Inbox{
		messages: make(chan Message, size),
		done:     make(chan struct{}),
		now:      time.Now,
	}
}

// Handler returns a MessageHandler that enqueues into the inbox.
func (in *Inbox) Handler() MessageHandler {
	return in.Enqueue
}

// Enqueue copies payload and queues it. It blocks while the queue is
// full and returns ErrInboxClosed once Close has been called.
func (in *Inbox) Enqueue(topic string, payload []byte) error {
	msg := Message{
		Topic:      topic,
		Payload:    append([]byte(nil), payload...),
		ReceivedAt: in.now(),
	}

	select {
	case <-in.done:
		return ErrInboxClosed
	default:
	}

	select {
	case in.messages <- msg:
		return nil
	case <-in.done:
		return ErrInboxClosed
	}
}

// Messages is the consumer side of the queue. It is never closed;
// consumers select on Done or their own context.
func (in *Inbox) Messages() <-chan Message {
	return in.messages
}

// Done is closed by Close.
func (in *Inbox) Done() <-chan struct{} {
	return in.done
}

// Len returns the number of queued messages.
func (in *Inbox) Len() int {
	return len(in.messages)
}

// Close stops accepting messages and unblocks pending Enqueue calls.
func (in *Inbox) Close() {
	in.closeOnce.Do(func() { close(in.done) })
}
