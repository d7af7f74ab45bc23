package queue

import (
	"context"

	"github.com/nats-io/nats.go"
)

// NATSQueue publishes on a subject and consumes through a queue group, so
// several workers share the stream.
type NATSQueue struct {
	conn    *nats.Conn
	subject string
	group   string
}

// NewNATSQueue wraps an established connection.
func NewNATSQueue(conn *nats.Conn, subject, group string) *NATSQueue {
	if subject == "" {
		subject = "qrattend.events"
	}
	if group == "" {
		group = "qrattend-workers"
	}
	return &NATSQueue{conn: conn, subject: subject, group: group}
}

// Publish sends the message with its type in a header.
func (q *NATSQueue) Publish(_ context.Context, msg Message) error {
	m := nats.NewMsg(q.subject)
	m.Header.Set("Type", msg.Type)
	m.Data = msg.Body
	return q.conn.PublishMsg(m)
}

// Consume subscribes until ctx is done.
func (q *NATSQueue) Consume(ctx context.Context) (<-chan Message, error) {
	in := make(chan *nats.Msg, 64)
	sub, err := q.conn.ChanQueueSubscribe(q.subject, q.group, in)
	if err != nil {
		return nil, err
	}
	out := make(chan Message)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()
		for {
			select {
			case m := <-in:
				msg := Message{Type: m.Header.Get("Type"), Body: m.Data}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
