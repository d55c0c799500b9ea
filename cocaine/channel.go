package cocaine

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// Channel is the exchange opened by enqueueing an event. The request body is
// sent with Write and CloseSend, the reply is read with Get.
type Channel struct {
	session *session
	id      uint64
	rx      *stream
}

// Write sends a chunk of the request.
func (c *Channel) Write(chunk []byte, t *Trace) error {
	return c.session.send(c.id, typeWrite, []any{chunk}, t)
}

// CloseSend tells the application that the request is complete.
func (c *Channel) CloseSend(t *Trace) error {
	return c.session.send(c.id, typeClose, nil, t)
}

// Get returns the next chunk of the reply. It returns ErrEndOfStream after
// the application closed the channel, a *ServiceError when the application
// reported an error, and ErrDisconnected when the connection was lost. When
// the context is done first, the context's error is returned and the
// channel stays usable.
func (c *Channel) Get(ctx context.Context) ([]byte, error) {
	f, err := c.rx.pop(ctx)
	if err != nil {
		return nil, err
	}

	switch f.typ {
	case typeWrite:
		return decodeChunk(f.raw)
	case typeError:
		err := decodeError(f.raw)
		c.finish(err)
		return nil, err
	case typeClose:
		c.finish(ErrEndOfStream)
		return nil, ErrEndOfStream
	default:
		log.Debugf("unexpected message type %d on channel %d", f.typ, c.id)
		return nil, errProtocol
	}
}

// Close releases the channel. Frames received later are dropped and Get
// returns ErrEndOfStream. It can be called more than once, and after the
// reply was read to the end.
func (c *Channel) Close() {
	c.rx.discard(ErrEndOfStream)
	c.session.release(c.id)
}

func (c *Channel) finish(err error) {
	c.rx.fail(err)
	c.session.release(c.id)
}
