package cocaine

import (
	"bufio"
	"context"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

// stream receives the frames of a single channel. It buffers without a
// limit, because the reader goroutine of the session must never block on a
// slow consumer.
type stream struct {
	mu    sync.Mutex
	queue []frame
	err   error
	ready chan struct{}
}

func newStream() *stream {
	return &stream{ready: make(chan struct{}, 1)}
}

func (s *stream) notify() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func (s *stream) push(f frame) {
	s.mu.Lock()
	s.queue = append(s.queue, f)
	s.mu.Unlock()
	s.notify()
}

// fail sets the terminal error of the stream. Frames received earlier can
// still be consumed.
func (s *stream) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}

	s.mu.Unlock()
	s.notify()
}

// discard drops the buffered frames and fails the stream.
func (s *stream) discard(err error) {
	s.mu.Lock()
	s.queue = nil
	if s.err == nil {
		s.err = err
	}

	s.mu.Unlock()
	s.notify()
}

func (s *stream) pop(ctx context.Context) (frame, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			f := s.queue[0]
			s.queue[0] = frame{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return f, nil
		}

		err := s.err
		s.mu.Unlock()
		if err != nil {
			return frame{}, err
		}

		select {
		case <-s.ready:
		case <-ctx.Done():
			return frame{}, ctx.Err()
		}
	}
}

// session multiplexes the channels of a single connection.
type session struct {
	conn net.Conn

	writeMu sync.Mutex
	bw      *bufio.Writer
	enc     *msgpack.Encoder

	mu       sync.Mutex
	channels map[uint64]*stream
	next     uint64
	err      error
	done     chan struct{}
}

func newSession(conn net.Conn) *session {
	bw := bufio.NewWriter(conn)
	s := &session{
		conn:     conn,
		bw:       bw,
		enc:      msgpack.NewEncoder(bw),
		channels: make(map[uint64]*stream),
		done:     make(chan struct{}),
	}

	go s.readLoop()
	return s
}

func dial(ctx context.Context, d *net.Dialer, endpoints []Endpoint) (*session, Endpoint, error) {
	var lastErr error
	for _, ep := range endpoints {
		conn, err := d.DialContext(ctx, ep.Network(), ep.Address())
		if err != nil {
			log.Debugf("failed to connect to %s: %v", ep, err)
			lastErr = err
			continue
		}

		return newSession(conn), ep, nil
	}

	if lastErr == nil {
		return nil, Endpoint{}, ErrNoEndpoints
	}

	return nil, Endpoint{}, disconnected(lastErr)
}

func (s *session) readLoop() {
	dec := msgpack.NewDecoder(bufio.NewReader(s.conn))
	for {
		var f frame
		if err := dec.Decode(&f); err != nil {
			s.fail(err)
			return
		}

		s.mu.Lock()
		st := s.channels[f.channel]
		s.mu.Unlock()

		if st == nil {
			log.Debugf("dropping message of unknown channel %d", f.channel)
			continue
		}

		st.push(f)
	}
}

// fail closes the session and fails every open channel.
func (s *session) fail(err error) {
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return
	}

	s.err = disconnected(err)
	channels := s.channels
	s.channels = make(map[uint64]*stream)
	close(s.done)
	s.mu.Unlock()

	s.conn.Close()
	for _, st := range channels {
		st.fail(s.err)
	}
}

func (s *session) alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *session) close() {
	s.fail(ErrDisconnected)
}

// open starts a new channel by sending its first message.
func (s *session) open(typ uint64, args any, t *Trace) (uint64, *stream, error) {
	s.mu.Lock()
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return 0, nil, err
	}

	s.next++
	id := s.next
	st := newStream()
	s.channels[id] = st
	s.mu.Unlock()

	if err := s.send(id, typ, args, t); err != nil {
		s.release(id)
		return 0, nil, err
	}

	return id, st, nil
}

func (s *session) release(channel uint64) {
	s.mu.Lock()
	delete(s.channels, channel)
	s.mu.Unlock()
}

func (s *session) send(channel, typ uint64, args any, t *Trace) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.done:
		return s.err
	default:
	}

	f := &frame{channel: channel, typ: typ, args: args, headers: t.headers()}
	err := s.enc.Encode(f)
	if err == nil {
		err = s.bw.Flush()
	}

	if err != nil {
		s.fail(err)
		return disconnected(err)
	}

	return nil
}
