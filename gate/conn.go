package gate

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/google/uuid"

	"github.com/najoast/sndispatch/codec"
)

// conn is one client connection. Frames are read by the server's read
// loop; replies are queued and written in order by a single writer
// goroutine, so a slow client never blocks a call goroutine.
type conn struct {
	id     uuid.UUID
	netc   net.Conn
	reader *bufio.Reader

	maxFrame     int
	readTimeout  time.Duration
	writeTimeout time.Duration

	mu     sync.Mutex
	cond   *sync.Cond
	out    *queue.Queue
	closed bool

	framesRead    atomic.Int64
	framesWritten atomic.Int64
	lastActivity  atomic.Int64
}

func newConn(netc net.Conn, maxFrame int, readTimeout, writeTimeout time.Duration) *conn {
	c := &conn{
		id:           uuid.New(),
		netc:         netc,
		reader:       bufio.NewReader(netc),
		maxFrame:     maxFrame,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		out:          queue.New(),
	}
	c.cond = sync.NewCond(&c.mu)
	c.touch()
	return c
}

func (c *conn) String() string {
	return fmt.Sprintf("%s(%s)", c.id, c.netc.RemoteAddr())
}

func (c *conn) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// read returns the next inbound frame.
func (c *conn) read() (*codec.Envelope, error) {
	if c.readTimeout > 0 {
		if err := c.netc.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return nil, err
		}
	}
	env, err := codec.DecodeFrame(c.reader, c.maxFrame)
	if err != nil {
		return nil, err
	}
	c.framesRead.Add(1)
	c.touch()
	return env, nil
}

// enqueue schedules env for writing. It reports false once the
// connection is closed.
func (c *conn) enqueue(env *codec.Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.out.Add(env)
	c.cond.Signal()
	return true
}

// writeLoop drains the outbound queue until the connection closes.
func (c *conn) writeLoop() {
	w := bufio.NewWriter(c.netc)
	var batch []*codec.Envelope
	for {
		c.mu.Lock()
		for c.out.Length() == 0 && !c.closed {
			c.cond.Wait()
		}
		if c.closed {
			c.mu.Unlock()
			return
		}
		batch = batch[:0]
		for c.out.Length() > 0 {
			batch = append(batch, c.out.Remove().(*codec.Envelope))
		}
		c.mu.Unlock()

		if err := c.flush(w, batch); err != nil {
			log.Debugf("connection %s write failed: %s", c, err.Error())
			c.close()
			return
		}
	}
}

func (c *conn) flush(w *bufio.Writer, batch []*codec.Envelope) error {
	if c.writeTimeout > 0 {
		if err := c.netc.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	for _, env := range batch {
		if err := codec.EncodeFrame(w, env, c.maxFrame); err != nil {
			return err
		}
		c.framesWritten.Add(1)
	}
	return w.Flush()
}

// close is idempotent.
func (c *conn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cond.Broadcast()
	c.netc.Close()
}

// ConnectionStats holds statistics for a connection
type ConnectionStats struct {
	ID            string
	RemoteAddr    string
	FramesRead    int64
	FramesWritten int64
	LastActivity  time.Time
}

func (c *conn) stats() ConnectionStats {
	return ConnectionStats{
		ID:            c.id.String(),
		RemoteAddr:    c.netc.RemoteAddr().String(),
		FramesRead:    c.framesRead.Load(),
		FramesWritten: c.framesWritten.Load(),
		LastActivity:  time.Unix(0, c.lastActivity.Load()),
	}
}
