package gate

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/najoast/sndispatch/codec"
	"github.com/najoast/sndispatch/core"
)

// Client speaks the gate protocol. It is safe for concurrent use; replies
// are matched to callers by session.
type Client struct {
	netc     net.Conn
	maxFrame int
	sessions core.SessionAllocator

	writeMu sync.Mutex
	writer  *bufio.Writer

	mu      sync.Mutex
	pending map[core.SessionID]chan *codec.Envelope
	err     error
	done    chan struct{}
}

// Dial connects to a gate at addr.
func Dial(ctx context.Context, addr string, maxFrame int) (*Client, error) {
	var d net.Dialer
	netc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	c := &Client{
		netc:     netc,
		maxFrame: maxFrame,
		writer:   bufio.NewWriter(netc),
		pending:  make(map[core.SessionID]chan *codec.Envelope),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Call sends a request to the named service and waits for its reply.
func (c *Client) Call(ctx context.Context, service string, typ core.MessageType, data []byte) ([]byte, error) {
	id := c.sessions.NextID()
	ch := make(chan *codec.Envelope, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	env := &codec.Envelope{Service: service, Session: uint64(id), Type: uint8(typ), Data: data}
	if err := c.write(env); err != nil {
		return nil, err
	}

	select {
	case reply := <-ch:
		return replyData(reply)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, c.closedErr()
	}
}

// Send delivers a one-way message to the named service.
func (c *Client) Send(service string, typ core.MessageType, data []byte) error {
	return c.write(&codec.Envelope{Service: service, Type: uint8(typ), Data: data})
}

// Close shuts the connection down; pending calls fail.
func (c *Client) Close() error {
	return c.netc.Close()
}

func (c *Client) write(env *codec.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := codec.EncodeFrame(c.writer, env, c.maxFrame); err != nil {
		return err
	}
	return c.writer.Flush()
}

func (c *Client) readLoop() {
	r := bufio.NewReader(c.netc)
	for {
		env, err := codec.DecodeFrame(r, c.maxFrame)
		if err != nil {
			c.mu.Lock()
			c.err = fmt.Errorf("gate connection closed: %w", err)
			c.mu.Unlock()
			close(c.done)
			return
		}

		id := core.SessionID(env.Session).ToSend()
		c.mu.Lock()
		ch, ok := c.pending[id]
		c.mu.Unlock()
		if !ok {
			log.Debugf("client dropped reply %s", id)
			continue
		}
		ch <- env
	}
}

func (c *Client) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// replyData maps a reply envelope to the payload or the matching core
// error.
func replyData(env *codec.Envelope) ([]byte, error) {
	switch core.Status(env.Status) {
	case core.StatusOK:
		return env.Data, nil
	case core.StatusUnreachable:
		return nil, fmt.Errorf("%w: %s", core.ErrUnreachable, env.Error)
	case core.StatusTimeout:
		return nil, core.ErrTimeout
	default:
		return nil, &core.RemoteError{Message: env.Error}
	}
}
