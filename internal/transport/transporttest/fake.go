// Package transporttest provides a scripted Dialer and Channel for tests.
package transporttest

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/DoyleJ11/lol-draft-client/internal/transport"
	"github.com/DoyleJ11/lol-draft-client/internal/wire"
)

var ErrRefused = errors.New("transporttest: connection refused")

const wait = time.Second

type Dialer struct {
	mu        sync.Mutex
	failures  []error
	addresses []string
	gate      chan struct{}
	dialed    chan *Channel
}

var _ transport.Dialer = (*Dialer)(nil)

func NewDialer() *Dialer {
	return &Dialer{dialed: make(chan *Channel, 64)}
}

// FailNext makes the next n dials fail with err.
func (d *Dialer) FailNext(n int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := 0; i < n; i++ {
		d.failures = append(d.failures, err)
	}
}

// Hold makes dials block until Release or until their context ends.
func (d *Dialer) Hold() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gate == nil {
		d.gate = make(chan struct{})
	}
}

func (d *Dialer) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gate != nil {
		close(d.gate)
		d.gate = nil
	}
}

func (d *Dialer) Dial(ctx context.Context, address string) (transport.Channel, error) {
	d.mu.Lock()
	d.addresses = append(d.addresses, address)
	gate := d.gate
	var fail error
	if len(d.failures) > 0 {
		fail, d.failures = d.failures[0], d.failures[1:]
	}
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail != nil {
		return nil, fail
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ch := newChannel(address)
	d.dialed <- ch
	return ch, nil
}

// Dials returns every address dialed so far.
func (d *Dialer) Dials() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.addresses...)
}

// Next waits for the next successfully dialed channel.
func (d *Dialer) Next(t *testing.T) *Channel {
	t.Helper()
	select {
	case ch := <-d.dialed:
		return ch
	case <-time.After(wait):
		t.Fatalf("timed out waiting for a dial")
		return nil
	}
}

type frame struct {
	data []byte
	err  error
}

type Channel struct {
	Address string

	inbound   chan frame
	written   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newChannel(address string) *Channel {
	return &Channel{
		Address: address,
		inbound: make(chan frame, 64),
		written: make(chan []byte, 256),
		closed:  make(chan struct{}),
	}
}

func (c *Channel) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, net.ErrClosed
	case f := <-c.inbound:
		return f.data, f.err
	}
}

func (c *Channel) Write(ctx context.Context, data []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return net.ErrClosed
	case c.written <- data:
		return nil
	}
}

func (c *Channel) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *Channel) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// WaitClosed fails the test unless the channel is closed within a second.
func (c *Channel) WaitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-c.closed:
	case <-time.After(wait):
		t.Fatalf("channel to %s was never closed", c.Address)
	}
}

// Deliver sends msg to the client as a server frame.
func (c *Channel) Deliver(t *testing.T, msg wire.Message) {
	t.Helper()
	data, err := wire.Encode(msg)
	if err != nil {
		t.Fatalf("encode %v: %v", msg, err)
	}
	c.DeliverRaw(data)
}

func (c *Channel) DeliverRaw(data []byte) {
	c.inbound <- frame{data: data}
}

// Drop ends the channel with an unexpected error.
func (c *Channel) Drop(err error) {
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	c.inbound <- frame{err: err}
}

// Hangup ends the channel with a clean close.
func (c *Channel) Hangup() {
	c.inbound <- frame{err: io.EOF}
}

// NextWritten waits for the next frame the client wrote.
func (c *Channel) NextWritten(t *testing.T) wire.Message {
	t.Helper()
	select {
	case data := <-c.written:
		msg, err := wire.Decode(data)
		if err != nil {
			t.Fatalf("client wrote undecodable frame: %v", err)
		}
		return msg
	case <-time.After(wait):
		t.Fatalf("timed out waiting for a write on %s", c.Address)
		return nil
	}
}

// NoWrite fails the test if the client writes anything within d.
func (c *Channel) NoWrite(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case data := <-c.written:
		msg, _ := wire.Decode(data)
		t.Fatalf("expected no write within %v, got %v", d, msg)
	case <-time.After(d):
	}
}
