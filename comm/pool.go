package comm

import (
	"io"
	"sync"
	"time"
)

// Pool is a communication pool which holds one or more connections to a device
// that will be closed if they are not in use, and re-opened as needed.
// It is concurrent safe.  Pools must be created with NewPool.
//
// A pool of size one serializes every exchange with the instrument, which is
// what all of the Rigol and serial devices in this module require.
type Pool struct {
	timeout time.Duration           // idle time after which all connections are closed
	conns   chan io.ReadWriteCloser // idle connections
	leases  chan struct{}           // one token per connection given out, cap == maximum size
	timer   *time.Timer             // fires reclaim once everything has been returned
	maker   CreationFunc

	mu sync.Mutex
}

// NewPool creates a new pool holding at most maxSize connections made by maker
func NewPool(maxSize int, timeout time.Duration, maker CreationFunc) *Pool {
	p := &Pool{
		timeout: timeout,
		conns:   make(chan io.ReadWriteCloser, maxSize),
		leases:  make(chan struct{}, maxSize),
		maker:   maker,
	}
	p.timer = time.AfterFunc(timeout, p.reclaim)
	p.timer.Stop() // nothing to close initially
	return p
}

// Get retrieves a connection from the pool, blocking until one is
// available if all are in use.  It is guaranteed that there is no contention
// for the ReadWriter.
//
// When done with the connection, return it with Put(), or discard it with
// Destroy() if it has gone bad.  ReturnWithError picks between the two.
// Either one lets a blocked Get proceed, reusing the connection or dialing a
// new one.
//
// If the error from Get is not nil, you must not return it to the pool.
func (p *Pool) Get() (io.ReadWriter, error) {
	p.timer.Stop()
	p.leases <- struct{}{}

	p.mu.Lock()
	select {
	case c := <-p.conns:
		p.mu.Unlock()
		return c, nil
	default:
	}
	p.mu.Unlock()

	c, err := p.maker()
	if err != nil {
		p.release()
		return nil, err
	}
	return c, nil
}

// release gives back a lease and arms the idle timer when none are out
func (p *Pool) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	<-p.leases
	if len(p.leases) == 0 {
		p.timer.Reset(p.timeout)
	}
}

// Put restores a connection to the pool.  It may be reused, or will be
// automatically freed after all connections are returned and the timeout
// has elapsed.
func (p *Pool) Put(rw io.ReadWriter) {
	rwc := rw.(io.ReadWriteCloser)
	p.mu.Lock()
	p.conns <- rwc
	p.mu.Unlock()
	p.release()
}

// Destroy immediately frees a connection from the pool.  This should be used
// instead of Put if the connection has gone bad.
func (p *Pool) Destroy(rw io.ReadWriter) {
	rwc := rw.(io.ReadWriteCloser)
	rwc.Close()
	p.release()
}

// ReturnWithError returns rw to the pool if err is nil, otherwise destroys it.
// A connection that saw an error may hold a partial response and is not
// safe to reuse
func (p *Pool) ReturnWithError(rw io.ReadWriter, err error) {
	if err != nil {
		p.Destroy(rw)
		return
	}
	p.Put(rw)
}

// Size returns the number of connections in the pool, or given out from it
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns) + len(p.leases)
}

// Active returns the number of connections owned by the pool that are currently
// given out
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.leases)
}

// Close closes every idle connection.  Leased connections are closed when
// they are returned with Destroy
func (p *Pool) Close() error {
	p.timer.Stop()
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.drain()
}

func (p *Pool) reclaim() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.leases) == 0 {
		p.drain()
	}
}

// drain must be called with mu held
func (p *Pool) drain() error {
	var first error
	for len(p.conns) > 0 {
		c := <-p.conns
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
