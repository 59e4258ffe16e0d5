package sfu

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// In-memory engine double. It honors the Transport contract: Close
// cascades into producers/consumers, and OnClose callbacks only fire
// through engineClose, never from Close itself.

type fakeEngine struct {
	mu        sync.Mutex
	routers   []*fakeRouter
	routerErr error
}

func (e *fakeEngine) NewRouter() (Router, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.routerErr != nil {
		return nil, e.routerErr
	}
	r := &fakeRouter{}
	e.routers = append(e.routers, r)
	return r, nil
}

type fakeRouter struct {
	mu           sync.Mutex
	seq          int
	transports   []*fakeTransport
	transportErr error
	denyConsume  bool
	closed       bool
}

func (r *fakeRouter) Capabilities() json.RawMessage {
	return json.RawMessage(`{"codecs":[{"mimeType":"audio/opus"}]}`)
}

func (r *fakeRouter) NewTransport(dir Direction) (Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.transportErr != nil {
		return nil, r.transportErr
	}
	r.seq++
	tr := &fakeTransport{id: fmt.Sprintf("t%d", r.seq), dir: dir, router: r}
	r.transports = append(r.transports, tr)
	return tr, nil
}

func (r *fakeRouter) CanConsume(p Producer, _ json.RawMessage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.denyConsume && p.Kind() == "audio"
}

func (r *fakeRouter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

func (r *fakeRouter) findConsumer(id string) *fakeConsumer {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tr := range r.transports {
		for _, c := range tr.consumers {
			if c.id == id {
				return c
			}
		}
	}
	return nil
}

func (r *fakeRouter) openTransports() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, tr := range r.transports {
		if !tr.isClosed() {
			n++
		}
	}
	return n
}

type fakeTransport struct {
	id     string
	dir    Direction
	router *fakeRouter

	mu         sync.Mutex
	seq        int
	closed     bool
	connected  json.RawMessage
	onClose    []func()
	producers  []*fakeProducer
	consumers  []*fakeConsumer
	produceErr error
	consumeErr error
}

func (t *fakeTransport) ID() string { return t.id }

func (t *fakeTransport) Info() TransportInfo {
	return TransportInfo{
		ID:             t.id,
		ICEParameters:  json.RawMessage(`{"usernameFragment":"uf-` + t.id + `"}`),
		ICECandidates:  json.RawMessage(`[]`),
		DTLSParameters: json.RawMessage(`{"role":"auto"}`),
	}
}

func (t *fakeTransport) Connect(params json.RawMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("transport closed")
	}
	t.connected = params
	return nil
}

func (t *fakeTransport) Produce(kind string, _ json.RawMessage) (Producer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.produceErr != nil {
		return nil, t.produceErr
	}
	if t.closed {
		return nil, errors.New("transport closed")
	}
	t.seq++
	p := &fakeProducer{id: fmt.Sprintf("%s-p%d", t.id, t.seq), kind: kind}
	t.producers = append(t.producers, p)
	return p, nil
}

func (t *fakeTransport) Consume(p Producer, _ json.RawMessage) (Consumer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.consumeErr != nil {
		return nil, t.consumeErr
	}
	if t.closed {
		return nil, errors.New("transport closed")
	}
	t.seq++
	c := &fakeConsumer{
		id:         fmt.Sprintf("%s-c%d", t.id, t.seq),
		producerID: p.ID(),
		kind:       p.Kind(),
		paused:     true,
	}
	t.consumers = append(t.consumers, c)
	return c, nil
}

func (t *fakeTransport) OnClose(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClose = append(t.onClose, fn)
}

func (t *fakeTransport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	producers, consumers := t.producers, t.consumers
	t.mu.Unlock()
	for _, p := range producers {
		p.Close()
	}
	for _, c := range consumers {
		c.Close()
	}
}

// engineClose simulates an ICE/DTLS failure: tear down, then notify.
func (t *fakeTransport) engineClose() {
	t.mu.Lock()
	callbacks := t.onClose
	t.mu.Unlock()
	t.Close()
	for _, fn := range callbacks {
		fn()
	}
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type fakeProducer struct {
	id   string
	kind string

	mu     sync.Mutex
	closed bool
}

func (p *fakeProducer) ID() string   { return p.id }
func (p *fakeProducer) Kind() string { return p.kind }

func (p *fakeProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *fakeProducer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeConsumer struct {
	id         string
	producerID string
	kind       string

	mu     sync.Mutex
	paused bool
	closed bool
}

func (c *fakeConsumer) ID() string         { return c.id }
func (c *fakeConsumer) ProducerID() string { return c.producerID }
func (c *fakeConsumer) Kind() string       { return c.kind }

func (c *fakeConsumer) RTPParameters() json.RawMessage {
	return json.RawMessage(`{"codecs":[{"mimeType":"audio/opus"}]}`)
}

func (c *fakeConsumer) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("consumer closed")
	}
	c.paused = false
	return nil
}

func (c *fakeConsumer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConsumer) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConsumer) isPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}
