// Package mediatest provides an in-memory media engine for tests. It keeps
// just enough state to exercise the orchestration layer: created routers are
// counted, producers are registered per router so CanConsume can be checked,
// and every handle remembers whether it was closed.
package mediatest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/atomic"

	"github.com/velored/meetmedia/internal/media"
)

type Engine struct {
	RoutersCreated atomic.Int32

	mu      sync.Mutex
	workers []*Worker
	seq     atomic.Int32
}

func NewEngine() *Engine { return &Engine{} }

func (e *Engine) next(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, e.seq.Inc())
}

func (e *Engine) NewWorker(ctx context.Context) (media.Worker, error) {
	w := &Worker{eng: e, id: e.next("worker")}
	e.mu.Lock()
	e.workers = append(e.workers, w)
	e.mu.Unlock()
	return w, nil
}

// Workers returns every worker created so far, in creation order.
func (e *Engine) Workers() []*Worker {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Worker(nil), e.workers...)
}

type Worker struct {
	eng *Engine
	id  string

	mu   sync.Mutex
	died func(error)

	Closed atomic.Bool
}

func (w *Worker) ID() string { return w.id }

func (w *Worker) CreateRouter(ctx context.Context) (media.Router, error) {
	w.eng.RoutersCreated.Inc()
	return &Router{
		eng:       w.eng,
		id:        w.eng.next("router"),
		producers: make(map[string]*Producer),
	}, nil
}

func (w *Worker) OnDied(fn func(error)) {
	w.mu.Lock()
	w.died = fn
	w.mu.Unlock()
}

// Die simulates fatal worker failure.
func (w *Worker) Die(err error) {
	w.mu.Lock()
	fn := w.died
	w.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (w *Worker) Close() { w.Closed.Store(true) }

type Router struct {
	eng *Engine
	id  string

	// CanConsumeFn overrides the default producer-exists check.
	CanConsumeFn func(producerID string, rtpCapabilities json.RawMessage) bool

	mu        sync.Mutex
	producers map[string]*Producer

	Closed atomic.Bool
}

func (r *Router) ID() string { return r.id }

func (r *Router) RTPCapabilities() json.RawMessage {
	return json.RawMessage(`{"codecs":["audio/opus","video/VP8"]}`)
}

func (r *Router) CreateTransport(ctx context.Context) (media.Transport, error) {
	return &Transport{router: r, id: r.eng.next("transport")}, nil
}

func (r *Router) CanConsume(producerID string, rtpCapabilities json.RawMessage) bool {
	if r.CanConsumeFn != nil {
		return r.CanConsumeFn(producerID, rtpCapabilities)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.producers[producerID]
	return ok && !p.Closed.Load()
}

func (r *Router) Close() { r.Closed.Store(true) }

type Transport struct {
	router *Router
	id     string

	Connected atomic.Bool
	Closed    atomic.Bool
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) Info() media.TransportInfo {
	return media.TransportInfo{
		ID:             t.id,
		ICEParameters:  json.RawMessage(`{"usernameFragment":"` + t.id + `"}`),
		ICECandidates:  json.RawMessage(`[]`),
		DTLSParameters: json.RawMessage(`{"role":"auto"}`),
	}
}

func (t *Transport) Connect(ctx context.Context, dtlsParameters json.RawMessage) error {
	t.Connected.Store(true)
	return nil
}

func (t *Transport) Produce(ctx context.Context, kind media.Kind, rtpParameters json.RawMessage) (media.Producer, error) {
	p := &Producer{id: t.router.eng.next("producer"), kind: kind}
	t.router.mu.Lock()
	t.router.producers[p.id] = p
	t.router.mu.Unlock()
	return p, nil
}

func (t *Transport) Consume(ctx context.Context, producerID string, rtpCapabilities json.RawMessage) (media.Consumer, error) {
	t.router.mu.Lock()
	p, ok := t.router.producers[producerID]
	t.router.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("mediatest: unknown producer %s", producerID)
	}
	c := &Consumer{
		id:         t.router.eng.next("consumer"),
		producerID: producerID,
		kind:       p.kind,
	}
	c.Paused.Store(true)
	return c, nil
}

func (t *Transport) Close() { t.Closed.Store(true) }

type Producer struct {
	id   string
	kind media.Kind

	Closed atomic.Bool
}

func (p *Producer) ID() string       { return p.id }
func (p *Producer) Kind() media.Kind { return p.kind }
func (p *Producer) Close()           { p.Closed.Store(true) }

type Consumer struct {
	id         string
	producerID string
	kind       media.Kind

	Paused atomic.Bool
	Closed atomic.Bool
}

func (c *Consumer) ID() string         { return c.id }
func (c *Consumer) ProducerID() string { return c.producerID }
func (c *Consumer) Kind() media.Kind   { return c.kind }

func (c *Consumer) RTPParameters() json.RawMessage {
	return json.RawMessage(`{"mid":"` + c.id + `"}`)
}

func (c *Consumer) Resume() error {
	c.Paused.Store(false)
	return nil
}

func (c *Consumer) Close() { c.Closed.Store(true) }
