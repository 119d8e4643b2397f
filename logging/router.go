package logging

import (
	"context"
	"log"
	"maps"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

type Sink interface {
	Write(Event) error
	Close(context.Context) error
}

type NamedSink struct {
	Name string
	Sink Sink
}

const (
	defaultBufferSize = 512
	minSinkBuffer     = 32
	maxSinkBuffer     = 1024
	// a failing sink is reported on its first error and then every this many
	sinkFailureReportEvery = 100
)

// Router is the Publisher behind the hub. Events below the configured
// severity are discarded in Publish; the rest are stamped, decorated with the
// static fields and handed to one worker per sink so a slow sink never stalls
// the tick loop.
type Router struct {
	queue       chan Event
	sinks       []*sinkWorker
	now         func() time.Time
	fallback    *log.Logger
	minSeverity Severity
	fields      map[string]any
	dropWarn    time.Duration

	lastDropWarn atomic.Int64
	closed       atomic.Bool
	stop         chan struct{}
	wg           sync.WaitGroup
}

func NewRouter(cfg Config, namedSinks []NamedSink) *Router {
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	dropWarn := cfg.DropWarnInterval
	if dropWarn <= 0 {
		dropWarn = 5 * time.Second
	}
	r := &Router{
		queue:       make(chan Event, bufferSize),
		now:         time.Now,
		fallback:    log.New(os.Stderr, "[logging] ", log.LstdFlags),
		minSeverity: cfg.MinimumSeverity,
		fields:      maps.Clone(cfg.Fields),
		dropWarn:    dropWarn,
		stop:        make(chan struct{}),
	}

	sinkBuffer := max(min(bufferSize, maxSinkBuffer), minSinkBuffer)
	for _, named := range namedSinks {
		if named.Sink == nil {
			continue
		}
		r.sinks = append(r.sinks, &sinkWorker{
			name:     named.Name,
			sink:     named.Sink,
			events:   make(chan Event, sinkBuffer),
			fallback: r.fallback,
		})
	}

	for _, worker := range r.sinks {
		r.wg.Add(1)
		go func(w *sinkWorker) {
			defer r.wg.Done()
			w.run()
		}(worker)
	}
	r.wg.Add(1)
	go r.dispatch()
	return r
}

func (r *Router) dispatch() {
	defer func() {
		for _, worker := range r.sinks {
			close(worker.events)
		}
		r.wg.Done()
	}()
	for {
		select {
		case <-r.stop:
			for {
				select {
				case event := <-r.queue:
					r.forward(event)
				default:
					return
				}
			}
		case event := <-r.queue:
			r.forward(event)
		}
	}
}

func (r *Router) forward(event Event) {
	if event.Time.IsZero() {
		event.Time = r.now()
	}
	if len(r.fields) > 0 {
		event = mergeFields(event, r.fields)
	}
	for _, worker := range r.sinks {
		worker.enqueue(event)
	}
}

// Publish queues event without blocking. A full queue drops the event and
// warns at most once per DropWarnInterval.
func (r *Router) Publish(ctx context.Context, event Event) {
	if event.Type == "" || event.Severity < r.minSeverity || r.closed.Load() {
		return
	}
	select {
	case r.queue <- event:
	default:
		r.warnDrop(event)
	}
}

func (r *Router) warnDrop(event Event) {
	now := r.now().UnixNano()
	next := r.lastDropWarn.Load()
	if now < next {
		return
	}
	if r.lastDropWarn.CompareAndSwap(next, now+r.dropWarn.Nanoseconds()) {
		r.fallback.Printf("queue full, dropping %s event for %s at tick %d", event.Type, event.Actor.ID, event.Tick)
	}
}

// Close stops accepting events, flushes the queue into the sinks and closes them.
func (r *Router) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(r.stop)
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	var firstErr error
	for _, worker := range r.sinks {
		if err := worker.sink.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type sinkWorker struct {
	name     string
	sink     Sink
	events   chan Event
	fallback *log.Logger
	failures int
}

func (w *sinkWorker) enqueue(event Event) {
	select {
	case w.events <- cloneForFields(event):
	default:
		w.fallback.Printf("sink %s backlog full, dropping %s event", w.name, event.Type)
	}
}

func (w *sinkWorker) run() {
	for event := range w.events {
		if err := w.sink.Write(event); err != nil {
			w.failures++
			if w.failures == 1 || w.failures%sinkFailureReportEvery == 0 {
				w.fallback.Printf("sink %s failed %d times: %v", w.name, w.failures, err)
			}
			continue
		}
		w.failures = 0
	}
}
