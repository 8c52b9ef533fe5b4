// Package ingestpipe implements the Ingestor's digest/decide/enqueue
// loop: broker messages in, parse/classify/normalise/decide, staged
// documents out.
package ingestpipe

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"tagbridge/internal/dedup"
	"tagbridge/internal/ingest/mqtt"
	"tagbridge/internal/logging"
	"tagbridge/internal/metrics"
	"tagbridge/internal/remoteconfig"
	"tagbridge/internal/tagevent"
)

var (
	// ErrAlreadyRunning is returned by Start on an already-running Pipeline.
	ErrAlreadyRunning = errors.New("ingestpipe: already running")
	// ErrNotRunning is returned by Stop on a non-running Pipeline.
	ErrNotRunning = errors.New("ingestpipe: not running")
)

// Broker delivers messages from a topic subscription. Satisfied by
// internal/ingest/mqtt.Subscriber.
type Broker interface {
	Run(ctx context.Context, out chan<- mqtt.Message) error
}

// Enqueuer admits a document onto the staging queue. Satisfied by
// internal/staging.Store.
type Enqueuer interface {
	Enqueue(ctx context.Context, target string, payload []byte) (bool, error)
}

// GroupResolver maps a reader hostname to its deduplication group.
// Satisfied by internal/hostgroup.Resolver.
type GroupResolver interface {
	Resolve(hostname string) string
}

// ConfigProvider exposes the live location configuration. Satisfied by
// internal/remoteconfig.Store.
type ConfigProvider interface {
	Current() remoteconfig.Snapshot
}

// Marshaler serialises a tag document for staging. Kept as a field
// rather than a hardcoded encoding/json call so the Forwarder and the
// Ingestor agree on one wire format without an import cycle.
type Marshaler func(v any) ([]byte, error)

// Config configures a Pipeline.
type Config struct {
	Broker         Broker
	Dedup          *dedup.Deduplicator
	Staging        Enqueuer
	Groups         GroupResolver
	ConfigProvider ConfigProvider
	ProcessCtx     tagevent.ProcessContext
	Marshal        Marshaler
	Logger         *slog.Logger
}

// Stats are the Ingestor's error/drop counters, read through
// Pipeline.Stats; the Control API endpoints do not report them.
type Stats struct {
	ParseFailures   int64
	MissingTidDrops int64
	CapacityDrops   int64
}

// Pipeline is the Ingestor's message-processing loop: one goroutine
// reads from the broker, one goroutine digests and decides, staged
// shutdown drains both in order — grounded on the teacher's
// orchestrator Start/Stop (ingesterWg -> close(ingestCh) -> digestWg).
type Pipeline struct {
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc

	brokerWg sync.WaitGroup
	digestWg sync.WaitGroup
	msgCh    chan mqtt.Message

	broker  Broker
	dedup   *dedup.Deduplicator
	staging Enqueuer
	groups  GroupResolver
	config  ConfigProvider
	ctx     tagevent.ProcessContext
	marshal Marshaler
	logger  *slog.Logger

	parseFailures   atomic.Int64
	missingTidDrops atomic.Int64
	capacityDrops   atomic.Int64
}

// New constructs a Pipeline. The Deduplicator's delayed-report callback
// is installed here.
func New(cfg Config) *Pipeline {
	p := &Pipeline{
		broker:  cfg.Broker,
		dedup:   cfg.Dedup,
		staging: cfg.Staging,
		groups:  cfg.Groups,
		config:  cfg.ConfigProvider,
		ctx:     cfg.ProcessCtx,
		marshal: cfg.Marshal,
		logger:  logging.Default(cfg.Logger).With("component", "ingestpipe"),
	}
	p.dedup.SetOnDelayedReport(p.onDelayedReport)
	return p
}

// Start launches the broker and digest goroutines. Returns immediately;
// use Stop to shut down.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.msgCh = make(chan mqtt.Message, 256)
	p.running = true

	p.brokerWg.Go(func() {
		if err := p.broker.Run(runCtx, p.msgCh); err != nil {
			p.logger.Error("broker subscriber exited with error", "error", err)
		}
	})
	p.digestWg.Go(func() { p.digestLoop() })

	return nil
}

// Stop cancels the broker, waits for it to exit, closes the message
// channel, and waits for the digest loop to drain it.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return ErrNotRunning
	}
	cancel := p.cancel
	msgCh := p.msgCh
	p.mu.Unlock()

	cancel()
	p.brokerWg.Wait()
	close(msgCh)
	p.digestWg.Wait()

	p.mu.Lock()
	p.running = false
	p.cancel = nil
	p.msgCh = nil
	p.mu.Unlock()
	return nil
}

func (p *Pipeline) digestLoop() {
	for msg := range p.msgCh {
		p.handle(msg)
	}
}

// handle implements the classify/normalise/decide/enqueue table from
// spec.md §4.E. Parsing failures and missing required fields are
// logged/counted and never propagate.
func (p *Pipeline) handle(msg mqtt.Message) {
	eventType, err := tagevent.EventType(msg.Payload)
	if err != nil {
		p.parseFailures.Add(1)
		metrics.ParseFailuresTotal.Inc()
		p.logger.Debug("unparseable message", "error", err, "topic", msg.Topic)
		return
	}

	if eventType != tagevent.EventTypeTagInventory {
		p.handleGeneric(msg)
		return
	}

	event, err := tagevent.ParseTagInventory(msg.Payload, msg.Topic)
	if errors.Is(err, tagevent.ErrMissingTid) {
		p.missingTidDrops.Add(1)
		metrics.DroppedEventsTotal.Inc()
		p.logger.Debug("dropping tagInventory message missing tid", "topic", msg.Topic)
		return
	}
	if err != nil {
		p.parseFailures.Add(1)
		metrics.ParseFailuresTotal.Inc()
		p.logger.Debug("failed to parse tagInventory message", "error", err, "topic", msg.Topic)
		return
	}

	snapshot := p.config.Current()
	mobile := p.ctx.MobileFlag
	group := p.groups.Resolve(event.Hostname)
	key := tagevent.Key(group, event.Tid)

	now := time.Now()
	shouldForward := true
	if snapshot.EffectiveDeduplicate(mobile) {
		shouldForward = p.dedup.Admit(key, event, now)
	}

	if !shouldForward {
		return // suppressed by dedup; delayed report occurs later
	}

	doc := tagevent.BuildTagDocument(event, msg.Topic, p.ctx, now)
	if !snapshot.EffectiveReporting(mobile) {
		p.logger.Debug("not reported", "tid", event.Tid, "hostname", event.Hostname)
		return
	}
	p.enqueueTagDocument(doc)
}

// onDelayedReport is the Deduplicator's fire-time callback. It
// unconditionally enqueues the cached event's document regardless of
// the reporting flag's current value, per spec.md §4.E: fire-time
// behaviour is decoupled from later policy toggles.
func (p *Pipeline) onDelayedReport(_ string, event tagevent.TagEvent) {
	doc := tagevent.BuildTagDocument(event, event.Topic, p.ctx, time.Now())
	p.enqueueTagDocument(doc)
}

func (p *Pipeline) enqueueTagDocument(doc tagevent.TagDocument) {
	payload, err := p.marshal(doc)
	if err != nil {
		p.logger.Error("failed to marshal tag document", "error", err, "tid", doc.Tid)
		return
	}
	ok, err := p.staging.Enqueue(context.Background(), "tagReads", payload)
	if err != nil {
		p.logger.Error("failed to enqueue tag document", "error", err, "tid", doc.Tid)
		return
	}
	if !ok {
		p.capacityDrops.Add(1)
		metrics.CapacityDropsTotal.Inc()
		p.logger.Error("staging queue at capacity, dropping tag document", "tid", doc.Tid)
	}
}

func (p *Pipeline) handleGeneric(msg mqtt.Message) {
	generic, err := tagevent.BuildGenericEvent(msg.Payload, time.Now())
	if err != nil {
		p.parseFailures.Add(1)
		metrics.ParseFailuresTotal.Inc()
		p.logger.Debug("failed to parse generic event", "error", err, "topic", msg.Topic)
		return
	}
	payload, err := p.marshal(generic)
	if err != nil {
		p.logger.Error("failed to marshal generic event", "error", err)
		return
	}
	ok, err := p.staging.Enqueue(context.Background(), "genericEvents", payload)
	if err != nil {
		p.logger.Error("failed to enqueue generic event", "error", err)
		return
	}
	if !ok {
		p.capacityDrops.Add(1)
		metrics.CapacityDropsTotal.Inc()
		p.logger.Error("staging queue at capacity, dropping generic event")
	}
}

// Stats returns a snapshot of the pipeline's error/drop counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		ParseFailures:   p.parseFailures.Load(),
		MissingTidDrops: p.missingTidDrops.Load(),
		CapacityDrops:   p.capacityDrops.Load(),
	}
}
