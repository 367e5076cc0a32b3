// Package pipeline implements the real-time ingestion path: a bounded queue
// accepting memory payloads and raw audio fragments, drained by a single
// worker that persists memories, flushes audio into transcription, and fans
// events out to subscribers.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiy/audiomem/internal/config"
	"github.com/xiy/audiomem/internal/gateway"
	"github.com/xiy/audiomem/internal/memory"
	"github.com/xiy/audiomem/internal/store"
	"github.com/xiy/audiomem/pkg/types"
)

// item is the queue's work unit sum type.
type item interface{ isItem() }

type memoryItem struct {
	text     string
	metadata map[string]any
}

type audioChunkItem struct {
	data     []byte
	metadata map[string]any
}

func (memoryItem) isItem()     {}
func (audioChunkItem) isItem() {}

// Subscription is the handle returned by Subscribe, used to unsubscribe.
type Subscription struct {
	id uint64
}

// Pipeline owns the bounded queue, the worker goroutine and the subscriber
// set. Producers only ever see a boolean from the enqueue calls; everything
// failing inside the worker is logged, never propagated.
type Pipeline struct {
	svc    *memory.Service
	gw     *gateway.Gateway
	store  store.Store
	cfg    config.PipelineConfig
	logger *log.Logger
	now    func() time.Time

	queue chan item

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}

	subMu  sync.Mutex
	subs   map[uint64]func(types.Event)
	nextID uint64

	// Worker-owned state, never touched outside the worker goroutine.
	buffer    []audioChunkItem
	lastChunk time.Time
	errStreak int
}

func New(svc *memory.Service, gw *gateway.Gateway, st store.Store, cfg config.PipelineConfig, logger *log.Logger) *Pipeline {
	return &Pipeline{
		svc:    svc,
		gw:     gw,
		store:  st,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		queue:  make(chan item, cfg.MaxQueueSize),
		subs:   map[uint64]func(types.Event){},
	}
}

// Subscribe registers a callback for broadcast events and returns a handle
// for Unsubscribe. Callbacks run on the worker goroutine and must not block.
func (p *Pipeline) Subscribe(fn func(types.Event)) *Subscription {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	p.nextID++
	p.subs[p.nextID] = fn
	return &Subscription{id: p.nextID}
}

func (p *Pipeline) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	p.subMu.Lock()
	defer p.subMu.Unlock()
	delete(p.subs, sub.id)
}

// Start spawns the worker if it is not already running.
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})
	p.running = true
	go p.run(p.stopCh, p.done)
	p.logger.Info("pipeline started", "queue_size", p.cfg.MaxQueueSize)
}

// Stop signals the worker and waits up to timeout for it to exit. A worker
// that fails to stop in time is logged, not treated as fatal. Items still
// queued after the worker stops are discarded.
func (p *Pipeline) Stop(timeout time.Duration) {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	done := p.done
	p.mu.Unlock()

	select {
	case <-done:
	case <-time.After(timeout):
		p.logger.Warn("pipeline worker did not stop in time", "timeout", timeout)
	}

	dropped := 0
	for {
		select {
		case <-p.queue:
			dropped++
		default:
			if dropped > 0 {
				p.logger.Info("discarded queued items on stop", "count", dropped)
			}
			return
		}
	}
}

// EnqueueMemory offers a memory payload to the queue, waiting at most the
// configured memory enqueue timeout. A full queue returns false.
func (p *Pipeline) EnqueueMemory(text string, metadata map[string]any) bool {
	return p.offer(memoryItem{text: text, metadata: metadata}, p.cfg.MemoryEnqueueTimeout())
}

// EnqueueAudioChunk offers a raw audio fragment, with a shorter timeout than
// memory payloads since live capture is latency sensitive.
func (p *Pipeline) EnqueueAudioChunk(data []byte, metadata map[string]any) bool {
	return p.offer(audioChunkItem{data: data, metadata: metadata}, p.cfg.AudioEnqueueTimeout())
}

func (p *Pipeline) offer(it item, timeout time.Duration) bool {
	select {
	case p.queue <- it:
		return true
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case p.queue <- it:
		return true
	case <-timer.C:
		return false
	}
}

func (p *Pipeline) run(stop, done chan struct{}) {
	defer close(done)
	ctx := context.Background()

	for {
		poll := time.NewTimer(p.cfg.PollTimeout())
		select {
		case <-stop:
			poll.Stop()
			// Best-effort delivery of whatever audio is still buffered.
			if err := p.flushBuffer(ctx); err != nil {
				p.logger.Error("final flush failed", "err", err)
			}
			return
		case it := <-p.queue:
			poll.Stop()
			if err := p.handle(ctx, it); err != nil {
				p.logger.Error("item processing failed", "err", err)
				p.errStreak++
				if p.errStreak >= p.cfg.MaxConsecutiveErrors {
					p.logger.Warn("too many consecutive errors, pausing worker",
						"streak", p.errStreak, "pause", p.cfg.ErrorPause())
					p.pause(stop, p.cfg.ErrorPause())
					p.errStreak = 0
				}
			} else {
				p.errStreak = 0
			}
		case <-poll.C:
			if len(p.buffer) > 0 && p.now().Sub(p.lastChunk) > p.cfg.BufferStaleTimeout() {
				if err := p.flushBuffer(ctx); err != nil {
					p.logger.Error("stale buffer flush failed", "err", err)
				}
			}
		}
	}
}

func (p *Pipeline) pause(stop chan struct{}, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-stop:
	case <-timer.C:
	}
}

func (p *Pipeline) handle(ctx context.Context, it item) error {
	switch v := it.(type) {
	case memoryItem:
		return p.processMemory(ctx, v)
	case audioChunkItem:
		if len(v.data) == 0 {
			p.logger.Warn("audio fragment without payload dropped")
			return nil
		}
		p.buffer = append(p.buffer, v)
		p.lastChunk = p.now()
		if len(p.buffer) >= p.cfg.MaxBufferSize {
			return p.flushBuffer(ctx)
		}
		return nil
	default:
		p.logger.Warn("unknown queue item dropped", "item", fmt.Sprintf("%T", it))
		return nil
	}
}

func (p *Pipeline) processMemory(ctx context.Context, it memoryItem) error {
	rec, err := p.svc.CreateText(ctx, it.text, it.metadata)
	if err != nil {
		return fmt.Errorf("process memory item: %w", err)
	}

	p.broadcast(types.Event{
		Type:      types.EventNewMemory,
		MemoryID:  rec.ID,
		Emotion:   rec.Emotion,
		Analysis:  analyzeRecord(rec),
		Metadata:  it.metadata,
		Timestamp: p.now().UTC(),
	})
	p.logEvent(ctx, string(types.EventNewMemory), rec.ID, "")
	return nil
}

// flushBuffer concatenates the buffered fragments in arrival order, runs
// them through transcription and broadcasts the result. The buffered window
// is consumed even when the flush fails; real-time audio is best effort.
func (p *Pipeline) flushBuffer(ctx context.Context) error {
	if len(p.buffer) == 0 {
		return nil
	}
	chunks := p.buffer
	p.buffer = nil

	var joined bytes.Buffer
	for _, c := range chunks {
		joined.Write(c.data)
	}
	last := chunks[len(chunks)-1]
	format := gateway.NormalizeFormat(metadataString(last.metadata, "format"))

	tmp, err := os.CreateTemp("", "audiomem-*."+format)
	if err != nil {
		return fmt.Errorf("create fragment file: %w", err)
	}
	path := tmp.Name()
	defer os.Remove(path)

	if _, err := tmp.Write(joined.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write fragment file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close fragment file: %w", err)
	}

	tr, err := p.gw.Transcriber.Transcribe(ctx, path)
	if err != nil {
		return fmt.Errorf("transcribe buffered audio: %w", err)
	}
	text := strings.TrimSpace(tr.Text)
	if text == "" {
		p.logger.Debug("silent audio window, no event", "fragments", len(chunks))
		return nil
	}

	emotion, err := p.gw.Classifier.Classify(ctx, text)
	if err != nil {
		return fmt.Errorf("classify transcription: %w", err)
	}

	p.broadcast(types.Event{
		Type:         types.EventTranscription,
		Text:         text,
		Emotion:      emotion.Label,
		EmotionScore: emotion.Confidence,
		Duration:     tr.DurationSeconds,
		Metadata:     last.metadata,
		Timestamp:    p.now().UTC(),
	})
	p.logEvent(ctx, string(types.EventTranscription), "", fmt.Sprintf("%d fragments", len(chunks)))
	return nil
}

// broadcast delivers an event to a point-in-time snapshot of the subscriber
// set. A panicking subscriber never stops delivery to the others.
func (p *Pipeline) broadcast(ev types.Event) {
	p.subMu.Lock()
	snapshot := make([]func(types.Event), 0, len(p.subs))
	for _, fn := range p.subs {
		snapshot = append(snapshot, fn)
	}
	p.subMu.Unlock()

	for _, fn := range snapshot {
		p.deliver(fn, ev)
	}
}

func (p *Pipeline) deliver(fn func(types.Event), ev types.Event) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("subscriber callback panicked", "panic", r)
		}
	}()
	fn(ev)
}

func (p *Pipeline) logEvent(ctx context.Context, eventType, memoryID, detail string) {
	err := p.store.InsertEventLog(ctx, store.EventLog{
		Type:      eventType,
		MemoryID:  memoryID,
		Detail:    detail,
		CreatedAt: p.now().UTC(),
	})
	if err != nil {
		p.logger.Warn("event log write failed", "err", err)
	}
}

// analyzeRecord derives the quick-turnaround analysis attached to new_memory
// events from the record's sidecar estimates.
func analyzeRecord(rec types.MemoryRecord) *types.QuickAnalysis {
	qa := &types.QuickAnalysis{}

	engagement := rec.MetadataFloat("engagement_level", 0.5)
	if engagement > 0.8 {
		qa.Patterns = append(qa.Patterns, "high_engagement")
	} else if engagement < 0.3 {
		qa.Patterns = append(qa.Patterns, "low_engagement")
	}

	stress := rec.MetadataFloat("stress_score", 0.5)
	if stress > 0.7 {
		qa.Anomalies = append(qa.Anomalies, "high_stress_detected")
		qa.Recommendations = append(qa.Recommendations, "consider_break_or_relaxation")
	}

	movement := rec.MetadataFloat("movement_intensity", 0.5)
	if rec.Emotion == "joy" && movement < 0.3 {
		qa.Anomalies = append(qa.Anomalies, "emotion_movement_mismatch")
	}
	return qa
}

func metadataString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}
