package kafka

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Handler must return nil only when the message is done and its offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

// reader is the part of *kafka.Reader the consumer drives.
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r       reader
	workers int
	log     *slog.Logger

	backoff    time.Duration
	maxBackoff time.Duration
}

func NewConsumer(brokers []string, group, topic string, workers int, log *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if log == nil {
		log = slog.Default()
	}
	return newConsumer(r, workers, log.With(slog.String("topic", topic), slog.String("group", group)))
}

func newConsumer(r reader, workers int, log *slog.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, workers: workers, log: log, backoff: 200 * time.Millisecond, maxBackoff: 5 * time.Second}
}

// Start fetches until ctx is done. Each key is pinned to one worker so its
// messages are handled in log order. A failed message is retried with backoff
// until it succeeds or ctx ends, and offsets are committed only up to the
// oldest message still in flight.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	lanes := make([]chan kafka.Message, c.workers)
	offs := &offsets{parts: make(map[int]*partitionLog)}

	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, 128)
		wg.Add(1)
		go func(lane <-chan kafka.Message) {
			defer wg.Done()
			for m := range lane {
				if !c.handle(ctx, h, m) {
					continue // shutting down; left uncommitted
				}
				c.commit(ctx, offs, m)
			}
		}(lanes[i])
	}
	stop := func() {
		for _, lane := range lanes {
			close(lane)
		}
		wg.Wait()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		offs.track(m)
		select {
		case lanes[c.lane(m)] <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

// lane picks the worker for m by key, falling back to the partition.
func (c *Consumer) lane(m kafka.Message) int {
	if len(m.Key) == 0 {
		return m.Partition % c.workers
	}
	hs := fnv.New32a()
	_, _ = hs.Write(m.Key)
	return int(hs.Sum32() % uint32(c.workers))
}

// handle runs h until it succeeds. It reports false when ctx ended first.
func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) bool {
	wait := c.backoff
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return false
		}
		err := h(ctx, m)
		if err == nil {
			return true
		}
		c.log.Warn("handler failed, retrying",
			slog.Int("partition", m.Partition), slog.Int64("offset", m.Offset),
			slog.Int("attempt", attempt), slog.Duration("backoff", wait), slog.Any("error", err))
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
		wait = min(wait*2, c.maxBackoff)
	}
}

// commit marks m done and commits the partition's contiguous done prefix.
// The lock is held across the commit so offsets never move backwards.
func (c *Consumer) commit(ctx context.Context, offs *offsets, m kafka.Message) {
	offs.mu.Lock()
	defer offs.mu.Unlock()

	upto, ok := offs.finish(m)
	if !ok {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.r.CommitMessages(cctx, upto); err != nil {
		c.log.Warn("commit failed",
			slog.Int("partition", upto.Partition), slog.Int64("offset", upto.Offset), slog.Any("error", err))
	}
}

type partitionLog struct {
	pending []kafka.Message // fetch order
	done    map[int64]bool
}

// offsets tracks in-flight messages per partition.
type offsets struct {
	mu    sync.Mutex
	parts map[int]*partitionLog
}

func (o *offsets) track(m kafka.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p := o.parts[m.Partition]
	if p == nil {
		p = &partitionLog{done: make(map[int64]bool)}
		o.parts[m.Partition] = p
	}
	p.pending = append(p.pending, m)
}

// finish must be called with mu held. It returns the newest message whose
// predecessors are all done, if marking m advanced that point.
func (o *offsets) finish(m kafka.Message) (kafka.Message, bool) {
	p := o.parts[m.Partition]
	if p == nil {
		return kafka.Message{}, false
	}
	p.done[m.Offset] = true

	var (
		upto kafka.Message
		ok   bool
	)
	for len(p.pending) > 0 && p.done[p.pending[0].Offset] {
		upto, ok = p.pending[0], true
		delete(p.done, upto.Offset)
		p.pending = p.pending[1:]
	}
	return upto, ok
}
