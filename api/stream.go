package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"journal-api/domain"
)

const streamHeartbeat = 25 * time.Second

// Broker fans change notifications out to SSE subscribers watching one
// owner's day. It also acts as an in-process domain.Notifier.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

var _ domain.Notifier = (*Broker)(nil)

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan struct{}]struct{}), done: make(chan struct{})}
}

// Close ends every open stream. http.Server.Shutdown does not cancel
// in-flight requests, so it must run before the server drains.
func (b *Broker) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}

func brokerKey(owner, day string) string { return owner + "|" + day }

// Subscribe returns a channel signalled on every change to owner's day, and a
// function releasing it. Signals coalesce while unread.
func (b *Broker) Subscribe(owner, day string) (<-chan struct{}, func()) {
	key := brokerKey(owner, day)
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	set, ok := b.subs[key]
	if !ok {
		set = make(map[chan struct{}]struct{})
		b.subs[key] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		if s := b.subs[key]; s != nil {
			delete(s, ch)
			if len(s) == 0 {
				delete(b.subs, key)
			}
		}
		b.mu.Unlock()
	}
}

// Dispatch notifies subscribers of the change's owner and day.
func (b *Broker) Dispatch(change domain.Change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[brokerKey(change.Owner, change.Day)] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (b *Broker) Publish(_ context.Context, change domain.Change) error {
	b.Dispatch(change)
	return nil
}

func (b *Broker) subscribers(owner, day string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[brokerKey(owner, day)])
}

// streamTasks keeps an event stream open and emits "refresh" whenever the
// selected day's list changes.
func streamTasks(svc TaskService, broker *Broker, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		cur, err := selectedDay(c, svc)
		if err != nil {
			return respondError(c, logger, err)
		}
		owner := principalFrom(c).Subject
		day := cur.String()

		res := c.Response()
		res.Header().Set(echo.HeaderContentType, "text/event-stream")
		res.Header().Set(echo.HeaderCacheControl, "no-cache")
		res.Header().Set(echo.HeaderConnection, "keep-alive")
		res.Header().Set("X-Accel-Buffering", "no")
		flusher, ok := res.Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		updates, release := broker.Subscribe(owner, day)
		defer release()

		res.WriteHeader(http.StatusOK)
		if _, err := fmt.Fprintf(res, "event: ready\ndata: %s\n\n", day); err != nil {
			return nil
		}
		flusher.Flush()

		ticker := time.NewTicker(streamHeartbeat)
		defer ticker.Stop()
		ctx := c.Request().Context()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-broker.done:
				return nil
			case <-updates:
				if _, err := fmt.Fprintf(res, "event: refresh\ndata: %s\n\n", day); err != nil {
					logger.WithError(err).Debug("stream closed")
					return nil
				}
			case <-ticker.C:
				if _, err := fmt.Fprint(res, ": ping\n\n"); err != nil {
					return nil
				}
			}
			flusher.Flush()
		}
	}
}
