// Package live subscribes to push sources that deliver the whole matching
// collection on every change and turns each delivery into a sorted list of
// feed items.
package live

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"feedsync/models"

	log "github.com/sirupsen/logrus"
)

type Direction string

const (
	Descending Direction = "desc"
	Ascending  Direction = "asc"
)

// Query names the collection to follow and the ordering hint passed to the
// source. Results are always re-sorted newest first regardless of the hint.
type Query struct {
	Collection string
	OrderField string
	Direction  Direction
}

// Unsubscribe stops a subscription. Calling it more than once is a no-op.
type Unsubscribe func()

// Source is a push provider. onSnapshot receives the entire current
// collection, never a diff. Errors after a successful start go to onError.
type Source interface {
	Subscribe(ctx context.Context, q Query, onSnapshot func([]models.Document), onError func(error)) (Unsubscribe, error)
}

// Subscriber turns raw source snapshots into sorted feed items.
type Subscriber struct {
	source    Source
	queueSize int
}

func NewSubscriber(source Source) *Subscriber {
	return &Subscriber{source: source, queueSize: 16}
}

type message struct {
	docs []models.Document
	err  error
}

// Subscribe follows q. Source callbacks only enqueue immutable messages; a
// single goroutine maps, sorts and publishes them in delivery order.
// onUpdate always receives the complete sorted list.
func (s *Subscriber) Subscribe(ctx context.Context, q Query, onUpdate func([]models.FeedItem), onError func(error)) Unsubscribe {
	ctx, cancel := context.WithCancel(ctx)
	msgs := make(chan message, s.queueSize)
	var closed atomic.Bool

	enqueue := func(m message) {
		if closed.Load() {
			return
		}
		select {
		case msgs <- m:
		case <-ctx.Done():
		}
	}

	stop, err := s.source.Subscribe(ctx, q,
		func(docs []models.Document) {
			enqueue(message{docs: slices.Clone(docs)})
		},
		func(err error) {
			enqueue(message{err: err})
		},
	)
	if err != nil {
		// Reported from the consumer goroutine like any other error.
		enqueue(message{err: err})
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-msgs:
				if closed.Load() {
					return
				}
				if m.err != nil {
					log.WithFields(log.Fields{
						"collection": q.Collection,
						"error":      m.err,
					}).Warn("Live subscription error")
					if onError != nil {
						onError(m.err)
					}
					continue
				}
				items := models.ItemsFromDocuments(m.docs, q.OrderField)
				models.SortNewestFirst(items)
				onUpdate(items)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			closed.Store(true)
			cancel()
			if stop != nil {
				stop()
			}
			log.WithFields(log.Fields{
				"collection": q.Collection,
			}).Debug("Unsubscribed from live source")
		})
	}
}
