// Package poll runs one reader poll cycle at a time: it checks for a newly
// presented card, accepts only MIFARE Classic cards with a 4-byte UID and
// records new UIDs in the tag cache.
package poll

import (
	"context"
	"log"

	"fobreader/reader"
	"fobreader/tagcache"
)

// Feedback is the part of the feedback controller the poll loop drives.
type Feedback interface {
	AcceptStart()
	AcceptEnd()
}

// Outcome is the result of one cycle.
type Outcome int

// Cycle outcomes.
const (
	NoCard Outcome = iota
	InvalidType
	Stored
	Repeat
	Failed
)

func (o Outcome) String() string {
	switch o {
	case NoCard:
		return "no card"
	case InvalidType:
		return "invalid type"
	case Stored:
		return "stored"
	case Repeat:
		return "repeat"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Loop feeds the tag cache from the reader.
type Loop struct {
	driver   reader.Driver
	cache    *tagcache.Cache
	feedback Feedback

	onStored  func(reader.Card, tagcache.TagID)
	onInvalid func(reader.Card)
}

// New creates a poll loop.
func New(driver reader.Driver, cache *tagcache.Cache, feedback Feedback) *Loop {
	return &Loop{driver: driver, cache: cache, feedback: feedback}
}

// OnStored registers fn to be called when a new tag is stored.
func (l *Loop) OnStored(fn func(reader.Card, tagcache.TagID)) {
	l.onStored = fn
}

// OnInvalid registers fn to be called when a card of the wrong type is seen.
func (l *Loop) OnInvalid(fn func(reader.Card)) {
	l.onInvalid = fn
}

// Cycle runs one poll. It returns quickly when no card is present.
func (l *Loop) Cycle(ctx context.Context) Outcome {
	card, ok, err := l.driver.PollForCard(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("Reader poll: %v", err)
		}
		return Failed
	}
	if !ok {
		return NoCard
	}

	l.feedback.AcceptStart()
	defer func() {
		l.feedback.AcceptEnd()
		if err := l.driver.HaltAndStopCrypto(); err != nil {
			log.Printf("Reader halt: %v", err)
		}
	}()

	log.Printf("Card: %v", card)

	if !card.Type().IsClassic() || len(card.UID) != tagcache.Size {
		log.Printf("Card not supported: %v, %d byte uid", card.Type(), len(card.UID))
		if l.onInvalid != nil {
			l.onInvalid(card)
		}
		return InvalidType
	}

	id := tagcache.FromBytes(card.UID)
	if l.cache.Observe(id) == tagcache.Repeat {
		log.Printf("Tag %v already pending", id)
		return Repeat
	}

	l.cache.Store(id)
	log.Printf("Read tag: %v", id)
	if l.onStored != nil {
		l.onStored(card, id)
	}
	return Stored
}
