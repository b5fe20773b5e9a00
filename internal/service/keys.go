package service

import (
	"strings"
	"sync"
	"time"
)

const (
	keyPrefix    = "input/diagram-"
	keyExtension = ".jpg"
	keyLayout    = "2006-01-02T15-04-05.000"
)

// KeyGenerator produces object keys of the form
// input/diagram-2006-01-02T15-04-05-000Z.jpg. Keys from one generator are
// strictly increasing.
type KeyGenerator struct {
	now func() time.Time

	mu   sync.Mutex
	last time.Time
}

func NewKeyGenerator(now func() time.Time) *KeyGenerator {
	if now == nil {
		now = time.Now
	}
	return &KeyGenerator{now: now}
}

func (g *KeyGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := g.now().UTC().Truncate(time.Millisecond)
	if !ts.After(g.last) {
		ts = g.last.Add(time.Millisecond)
	}
	g.last = ts

	return keyPrefix + FormatTimestamp(ts) + keyExtension
}

// FormatTimestamp renders t as an ISO-8601 UTC timestamp with ':' and '.'
// replaced by '-', e.g. 2025-01-02T03-04-05-678Z.
func FormatTimestamp(t time.Time) string {
	return strings.Replace(t.UTC().Format(keyLayout), ".", "-", 1) + "Z"
}
