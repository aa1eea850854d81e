// Package sublist fans closed cycles out to live subscribers, one list per
// emitter type plus one for every type.
package sublist

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"nuha.dev/rflocate/internal/aggregator"
)

const ALL = "all"

// Subscriber must not block in Push. It reports true once it is closed and
// is then dropped from the list.
type Subscriber interface {
	Push(key string, d []byte) (closed bool)
}

type SublistMap struct {
	mu   *sync.Mutex
	list map[string]*Sublist
}

type Sublist struct {
	key  string
	list map[Subscriber]bool
	data []byte
	mu   *sync.Mutex
}

func NewSublistMap() *SublistMap {
	m := SublistMap{}
	m.mu = &sync.Mutex{}
	m.list = map[string]*Sublist{}
	return &m
}

func Key(type_name string) string {
	if type_name == "" {
		return ALL
	}
	return strings.ToLower(type_name)
}

func (s *SublistMap) GetSublist(key string, create bool) (*Sublist, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.list[key]
	if ok {
		return l, true
	}
	if !create {
		return nil, false
	}
	l = &Sublist{key: key, list: make(map[Subscriber]bool), mu: &sync.Mutex{}}
	s.list[key] = l
	return l, true
}

func (s *SublistMap) Name() string {
	return "sublist"
}

// Consume sends the strongest-first view of c to the ALL list and a per-type
// view to every type list that exists.
func (s *SublistMap) Consume(ctx context.Context, c *aggregator.Cycle) error {
	if l, ok := s.GetSublist(ALL, false); ok {
		d, err := json.Marshal(c.View(c.Strongest()))
		if err != nil {
			return err
		}
		l.Send(d)
	}
	for t, obs := range c.ByType() {
		l, ok := s.GetSublist(Key(t.String()), false)
		if !ok {
			continue
		}
		d, err := json.Marshal(c.View(obs))
		if err != nil {
			return err
		}
		l.Send(d)
	}
	return nil
}

// Subscribe adds sub and replays the last payload sent on the list, if any.
func (s *Sublist) Subscribe(sub Subscriber) {
	s.mu.Lock()
	s.list[sub] = true
	if s.data != nil {
		if sub.Push(s.key, s.data) {
			delete(s.list, sub)
		}
	}
	s.mu.Unlock()
}

func (s *Sublist) Unsubscribe(sub Subscriber) {
	s.mu.Lock()
	delete(s.list, sub)
	s.mu.Unlock()
}

func (s *Sublist) Send(d []byte) {
	s.mu.Lock()
	s.data = d
	for sub := range s.list {
		closed := sub.Push(s.key, d)
		if closed {
			delete(s.list, sub)
		}
	}
	s.mu.Unlock()
}

func (s *Sublist) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.list)
}
