package hook

import (
	"errors"
	"fmt"
	"sync"
)

// Record is one installed hook and the entry point it sits on.
type Record struct {
	NID  uint32
	Hook Hook
}

// Set installs a fixed number of hooks through a Hooker and releases them
// together. Slots of failed installs stay free.
type Set struct {
	lock     sync.Mutex
	hooker   Hooker
	capacity int
	records  []Record
}

// NewSet returns a set holding at most capacity hooks installed through h.
func NewSet(h Hooker, capacity int) *Set {
	return &Set{hooker: h, capacity: capacity, records: make([]Record, 0, capacity)}
}

// Install hooks nid with replacement and records the result.
func (s *Set) Install(nid uint32, replacement any) (Hook, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if len(s.records) >= s.capacity {
		return nil, fmt.Errorf("nid 0x%08X: %w", nid, ErrSetFull)
	}
	h, err := s.hooker.Install(nid, replacement)
	if err != nil {
		return nil, err
	}
	s.records = append(s.records, Record{NID: nid, Hook: h})
	return h, nil
}

// ReleaseAll releases every recorded hook, newest first, and empties the
// set. Calling it again is a no-op.
func (s *Set) ReleaseAll() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	var errs []error
	for i := len(s.records) - 1; i >= 0; i-- {
		r := s.records[i]
		if err := s.hooker.Release(r.Hook); err != nil {
			errs = append(errs, fmt.Errorf("release nid 0x%08X: %w", r.NID, err))
		}
	}
	s.records = s.records[:0]
	return errors.Join(errs...)
}

// Len returns the number of installed hooks.
func (s *Set) Len() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.records)
}

// Records returns a copy of the installed hooks in install order.
func (s *Set) Records() []Record {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]Record(nil), s.records...)
}
