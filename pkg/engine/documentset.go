package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/idp-org/idp-go/pkg/document"
)

// DocumentSet is the in-memory working set of identity documents the
// engine operates on, keyed by identity id. Each identity carries its own
// mutex, so operations touching disjoint identities never contend; there
// is no set-wide write lock around commits.
type DocumentSet struct {
	mu    sync.Mutex // guards the two maps, never held across identity locks
	docs  map[string]*document.Document
	locks map[string]*sync.Mutex
}

func NewDocumentSet() *DocumentSet {
	return &DocumentSet{
		docs:  make(map[string]*document.Document),
		locks: make(map[string]*sync.Mutex),
	}
}

// Put adds or replaces a document under its identity id. The set owns the
// document from here on; callers must not keep mutating the pointer they
// handed over.
func (s *DocumentSet) Put(doc *document.Document) error {
	id := doc.Identity.ID
	if id == "" {
		return fmt.Errorf("document has no identity id")
	}

	s.mu.Lock()
	mu, ok := s.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[id] = mu
	}
	s.mu.Unlock()

	// Waits out any in-flight commit on this identity.
	mu.Lock()
	defer mu.Unlock()
	s.mu.Lock()
	s.docs[id] = doc
	s.mu.Unlock()
	return nil
}

// Load reads a document from disk and puts it into the set.
func (s *DocumentSet) Load(path string) (*document.Document, error) {
	doc, err := document.Load(path)
	if err != nil {
		return nil, err
	}
	if err := s.Put(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Snapshot returns a deep copy of the identified document, taken under the
// identity's lock so it is never torn by a concurrent commit.
func (s *DocumentSet) Snapshot(id string) (*document.Document, bool) {
	mu := s.lockFor(id)
	if mu == nil {
		return nil, false
	}
	mu.Lock()
	defer mu.Unlock()
	return s.get(id).Clone(), true
}

// Resolve implements trust.Resolver. An unknown id resolves to a nil
// document, which the validator reports as an unknown signer.
func (s *DocumentSet) Resolve(id string) (*document.Document, error) {
	doc, ok := s.Snapshot(id)
	if !ok {
		return nil, nil
	}
	return doc, nil
}

// IDs returns the identity ids in the set, sorted.
func (s *DocumentSet) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of documents in the set.
func (s *DocumentSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

// get returns the live document pointer. Callers must hold the identity's
// lock when they intend to read or mutate the document.
func (s *DocumentSet) get(id string) *document.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[id]
}

func (s *DocumentSet) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locks[id]
}

// lockAll acquires the locks of the given identities in sorted-id order
// and returns a release closure. Ids must be pre-sorted and unique; a
// missing identity aborts the acquisition and its id is returned.
func (s *DocumentSet) lockAll(ids []string) (release func(), missing string) {
	locked := make([]*sync.Mutex, 0, len(ids))
	unlock := func() {
		for i := len(locked) - 1; i >= 0; i-- {
			locked[i].Unlock()
		}
	}
	for _, id := range ids {
		mu := s.lockFor(id)
		if mu == nil {
			unlock()
			return nil, id
		}
		mu.Lock()
		locked = append(locked, mu)
	}
	return unlock, ""
}

func uniqueSorted(ids []string) []string {
	sort.Strings(ids)
	out := ids[:0]
	var prev string
	for i, id := range ids {
		if i == 0 || id != prev {
			out = append(out, id)
		}
		prev = id
	}
	return out
}
