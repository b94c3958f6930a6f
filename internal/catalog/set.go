package catalog

import (
	"context"
	"sync"
)

// Set is a snapshot of the resource catalog. It is read concurrently while
// planning and mutated only from a single goroutine afterwards.
type Set struct {
	records  []Record
	index    map[string]int
	Episodes []string // known episode ids; nil disables episode validation
}

func NewSet(records ...Record) *Set {
	s := &Set{index: make(map[string]int, len(records))}
	for _, r := range records {
		s.Add(r)
	}
	return s
}

// Add appends r, replacing any record with the same id.
func (s *Set) Add(r Record) {
	if s.index == nil {
		s.index = make(map[string]int)
	}
	if i, ok := s.index[r.RecordID()]; ok {
		s.records[i] = r
		return
	}
	s.index[r.RecordID()] = len(s.records)
	s.records = append(s.records, r)
}

func (s *Set) Len() int {
	return len(s.records)
}

func (s *Set) Records() []Record {
	return s.records
}

func (s *Set) Get(id string) (Record, bool) {
	i, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return s.records[i], true
}

// File returns the file resource with the given id, if present.
func (s *Set) File(id string) (*FileResource, bool) {
	r, ok := s.Get(id)
	if !ok {
		return nil, false
	}
	f, ok := r.(*FileResource)
	return f, ok
}

// Files returns all file resources, in insertion order.
func (s *Set) Files() []*FileResource {
	files := make([]*FileResource, 0, len(s.records))
	for _, r := range s.records {
		if f, ok := r.(*FileResource); ok {
			files = append(files, f)
		}
	}
	return files
}

// Descriptors returns all bundle descriptors, in insertion order.
func (s *Set) Descriptors() []*FileResource {
	var ds []*FileResource
	for _, f := range s.Files() {
		if f.IsBundle() {
			ds = append(ds, f)
		}
	}
	return ds
}

// MemoryStore is a Store keeping every mutation in memory. It is safe for
// concurrent use.
type MemoryStore struct {
	mu          sync.Mutex
	Descriptors []*FileResource
	Builds      map[string][]string
	Locators    map[string]map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Builds:   make(map[string][]string),
		Locators: make(map[string]map[string]string),
	}
}

func (m *MemoryStore) InsertDescriptor(_ context.Context, desc *FileResource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Descriptors = append(m.Descriptors, desc)
	if desc.Process != nil {
		m.Builds[desc.ID] = append(m.Builds[desc.ID], desc.Process.MediaBundleIDs...)
	}
	return nil
}

func (m *MemoryStore) AddBuild(_ context.Context, resourceID, buildID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Builds[resourceID] = append(m.Builds[resourceID], buildID)
	return nil
}

func (m *MemoryStore) SetLocator(_ context.Context, resourceID, stageID, locator string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Locators[resourceID] == nil {
		m.Locators[resourceID] = make(map[string]string)
	}
	m.Locators[resourceID][stageID] = locator
	return nil
}
