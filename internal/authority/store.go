// Package authority is a headless, in-memory world that answers worldlink envelopes. It backs
// the end-to-end tests and `worldctl serve`.
package authority

import (
	"encoding/binary"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/zeusync/worldlink/internal/core/protocol"
	"github.com/zeusync/worldlink/pkg/codec"
	"github.com/zeusync/worldlink/pkg/component"
)

const defaultShardCount = 16

var (
	ErrEntityNotFound = errors.New("entity not found")
	ErrNameInUse      = errors.New("name already in use")
	ErrNoComponent    = errors.New("entity has no such component")
)

// Stored is one encoded component together with its kind.
type Stored struct {
	Kind component.Kind
	Raw  codec.Raw
	// Name is the decoded value of a Name component.
	Name string
}

type record struct {
	id         uint64
	name       string
	components []Stored
}

func (r *record) snapshot() protocol.EntityRecord {
	raws := make([]codec.Raw, len(r.components))
	for i, c := range r.components {
		raws[i] = append(codec.Raw(nil), c.Raw...)
	}
	return protocol.EntityRecord{ID: ref(r.id), Name: r.name, Components: raws}
}

func (r *record) has(kind component.Kind) bool {
	for _, c := range r.components {
		if c.Kind == kind {
			return true
		}
	}
	return false
}

// upsert replaces the first component of the same kind or appends it.
func (r *record) upsert(c Stored) {
	for i := range r.components {
		if r.components[i].Kind == c.Kind {
			r.components[i] = c
			return
		}
	}
	r.components = append(r.components, c)
}

type shard struct {
	mu       sync.RWMutex
	entities map[uint64]*record
}

// Store keeps entities in shards selected by an xxhash of their id. Locks are always taken in
// shard index order and the name index lock last.
type Store struct {
	shards []shard
	nextID atomic.Uint64
	count  atomic.Int64

	namesMu sync.Mutex
	names   map[string]uint64
}

// NewStore creates an empty world with shardCount shards (16 when not positive).
func NewStore(shardCount int) *Store {
	if shardCount <= 0 {
		shardCount = defaultShardCount
	}
	s := &Store{
		shards: make([]shard, shardCount),
		names:  make(map[string]uint64),
	}
	for i := range s.shards {
		s.shards[i].entities = make(map[uint64]*record)
	}
	return s
}

func ref(id uint64) protocol.EntityRef {
	return protocol.EntityRef(strconv.FormatUint(id, 10))
}

func (s *Store) shardFor(id uint64) *shard {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], id)
	return &s.shards[xxhash.Sum64(buf[:])%uint64(len(s.shards))]
}

// Len returns the number of live entities.
func (s *Store) Len() int { return int(s.count.Load()) }

// resolve maps a reference to an id: first as a canonical id, then as a name.
func (s *Store) resolve(r protocol.EntityRef) (uint64, bool) {
	if id, err := strconv.ParseUint(string(r), 10, 64); err == nil {
		sh := s.shardFor(id)
		sh.mu.RLock()
		_, ok := sh.entities[id]
		sh.mu.RUnlock()
		if ok {
			return id, true
		}
	}
	s.namesMu.Lock()
	id, ok := s.names[string(r)]
	s.namesMu.Unlock()
	return id, ok
}

// SpawnResult reports the new entity and the indexes of components that were not stored.
type SpawnResult struct {
	Entity   protocol.EntityRef
	Rejected map[int]error
}

// Spawn creates an entity from components applied in order; a later component of the same
// kind overwrites an earlier one. A Name component whose value belongs to another entity is
// rejected and the rest are kept.
func (s *Store) Spawn(components []Stored) SpawnResult {
	id := s.nextID.Add(1)
	rec := &record{id: id, components: make([]Stored, 0, len(components))}
	res := SpawnResult{Entity: ref(id)}

	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	s.namesMu.Lock()
	for i, c := range components {
		if c.Kind == component.KindName {
			if err := s.renameLocked(rec, c.Name); err != nil {
				if res.Rejected == nil {
					res.Rejected = make(map[int]error)
				}
				res.Rejected[i] = err
				continue
			}
		}
		rec.upsert(c)
	}
	s.namesMu.Unlock()

	sh.entities[id] = rec
	s.count.Add(1)
	return res
}

// Upsert applies each component to the entity, replacing components of the same kind.
// A Name component renames the entity. Rejected components are reported by index.
func (s *Store) Upsert(r protocol.EntityRef, components []Stored) (protocol.EntityRef, map[int]error, error) {
	id, ok := s.resolve(r)
	if !ok {
		return "", nil, ErrEntityNotFound
	}
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.entities[id]
	if !ok {
		return "", nil, ErrEntityNotFound
	}

	var rejected map[int]error
	for i, c := range components {
		if c.Kind == component.KindName {
			if err := s.rename(rec, c.Name); err != nil {
				if rejected == nil {
					rejected = make(map[int]error)
				}
				rejected[i] = err
				continue
			}
		}
		rec.upsert(c)
	}
	return ref(id), rejected, nil
}

// rename must be called with the entity's shard locked.
func (s *Store) rename(rec *record, name string) error {
	s.namesMu.Lock()
	defer s.namesMu.Unlock()
	return s.renameLocked(rec, name)
}

func (s *Store) renameLocked(rec *record, name string) error {
	if owner, taken := s.names[name]; taken && owner != rec.id {
		return ErrNameInUse
	}
	if rec.name != "" && rec.name != name {
		delete(s.names, rec.name)
	}
	s.names[name] = rec.id
	rec.name = name
	return nil
}

// Remove despawns the entity and frees its name.
func (s *Store) Remove(r protocol.EntityRef) (protocol.EntityRef, error) {
	id, ok := s.resolve(r)
	if !ok {
		return "", ErrEntityNotFound
	}
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.entities[id]
	if !ok {
		return "", ErrEntityNotFound
	}
	delete(sh.entities, id)
	s.count.Add(-1)

	if rec.name != "" {
		s.namesMu.Lock()
		if s.names[rec.name] == id {
			delete(s.names, rec.name)
		}
		s.namesMu.Unlock()
	}
	return ref(id), nil
}

// RemoveComponent detaches every component of kind from the entity. Removing the Name
// frees it for other entities.
func (s *Store) RemoveComponent(r protocol.EntityRef, kind component.Kind) (protocol.EntityRef, error) {
	id, ok := s.resolve(r)
	if !ok {
		return "", ErrEntityNotFound
	}
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.entities[id]
	if !ok {
		return "", ErrEntityNotFound
	}
	kept := rec.components[:0]
	for _, c := range rec.components {
		if c.Kind != kind {
			kept = append(kept, c)
		}
	}
	if len(kept) == len(rec.components) {
		return "", ErrNoComponent
	}
	clear(rec.components[len(kept):])
	rec.components = kept

	if kind == component.KindName && rec.name != "" {
		s.namesMu.Lock()
		if s.names[rec.name] == id {
			delete(s.names, rec.name)
		}
		s.namesMu.Unlock()
		rec.name = ""
	}
	return ref(id), nil
}

// Get returns a copy of one entity.
func (s *Store) Get(r protocol.EntityRef) (protocol.EntityRecord, error) {
	id, ok := s.resolve(r)
	if !ok {
		return protocol.EntityRecord{}, ErrEntityNotFound
	}
	sh := s.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	rec, ok := sh.entities[id]
	if !ok {
		return protocol.EntityRecord{}, ErrEntityNotFound
	}
	return rec.snapshot(), nil
}

// List returns a consistent snapshot of the entities matching filter, in spawn order.
func (s *Store) List(filter *protocol.ListFilter) []protocol.EntityRecord {
	for i := range s.shards {
		s.shards[i].mu.RLock()
	}
	matched := make([]*record, 0, s.Len())
	for i := range s.shards {
		for _, rec := range s.shards[i].entities {
			if matches(rec, filter) {
				matched = append(matched, rec)
			}
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].id < matched[j].id })

	out := make([]protocol.EntityRecord, len(matched))
	for i, rec := range matched {
		out[i] = rec.snapshot()
	}
	for i := len(s.shards) - 1; i >= 0; i-- {
		s.shards[i].mu.RUnlock()
	}
	return out
}

func matches(rec *record, filter *protocol.ListFilter) bool {
	if filter == nil {
		return true
	}
	if filter.NamePrefix != "" && !strings.HasPrefix(rec.name, filter.NamePrefix) {
		return false
	}
	for _, kind := range filter.With {
		if !rec.has(component.Kind(kind)) {
			return false
		}
	}
	return true
}

// Clear despawns every entity and returns how many were removed.
func (s *Store) Clear() int {
	for i := range s.shards {
		s.shards[i].mu.Lock()
	}
	removed := 0
	for i := range s.shards {
		removed += len(s.shards[i].entities)
		s.shards[i].entities = make(map[uint64]*record)
	}
	s.count.Store(0)

	s.namesMu.Lock()
	s.names = make(map[string]uint64)
	s.namesMu.Unlock()

	for i := len(s.shards) - 1; i >= 0; i-- {
		s.shards[i].mu.Unlock()
	}
	return removed
}
