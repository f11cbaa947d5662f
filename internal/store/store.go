// Package store implements the node's crash-recovery snapshot layer
// (spec.md §6, "Persistence layout"): four files under the node's data
// directory — users, channels, messages, publications — loaded at
// startup and rewritten after every mutation. Grounded on the teacher's
// node/checkpoint.go atomic write-then-rename discipline, generalized
// from one combined checkpoint file to four independent record stores
// so a publish doesn't have to re-serialize the message log.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// User mirrors the User row of spec.md §3.
type User struct {
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	LoggedAt  time.Time `json:"logged_at"`
}

// Channel mirrors the Channel row of spec.md §3.
type Channel struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Publication mirrors the Publication row of spec.md §3.
type Publication struct {
	ID      string    `json:"id"`
	Channel string    `json:"channel"`
	Author  string    `json:"author"`
	Content string    `json:"content"`
	Wall    time.Time `json:"wall_time"`
	Lamport uint64    `json:"lamport"`
}

// DirectMessage mirrors the DirectMessage row of spec.md §3.
type DirectMessage struct {
	ID      string    `json:"id"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Content string    `json:"content"`
	Wall    time.Time `json:"wall_time"`
	Lamport uint64    `json:"lamport"`
}

// Store holds a node's full persisted state in memory and mirrors every
// mutation to disk. One Store per node; safe for concurrent use.
//
// processedIDs is the ReplicationJournal (spec.md §3): it maps an
// applied id to the Lamport timestamp it was stamped with, so the
// journal can be bounded instead of growing for the process lifetime
// (spec.md §9 Design Notes). AdvanceLowWaterMark drops entries whose
// Lamport falls below the mark; the publications/messages logs
// themselves remain the durable record, so HasProcessed/Append* fall
// back to a log scan for ids old enough to have been pruned from the
// index.
type Store struct {
	dir string

	mu           sync.RWMutex
	users        map[string]User
	channels     map[string]Channel
	publications []Publication
	messages     []DirectMessage
	processedIDs map[string]uint64
	lowWaterMark uint64
}

// Open loads existing snapshots from dir, or starts empty if none exist.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir data dir: %w", err)
	}
	s := &Store{
		dir:          dir,
		users:        make(map[string]User),
		channels:     make(map[string]Channel),
		processedIDs: make(map[string]uint64),
	}

	if err := loadJSON(filepath.Join(dir, "users"), &s.users); err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	if err := loadJSON(filepath.Join(dir, "channels"), &s.channels); err != nil {
		return nil, fmt.Errorf("load channels: %w", err)
	}
	if err := loadJSON(filepath.Join(dir, "publications"), &s.publications); err != nil {
		return nil, fmt.Errorf("load publications: %w", err)
	}
	if err := loadJSON(filepath.Join(dir, "messages"), &s.messages); err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	for _, p := range s.publications {
		s.processedIDs[p.ID] = p.Lamport
	}
	for _, m := range s.messages {
		s.processedIDs[m.ID] = m.Lamport
	}

	return s, nil
}

func loadJSON(path string, v interface{}) error {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, v)
}

// saveJSON writes v to path atomically: write to a sibling .tmp file,
// then rename over the target, so a crash mid-write never corrupts the
// last good snapshot.
func saveJSON(path string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// HasProcessed reports whether a replication/mutation id has already
// been applied, satisfying the ReplicationJournal invariant that no id
// applies twice (spec.md §3). An id pruned from the index by
// AdvanceLowWaterMark still answers true here via a log scan — the
// journal's index is bounded, the applied-ids set it represents is not.
func (s *Store) HasProcessed(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processedLocked(id)
}

func (s *Store) processedLocked(id string) bool {
	if _, ok := s.processedIDs[id]; ok {
		return true
	}
	for _, p := range s.publications {
		if p.ID == id {
			return true
		}
	}
	for _, m := range s.messages {
		if m.ID == id {
			return true
		}
	}
	return false
}

// AdvanceLowWaterMark raises the journal's low-water mark and drops
// every indexed id stamped below it (spec.md §9 Design Notes: "bound
// processed_ids ... hold only ids whose Lamport exceeds the current
// low-water mark"). It never lowers the mark. Dropped ids remain
// durably recorded in the publications/messages logs, so HasProcessed
// and Append* still recognize them via processedLocked's log scan.
func (s *Store) AdvanceLowWaterMark(mark uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mark <= s.lowWaterMark {
		return
	}
	s.lowWaterMark = mark
	for id, lamport := range s.processedIDs {
		if lamport < mark {
			delete(s.processedIDs, id)
		}
	}
}

// LowWaterMark returns the journal's current low-water mark.
func (s *Store) LowWaterMark() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lowWaterMark
}

// PutUser records a new or re-logged-in user and persists the table.
// Returns false if the user already exists (login is idempotent, not a
// validation error — spec.md §4.6).
func (s *Store) PutUser(username string, now time.Time) (created bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, exists := s.users[username]
	if !exists {
		u = User{Username: username, CreatedAt: now}
	}
	u.LoggedAt = now
	s.users[username] = u
	if err := saveJSON(filepath.Join(s.dir, "users"), s.users); err != nil {
		return !exists, fmt.Errorf("persist users: %w", err)
	}
	return !exists, nil
}

// HasUser reports whether username has ever logged in.
func (s *Store) HasUser(username string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[username]
	return ok
}

// Users returns every known username.
func (s *Store) Users() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.users))
	for u := range s.users {
		out = append(out, u)
	}
	return out
}

// PutChannel records a new channel and persists the table. Returns
// false if the channel already exists.
func (s *Store) PutChannel(name string, now time.Time) (created bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.channels[name]; exists {
		return false, nil
	}
	s.channels[name] = Channel{Name: name, CreatedAt: now}
	if err := saveJSON(filepath.Join(s.dir, "channels"), s.channels); err != nil {
		return true, fmt.Errorf("persist channels: %w", err)
	}
	return true, nil
}

// HasChannel reports whether name has been created.
func (s *Store) HasChannel(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.channels[name]
	return ok
}

// Channels returns every known channel name.
func (s *Store) Channels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.channels))
	for c := range s.channels {
		out = append(out, c)
	}
	return out
}

// AppendPublication records a Publication if its id hasn't already been
// applied, then persists the publication log.
func (s *Store) AppendPublication(p Publication) (applied bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processedLocked(p.ID) {
		return false, nil
	}
	s.publications = append(s.publications, p)
	s.processedIDs[p.ID] = p.Lamport
	if err := saveJSON(filepath.Join(s.dir, "publications"), s.publications); err != nil {
		return true, fmt.Errorf("persist publications: %w", err)
	}
	return true, nil
}

// PublicationsByChannel returns all publications for a channel, in
// append order.
func (s *Store) PublicationsByChannel(channel string) []Publication {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Publication, 0)
	for _, p := range s.publications {
		if p.Channel == channel {
			out = append(out, p)
		}
	}
	return out
}

// AllPublications returns every stored publication.
func (s *Store) AllPublications() []Publication {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Publication(nil), s.publications...)
}

// AppendMessage records a DirectMessage if its id hasn't already been
// applied, then persists the message log.
func (s *Store) AppendMessage(m DirectMessage) (applied bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processedLocked(m.ID) {
		return false, nil
	}
	s.messages = append(s.messages, m)
	s.processedIDs[m.ID] = m.Lamport
	if err := saveJSON(filepath.Join(s.dir, "messages"), s.messages); err != nil {
		return true, fmt.Errorf("persist messages: %w", err)
	}
	return true, nil
}

// MessagesFor returns every DirectMessage with from=username or
// to=username, in append order (spec.md §4.6, get_messages).
func (s *Store) MessagesFor(username string) []DirectMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]DirectMessage, 0)
	for _, m := range s.messages {
		if m.From == username || m.To == username {
			out = append(out, m)
		}
	}
	return out
}

// AllMessages returns every stored direct message.
func (s *Store) AllMessages() []DirectMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]DirectMessage(nil), s.messages...)
}
