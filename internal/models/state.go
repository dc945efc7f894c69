package models

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// TTLs bounds the age of each cached resource class.
type TTLs struct {
	List     time.Duration
	Select   time.Duration
	Search   time.Duration
	Metadata time.Duration
	Body     time.Duration
}

func DefaultTTLs() TTLs {
	return TTLs{
		List:     5 * time.Minute,
		Select:   time.Minute,
		Search:   time.Minute,
		Metadata: 24 * time.Hour,
		Body:     7 * 24 * time.Hour,
	}
}

// State is the one mutable context shared by the session and the cache.
// Callers hold the embedded mutex for the whole of any select, search and
// fetch sequence; none of the methods below lock on their own.
type State struct {
	sync.Mutex

	Dirs      map[string]*Directory
	Messages  map[MessageKey]*Message
	LastList  time.Time
	Selected  string
	Separator string

	TTL TTLs
	Now func() time.Time
}

func NewState(ttl TTLs) *State {
	return &State{
		Dirs:     make(map[string]*Directory),
		Messages: make(map[MessageKey]*Message),
		TTL:      ttl,
		Now:      time.Now,
	}
}

// Expired reports whether a value refreshed at last is too old at now.
// A zero last time is always expired.
func (s *State) Expired(last time.Time, ttl time.Duration) bool {
	if last.IsZero() {
		return true
	}
	return s.Now().Sub(last) >= ttl
}

func (s *State) Directory(path string) (*Directory, bool) {
	dir, ok := s.Dirs[path]
	return dir, ok
}

// Message returns the record for uid in path, creating a bare one.
func (s *State) Message(path string, uid uint32) *Message {
	key := MessageKey{Path: path, UID: uid}
	msg, ok := s.Messages[key]
	if !ok {
		msg = NewMessage(uid)
		s.Messages[key] = msg
	}
	return msg
}

func (s *State) LookupMessage(path string, uid uint32) (*Message, bool) {
	msg, ok := s.Messages[MessageKey{Path: path, UID: uid}]
	return msg, ok
}

// ChildNames returns the names of the entries directly below path, sorted.
// A name appears when a listed mailbox lives at or below it, so parents the
// server never listed still show up.
func (s *State) ChildNames(path string) []string {
	prefix := ""
	if path != "" {
		prefix = path + "/"
	}
	seen := make(map[string]struct{})
	for p := range s.Dirs {
		if !strings.HasPrefix(p, prefix) || p == path {
			continue
		}
		name, _, _ := strings.Cut(p[len(prefix):], "/")
		seen[name] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsPrefix reports whether some known directory lives below path.
func (s *State) IsPrefix(path string) bool {
	if path == "" {
		return true
	}
	for p := range s.Dirs {
		if strings.HasPrefix(p, path+"/") {
			return true
		}
	}
	return false
}

// InvalidateList forces the next directory access to relist.
func (s *State) InvalidateList() {
	s.LastList = time.Time{}
}

// InvalidateSearch forces the next message listing of path to search again.
func (s *State) InvalidateSearch(path string) {
	if dir, ok := s.Dirs[path]; ok {
		dir.LastSearch = time.Time{}
	}
}

// MailboxName maps a filesystem path to a server mailbox name. Known paths
// use their listed name; new ones are derived from the closest listed
// parent's separator, or the default separator at the top level.
func (s *State) MailboxName(path string) string {
	if dir, ok := s.Dirs[path]; ok {
		return dir.Name
	}

	segments := strings.Split(path, "/")
	separator := s.Separator
	for i := len(segments) - 1; i > 0; i-- {
		parentPath := strings.Join(segments[:i], "/")
		if parent, ok := s.Dirs[parentPath]; ok {
			rest := MailboxPath{Segments: segments[i:], Separator: parent.Separator}
			if parent.Separator == "" {
				return parent.Name + "/" + rest.Name()
			}
			return parent.Name + parent.Separator + rest.Name()
		}
	}
	if separator == "" {
		separator = "/"
	}
	return MailboxPath{Segments: segments, Separator: separator}.Name()
}

// Snapshot is a point in time summary of the cache.
type Snapshot struct {
	Selected    string    `json:"selected"`
	LastList    time.Time `json:"lastList"`
	Directories int       `json:"directories"`
	Messages    int       `json:"messages"`
	Bodies      int       `json:"bodies"`
}

func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		Selected:    s.Selected,
		LastList:    s.LastList,
		Directories: len(s.Dirs),
		Messages:    len(s.Messages),
	}
	for _, msg := range s.Messages {
		if msg.Body.IsSet() {
			snap.Bodies++
		}
	}
	return snap
}
