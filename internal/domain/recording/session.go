// Package recording manages live consult recordings. Sessions are held
// entirely in memory: chunks accumulate here, and on stop the assembled
// audio is staged to the blobstore only for the duration of transcription.
// The transcript is the sole durable artifact; audio is never retained.
package recording

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound = errors.New("recording session not found")
	ErrSessionClosed   = errors.New("recording session is closed")
)

// Session states.
const (
	StateOpen   = "open"
	StateClosed = "closed"
)

// MinRecordingBytes is the smallest recording worth transcribing. Anything
// below this is a misfire (a tap on the record button) and is rejected
// before it reaches the transcriber.
const MinRecordingBytes = 10 * 1024

// janitorInterval is how often the store sweeps for abandoned sessions.
const janitorInterval = time.Minute

// Session is one in-progress recording. Chunks are only ever touched under
// the store mutex.
type Session struct {
	ID         uuid.UUID `json:"id"`
	ConsultID  uuid.UUID `json:"consult_id"`
	ClinicID   uuid.UUID `json:"clinic_id"`
	CreatedBy  uuid.UUID `json:"created_by"`
	StartedAt  time.Time `json:"started_at"`
	MimeType   string    `json:"mime_type"`
	TotalBytes int64     `json:"total_bytes"`
	State      string    `json:"state"`

	chunks   [][]byte
	lastSeen time.Time
}

// assemble concatenates the chunks in arrival order.
func (s *Session) assemble() []byte {
	out := make([]byte, 0, s.TotalBytes)
	for _, c := range s.chunks {
		out = append(out, c...)
	}
	return out
}

// Store holds live sessions keyed by id behind one mutex. A janitor
// goroutine expires sessions that stopped receiving chunks, so an
// abandoned browser tab cannot pin audio in memory forever.
type Store struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	ttl      time.Duration
	done     chan struct{}
}

// NewStore starts a store whose janitor drops sessions idle for longer
// than ttl.
func NewStore(ttl time.Duration) *Store {
	st := &Store{
		sessions: make(map[uuid.UUID]*Session),
		ttl:      ttl,
		done:     make(chan struct{}),
	}
	go st.janitor()
	return st
}

// Shutdown stops the janitor. Outstanding sessions are dropped with the
// store itself.
func (st *Store) Shutdown() {
	close(st.done)
}

func (st *Store) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-st.done:
			return
		case <-ticker.C:
			st.sweep(time.Now())
		}
	}
}

// sweep drops sessions whose last activity is older than the TTL and
// returns how many were dropped.
func (st *Store) sweep(now time.Time) int {
	st.mu.Lock()
	defer st.mu.Unlock()

	dropped := 0
	for id, s := range st.sessions {
		if now.Sub(s.lastSeen) > st.ttl {
			delete(st.sessions, id)
			dropped++
		}
	}
	return dropped
}

// Open registers a new session and returns a snapshot of it.
func (st *Store) Open(consultID, clinicID, createdBy uuid.UUID, mimeType string) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:        uuid.New(),
		ConsultID: consultID,
		ClinicID:  clinicID,
		CreatedBy: createdBy,
		StartedAt: now,
		MimeType:  mimeType,
		State:     StateOpen,
		lastSeen:  now,
	}

	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()

	snap := *s
	snap.chunks = nil
	return &snap
}

// Append adds a chunk to an open session and returns the new byte total.
func (st *Store) Append(id uuid.UUID, chunk []byte) (int64, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[id]
	if !ok {
		return 0, ErrSessionNotFound
	}
	if s.State != StateOpen {
		return 0, ErrSessionClosed
	}

	s.chunks = append(s.chunks, chunk)
	s.TotalBytes += int64(len(chunk))
	s.lastSeen = time.Now().UTC()
	return s.TotalBytes, nil
}

// Close marks the session closed and returns it for assembly. Chunks keep
// arriving from in-flight uploads; they see ErrSessionClosed from here on.
func (st *Store) Close(id uuid.UUID) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.State != StateOpen {
		return nil, ErrSessionClosed
	}
	s.State = StateClosed
	return s, nil
}

// Remove drops the session and releases its buffers. It reports whether
// the session existed.
func (st *Store) Remove(id uuid.UUID) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	_, ok := st.sessions[id]
	delete(st.sessions, id)
	return ok
}

// Len reports how many sessions are live.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}
