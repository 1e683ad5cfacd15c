// Package session persists controller conversations across protocol turns.
//
// The evaluation service front-end maps each A2A contextId to one session;
// the session carries the provider-shaped transcript the controller replays
// when the next message/send for that context arrives. Two backends are
// provided: an in-memory map for development and tests, and a SQL-backed
// service for deployments that must survive restarts.
package session

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wuTims/tau2-bench-agent/pkg/llms"
)

// Session is one controller conversation keyed by protocol context ID.
// Messages hold only the conversation turns; the controller's instruction
// prompt is prepended at generation time and never stored.
type Session struct {
	ContextID string         `json:"context_id"`
	Messages  []llms.Message `json:"messages"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Service manages session lifecycle and persistence. Get and List return
// snapshots; mutation goes through AppendMessage.
type Service interface {
	// Get retrieves an existing session.
	Get(ctx context.Context, req *GetRequest) (*GetResponse, error)

	// Create creates a new session, generating a context ID when the
	// request carries none.
	Create(ctx context.Context, req *CreateRequest) (*CreateResponse, error)

	// AppendMessage adds one conversation turn to the session.
	AppendMessage(ctx context.Context, contextID string, msg llms.Message) error

	// List returns sessions ordered by most recent activity.
	List(ctx context.Context, req *ListRequest) (*ListResponse, error)

	// Delete removes a session. Deleting an absent session is not an error.
	Delete(ctx context.Context, req *DeleteRequest) error

	// Close releases the backing resources.
	Close() error
}

// GetRequest contains parameters for retrieving a session.
type GetRequest struct {
	ContextID string
}

// GetResponse contains the retrieved session.
type GetResponse struct {
	Session *Session
}

// CreateRequest contains parameters for creating a session.
type CreateRequest struct {
	// ContextID is optional; a fresh one is generated when empty.
	ContextID string

	// Messages optionally seed the transcript.
	Messages []llms.Message
}

// CreateResponse contains the created session.
type CreateResponse struct {
	Session *Session
}

// ListRequest contains parameters for listing sessions.
type ListRequest struct {
	// Limit caps the number of sessions returned; zero means all.
	Limit int
}

// ListResponse contains the listed sessions, most recently updated first.
type ListResponse struct {
	Sessions []*Session
}

// DeleteRequest contains parameters for deleting a session.
type DeleteRequest struct {
	ContextID string
}

// ErrNotFound is returned when a session doesn't exist.
var ErrNotFound = errors.New("session not found")

// ErrExists is returned when creating a session whose context ID is taken.
var ErrExists = errors.New("session already exists")

// MemoryService is the in-memory Service implementation, the default
// backend when no SQL store is configured.
type MemoryService struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryService returns an empty in-memory session service.
func NewMemoryService() *MemoryService {
	return &MemoryService{sessions: make(map[string]*Session)}
}

func (s *MemoryService) Get(_ context.Context, req *GetRequest) (*GetResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[req.ContextID]
	if !ok {
		return nil, ErrNotFound
	}
	return &GetResponse{Session: snapshot(sess)}, nil
}

func (s *MemoryService) Create(_ context.Context, req *CreateRequest) (*CreateResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	contextID := req.ContextID
	if contextID == "" {
		contextID = uuid.NewString()
	}
	if _, ok := s.sessions[contextID]; ok {
		return nil, ErrExists
	}

	now := time.Now().UTC()
	sess := &Session{
		ContextID: contextID,
		Messages:  slices.Clone(req.Messages),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[contextID] = sess

	return &CreateResponse{Session: snapshot(sess)}, nil
}

func (s *MemoryService) AppendMessage(_ context.Context, contextID string, msg llms.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[contextID]
	if !ok {
		return ErrNotFound
	}
	sess.Messages = append(sess.Messages, msg)
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryService) List(_ context.Context, req *ListRequest) (*ListResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, snapshot(sess))
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	if req.Limit > 0 && len(sessions) > req.Limit {
		sessions = sessions[:req.Limit]
	}

	return &ListResponse{Sessions: sessions}, nil
}

func (s *MemoryService) Delete(_ context.Context, req *DeleteRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, req.ContextID)
	return nil
}

func (s *MemoryService) Close() error { return nil }

// snapshot copies a session so callers never share the live transcript
// slice with concurrent appends.
func snapshot(sess *Session) *Session {
	return &Session{
		ContextID: sess.ContextID,
		Messages:  slices.Clone(sess.Messages),
		CreatedAt: sess.CreatedAt,
		UpdatedAt: sess.UpdatedAt,
	}
}

var _ Service = (*MemoryService)(nil)
