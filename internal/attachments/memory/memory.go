// Package memory keeps attachments in process memory. It backs local
// development and tests where no blob store is reachable.
package memory

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"moneymanager/internal/attachments"
	"moneymanager/internal/core"
)

type object struct {
	owner string
	name  string
	data  []byte
}

// Store keys uploads by token, which stands in for the owning principal.
type Store struct {
	mu      sync.RWMutex
	folder  string
	objects map[string]object
	now     func() time.Time
}

var _ attachments.Store = (*Store)(nil)

func New(folder string) *Store {
	return &Store{folder: folder, objects: make(map[string]object), now: time.Now}
}

func (s *Store) Upload(_ context.Context, token string, f attachments.File) (attachments.Ref, error) {
	if strings.TrimSpace(token) == "" {
		return attachments.Ref{}, fmt.Errorf("%w: no delegated token", core.ErrUploadFailed)
	}
	if f.Content == nil {
		return attachments.Ref{}, fmt.Errorf("%w: empty file", core.ErrUploadFailed)
	}
	data, err := io.ReadAll(f.Content)
	if err != nil {
		return attachments.Ref{}, fmt.Errorf("%w: read: %v", core.ErrUploadFailed, err)
	}

	id := uuid.NewString()
	name := fmt.Sprintf("%d_%s", s.now().UnixMilli(), f.Name)

	s.mu.Lock()
	s.objects[id] = object{owner: token, name: name, data: data}
	s.mu.Unlock()

	return attachments.Ref{
		ID:       id,
		Name:     f.Name,
		ViewLink: fmt.Sprintf("memory://%s/%s", s.folder, id),
	}, nil
}

// Open returns a stored upload; used by tests.
func (s *Store) Open(id string) (name string, data []byte, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.objects[id]
	return o.name, o.data, ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
