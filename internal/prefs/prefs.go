// Package prefs persists local UI preferences across sessions. Writes are
// atomic and serialized across dashboard instances through a sibling lock
// file.
package prefs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/haikalr/loopwatch/internal/state"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"
)

const (
	lockRetry    = 50 * time.Millisecond
	lockMaxRetry = 20

	DefaultPanelWidth = 44
)

// Prefs are the user-tunable bits of the dashboard that survive a restart.
type Prefs struct {
	PanelWidth      int                `json:"panel_width"`
	ApprovalMode    state.ApprovalMode `json:"approval_mode"`
	PickerCollapsed bool               `json:"picker_collapsed"`
}

func defaults() Prefs {
	return Prefs{
		PanelWidth:   DefaultPanelWidth,
		ApprovalMode: state.ApprovalAuto,
	}
}

type Store struct {
	path string

	mu   sync.RWMutex
	data Prefs
}

// NewStore loads preferences from path, falling back to defaults when the
// file does not exist yet. A corrupt file is an error, not silent data loss.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path, data: defaults()}

	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if len(content) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(content, &s.data); err != nil {
		return nil, fmt.Errorf("preferences file %s: %w", path, err)
	}
	if s.data.PanelWidth <= 0 {
		s.data.PanelWidth = DefaultPanelWidth
	}
	if s.data.ApprovalMode == "" {
		s.data.ApprovalMode = state.ApprovalAuto
	}
	return s, nil
}

func (s *Store) Get() Prefs {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data
}

func (s *Store) SetPanelWidth(width int) error {
	return s.update(func(p *Prefs) { p.PanelWidth = width })
}

func (s *Store) SetApprovalMode(mode state.ApprovalMode) error {
	return s.update(func(p *Prefs) { p.ApprovalMode = mode })
}

func (s *Store) SetPickerCollapsed(collapsed bool) error {
	return s.update(func(p *Prefs) { p.PickerCollapsed = collapsed })
}

func (s *Store) update(mutate func(*Prefs)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mutate(&s.data)
	return s.save()
}

// save writes the preferences atomically while holding the cross-process
// lock, so two dashboards pointed at the same file never interleave writes.
func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	fileLock := flock.New(s.path + ".lock")
	locked := false
	for i := 0; i < lockMaxRetry; i++ {
		ok, err := fileLock.TryLock()
		if err != nil {
			return fmt.Errorf("preferences lock: %w", err)
		}
		if ok {
			locked = true
			break
		}
		time.Sleep(lockRetry)
	}
	if !locked {
		return fmt.Errorf("preferences file %s is locked by another instance", s.path)
	}
	defer fileLock.Unlock()

	b, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(s.path, bytes.NewReader(b))
}
