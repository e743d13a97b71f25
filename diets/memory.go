// Package diets provides the diet and feedback collaborators the rule engine
// reads and patches: an in-memory store for development and tests, and a
// Postgres store for deployments that own their diet tables.
package diets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/liamcoop/dietrules/rules"
	"gopkg.in/yaml.v3"
)

// Seed is the content of a seed file
type Seed struct {
	Diets    []*rules.Diet    `json:"diets" yaml:"diets"`
	Feedback []rules.Feedback `json:"feedback" yaml:"feedback"`
}

// MemoryStore implements rules.DietStore and rules.FeedbackSource in memory.
// Diets are copied on the way in and out.
type MemoryStore struct {
	mu       sync.RWMutex
	diets    map[string]*rules.Diet
	feedback map[string][]rules.Feedback // diet id -> history
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		diets:    make(map[string]*rules.Diet),
		feedback: make(map[string][]rules.Feedback),
	}
}

// Seed adds or replaces the given diets and appends the feedback entries
func (s *MemoryStore) Seed(seed Seed) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range seed.Diets {
		s.diets[d.ID] = d.Clone()
	}
	for _, f := range seed.Feedback {
		s.feedback[f.DietID] = append(s.feedback[f.DietID], f)
	}
}

// LoadSeedFile reads a .yaml, .yml or .json seed file into the store
func (s *MemoryStore) LoadSeedFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}

	var seed Seed
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &seed)
	case ".json":
		err = json.Unmarshal(data, &seed)
	default:
		return fmt.Errorf("unsupported seed file extension %q", ext)
	}
	if err != nil {
		return fmt.Errorf("decode seed file %s: %w", path, err)
	}

	for i, d := range seed.Diets {
		if d == nil || d.ID == "" {
			return fmt.Errorf("seed diet %d has no id", i)
		}
	}
	s.Seed(seed)
	return nil
}

// GetDiet returns a copy of the diet
func (s *MemoryStore) GetDiet(_ context.Context, id string) (*rules.Diet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.diets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", rules.ErrDietNotFound, id)
	}
	return d.Clone(), nil
}

// ListDiets returns the coach's diets and the unowned ones, ordered by id
func (s *MemoryStore) ListDiets(_ context.Context, coachID string) ([]*rules.Diet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*rules.Diet{}
	for _, d := range s.diets {
		if d.CoachID == coachID || d.CoachID == "" {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateDiet replaces the fields set in patch under a single lock
func (s *MemoryStore) UpdateDiet(_ context.Context, id string, patch rules.DietPatch) (*rules.Diet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.diets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", rules.ErrDietNotFound, id)
	}
	next := d.Clone()
	if patch.Meals != nil {
		next.Meals = append([]rules.Meal(nil), (*patch.Meals)...)
	}
	if patch.Macros != nil {
		next.Macros = *patch.Macros
	}
	s.diets[id] = next
	return next.Clone(), nil
}

// AddFeedback records a feedback entry. A zero RecordedAt is set to now.
func (s *MemoryStore) AddFeedback(_ context.Context, f rules.Feedback) error {
	if f.DietID == "" {
		return fmt.Errorf("feedback has no diet id")
	}
	if f.RecordedAt.IsZero() {
		f.RecordedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.diets[f.DietID]; !ok {
		return fmt.Errorf("%w: %s", rules.ErrDietNotFound, f.DietID)
	}
	s.feedback[f.DietID] = append(s.feedback[f.DietID], f)
	return nil
}

// ClientFeedback returns the client's feedback for the diet, oldest first
func (s *MemoryStore) ClientFeedback(_ context.Context, dietID, clientID string) ([]rules.Feedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []rules.Feedback{}
	for _, f := range s.feedback[dietID] {
		if clientID == "" || f.ClientID == "" || f.ClientID == clientID {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out, nil
}
