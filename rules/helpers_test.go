package rules

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeDiets is an in-memory DietStore and FeedbackSource that counts patches
type fakeDiets struct {
	mu       sync.Mutex
	diets    map[string]*Diet
	feedback map[string][]Feedback // diet id -> history
	updates  map[string]int
	failGet  map[string]error
}

func newFakeDiets(diets ...*Diet) *fakeDiets {
	f := &fakeDiets{
		diets:    make(map[string]*Diet),
		feedback: make(map[string][]Feedback),
		updates:  make(map[string]int),
		failGet:  make(map[string]error),
	}
	for _, d := range diets {
		f.diets[d.ID] = d.Clone()
	}
	return f
}

func (f *fakeDiets) GetDiet(_ context.Context, id string) (*Diet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failGet[id]; err != nil {
		return nil, err
	}
	d, ok := f.diets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDietNotFound, id)
	}
	return d.Clone(), nil
}

func (f *fakeDiets) ListDiets(_ context.Context, coachID string) ([]*Diet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Diet
	for _, d := range f.diets {
		if d.CoachID == coachID || d.CoachID == "" {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeDiets) UpdateDiet(_ context.Context, id string, patch DietPatch) (*Diet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.diets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDietNotFound, id)
	}
	if patch.Meals != nil {
		d.Meals = append([]Meal(nil), (*patch.Meals)...)
	}
	if patch.Macros != nil {
		d.Macros = *patch.Macros
	}
	f.updates[id]++
	return d.Clone(), nil
}

func (f *fakeDiets) ClientFeedback(_ context.Context, dietID, _ string) ([]Feedback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Feedback(nil), f.feedback[dietID]...), nil
}

func (f *fakeDiets) diet(t *testing.T, id string) *Diet {
	t.Helper()
	d, err := f.GetDiet(context.Background(), id)
	if err != nil {
		t.Fatalf("GetDiet(%s) failed: %v", id, err)
	}
	return d
}

func (f *fakeDiets) updateCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates[id]
}

// countingFeedback records how often the history fallback is consulted
type countingFeedback struct {
	history []Feedback
	calls   atomic.Int32
}

func (c *countingFeedback) ClientFeedback(context.Context, string, string) ([]Feedback, error) {
	c.calls.Add(1)
	return c.history, nil
}

// recordingNotifier keeps every notification it receives
type recordingNotifier struct {
	mu   sync.Mutex
	got  []Notification
	fail bool
}

func (n *recordingNotifier) Notify(_ context.Context, note Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, note)
	if n.fail {
		return errors.New("notifier unavailable")
	}
	return nil
}

func (n *recordingNotifier) notifications() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.got...)
}

func sequentialIDs(prefix string) func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%s-%d", prefix, n.Add(1))
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var (
	tuesday  = time.Date(2024, 6, 4, 9, 0, 0, 0, time.UTC)
	saturday = time.Date(2024, 6, 8, 9, 0, 0, 0, time.UTC)
)

type testEnv struct {
	engine *Engine
	store  *InMemoryRuleStore
	ledger *InMemoryLedger
	diets  *fakeDiets
}

func newTestEnv(t *testing.T, diets *fakeDiets, opts ...Option) *testEnv {
	t.Helper()
	store := NewInMemoryRuleStore()
	ledger := NewInMemoryLedger()
	base := []Option{
		WithLogger(discardLogger()),
		WithClock(fixedClock(tuesday)),
		WithIDGenerator(sequentialIDs("id")),
	}
	engine, err := NewEngine(store, ledger, diets, diets, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}
	return &testEnv{engine: engine, store: store, ledger: ledger, diets: diets}
}

func (env *testEnv) create(t *testing.T, r *Rule) *Rule {
	t.Helper()
	created, err := env.engine.CreateRule(context.Background(), r)
	if err != nil {
		t.Fatalf("CreateRule(%s) failed: %v", r.Name, err)
	}
	return created
}

func (env *testEnv) history(t *testing.T, ruleID string) []*Execution {
	t.Helper()
	h, err := env.engine.History(context.Background(), ruleID)
	if err != nil {
		t.Fatalf("History(%s) failed: %v", ruleID, err)
	}
	return h
}

func sampleDiet(id string) *Diet {
	return &Diet{
		ID:        id,
		ClientID:  "client-" + id,
		CoachID:   "coach-1",
		Adherence: 80,
		Macros:    Macros{Calories: 2000, Protein: 150, Carbs: 200, Fat: 70},
		Meals: []Meal{
			{ID: "m1", Name: "Avena", Type: "desayuno", Day: Monday, Macros: Macros{Calories: 400, Protein: 20, Carbs: 60, Fat: 10}},
			{ID: "m2", Name: "Pollo con arroz", Type: "almuerzo", Day: Monday, Macros: Macros{Calories: 700, Protein: 55, Carbs: 80, Fat: 15}},
			{ID: "m3", Name: "Yogur", Type: "merienda", Day: Saturday, Macros: Macros{Calories: 150, Protein: 10, Carbs: 15, Fat: 5}},
			{ID: "m4", Name: "Fruta", Type: "merienda", Day: Tuesday, Macros: Macros{Calories: 100, Protein: 1, Carbs: 25, Fat: 0}},
		},
		Days: map[Weekday]DayInfo{
			Saturday: {Tags: []string{"libre"}},
			Monday:   {Tags: []string{"entreno", "pierna"}},
		},
	}
}

func sampleRule(name string, cond Condition, act Action, dietIDs ...string) *Rule {
	return &Rule{
		Name:      name,
		CoachID:   "coach-1",
		Active:    true,
		Condition: cond,
		Action:    act,
		Frequency: FrequencyOnDemand,
		DietIDs:   dietIDs,
	}
}

func ptr[T any](v T) *T { return &v }
