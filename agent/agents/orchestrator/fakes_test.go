package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"testing"
	"time"

	contractx "github.com/tanpawarit/fredie-agent/agent/contract"
	statex "github.com/tanpawarit/fredie-agent/agent/state"
	storex "github.com/tanpawarit/fredie-agent/agent/store"
	"github.com/tanpawarit/fredie-agent/agent/tool"
)

var fixedNow = time.Date(2026, 10, 15, 19, 5, 0, 0, time.UTC)

const (
	sessA = "0b6a4a3e-6f0c-4d7c-9a51-2f1d8c1e0a01"
	sessB = "0b6a4a3e-6f0c-4d7c-9a51-2f1d8c1e0a02"
)

/* ------------------------------ Handlers --------------------------------- */

type stepFunc func(ctx context.Context, req contractx.HandlerRequest) (contractx.HandlerResponse, error)

func say(text string) stepFunc {
	return func(context.Context, contractx.HandlerRequest) (contractx.HandlerResponse, error) {
		return contractx.HandlerResponse{Message: text}, nil
	}
}

func request(id, name string, args map[string]any) stepFunc {
	return func(context.Context, contractx.HandlerRequest) (contractx.HandlerResponse, error) {
		return contractx.HandlerResponse{CapabilityRequests: []contractx.CapabilityRequest{{ID: id, Name: name, Args: args}}}, nil
	}
}

func routeTo(target statex.HandlerID) stepFunc {
	return func(context.Context, contractx.HandlerRequest) (contractx.HandlerResponse, error) {
		return contractx.HandlerResponse{Route: &contractx.RouteDirective{Target: target}}, nil
	}
}

func routeBack() stepFunc {
	return func(context.Context, contractx.HandlerRequest) (contractx.HandlerResponse, error) {
		return contractx.HandlerResponse{Route: &contractx.RouteDirective{Back: true}}, nil
	}
}

func fail(msg string) stepFunc {
	return func(context.Context, contractx.HandlerRequest) (contractx.HandlerResponse, error) {
		return contractx.HandlerResponse{}, fmt.Errorf("%w: %s", contractx.ErrModelInvoke, msg)
	}
}

// scriptedHandler plays steps in order, then Fallback for every later call.
type scriptedHandler struct {
	mu       sync.Mutex
	id       statex.HandlerID
	steps    []stepFunc
	fallback stepFunc
	reqs     []contractx.HandlerRequest
}

func (h *scriptedHandler) ID() statex.HandlerID { return h.id }

func (h *scriptedHandler) Respond(ctx context.Context, req contractx.HandlerRequest) (contractx.HandlerResponse, error) {
	h.mu.Lock()
	h.reqs = append(h.reqs, req)
	var step stepFunc
	switch {
	case len(h.steps) > 0:
		step = h.steps[0]
		h.steps = h.steps[1:]
	case h.fallback != nil:
		step = h.fallback
	}
	h.mu.Unlock()
	if step == nil {
		return contractx.HandlerResponse{}, fmt.Errorf("%w: handler %s has no step left", contractx.ErrModelInvoke, h.id)
	}
	return step(ctx, req)
}

func (h *scriptedHandler) script(steps ...stepFunc) {
	h.mu.Lock()
	h.steps = append(h.steps, steps...)
	h.mu.Unlock()
}

func (h *scriptedHandler) calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.reqs)
}

func (h *scriptedHandler) lastRequest() contractx.HandlerRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reqs[len(h.reqs)-1]
}

func lastUserText(msgs []statex.Entry) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == statex.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

/* --------------------------- Router / extractor -------------------------- */

type fakeClassifier struct {
	mu    sync.Mutex
	label string
	err   error
	calls int
}

func (f *fakeClassifier) Classify(context.Context, contractx.ClassifyRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.label, f.err
}

func (f *fakeClassifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// scriptedExtractor maps a user text to the fields it carries.
type scriptedExtractor map[string]contractx.ExtractedProfile

func (s scriptedExtractor) Extract(_ context.Context, req contractx.ExtractRequest) (contractx.ExtractedProfile, error) {
	var out contractx.ExtractedProfile
	for _, text := range req.Texts {
		if p, ok := s[text]; ok {
			out = p
		}
	}
	return out, nil
}

type fakeRegistry struct {
	classifier *fakeClassifier
	extractor  contractx.Extractor
	handlers   map[statex.HandlerID]*scriptedHandler
}

func (f *fakeRegistry) Classifier() contractx.Classifier { return f.classifier }

func (f *fakeRegistry) Extractor() contractx.Extractor { return f.extractor }

func (f *fakeRegistry) Handler(id statex.HandlerID) (contractx.Handler, error) {
	h, ok := f.handlers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", contractx.ErrUnknownHandler, id)
	}
	return h, nil
}

/* ------------------------------- Backends -------------------------------- */

type bagEmbedder struct{}

func (bagEmbedder) Embed(_ context.Context, texts ...string) ([]storex.Vector, error) {
	out := make([]storex.Vector, 0, len(texts))
	for _, t := range texts {
		v := make(storex.Vector, 16)
		for _, w := range strings.Fields(strings.ToLower(t)) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(w))
			v[h.Sum32()%16]++
		}
		out = append(out, v)
	}
	return out, nil
}

type brokenStudents struct{}

func (brokenStudents) FindStudent(context.Context, string) (*storex.Student, error) {
	return nil, errors.New("connection refused")
}

func (brokenStudents) UpsertStudent(context.Context, *storex.Student) error {
	return errors.New("connection refused")
}

func (brokenStudents) UpdateStudent(context.Context, *storex.Student, ...string) error {
	return errors.New("connection refused")
}

type failingStateStore struct {
	*statex.MemoryStore
}

func (failingStateStore) Save(context.Context, *statex.ConversationState) error {
	return errors.New("upstash unavailable")
}

type failingRecorder struct{}

func (failingRecorder) RecordTurn(context.Context, contractx.TurnRecord) error {
	return errors.New("postgres unavailable")
}

func (failingRecorder) SessionMetadata(context.Context, string) (contractx.SessionMetadata, error) {
	return contractx.SessionMetadata{}, errors.New("postgres unavailable")
}

/* -------------------------------- Harness -------------------------------- */

type harness struct {
	orch       *Orchestrator
	states     *statex.MemoryStore
	db         *storex.MemoryStore
	classifier *fakeClassifier
	registry   *fakeRegistry
}

type harnessOptions struct {
	cfg      Config
	students storex.StudentStore
	store    statex.Store
	recorder contractx.Recorder
}

type harnessOption func(*harnessOptions)

func withConfig(mutate func(*Config)) harnessOption {
	return func(o *harnessOptions) { mutate(&o.cfg) }
}

func withStudents(s storex.StudentStore) harnessOption {
	return func(o *harnessOptions) { o.students = s }
}

func withStore(s statex.Store) harnessOption {
	return func(o *harnessOptions) { o.store = s }
}

func withRecorder(r contractx.Recorder) harnessOption {
	return func(o *harnessOptions) { o.recorder = r }
}

func testConfig() Config {
	return Config{
		MaxHops:         6,
		MaxRetries:      2,
		CallTimeout:     5 * time.Second,
		RequireIdentity: true,
		DefaultTimezone: "America/Monterrey",
		DefaultAvatar:   "cora",
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		states:     statex.NewMemoryStore(),
		db:         storex.NewMemoryStore(),
		classifier: &fakeClassifier{label: string(statex.HandlerGeneral)},
	}
	o := harnessOptions{cfg: testConfig(), students: h.db, store: h.states}
	for _, opt := range opts {
		opt(&o)
	}
	if o.recorder == nil {
		rec, err := storex.NewRecorder(h.db)
		if err != nil {
			t.Fatalf("NewRecorder() error = %v", err)
		}
		o.recorder = rec
	}

	retriever, err := storex.NewRetriever(h.db, bagEmbedder{}, nil)
	if err != nil {
		t.Fatalf("NewRetriever() error = %v", err)
	}
	gateway, err := tool.NewRegistry(tool.Dependencies{
		Students:        o.students,
		Practice:        h.db,
		Retriever:       retriever,
		DefaultTimezone: o.cfg.DefaultTimezone,
		CallTimeout:     o.cfg.CallTimeout,
		Now:             func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("tool.NewRegistry() error = %v", err)
	}

	h.registry = &fakeRegistry{
		classifier: h.classifier,
		extractor:  scriptedExtractor{},
		handlers:   make(map[statex.HandlerID]*scriptedHandler),
	}
	for _, id := range statex.AllHandlers {
		h.registry.handlers[id] = &scriptedHandler{id: id}
	}

	h.orch, err = New(Dependencies{
		Store:        o.store,
		Models:       h.registry,
		Capabilities: gateway,
		Recorder:     o.recorder,
		Now:          func() time.Time { return fixedNow },
	}, o.cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return h
}

func (h *harness) handler(id statex.HandlerID) *scriptedHandler {
	return h.registry.handlers[id]
}

func (h *harness) turn(t *testing.T, sessionID, text string) contractx.TurnOutput {
	t.Helper()
	out, err := h.orch.HandleTurn(context.Background(), contractx.TurnInput{SessionID: sessionID, Text: text})
	if err != nil {
		t.Fatalf("HandleTurn(%q) error = %v", text, err)
	}
	return out
}

func (h *harness) checkpoint(t *testing.T, sessionID string) *statex.ConversationState {
	t.Helper()
	st, err := h.states.Load(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Load(%s) error = %v", sessionID, err)
	}
	return st
}

func seedAna(t *testing.T, db *storex.MemoryStore) {
	t.Helper()
	err := db.UpsertStudent(context.Background(), &storex.Student{
		FullName:  "Ana López",
		Email:     "ana@uni.mx",
		Career:    "Mecatrónica",
		Semester:  5,
		Interests: []string{"robótica"},
	})
	if err != nil {
		t.Fatalf("UpsertStudent() error = %v", err)
	}
}

// seedVerified stores a verified checkpoint for Ana with the given stack.
func (h *harness) seedVerified(t *testing.T, sessionID string, stack ...statex.HandlerID) {
	t.Helper()
	seedAna(t, h.db)
	st := statex.NewConversationState(sessionID, fixedNow.Add(-time.Hour))
	if err := st.MarkVerified("ana@uni.mx", "Ana López", "Perfil de Ana López."); err != nil {
		t.Fatalf("MarkVerified() error = %v", err)
	}
	for _, id := range stack {
		if err := st.PushHandler(id); err != nil {
			t.Fatalf("PushHandler() error = %v", err)
		}
	}
	st.SessionTitle = "sesión previa"
	if err := h.states.Save(context.Background(), st); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
}
