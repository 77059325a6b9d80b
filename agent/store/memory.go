package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process Store for local runs and tests.
type MemoryStore struct {
	mu sync.RWMutex

	nextID    int64
	students  map[string]*Student // lower(email)
	sessions  map[string]*ChatSession
	messages  []ChatMessage
	summaries map[string]*ChatSummary
	tasks     map[string]ProjectTask
	steps     map[string]TaskStep
	documents map[string]*Document // collection + "/" + ref
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		students:  make(map[string]*Student),
		sessions:  make(map[string]*ChatSession),
		summaries: make(map[string]*ChatSummary),
		tasks:     make(map[string]ProjectTask),
		steps:     make(map[string]TaskStep),
		documents: make(map[string]*Document),
	}
}

func (m *MemoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

/* -------------------------------- Students ------------------------------- */

func (m *MemoryStore) FindStudent(_ context.Context, nameOrEmail string) (*Student, error) {
	q := strings.ToLower(strings.TrimSpace(nameOrEmail))
	if q == "" {
		return nil, fmt.Errorf("%w: empty student lookup", ErrInvalidInput)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if strings.Contains(q, "@") {
		if st, ok := m.students[q]; ok {
			return cloneStudent(st), nil
		}
		return nil, ErrNotFound
	}
	var best *Student
	for _, st := range m.students {
		if strings.Contains(strings.ToLower(st.FullName), q) && (best == nil || st.ID < best.ID) {
			best = st
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return cloneStudent(best), nil
}

func (m *MemoryStore) UpsertStudent(_ context.Context, st *Student) error {
	if st == nil || strings.TrimSpace(st.Email) == "" {
		return fmt.Errorf("%w: student email is required", ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := strings.ToLower(strings.TrimSpace(st.Email))
	if prev, ok := m.students[key]; ok {
		st.ID = prev.ID
		st.CreatedAt = prev.CreatedAt
	} else {
		st.ID = m.id()
		if st.CreatedAt.IsZero() {
			st.CreatedAt = time.Now().UTC()
		}
	}
	m.students[key] = cloneStudent(st)
	return nil
}

func (m *MemoryStore) UpdateStudent(_ context.Context, st *Student, _ ...string) error {
	if st == nil || strings.TrimSpace(st.Email) == "" {
		return fmt.Errorf("%w: student email is required", ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := strings.ToLower(strings.TrimSpace(st.Email))
	prev, ok := m.students[key]
	if !ok {
		return ErrNotFound
	}
	next := cloneStudent(st)
	next.ID = prev.ID
	next.CreatedAt = prev.CreatedAt
	m.students[key] = next
	return nil
}

func cloneStudent(st *Student) *Student {
	cp := *st
	cp.Skills = append([]string(nil), st.Skills...)
	cp.Goals = append([]string(nil), st.Goals...)
	cp.Interests = append([]string(nil), st.Interests...)
	return &cp
}

/* ---------------------------------- Chats -------------------------------- */

func (m *MemoryStore) UpsertSession(_ context.Context, sess *ChatSession) error {
	if sess == nil || strings.TrimSpace(sess.ID) == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.sessions[sess.ID]; ok {
		if sess.UserEmail != "" {
			prev.UserEmail = sess.UserEmail
		}
		if sess.Title != "" {
			prev.Title = sess.Title
		}
		return nil
	}
	cp := *sess
	m.sessions[sess.ID] = &cp
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*ChatSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (m *MemoryStore) InsertMessage(_ context.Context, msg *ChatMessage) error {
	if msg == nil || strings.TrimSpace(msg.SessionID) == "" {
		return fmt.Errorf("%w: message session id is required", ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = m.id()
	m.messages = append(m.messages, *msg)
	return nil
}

func (m *MemoryStore) ListMessages(_ context.Context) ([]ChatMessage, error) {
	m.mu.RLock()
	out := append([]ChatMessage(nil), m.messages...)
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SessionID != out[j].SessionID {
			return out[i].SessionID < out[j].SessionID
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) DeleteMessages(_ context.Context, sessionID string, throughID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.messages[:0]
	var n int64
	for _, msg := range m.messages {
		if msg.SessionID == sessionID && msg.ID <= throughID {
			n++
			continue
		}
		kept = append(kept, msg)
	}
	m.messages = kept
	return n, nil
}

func (m *MemoryStore) UpsertSummary(_ context.Context, sum *ChatSummary) error {
	if sum == nil || strings.TrimSpace(sum.SessionID) == "" {
		return fmt.Errorf("%w: summary session id is required", ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.summaries[sum.SessionID]; ok {
		sum.ID = prev.ID
	} else {
		sum.ID = m.id()
	}
	cp := *sum
	m.summaries[sum.SessionID] = &cp
	return nil
}

// Summary returns the stored summary for a session.
func (m *MemoryStore) Summary(sessionID string) (ChatSummary, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sum, ok := m.summaries[sessionID]
	if !ok {
		return ChatSummary{}, false
	}
	return *sum, true
}

/* -------------------------------- Practice ------------------------------- */

// SeedPractice loads tasks and steps, replacing any with the same ids.
func (m *MemoryStore) SeedPractice(tasks []ProjectTask, steps []TaskStep) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tasks {
		m.tasks[t.ID] = t
	}
	for _, st := range steps {
		m.steps[st.ID] = st
	}
}

func (m *MemoryStore) ListTasks(_ context.Context, projectID string) ([]ProjectTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tasksFor(projectID), nil
}

func (m *MemoryStore) tasksFor(projectID string) []ProjectTask {
	var out []ProjectTask
	for _, t := range m.tasks {
		if t.ProjectID == projectID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func (m *MemoryStore) ListSteps(_ context.Context, taskID string) ([]TaskStep, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stepsFor(taskID), nil
}

func (m *MemoryStore) stepsFor(taskID string) []TaskStep {
	var out []TaskStep
	for _, st := range m.steps {
		if st.TaskID == taskID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepNumber < out[j].StepNumber })
	return out
}

func (m *MemoryStore) CompleteStep(_ context.Context, stepID string, at time.Time) (*StepCompletion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	step, ok := m.steps[stepID]
	if !ok {
		return nil, ErrNotFound
	}
	step.Completed = true
	step.CompletedAt = at.UTC()
	m.steps[stepID] = step

	task, ok := m.tasks[step.TaskID]
	if !ok {
		return nil, ErrNotFound
	}
	tasks := m.tasksFor(task.ProjectID)
	stepsByTask := make(map[string][]TaskStep, len(tasks))
	for _, t := range tasks {
		stepsByTask[t.ID] = m.stepsFor(t.ID)
	}
	return resolveCompletion(step, tasks, stepsByTask), nil
}

/* -------------------------------- Documents ------------------------------ */

func (m *MemoryStore) UpsertDocument(_ context.Context, doc *Document) error {
	if doc == nil || doc.Collection == "" || doc.Ref == "" {
		return fmt.Errorf("%w: document collection and ref are required", ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := doc.Collection + "/" + doc.Ref
	if prev, ok := m.documents[key]; ok {
		doc.ID = prev.ID
	} else {
		doc.ID = m.id()
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now().UTC()
	}
	cp := *doc
	cp.Embedding = append(Vector(nil), doc.Embedding...)
	m.documents[key] = &cp
	return nil
}

func (m *MemoryStore) SearchDocuments(_ context.Context, q DocumentQuery) ([]Document, error) {
	if q.Collection == "" || len(q.Embedding) == 0 {
		return nil, fmt.Errorf("%w: collection and embedding are required", ErrInvalidInput)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	m.mu.RLock()
	var out []Document
	for _, doc := range m.documents {
		if doc.Collection != q.Collection {
			continue
		}
		if q.Owner != "" && !strings.EqualFold(doc.Owner, q.Owner) {
			continue
		}
		cp := *doc
		cp.Score = cosineSimilarity(q.Embedding, doc.Embedding)
		out = append(out, cp)
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cosineSimilarity(a, b Vector) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
