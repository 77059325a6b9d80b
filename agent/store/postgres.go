package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

const defaultSearchLimit = 3

var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store on Postgres + pgvector through bun.
type PostgresStore struct {
	db bun.IDB
}

func NewPostgresStore(db bun.IDB) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("bun db is required")
	}
	return &PostgresStore{db: db}, nil
}

// CreateSchema ensures the vector extension and every table exist.
func (s *PostgresStore) CreateSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}
	models := []any{
		(*Student)(nil),
		(*ChatSession)(nil),
		(*ChatMessage)(nil),
		(*ChatSummary)(nil),
		(*ProjectTask)(nil),
		(*TaskStep)(nil),
		(*Document)(nil),
	}
	for _, m := range models {
		if _, err := s.db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", m, err)
		}
	}
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS chat_message_session_idx ON chat_message (session_id, created_at)",
		"CREATE INDEX IF NOT EXISTS task_step_task_idx ON task_step (task_id, step_number)",
		"CREATE INDEX IF NOT EXISTS project_task_project_idx ON project_task (project_id, position)",
		"CREATE INDEX IF NOT EXISTS documents_owner_idx ON documents (collection, owner)",
	}
	for _, stmt := range indexes {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

/* -------------------------------- Students ------------------------------- */

func (s *PostgresStore) FindStudent(ctx context.Context, nameOrEmail string) (*Student, error) {
	q := strings.TrimSpace(nameOrEmail)
	if q == "" {
		return nil, fmt.Errorf("%w: empty student lookup", ErrInvalidInput)
	}

	var st Student
	query := s.db.NewSelect().Model(&st).Limit(1)
	if strings.Contains(q, "@") {
		query = query.Where("lower(s.email) = lower(?)", q)
	} else {
		query = query.Where("s.full_name ILIKE ?", "%"+q+"%").Order("s.id ASC")
	}
	if err := query.Scan(ctx); err != nil {
		return nil, notFound(err)
	}
	return &st, nil
}

func (s *PostgresStore) UpsertStudent(ctx context.Context, st *Student) error {
	if st == nil || strings.TrimSpace(st.Email) == "" {
		return fmt.Errorf("%w: student email is required", ErrInvalidInput)
	}
	_, err := s.db.NewInsert().
		Model(st).
		On("CONFLICT (email) DO UPDATE").
		Set("full_name = EXCLUDED.full_name").
		Set("career = EXCLUDED.career").
		Set("semester = EXCLUDED.semester").
		Set("skills = EXCLUDED.skills").
		Set("goals = EXCLUDED.goals").
		Set("interests = EXCLUDED.interests").
		Set("learning_style = EXCLUDED.learning_style").
		Set("last_seen = EXCLUDED.last_seen").
		Returning("id").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert student: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateStudent(ctx context.Context, st *Student, columns ...string) error {
	if st == nil || strings.TrimSpace(st.Email) == "" {
		return fmt.Errorf("%w: student email is required", ErrInvalidInput)
	}
	query := s.db.NewUpdate().Model(st).Where("lower(s.email) = lower(?)", st.Email)
	if len(columns) > 0 {
		query = query.Column(columns...)
	} else {
		query = query.ExcludeColumn("id", "created_at")
	}
	res, err := query.Exec(ctx)
	if err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

/* ---------------------------------- Chats -------------------------------- */

func (s *PostgresStore) UpsertSession(ctx context.Context, sess *ChatSession) error {
	if sess == nil || strings.TrimSpace(sess.ID) == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}
	_, err := s.db.NewInsert().
		Model(sess).
		On("CONFLICT (id) DO UPDATE").
		Set("user_email = COALESCE(EXCLUDED.user_email, ?TableAlias.user_email)").
		Set("title = COALESCE(EXCLUDED.title, ?TableAlias.title)").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert chat session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*ChatSession, error) {
	var sess ChatSession
	if err := s.db.NewSelect().Model(&sess).Where("cs.id = ?", id).Limit(1).Scan(ctx); err != nil {
		return nil, notFound(err)
	}
	return &sess, nil
}

func (s *PostgresStore) InsertMessage(ctx context.Context, msg *ChatMessage) error {
	if msg == nil || strings.TrimSpace(msg.SessionID) == "" {
		return fmt.Errorf("%w: message session id is required", ErrInvalidInput)
	}
	if _, err := s.db.NewInsert().Model(msg).Returning("id").Exec(ctx); err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListMessages(ctx context.Context) ([]ChatMessage, error) {
	var msgs []ChatMessage
	err := s.db.NewSelect().
		Model(&msgs).
		Order("cm.session_id ASC", "cm.created_at ASC", "cm.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	return msgs, nil
}

func (s *PostgresStore) DeleteMessages(ctx context.Context, sessionID string, throughID int64) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*ChatMessage)(nil)).
		Where("session_id = ?", sessionID).
		Where("id <= ?", throughID).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete chat messages: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *PostgresStore) UpsertSummary(ctx context.Context, sum *ChatSummary) error {
	if sum == nil || strings.TrimSpace(sum.SessionID) == "" {
		return fmt.Errorf("%w: summary session id is required", ErrInvalidInput)
	}
	_, err := s.db.NewInsert().
		Model(sum).
		On("CONFLICT (session_id) DO UPDATE").
		Set("summary_md = EXCLUDED.summary_md").
		Set("user_email = COALESCE(EXCLUDED.user_email, ?TableAlias.user_email)").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert chat summary: %w", err)
	}
	return nil
}

/* -------------------------------- Practice ------------------------------- */

func (s *PostgresStore) ListTasks(ctx context.Context, projectID string) ([]ProjectTask, error) {
	var tasks []ProjectTask
	err := s.db.NewSelect().
		Model(&tasks).
		Where("pt.project_id = ?", projectID).
		Order("pt.position ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list project tasks: %w", err)
	}
	return tasks, nil
}

func (s *PostgresStore) ListSteps(ctx context.Context, taskID string) ([]TaskStep, error) {
	return listSteps(ctx, s.db, taskID)
}

func listSteps(ctx context.Context, db bun.IDB, taskID string) ([]TaskStep, error) {
	var steps []TaskStep
	err := db.NewSelect().
		Model(&steps).
		Where("ts.task_id = ?", taskID).
		Order("ts.step_number ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list task steps: %w", err)
	}
	return steps, nil
}

func (s *PostgresStore) CompleteStep(ctx context.Context, stepID string, at time.Time) (*StepCompletion, error) {
	var out *StepCompletion
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var step TaskStep
		if err := tx.NewSelect().Model(&step).Where("ts.id = ?", stepID).For("UPDATE").Scan(ctx); err != nil {
			return notFound(err)
		}
		step.Completed = true
		step.CompletedAt = at.UTC()
		if _, err := tx.NewUpdate().Model(&step).Column("completed", "completed_at").WherePK().Exec(ctx); err != nil {
			return fmt.Errorf("complete step: %w", err)
		}

		var task ProjectTask
		if err := tx.NewSelect().Model(&task).Where("pt.id = ?", step.TaskID).Scan(ctx); err != nil {
			return notFound(err)
		}
		var tasks []ProjectTask
		if err := tx.NewSelect().Model(&tasks).Where("pt.project_id = ?", task.ProjectID).Order("pt.position ASC").Scan(ctx); err != nil {
			return fmt.Errorf("list project tasks: %w", err)
		}

		stepsByTask := make(map[string][]TaskStep, len(tasks))
		for _, t := range tasks {
			steps, err := listSteps(ctx, tx, t.ID)
			if err != nil {
				return err
			}
			stepsByTask[t.ID] = steps
		}
		out = resolveCompletion(step, tasks, stepsByTask)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// resolveCompletion finds the next pending step after step, walking tasks in
// project order.
func resolveCompletion(step TaskStep, tasks []ProjectTask, stepsByTask map[string][]TaskStep) *StepCompletion {
	out := &StepCompletion{Step: step, TaskCompleted: true}
	for _, st := range stepsByTask[step.TaskID] {
		if !st.Completed && st.ID != step.ID {
			out.TaskCompleted = false
			next := st
			out.Next = &next
			return out
		}
	}
	for _, t := range tasks {
		for _, st := range stepsByTask[t.ID] {
			if !st.Completed && st.ID != step.ID {
				next := st
				out.Next = &next
				return out
			}
		}
	}
	out.ProjectCompleted = true
	return out
}

/* -------------------------------- Documents ------------------------------ */

func (s *PostgresStore) UpsertDocument(ctx context.Context, doc *Document) error {
	if doc == nil || doc.Collection == "" || doc.Ref == "" {
		return fmt.Errorf("%w: document collection and ref are required", ErrInvalidInput)
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.NewInsert().
		Model(doc).
		On("CONFLICT (collection, ref) DO UPDATE").
		Set("owner = EXCLUDED.owner").
		Set("content = EXCLUDED.content").
		Set("metadata = EXCLUDED.metadata").
		Set("embedding = EXCLUDED.embedding").
		Set("updated_at = EXCLUDED.updated_at").
		Returning("id").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) SearchDocuments(ctx context.Context, q DocumentQuery) ([]Document, error) {
	if q.Collection == "" || len(q.Embedding) == 0 {
		return nil, fmt.Errorf("%w: collection and embedding are required", ErrInvalidInput)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	var docs []Document
	query := s.db.NewSelect().
		Model(&docs).
		Column("d.id", "d.collection", "d.ref", "d.owner", "d.content", "d.metadata", "d.updated_at").
		ColumnExpr("1 - (d.embedding <=> ?) AS score", q.Embedding).
		Where("d.collection = ?", q.Collection)
	if q.Owner != "" {
		query = query.Where("lower(d.owner) = lower(?)", q.Owner)
	}
	err := query.
		OrderExpr("d.embedding <=> ?", q.Embedding).
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	return docs, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
