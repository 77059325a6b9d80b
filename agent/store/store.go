package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid store input")
)

// Store is the relational side of the assistant: profiles, chat logs,
// practice projects and retrieval documents.
type Store interface {
	StudentStore
	ChatStore
	PracticeStore
	DocumentStore
}

type StudentStore interface {
	// FindStudent matches an email exactly, or a partial full name otherwise.
	FindStudent(ctx context.Context, nameOrEmail string) (*Student, error)
	UpsertStudent(ctx context.Context, s *Student) error
	UpdateStudent(ctx context.Context, s *Student, columns ...string) error
}

type ChatStore interface {
	UpsertSession(ctx context.Context, sess *ChatSession) error
	GetSession(ctx context.Context, id string) (*ChatSession, error)
	InsertMessage(ctx context.Context, msg *ChatMessage) error
	// ListMessages returns every stored message ordered by session then time.
	ListMessages(ctx context.Context) ([]ChatMessage, error)
	// DeleteMessages removes the session's messages with id <= throughID, so
	// rows written after a ListMessages snapshot survive.
	DeleteMessages(ctx context.Context, sessionID string, throughID int64) (int64, error)
	UpsertSummary(ctx context.Context, sum *ChatSummary) error
}

type PracticeStore interface {
	ListTasks(ctx context.Context, projectID string) ([]ProjectTask, error)
	ListSteps(ctx context.Context, taskID string) ([]TaskStep, error)
	CompleteStep(ctx context.Context, stepID string, at time.Time) (*StepCompletion, error)
}

type DocumentStore interface {
	UpsertDocument(ctx context.Context, doc *Document) error
	SearchDocuments(ctx context.Context, q DocumentQuery) ([]Document, error)
}
