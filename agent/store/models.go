package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// Student is a registered user profile keyed by email.
type Student struct {
	bun.BaseModel `bun:"table:students,alias:s"`

	ID            int64         `bun:"id,pk,autoincrement" json:"id"`
	FullName      string        `bun:"full_name,notnull" json:"full_name"`
	Email         string        `bun:"email,notnull,unique" json:"email"`
	Career        string        `bun:"career" json:"career,omitempty"`
	Semester      int           `bun:"semester" json:"semester,omitempty"`
	Skills        []string      `bun:"skills,array" json:"skills"`
	Goals         []string      `bun:"goals,array" json:"goals"`
	Interests     []string      `bun:"interests,array" json:"interests"`
	LearningStyle LearningStyle `bun:"learning_style,type:jsonb" json:"learning_style"`
	LastSeen      time.Time     `bun:"last_seen,nullzero" json:"last_seen"`
	CreatedAt     time.Time     `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
}

type LearningStyle struct {
	PrefersExamples   bool   `json:"prefers_examples,omitempty"`
	PrefersVisual     bool   `json:"prefers_visual,omitempty"`
	PrefersStepByStep bool   `json:"prefers_step_by_step,omitempty"`
	PrefersTheory     bool   `json:"prefers_theory,omitempty"`
	PrefersPractice   bool   `json:"prefers_practice,omitempty"`
	Notes             string `json:"notes,omitempty"`
}

// Preferences lists the enabled flags as Spanish phrases.
func (l LearningStyle) Preferences() []string {
	var out []string
	if l.PrefersExamples {
		out = append(out, "con ejemplos")
	}
	if l.PrefersVisual {
		out = append(out, "de forma visual")
	}
	if l.PrefersStepByStep {
		out = append(out, "paso a paso")
	}
	if l.PrefersTheory {
		out = append(out, "con teoría")
	}
	if l.PrefersPractice {
		out = append(out, "con práctica")
	}
	return out
}

func (l LearningStyle) IsZero() bool {
	return len(l.Preferences()) == 0 && strings.TrimSpace(l.Notes) == ""
}

// ChatSession is the session row: (id, identity key, started at) plus metadata.
type ChatSession struct {
	bun.BaseModel `bun:"table:chat_session,alias:cs"`

	ID        string          `bun:"id,pk" json:"id"`
	UserEmail string          `bun:"user_email,nullzero" json:"user_email,omitempty"`
	StartedAt time.Time       `bun:"started_at,notnull" json:"started_at"`
	Title     string          `bun:"title,nullzero" json:"title,omitempty"`
	Metadata  SessionMetadata `bun:"metadata,type:jsonb" json:"metadata"`
}

type SessionMetadata struct {
	ChatType  string `json:"chat_type,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
}

// ChatMessage is one persisted turn row.
type ChatMessage struct {
	bun.BaseModel `bun:"table:chat_message,alias:cm"`

	ID        int64     `bun:"id,pk,autoincrement" json:"id"`
	SessionID string    `bun:"session_id,notnull" json:"session_id"`
	Role      string    `bun:"role,notnull" json:"role"`
	Content   string    `bun:"content,notnull" json:"content"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
}

type ChatSummary struct {
	bun.BaseModel `bun:"table:chat_summary,alias:csum"`

	ID        int64     `bun:"id,pk,autoincrement" json:"id"`
	SessionID string    `bun:"session_id,notnull,unique" json:"session_id"`
	UserEmail string    `bun:"user_email,nullzero" json:"user_email,omitempty"`
	SummaryMD string    `bun:"summary_md,notnull" json:"summary_md"`
	UpdatedAt time.Time `bun:"updated_at,notnull" json:"updated_at"`
}

// ProjectTask is one task of a guided-practice project.
type ProjectTask struct {
	bun.BaseModel `bun:"table:project_task,alias:pt"`

	ID          string `bun:"id,pk" json:"id"`
	ProjectID   string `bun:"project_id,notnull" json:"project_id"`
	Position    int    `bun:"position,notnull" json:"position"`
	Title       string `bun:"title,notnull" json:"title"`
	Description string `bun:"description" json:"description,omitempty"`
}

type TaskStep struct {
	bun.BaseModel `bun:"table:task_step,alias:ts"`

	ID           string    `bun:"id,pk" json:"id"`
	TaskID       string    `bun:"task_id,notnull" json:"task_id"`
	StepNumber   int       `bun:"step_number,notnull" json:"step_number"`
	Title        string    `bun:"title,notnull" json:"title"`
	Instructions string    `bun:"instructions" json:"instructions,omitempty"`
	Completed    bool      `bun:"completed,notnull,default:false" json:"completed"`
	CompletedAt  time.Time `bun:"completed_at,nullzero" json:"completed_at,omitempty"`
}

// StepCompletion reports where a practice session stands after a step is done.
type StepCompletion struct {
	Step             TaskStep  `json:"step"`
	Next             *TaskStep `json:"next,omitempty"`
	TaskCompleted    bool      `json:"task_completed"`
	ProjectCompleted bool      `json:"project_completed"`
}

// Document collections.
const (
	CollectionStudentInfo  = "student_info"
	CollectionChatSummary  = "chat_summary"
	CollectionRobotSupport = "robot_support"
)

// Document is an embedded passage used for similarity retrieval.
type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`

	ID         int64          `bun:"id,pk,autoincrement" json:"id"`
	Collection string         `bun:"collection,notnull,unique:documents_collection_ref" json:"collection"`
	Ref        string         `bun:"ref,notnull,unique:documents_collection_ref" json:"ref"`
	Owner      string         `bun:"owner,nullzero" json:"owner,omitempty"`
	Content    string         `bun:"content,notnull" json:"content"`
	Metadata   map[string]any `bun:"metadata,type:jsonb" json:"metadata,omitempty"`
	Embedding  Vector         `bun:"embedding,type:vector(1536)" json:"-"`
	UpdatedAt  time.Time      `bun:"updated_at,notnull" json:"updated_at"`

	Score float64 `bun:"score,scanonly" json:"score,omitempty"`
}

type DocumentQuery struct {
	Collection string
	Owner      string
	Embedding  Vector
	Limit      int
}

// Vector is a pgvector value; its text form is the JSON array.
type Vector []float32

func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal([]float32(v))
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func (v *Vector) Scan(src any) error {
	switch t := src.(type) {
	case nil:
		*v = nil
	case string:
		*v = parseVector(t)
	case []byte:
		*v = parseVector(string(t))
	default:
		return fmt.Errorf("scan vector: unsupported type %T", src)
	}
	return nil
}

func parseVector(text string) Vector {
	text = strings.Trim(strings.TrimSpace(text), "[]")
	if text == "" {
		return nil
	}
	parts := strings.Split(text, ",")
	vec := make(Vector, 0, len(parts))
	for _, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			continue
		}
		vec = append(vec, float32(f))
	}
	return vec
}
