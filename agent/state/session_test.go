package state

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRoutingStackPushPopTop(t *testing.T) {
	t.Parallel()

	st := NewConversationState("s1", time.Now())
	if got := st.ActiveHandler(); got != DefaultHandler {
		t.Fatalf("ActiveHandler() on empty = %s, want %s", got, DefaultHandler)
	}
	if got := st.PopHandler(); got != DefaultHandler {
		t.Fatalf("PopHandler() on empty = %s, want %s", got, DefaultHandler)
	}
	if len(st.RoutingStack) != 0 {
		t.Fatalf("pop on empty must be a no-op, got %v", st.RoutingStack)
	}

	if err := st.PushHandler(HandlerLab); err != nil {
		t.Fatalf("PushHandler(lab) error = %v", err)
	}
	if err := st.PushHandler(HandlerEducation); err != nil {
		t.Fatalf("PushHandler(education) error = %v", err)
	}
	if got := st.ActiveHandler(); got != HandlerEducation {
		t.Fatalf("ActiveHandler() = %s, want education", got)
	}
	if got := st.PopHandler(); got != HandlerLab {
		t.Fatalf("PopHandler() = %s, want lab", got)
	}
}

func TestPushRejectsUnknownHandler(t *testing.T) {
	t.Parallel()

	st := NewConversationState("s1", time.Now())
	err := st.PushHandler(HandlerID("pop"))
	if !errors.Is(err, ErrInvalidHandler) {
		t.Fatalf("PushHandler(pop) error = %v, want ErrInvalidHandler", err)
	}
	if len(st.RoutingStack) != 0 {
		t.Fatalf("stack mutated on invalid push: %v", st.RoutingStack)
	}
}

func TestApplyStackOp(t *testing.T) {
	t.Parallel()

	st := NewConversationState("s1", time.Now())
	ops := []StackOp{PushOp(HandlerGeneral), PushOp(HandlerIndustrial), NoOp(), PopOp(), PopOp(), PopOp()}
	for _, op := range ops {
		if err := st.ApplyStackOp(op); err != nil {
			t.Fatalf("ApplyStackOp(%s) error = %v", op, err)
		}
	}
	if len(st.RoutingStack) != 0 {
		t.Fatalf("expected empty stack, got %v", st.RoutingStack)
	}
}

func TestParseHandlerID(t *testing.T) {
	t.Parallel()

	cases := map[string]HandlerID{
		"EDUCATION":             HandlerEducation,
		" lab ":                 HandlerLab,
		"industrial_agent_node": HandlerIndustrial,
		"ToAgentGeneral":        HandlerGeneral,
	}
	for raw, want := range cases {
		got, ok := ParseHandlerID(raw)
		if !ok || got != want {
			t.Fatalf("ParseHandlerID(%q) = %q,%v want %q", raw, got, ok, want)
		}
	}
	if _, ok := ParseHandlerID("NOT_IDENTIFIED"); ok {
		t.Fatal("NOT_IDENTIFIED must not parse")
	}
}

func TestValidateVerifiedRequiresKeyAndStack(t *testing.T) {
	t.Parallel()

	st := NewConversationState("s1", time.Now())
	st.Identity.Verified = true
	if err := st.Validate(); !errors.Is(err, ErrIdentityInvariant) {
		t.Fatalf("Validate() error = %v, want ErrIdentityInvariant", err)
	}

	if err := st.MarkVerified("ana@uni.mx", "Ana", "Perfil de Ana"); err != nil {
		t.Fatalf("MarkVerified() error = %v", err)
	}
	if err := st.Validate(); !errors.Is(err, ErrEmptyStack) {
		t.Fatalf("Validate() error = %v, want ErrEmptyStack", err)
	}

	_ = st.PushHandler(HandlerGeneral)
	if err := st.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestMarkVerifiedClearsAwaiting(t *testing.T) {
	t.Parallel()

	st := NewConversationState("s1", time.Now())
	st.AwaitingInfo = AwaitingProfile
	st.EnsureDraft().Name = "Ana"

	if err := st.MarkVerified("  ", "Ana", ""); !errors.Is(err, ErrIdentityInvariant) {
		t.Fatalf("MarkVerified(empty) error = %v", err)
	}
	if err := st.MarkVerified("ana@uni.mx", "Ana", "summary"); err != nil {
		t.Fatalf("MarkVerified() error = %v", err)
	}
	if st.AwaitingInfo != AwaitingNone || st.Draft != nil {
		t.Fatalf("awaiting/draft not cleared: %q %#v", st.AwaitingInfo, st.Draft)
	}
	if st.ProfileSummary != "summary" {
		t.Fatalf("ProfileSummary = %q", st.ProfileSummary)
	}
}

func TestValidateUnmatchedCapabilityRequest(t *testing.T) {
	t.Parallel()

	st := NewConversationState("s1", time.Now())
	st.Append(
		Entry{Role: RoleUser, Content: "hola"},
		Entry{Role: RoleHandler, Call: &CapabilityCall{ID: "c1", Name: "webSearch"}},
		Entry{Role: RoleHandler, Content: "respuesta"},
	)
	if err := st.Validate(); !errors.Is(err, ErrUnmatchedRequest) {
		t.Fatalf("Validate() error = %v, want ErrUnmatchedRequest", err)
	}

	st = NewConversationState("s1", time.Now())
	st.Append(
		Entry{Role: RoleHandler, Call: &CapabilityCall{ID: "c1", Name: "webSearch"}},
		Entry{Role: RoleCapability, RequestID: "c1", Capability: "webSearch"},
		Entry{Role: RoleHandler, Call: &CapabilityCall{ID: "c2", Name: "nowInZone"}},
		Entry{Role: RoleCapability, RequestID: "c2", Capability: "nowInZone"},
	)
	if err := st.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestMemoryStoreLoadsIndependentCopies(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	st := NewConversationState("s1", time.Now())
	st.Task = &TaskContext{Mode: TaskModePractice, ProjectID: "p1"}
	_ = st.PushHandler(HandlerLab)
	if err := store.Save(context.Background(), st); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	turn, err := store.Load(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	_ = turn.PushHandler(HandlerEducation)
	turn.Task.StepNumber = 4

	again, err := store.Load(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(again.RoutingStack) != 1 || again.Task.StepNumber != 0 {
		t.Fatalf("unsaved turn leaked into checkpoint: stack=%v task=%#v", again.RoutingStack, again.Task)
	}
	if !again.Task.IsPractice() {
		t.Fatal("checkpoint lost practice mode")
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	if _, err := store.Load(context.Background(), "missing"); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("Load() error = %v, want ErrStateNotFound", err)
	}

	st := NewConversationState("s1", time.Now())
	st.Append(Entry{Role: RoleUser, Content: "hola"})
	if err := store.Save(context.Background(), st); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	st.Append(Entry{Role: RoleUser, Content: "mutated after save"})

	got, err := store.Load(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got.Messages) != 1 || got.LatestUserText() != "hola" {
		t.Fatalf("unexpected messages: %#v", got.Messages)
	}
}
