package orchestratornode

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	contractx "github.com/tanpawarit/fredie-agent/agent/contract"
	statex "github.com/tanpawarit/fredie-agent/agent/state"
)

func TestNormalizeSessionID(t *testing.T) {
	t.Parallel()

	fresh := NormalizeSessionID("  ")
	if _, err := uuid.Parse(fresh); err != nil {
		t.Fatalf("empty id should mint a uuid, got %q", fresh)
	}

	id := "6F9619FF-8B86-D011-B42D-00C04FC964FF"
	if got := NormalizeSessionID(id); got != strings.ToLower(id) {
		t.Fatalf("NormalizeSessionID(uuid) = %q", got)
	}

	a, b := NormalizeSessionID("web-chat-42"), NormalizeSessionID("web-chat-42")
	if a != b {
		t.Fatalf("derived ids differ: %q vs %q", a, b)
	}
	if parsed, err := uuid.Parse(a); err != nil || parsed.Version() != 5 {
		t.Fatalf("derived id %q is not a v5 uuid", a)
	}
}

func TestValidateRequestRejectsEmptyText(t *testing.T) {
	t.Parallel()

	if _, err := ValidateRequest(GraphInput{SessionID: "s", Text: "  "}, time.Now); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("ValidateRequest() error = %v", err)
	}
}

func TestSessionTitle(t *testing.T) {
	t.Parallel()

	if got := SessionTitle(""); got != contractx.UntitledSession {
		t.Fatalf("SessionTitle(empty) = %q", got)
	}
	if got := SessionTitle("  mi   PLC no enciende "); got != "mi PLC no enciende" {
		t.Fatalf("SessionTitle() = %q", got)
	}
	long := strings.Repeat("á", 80)
	got := SessionTitle(long)
	if !strings.HasSuffix(got, "…") || len([]rune(got)) != maxTitleRunes+1 {
		t.Fatalf("SessionTitle(long) = %q", got)
	}
}

func TestApplyOverridesKeepsPracticeProgress(t *testing.T) {
	t.Parallel()

	st := statex.NewConversationState("s", time.Now())
	st.Task = &statex.TaskContext{Mode: statex.TaskModePractice, ProjectID: "p1", TaskID: "t2", StepNumber: 3}

	applyOverrides(st, contractx.TurnOverrides{ChatType: "practice", ProjectID: "p1"})
	if st.Task.TaskID != "t2" {
		t.Fatalf("progress lost: %#v", st.Task)
	}

	applyOverrides(st, contractx.TurnOverrides{ProjectID: "p2"})
	if st.Task.ProjectID != "p2" || st.Task.TaskID != "" {
		t.Fatalf("project switch = %#v", st.Task)
	}

	applyOverrides(st, contractx.TurnOverrides{ChatType: "general"})
	if st.Task != nil {
		t.Fatalf("non-practice chat type must clear the task: %#v", st.Task)
	}

	applyOverrides(st, contractx.TurnOverrides{ProjectID: "p3"})
	if st.Task != nil {
		t.Fatal("a project id alone must not start practice")
	}
}

func TestMergeDraftCoercesAndKeepsGivenFields(t *testing.T) {
	t.Parallel()

	draft := &statex.ProfileDraft{Name: "Ana López", Interests: []string{"robótica"}}
	replaced := mergeDraft(draft, contractx.ExtractedProfile{
		Name:      "Otra",
		Email:     " Ana@Uni.MX ",
		Semester:  5,
		Interests: contractx.StringList{"Robótica", "IA"},
		Skills:    contractx.StringList{"Python"},
	}, true)
	if replaced {
		t.Fatal("filling an empty email is not a replacement")
	}
	if draft.Name != "Ana López" || draft.Email != "ana@uni.mx" || draft.Semester != 5 {
		t.Fatalf("draft = %#v", draft)
	}
	if len(draft.Interests) != 2 || draft.Interests[1] != "IA" {
		t.Fatalf("interests = %#v", draft.Interests)
	}
	if len(draft.Skills) != 1 {
		t.Fatalf("a single skill must become a one-element list: %#v", draft.Skills)
	}
}

func TestMergeDraftEmailCorrection(t *testing.T) {
	t.Parallel()

	draft := &statex.ProfileDraft{Name: "Ana López", Email: "ana@uni.mk"}
	if mergeDraft(draft, contractx.ExtractedProfile{Email: "ana@uni.mx"}, false) || draft.Email != "ana@uni.mk" {
		t.Fatalf("email replaced outside the gate: %#v", draft)
	}
	if mergeDraft(draft, contractx.ExtractedProfile{Email: "ANA@uni.mk"}, true) {
		t.Fatal("same email must not count as a replacement")
	}
	if !mergeDraft(draft, contractx.ExtractedProfile{Email: "ana@uni.mx"}, true) || draft.Email != "ana@uni.mx" {
		t.Fatalf("email not corrected: %#v", draft)
	}
}

func TestAllRetrievalEmpty(t *testing.T) {
	t.Parallel()

	empty := contractx.Empty("")
	empty.Name = "retrieveContext"
	web := contractx.Found("x")
	web.Name = "webSearch"

	if !allRetrievalEmpty([]contractx.CapabilityResult{empty}) {
		t.Fatal("single empty retrieval should short-circuit")
	}
	if allRetrievalEmpty([]contractx.CapabilityResult{empty, web}) {
		t.Fatal("a found web result must not short-circuit")
	}
	if allRetrievalEmpty(nil) {
		t.Fatal("no results must not short-circuit")
	}
}
