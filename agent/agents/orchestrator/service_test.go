package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	contractx "github.com/tanpawarit/fredie-agent/agent/contract"
	statex "github.com/tanpawarit/fredie-agent/agent/state"
	storex "github.com/tanpawarit/fredie-agent/agent/store"
	"github.com/tanpawarit/fredie-agent/agent/tool"
)

func stackOf(ids ...statex.HandlerID) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, string(id))
	}
	return strings.Join(parts, ",")
}

func assertStack(t *testing.T, st *statex.ConversationState, want ...statex.HandlerID) {
	t.Helper()
	if got := stackOf(st.RoutingStack...); got != stackOf(want...) {
		t.Fatalf("routing stack = [%s], want [%s]", got, stackOf(want...))
	}
}

func chatRows(t *testing.T, db *storex.MemoryStore, sessionID string) []storex.ChatMessage {
	t.Helper()
	all, err := db.ListMessages(context.Background())
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	var out []storex.ChatMessage
	for _, m := range all {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out
}

func TestNewRequiresDependencies(t *testing.T) {
	t.Parallel()

	if _, err := New(Dependencies{}, testConfig()); err == nil {
		t.Fatalf("New() without dependencies should fail")
	}
}

func TestHandleTurnRejectsEmptyMessage(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.orch.HandleTurn(context.Background(), contractx.TurnInput{SessionID: sessA, Text: "   "})
	if !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("HandleTurn() error = %v, want ErrInvalidMessage", err)
	}
	if _, err := h.states.Load(context.Background(), sessA); !errors.Is(err, statex.ErrStateNotFound) {
		t.Fatalf("checkpoint should not exist, Load() error = %v", err)
	}
}

func TestNewUserRegistersAcrossTurns(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.registry.extractor = scriptedExtractor{
		"Ana López, ana@uni.mx": {Name: "Ana López", Email: "ana@uni.mx"},
		"Mecatrónica, quinto semestre, me interesa la robótica": {
			Career:    "Mecatrónica",
			Semester:  5,
			Interests: contractx.StringList{"robótica"},
		},
	}
	h.handler(statex.HandlerGeneral).script(say("¡Bienvenida, Ana!"))

	out := h.turn(t, sessA, "hola")
	if out.Reply != contractx.ReplyAskNameEmail || out.Terminal != contractx.TerminalAwaitUser || out.IdentityVerified {
		t.Fatalf("turn 1 = %+v", out)
	}

	out = h.turn(t, sessA, "Ana López, ana@uni.mx")
	if out.Reply != contractx.ReplyAskProfile || out.Terminal != contractx.TerminalAwaitUser {
		t.Fatalf("turn 2 = %+v", out)
	}
	if st := h.checkpoint(t, sessA); st.AwaitingInfo != statex.AwaitingProfile || st.Draft == nil || st.Draft.Email != "ana@uni.mx" {
		t.Fatalf("checkpoint after turn 2 = %+v", st)
	}

	out = h.turn(t, sessA, "Mecatrónica, quinto semestre, me interesa la robótica")
	if out.Reply != "¡Bienvenida, Ana!" || out.Terminal != contractx.TerminalEnd || !out.IdentityVerified {
		t.Fatalf("turn 3 = %+v", out)
	}
	if out.SessionTitle != "hola" {
		t.Fatalf("session title = %q", out.SessionTitle)
	}

	st := h.checkpoint(t, sessA)
	if !st.Identity.Verified || st.Identity.Key != "ana@uni.mx" || st.AwaitingInfo != statex.AwaitingNone || st.Draft != nil {
		t.Fatalf("identity after registration = %+v awaiting=%q", st.Identity, st.AwaitingInfo)
	}
	assertStack(t, st, statex.HandlerGeneral)
	if err := st.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	student, err := h.db.FindStudent(context.Background(), "ana@uni.mx")
	if err != nil {
		t.Fatalf("FindStudent() error = %v", err)
	}
	if student.Career != "Mecatrónica" || student.Semester != 5 || len(student.Interests) != 1 || student.Interests[0] != "robótica" {
		t.Fatalf("registered student = %+v", student)
	}

	rows := chatRows(t, h.db, sessA)
	if len(rows) != 2 {
		t.Fatalf("recorded rows = %+v, want only the verified turn", rows)
	}
	if rows[0].Role != string(statex.RoleUser) || rows[1].Role != string(statex.RoleHandler) || rows[1].Content != "¡Bienvenida, Ana!" {
		t.Fatalf("recorded rows = %+v", rows)
	}
	sess, err := h.db.GetSession(context.Background(), sessA)
	if err != nil || sess.Title != "hola" || sess.UserEmail != "ana@uni.mx" {
		t.Fatalf("session row = %+v, err = %v", sess, err)
	}
}

func TestExistingUserVerifiedAndAnsweredSameTurn(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	seedAna(t, h.db)
	h.registry.extractor = scriptedExtractor{
		"Soy Ana López, ana@uni.mx, ¿qué hay hoy?": {Name: "Ana López", Email: "ANA@uni.mx"},
	}
	general := h.handler(statex.HandlerGeneral)
	general.script(say("Hola Ana, hoy tienes laboratorio."))

	out := h.turn(t, sessA, "Soy Ana López, ana@uni.mx, ¿qué hay hoy?")
	if out.Reply != "Hola Ana, hoy tienes laboratorio." || !out.IdentityVerified || out.Terminal != contractx.TerminalEnd {
		t.Fatalf("HandleTurn() = %+v", out)
	}

	req := general.lastRequest()
	if req.Identity.Key != "ana@uni.mx" || !req.Identity.Verified {
		t.Fatalf("handler identity = %+v", req.Identity)
	}
	if req.ProfileSummary == contractx.DefaultProfileSummary || !strings.Contains(req.ProfileSummary, "Ana López") {
		t.Fatalf("handler profile summary = %q", req.ProfileSummary)
	}
	if req.Time.Timezone != "America/Monterrey" {
		t.Fatalf("handler time context = %+v", req.Time)
	}
}

func TestIdentityCheckFailureAsksToRetry(t *testing.T) {
	t.Parallel()

	h := newHarness(t, withStudents(brokenStudents{}))
	h.registry.extractor = scriptedExtractor{
		"Ana López ana@uni.mx": {Name: "Ana López", Email: "ana@uni.mx"},
	}

	out := h.turn(t, sessA, "Ana López ana@uni.mx")
	if out.Reply != contractx.ReplyIdentifyRetry || out.Terminal != contractx.TerminalAwaitUser || out.IdentityVerified {
		t.Fatalf("HandleTurn() = %+v", out)
	}
	if n := h.handler(statex.HandlerGeneral).calls(); n != 0 {
		t.Fatalf("handler calls = %d, want 0", n)
	}
	st := h.checkpoint(t, sessA)
	if err := st.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestRegistrationAsksForMissingFields(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.registry.extractor = scriptedExtractor{
		"Ana López ana@uni.mx": {Name: "Ana López", Email: "ana@uni.mx"},
		"Estudio Mecatrónica":  {Career: "Mecatrónica"},
	}

	if out := h.turn(t, sessA, "Ana López ana@uni.mx"); out.Reply != contractx.ReplyAskProfile {
		t.Fatalf("turn 1 reply = %q", out.Reply)
	}
	out := h.turn(t, sessA, "Estudio Mecatrónica")
	if want := contractx.ReplyAskMissing([]string{"semestre", "intereses"}); out.Reply != want {
		t.Fatalf("turn 2 reply = %q, want %q", out.Reply, want)
	}
	if _, err := h.db.FindStudent(context.Background(), "ana@uni.mx"); !errors.Is(err, storex.ErrNotFound) {
		t.Fatalf("student should not be registered yet, FindStudent() error = %v", err)
	}
}

func TestMistypedEmailCanBeCorrected(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	seedAna(t, h.db)
	h.registry.extractor = scriptedExtractor{
		"Ana López ana@uni.mk":  {Name: "Ana López", Email: "ana@uni.mk"},
		"perdón, es ana@uni.mx": {Email: "ana@uni.mx"},
	}
	h.handler(statex.HandlerGeneral).script(say("Hola Ana."))

	if out := h.turn(t, sessA, "Ana López ana@uni.mk"); out.Reply != contractx.ReplyAskProfile {
		t.Fatalf("turn 1 reply = %q", out.Reply)
	}
	out := h.turn(t, sessA, "perdón, es ana@uni.mx")
	if out.Reply != "Hola Ana." || !out.IdentityVerified {
		t.Fatalf("turn 2 = %+v", out)
	}
	if st := h.checkpoint(t, sessA); st.Identity.Key != "ana@uni.mx" {
		t.Fatalf("identity = %+v", st.Identity)
	}
	if _, err := h.db.FindStudent(context.Background(), "ana@uni.mk"); !errors.Is(err, storex.ErrNotFound) {
		t.Fatalf("mistyped email must not be registered, FindStudent() error = %v", err)
	}
}

func TestTopicChangeReplacesActiveHandler(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.seedVerified(t, sessA, statex.HandlerGeneral)
	h.classifier.label = "INDUSTRIAL"
	h.handler(statex.HandlerIndustrial).script(say("Revisemos el PLC."))

	out := h.turn(t, sessA, "El brazo de la línea 3 no arranca")
	if out.Reply != "Revisemos el PLC." {
		t.Fatalf("reply = %q", out.Reply)
	}
	assertStack(t, h.checkpoint(t, sessA), statex.HandlerIndustrial)
	if n := h.handler(statex.HandlerGeneral).calls(); n != 0 {
		t.Fatalf("general calls = %d, want 0", n)
	}
}

func TestEmptyRetrievalShortCircuits(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.seedVerified(t, sessA, statex.HandlerGeneral)
	h.classifier.label = "lab"
	lab := h.handler(statex.HandlerLab)
	lab.script(request("c1", tool.CapRetrieveContext, map[string]any{"query": "mis mediciones de la práctica 2"}))

	out := h.turn(t, sessA, "¿qué medí en la práctica 2?")
	if out.Reply != contractx.ReplyNoRecords || out.Terminal != contractx.TerminalEnd {
		t.Fatalf("HandleTurn() = %+v", out)
	}
	if n := lab.calls(); n != 1 {
		t.Fatalf("lab calls = %d, want 1", n)
	}

	st := h.checkpoint(t, sessA)
	if err := st.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	n := len(st.Messages)
	if n < 3 || st.Messages[n-2].Outcome != "empty" || st.Messages[n-1].Content != contractx.ReplyNoRecords {
		t.Fatalf("log tail = %+v", st.Messages)
	}
}

func TestCapabilityResultsReturnToRequester(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.seedVerified(t, sessA, statex.HandlerGeneral)
	general := h.handler(statex.HandlerGeneral)

	var seen statex.Entry
	general.script(
		request("c1", tool.CapNowInZone, nil),
		func(_ context.Context, req contractx.HandlerRequest) (contractx.HandlerResponse, error) {
			seen = req.Messages[len(req.Messages)-1]
			return contractx.HandlerResponse{Message: "Son las 13:05."}, nil
		},
	)

	out := h.turn(t, sessA, "¿qué hora es?")
	if out.Reply != "Son las 13:05." {
		t.Fatalf("reply = %q", out.Reply)
	}
	if seen.Role != statex.RoleCapability || seen.RequestID != "c1" || seen.Outcome != "found" {
		t.Fatalf("capability entry seen by handler = %+v", seen)
	}
	if !strings.Contains(seen.Content, "America/Monterrey") {
		t.Fatalf("nowInZone content = %q", seen.Content)
	}
	if n := general.calls(); n != 2 {
		t.Fatalf("general calls = %d, want 2", n)
	}
}

func TestProfileUpdateRefreshesSummary(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.seedVerified(t, sessA, statex.HandlerGeneral)
	general := h.handler(statex.HandlerGeneral)
	general.script(
		request("c1", tool.CapUpdateIdentityInfo, map[string]any{"semester": float64(6)}),
		say("Actualicé tu semestre."),
	)

	out := h.turn(t, sessA, "ya estoy en sexto semestre")
	if out.Reply != "Actualicé tu semestre." {
		t.Fatalf("reply = %q", out.Reply)
	}
	student, err := h.db.FindStudent(context.Background(), "ana@uni.mx")
	if err != nil || student.Semester != 6 {
		t.Fatalf("student = %+v, err = %v", student, err)
	}
	if req := general.lastRequest(); !strings.Contains(req.ProfileSummary, "Semestre: 6") {
		t.Fatalf("profile seen after update = %q", req.ProfileSummary)
	}
	if st := h.checkpoint(t, sessA); !strings.Contains(st.ProfileSummary, "Semestre: 6") {
		t.Fatalf("checkpoint profile = %q", st.ProfileSummary)
	}
}

func TestHandoffSticksUntilBack(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.seedVerified(t, sessA, statex.HandlerGeneral)
	general := h.handler(statex.HandlerGeneral)
	education := h.handler(statex.HandlerEducation)
	general.script(routeTo(statex.HandlerEducation), say("¿Algo más?"))
	education.script(say("Empecemos con derivadas."), routeBack())

	out := h.turn(t, sessA, "quiero repasar cálculo")
	if out.Reply != "Empecemos con derivadas." {
		t.Fatalf("turn 1 reply = %q", out.Reply)
	}
	st := h.checkpoint(t, sessA)
	assertStack(t, st, statex.HandlerGeneral, statex.HandlerEducation)
	if !st.HandoffPending {
		t.Fatalf("handoff should stay pending after a route")
	}
	if n := h.classifier.callCount(); n != 1 {
		t.Fatalf("classifier calls after turn 1 = %d, want 1", n)
	}

	out = h.turn(t, sessA, "gracias, ya terminé")
	if out.Reply != "¿Algo más?" {
		t.Fatalf("turn 2 reply = %q", out.Reply)
	}
	if n := h.classifier.callCount(); n != 1 {
		t.Fatalf("classifier calls after turn 2 = %d, want 1", n)
	}
	assertStack(t, h.checkpoint(t, sessA), statex.HandlerGeneral)
	if general.calls() != 2 || education.calls() != 2 {
		t.Fatalf("calls general=%d education=%d", general.calls(), education.calls())
	}
}

func TestPracticeSessionForcesEducation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.seedVerified(t, sessA, statex.HandlerGeneral)
	h.db.SeedPractice(
		[]storex.ProjectTask{
			{ID: "t1", ProjectID: "p1", Position: 1, Title: "Montaje"},
			{ID: "t2", ProjectID: "p1", Position: 2, Title: "Pruebas"},
		},
		[]storex.TaskStep{
			{ID: "s1", TaskID: "t1", StepNumber: 1, Title: "Fijar base"},
			{ID: "s2", TaskID: "t2", StepNumber: 1, Title: "Medir voltaje"},
		},
	)
	err := h.db.UpsertSession(context.Background(), &storex.ChatSession{
		ID:        sessA,
		StartedAt: fixedNow.Add(-time.Hour),
		Metadata:  storex.SessionMetadata{ChatType: "practice", ProjectID: "p1"},
	})
	if err != nil {
		t.Fatalf("UpsertSession() error = %v", err)
	}
	h.classifier.label = "industrial"

	education := h.handler(statex.HandlerEducation)
	education.script(
		request("c1", tool.CapCompleteStep, map[string]any{"step_id": "s1"}),
		say("¡Bien! Ahora mide el voltaje."),
	)

	out := h.turn(t, sessA, "ya fijé la base")
	if out.Reply != "¡Bien! Ahora mide el voltaje." {
		t.Fatalf("reply = %q", out.Reply)
	}
	if n := h.classifier.callCount(); n != 0 {
		t.Fatalf("classifier calls = %d, want 0", n)
	}
	if req := education.lastRequest(); req.Task == nil || req.Task.TaskID != "t2" {
		t.Fatalf("task context seen after completeStep = %+v", req.Task)
	}

	st := h.checkpoint(t, sessA)
	assertStack(t, st, statex.HandlerEducation)
	if !st.Task.IsPractice() || st.Task.ProjectID != "p1" || st.Task.TaskID != "t2" || st.Task.StepNumber != 1 {
		t.Fatalf("task context = %+v", st.Task)
	}
}

func TestPracticeOverrideStartsPractice(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.seedVerified(t, sessA, statex.HandlerLab)
	h.handler(statex.HandlerEducation).script(say("Veamos tu proyecto."))

	out, err := h.orch.HandleTurn(context.Background(), contractx.TurnInput{
		SessionID: sessA,
		Text:      "quiero practicar",
		Overrides: &contractx.TurnOverrides{ChatType: "practice", ProjectID: "p9"},
	})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if out.Reply != "Veamos tu proyecto." {
		t.Fatalf("reply = %q", out.Reply)
	}
	st := h.checkpoint(t, sessA)
	if !st.Task.IsPractice() || st.Task.ProjectID != "p9" {
		t.Fatalf("task context = %+v", st.Task)
	}
	assertStack(t, st, statex.HandlerEducation)
}

func TestHandlerRetriesBeforeSucceeding(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.seedVerified(t, sessA, statex.HandlerGeneral)
	general := h.handler(statex.HandlerGeneral)
	general.script(fail("timeout"), fail("timeout"), say("a la tercera"))

	out := h.turn(t, sessA, "hola")
	if out.Reply != "a la tercera" {
		t.Fatalf("reply = %q", out.Reply)
	}
	if n := general.calls(); n != 3 {
		t.Fatalf("general calls = %d, want 3", n)
	}
}

func TestExhaustedRetriesApologiseAndRestoreStack(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.seedVerified(t, sessA, statex.HandlerGeneral)
	h.classifier.label = "lab"
	lab := h.handler(statex.HandlerLab)
	education := h.handler(statex.HandlerEducation)
	lab.script(routeTo(statex.HandlerEducation))
	education.fallback = fail("rate limited")

	out := h.turn(t, sessA, "explícame el osciloscopio")
	if out.Reply != contractx.ReplyApology || out.Terminal != contractx.TerminalEnd {
		t.Fatalf("HandleTurn() = %+v", out)
	}
	if n := education.calls(); n != 3 {
		t.Fatalf("education calls = %d, want 3", n)
	}
	st := h.checkpoint(t, sessA)
	assertStack(t, st, statex.HandlerLab)
	if st.HandoffPending {
		t.Fatalf("handoff should be cleared after a failed handler")
	}
	if err := st.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestMaxHopsEndsTurn(t *testing.T) {
	t.Parallel()

	h := newHarness(t, withConfig(func(c *Config) { c.MaxHops = 2 }))
	h.seedVerified(t, sessA, statex.HandlerGeneral)
	general := h.handler(statex.HandlerGeneral)
	n := 0
	general.fallback = func(context.Context, contractx.HandlerRequest) (contractx.HandlerResponse, error) {
		n++
		return contractx.HandlerResponse{CapabilityRequests: []contractx.CapabilityRequest{{
			ID:   "c" + strings.Repeat("x", n),
			Name: tool.CapNowInZone,
		}}}, nil
	}

	out := h.turn(t, sessA, "¿qué hora es en todos lados?")
	if out.Reply != contractx.ReplyTooManySteps {
		t.Fatalf("reply = %q", out.Reply)
	}
	if c := general.calls(); c != 2 {
		t.Fatalf("general calls = %d, want 2", c)
	}
	if err := h.checkpoint(t, sessA).Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestPersistenceFailuresDoNotFailTurn(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		withConfig(func(c *Config) { c.RequireIdentity = false }),
		withStore(failingStateStore{statex.NewMemoryStore()}),
		withRecorder(failingRecorder{}),
	)
	h.handler(statex.HandlerGeneral).script(say("¡Hola!"))

	out := h.turn(t, sessA, "hola")
	if out.Reply != "¡Hola!" || out.Terminal != contractx.TerminalEnd {
		t.Fatalf("HandleTurn() = %+v", out)
	}
}

func TestAnonymousSessionsUseGeneral(t *testing.T) {
	t.Parallel()

	h := newHarness(t, withConfig(func(c *Config) { c.RequireIdentity = false }))
	h.classifier.label = "lab"
	h.handler(statex.HandlerGeneral).script(say("Hola, ¿en qué te ayudo?"))

	out := h.turn(t, "", "necesito el laboratorio")
	if out.Reply != "Hola, ¿en qué te ayudo?" || out.IdentityVerified {
		t.Fatalf("HandleTurn() = %+v", out)
	}
	if out.SessionID == "" {
		t.Fatalf("session id should be assigned")
	}
	if n := h.classifier.callCount(); n != 0 {
		t.Fatalf("classifier calls = %d, want 0", n)
	}
	assertStack(t, h.checkpoint(t, out.SessionID), statex.HandlerGeneral)
}

func TestAnonymousHandoffIsRefused(t *testing.T) {
	t.Parallel()

	h := newHarness(t, withConfig(func(c *Config) { c.RequireIdentity = false }))
	general := h.handler(statex.HandlerGeneral)
	lab := h.handler(statex.HandlerLab)
	general.script(routeTo(statex.HandlerLab), say("Puedo ayudarte desde aquí."), say("Claro, sigamos."))
	lab.fallback = say("respuesta del laboratorio")

	out := h.turn(t, "", "necesito datos del laboratorio")
	if out.Reply != "Puedo ayudarte desde aquí." || out.IdentityVerified {
		t.Fatalf("turn 1 = %+v", out)
	}
	assertStack(t, h.checkpoint(t, out.SessionID), statex.HandlerGeneral)

	out = h.turn(t, out.SessionID, "¿y la muestra?")
	if out.Reply != "Claro, sigamos." {
		t.Fatalf("turn 2 reply = %q", out.Reply)
	}
	if n := lab.calls(); n != 0 {
		t.Fatalf("lab calls = %d, want 0", n)
	}
	assertStack(t, h.checkpoint(t, out.SessionID), statex.HandlerGeneral)
}

func TestAnonymousPracticeStaysOnGeneral(t *testing.T) {
	t.Parallel()

	h := newHarness(t, withConfig(func(c *Config) { c.RequireIdentity = false }))
	h.handler(statex.HandlerGeneral).script(say("Hola, ¿en qué te ayudo?"))
	education := h.handler(statex.HandlerEducation)
	education.fallback = say("Veamos tu proyecto.")

	out, err := h.orch.HandleTurn(context.Background(), contractx.TurnInput{
		Text:      "quiero practicar",
		Overrides: &contractx.TurnOverrides{ChatType: "practice", ProjectID: "p9"},
	})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if out.Reply != "Hola, ¿en qué te ayudo?" {
		t.Fatalf("reply = %q", out.Reply)
	}
	if n := education.calls(); n != 0 {
		t.Fatalf("education calls = %d, want 0", n)
	}
	assertStack(t, h.checkpoint(t, out.SessionID), statex.HandlerGeneral)
}

func TestCancelledTurnKeepsCheckpoint(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.seedVerified(t, sessA, statex.HandlerGeneral)
	before := h.checkpoint(t, sessA)

	entered := make(chan struct{})
	h.handler(statex.HandlerGeneral).script(func(ctx context.Context, _ contractx.HandlerRequest) (contractx.HandlerResponse, error) {
		close(entered)
		<-ctx.Done()
		return contractx.HandlerResponse{}, ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-entered
		cancel()
	}()
	_, err := h.orch.HandleTurn(ctx, contractx.TurnInput{SessionID: sessA, Text: "una pregunta larga"})
	if !errors.Is(err, ErrTurnCancelled) {
		t.Fatalf("HandleTurn() error = %v, want ErrTurnCancelled", err)
	}

	after := h.checkpoint(t, sessA)
	if len(after.Messages) != len(before.Messages) || !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatalf("checkpoint changed: %d -> %d messages", len(before.Messages), len(after.Messages))
	}
	rows := chatRows(t, h.db, sessA)
	if len(rows) != 1 || rows[0].Content != "una pregunta larga" {
		t.Fatalf("recorded rows = %+v, want the user row only", rows)
	}
}

// waiters reports how many turns are queued or running for a session.
func (o *Orchestrator) waiters(sessionID string) int {
	n := 0
	o.queues.Compute(sessionID, func(q *sessionQueue, loaded bool) (*sessionQueue, bool) {
		if !loaded {
			return q, true
		}
		n = q.waiters
		return q, false
	})
	return n
}

func TestTurnsRunInArrivalOrderPerSession(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newHarness(t)
	h.seedVerified(t, sessA, statex.HandlerGeneral)
	h.seedVerified(t, sessB, statex.HandlerGeneral)

	entered := make(chan struct{})
	release := make(chan struct{})
	h.handler(statex.HandlerGeneral).fallback = func(_ context.Context, req contractx.HandlerRequest) (contractx.HandlerResponse, error) {
		text := lastUserText(req.Messages)
		if text == "primero" {
			close(entered)
			<-release
		}
		return contractx.HandlerResponse{Message: "re: " + text}, nil
	}

	var wg sync.WaitGroup
	outs := make([]contractx.TurnOutput, 2)
	errs := make([]error, 2)
	run := func(i int, text string) {
		defer wg.Done()
		outs[i], errs[i] = h.orch.HandleTurn(context.Background(), contractx.TurnInput{SessionID: sessA, Text: text})
	}

	wg.Add(1)
	go run(0, "primero")
	<-entered

	wg.Add(1)
	go run(1, "segundo")
	deadline := time.Now().Add(5 * time.Second)
	for h.orch.waiters(sessA) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("second turn never queued")
		}
		time.Sleep(time.Millisecond)
	}

	// Other sessions are not blocked by the busy one.
	if out := h.turn(t, sessB, "otra sesión"); out.Reply != "re: otra sesión" {
		t.Fatalf("other session reply = %q", out.Reply)
	}

	close(release)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("turn %d error = %v", i, err)
		}
	}
	if outs[0].Reply != "re: primero" || outs[1].Reply != "re: segundo" {
		t.Fatalf("replies = %q, %q", outs[0].Reply, outs[1].Reply)
	}

	rows := chatRows(t, h.db, sessA)
	var got []string
	for _, r := range rows {
		got = append(got, r.Content)
	}
	want := []string{"primero", "re: primero", "segundo", "re: segundo"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("recorded order = %q, want %q", got, want)
	}

	st := h.checkpoint(t, sessA)
	if user := st.UserTexts(0); len(user) != 2 || user[0] != "primero" || user[1] != "segundo" {
		t.Fatalf("checkpoint user texts = %q", user)
	}
	if n := h.orch.queues.Size(); n != 0 {
		t.Fatalf("session queues left = %d, want 0", n)
	}
}
