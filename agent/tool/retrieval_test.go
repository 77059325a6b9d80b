package tool

import (
	"context"
	"strings"
	"testing"

	contractx "github.com/tanpawarit/fredie-agent/agent/contract"
	statex "github.com/tanpawarit/fredie-agent/agent/state"
	storex "github.com/tanpawarit/fredie-agent/agent/store"
)

func TestRetrieveContextEmptyWithoutDocuments(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedStudent(t)

	res := f.run(t, userScope(statex.HandlerLab), CapRetrieveContext, map[string]any{"query": "muestras de agua"})
	if res.Kind != contractx.ResultEmpty {
		t.Fatalf("retrieveContext = %+v, want empty", res)
	}
}

func TestRetrieveContextLabelsSources(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	st := f.seedStudent(t)
	st.LearningStyle = storex.LearningStyle{PrefersVisual: true}
	if err := f.mem.UpdateStudent(context.Background(), st, "learning_style"); err != nil {
		t.Fatalf("UpdateStudent() error = %v", err)
	}
	for _, doc := range []*storex.Document{
		{Collection: storex.CollectionChatSummary, Ref: "s1", Owner: "ana@uni.mx", Content: "Hablamos de robots SCARA"},
		{Collection: storex.CollectionChatSummary, Ref: "s0", Owner: "ana@uni.mx", Content: "Repasamos PLC y robots"},
		{Collection: storex.CollectionChatSummary, Ref: "x9", Owner: "otro@uni.mx", Content: "robots de otro usuario"},
	} {
		if err := f.reg.deps.Retriever.Index(context.Background(), doc); err != nil {
			t.Fatalf("Index() error = %v", err)
		}
	}

	res := f.run(t, userScope(statex.HandlerIndustrial), CapRetrieveContext, map[string]any{"query": "robots"})
	if res.Kind != contractx.ResultFound {
		t.Fatalf("retrieveContext = %+v", res)
	}
	if !strings.HasPrefix(res.Text, "[ESTILO_APRENDIZAJE] Prefiere aprender de forma visual.") {
		t.Fatalf("missing style line: %q", res.Text)
	}
	if !strings.Contains(res.Text, "[SESION_ACTUAL] Hablamos de robots SCARA") || !strings.Contains(res.Text, "[HISTORIAL] Repasamos PLC") {
		t.Fatalf("missing summaries: %q", res.Text)
	}
	if strings.Contains(res.Text, "otro usuario") {
		t.Fatalf("leaked another owner's summary: %q", res.Text)
	}
}

func TestRetrieveRobotSupport(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	res := f.run(t, userScope(statex.HandlerLab), CapRetrieveRobotSupport, map[string]any{"query": "brazo no responde"})
	if res.Kind != contractx.ResultEmpty {
		t.Fatalf("retrieveRobotSupport empty = %+v", res)
	}

	doc := &storex.Document{Collection: storex.CollectionRobotSupport, Ref: "case-1", Content: "Brazo no responde: reiniciar controlador"}
	if err := f.reg.deps.Retriever.Index(context.Background(), doc); err != nil {
		t.Fatalf("Index() error = %v", err)
	}
	res = f.run(t, userScope(statex.HandlerLab), CapRetrieveRobotSupport, map[string]any{"query": "brazo no responde"})
	if res.Kind != contractx.ResultFound || res.Text != "CASO_1:: Brazo no responde: reiniciar controlador" {
		t.Fatalf("retrieveRobotSupport = %+v", res)
	}
}

func TestRetrievalWithoutRetrieverFails(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry(Dependencies{Students: storex.NewMemoryStore()})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	out := reg.Execute(context.Background(), userScope(statex.HandlerLab), []contractx.CapabilityRequest{
		{ID: "a", Name: CapRetrieveContext, Args: map[string]any{"query": "x"}},
		{ID: "b", Name: CapWebSearch, Args: map[string]any{"query": "x"}},
	})
	for _, res := range out {
		if res.Kind != contractx.ResultError {
			t.Fatalf("%s = %+v, want error", res.Name, res)
		}
	}
}
