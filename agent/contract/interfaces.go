package contract

import (
	"context"

	"github.com/cloudwego/eino/schema"
	statex "github.com/tanpawarit/fredie-agent/agent/state"
)

// Handler is one domain responder. Implementations must not mutate the request.
type Handler interface {
	ID() statex.HandlerID
	Respond(ctx context.Context, req HandlerRequest) (HandlerResponse, error)
}

// Classifier is the model-backed half of the router. It may fail or return a
// label outside the known set; callers fall back deterministically.
type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (string, error)
}

// Extractor pulls identity and registration fields out of free text.
type Extractor interface {
	Extract(ctx context.Context, req ExtractRequest) (ExtractedProfile, error)
}

type Registry interface {
	Classifier() Classifier
	Extractor() Extractor
	Handler(id statex.HandlerID) (Handler, error)
}

// CapabilityGateway executes named capabilities. Execute returns exactly one
// result per request, in request order; failures are results, not errors.
type CapabilityGateway interface {
	Catalog(caller string) []*schema.ToolInfo
	Execute(ctx context.Context, scope Scope, reqs []CapabilityRequest) []CapabilityResult
}

// Recorder persists chat rows. Failures are logged by callers and never
// surface to the user.
type Recorder interface {
	RecordTurn(ctx context.Context, rec TurnRecord) error
	SessionMetadata(ctx context.Context, sessionID string) (SessionMetadata, error)
}
