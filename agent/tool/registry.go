package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/fredie-agent/agent/contract"
	storex "github.com/tanpawarit/fredie-agent/agent/store"
	qstashx "github.com/tanpawarit/fredie-agent/pkg/qstash"
	tavilyx "github.com/tanpawarit/fredie-agent/pkg/tavily"
)

const defaultCallTimeout = 30 * time.Second

// WebSearcher is satisfied by *tavily.Client.
type WebSearcher interface {
	Search(ctx context.Context, req tavilyx.SearchRequest) (*tavilyx.SearchResponse, error)
}

// Publisher is satisfied by *qstash.Client.
type Publisher interface {
	Publish(ctx context.Context, req qstashx.PublishRequest) (string, error)
}

// Dependencies wires the registry to its backends. Only Students is required;
// a missing backend makes its capabilities fail with a reason.
type Dependencies struct {
	Students  storex.StudentStore
	Practice  storex.PracticeStore
	Retriever *storex.Retriever
	Web       WebSearcher
	Publisher Publisher

	// SummaryDestination is the URL the summary job listens on.
	SummaryDestination string
	DefaultTimezone    string
	CallTimeout        time.Duration
	Now                func() time.Time
}

type executor func(ctx context.Context, scope contractx.Scope, args map[string]any) contractx.CapabilityResult

// Registry implements contract.CapabilityGateway.
type Registry struct {
	deps      Dependencies
	executors map[string]executor
}

var _ contractx.CapabilityGateway = (*Registry)(nil)

func NewRegistry(deps Dependencies) (*Registry, error) {
	if deps.Students == nil {
		return nil, errors.New("student store is required")
	}
	if deps.CallTimeout <= 0 {
		deps.CallTimeout = defaultCallTimeout
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if strings.TrimSpace(deps.DefaultTimezone) == "" {
		deps.DefaultTimezone = "UTC"
	}

	r := &Registry{deps: deps}
	r.executors = map[string]executor{
		CapCheckIdentity:        r.checkIdentity,
		CapRegisterIdentity:     r.registerIdentity,
		CapUpdateIdentityInfo:   r.updateIdentityInfo,
		CapGetProfileSummary:    r.getProfileSummary,
		CapUpdateGoals:          r.updateGoals,
		CapUpdateLearningStyle:  r.updateLearningStyle,
		CapRetrieveContext:      r.retrieveContext,
		CapRetrieveRobotSupport: r.retrieveRobotSupport,
		CapWebSearch:            r.webSearch,
		CapNowInZone:            r.nowInZone,
		CapListTasks:            r.listTasks,
		CapListSteps:            r.listSteps,
		CapCompleteStep:         r.completeStep,
		CapSummarizeAllChats:    r.summarizeAllChats,
		CapEvaluateExpression:   r.evaluateExpression,
	}
	return r, nil
}

// Catalog returns the tool definitions caller may bind to its model.
func (r *Registry) Catalog(caller string) []*schema.ToolInfo {
	names := callerCapabilities[caller]
	out := make([]*schema.ToolInfo, 0, len(names))
	for _, n := range names {
		if info, ok := toolInfos[n]; ok {
			out = append(out, info)
		}
	}
	return out
}

// Execute runs reqs in order. Once ctx is done the remaining requests fail
// with "cancelled" so every request still gets its result.
func (r *Registry) Execute(ctx context.Context, scope contractx.Scope, reqs []contractx.CapabilityRequest) []contractx.CapabilityResult {
	out := make([]contractx.CapabilityResult, 0, len(reqs))
	for _, req := range reqs {
		res := r.executeOne(ctx, scope, req)
		res.RequestID = req.ID
		res.Name = req.Name
		out = append(out, res)
	}
	return out
}

func (r *Registry) executeOne(ctx context.Context, scope contractx.Scope, req contractx.CapabilityRequest) (res contractx.CapabilityResult) {
	logger := log.With().
		Str("session_id", scope.SessionID).
		Str("caller", scope.Caller).
		Str("capability", req.Name).
		Logger()

	if ctx.Err() != nil {
		return contractx.Failed("cancelled")
	}
	if req.Name == CapRouteTo {
		return contractx.Failed("route_to is a control capability")
	}
	run, ok := r.executors[req.Name]
	if !ok {
		logger.Warn().Msg("unknown capability requested")
		return contractx.Failed(contractx.ErrCapabilityUnknown.Error())
	}
	if !Allowed(scope.Caller, req.Name) {
		logger.Warn().Msg("capability not allowed for caller")
		return contractx.Failed("capability not allowed for " + scope.Caller)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.deps.CallTimeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			logger.Error().Interface("panic", p).Msg("capability panicked")
			res = contractx.Failed(fmt.Sprintf("internal error: %v", p))
		}
	}()

	start := r.deps.Now()
	res = run(callCtx, scope, req.Args)
	if res.Kind == contractx.ResultError && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		res = contractx.Failed("timeout")
	}
	logger.Debug().
		Str("kind", res.Kind.String()).
		Dur("took", r.deps.Now().Sub(start)).
		Msg("capability executed")
	return res
}

// identityKey prefers the verified identity from scope over model arguments.
func identityKey(scope contractx.Scope, args map[string]any, keys ...string) string {
	if k := strings.TrimSpace(scope.IdentityKey); k != "" {
		return k
	}
	return stringArg(args, keys...)
}

// ownerKey is identityKey for writes: handlers may only change the verified
// user's profile, so an argument key is honoured for the identification gate
// alone.
func ownerKey(scope contractx.Scope, args map[string]any, keys ...string) string {
	if k := strings.TrimSpace(scope.IdentityKey); k != "" {
		return k
	}
	if scope.Caller != CallerIdentification {
		return ""
	}
	return stringArg(args, keys...)
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, storex.ErrNotFound):
		return "NOT_FOUND"
	default:
		return err.Error()
	}
}
