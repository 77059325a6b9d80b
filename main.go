package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/tanpawarit/fredie-agent/agent/agents/orchestrator"
	"github.com/tanpawarit/fredie-agent/agent/agents/registry"
	contractx "github.com/tanpawarit/fredie-agent/agent/contract"
	llmx "github.com/tanpawarit/fredie-agent/agent/llm"
	statex "github.com/tanpawarit/fredie-agent/agent/state"
	storex "github.com/tanpawarit/fredie-agent/agent/store"
	"github.com/tanpawarit/fredie-agent/agent/tool"
	configx "github.com/tanpawarit/fredie-agent/pkg/config"
	_ "github.com/tanpawarit/fredie-agent/pkg/logger/autoload"
	openrouterx "github.com/tanpawarit/fredie-agent/pkg/openrouter"
	postgresx "github.com/tanpawarit/fredie-agent/pkg/postgres"
	qstashx "github.com/tanpawarit/fredie-agent/pkg/qstash"
	tavilyx "github.com/tanpawarit/fredie-agent/pkg/tavily"
)

type AppConfig struct {
	DefaultTimezone    string `envconfig:"DEFAULT_TIMEZONE" split_words:"true" default:"America/Monterrey"`
	SessionID          string `envconfig:"SESSION_ID" split_words:"true"`
	SummaryDestination string `envconfig:"SUMMARY_DESTINATION" split_words:"true"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appCfg := configx.MustNew[AppConfig]("")
	llmCfg := configx.MustNew[llmx.Config]("OPENROUTER")
	orchCfg := configx.MustNew[orchestrator.Config]("ORCHESTRATOR")
	if orchCfg.DefaultTimezone == "" {
		orchCfg.DefaultTimezone = appCfg.DefaultTimezone
	}

	db := openStore(ctx)
	retriever := openRetriever(db)

	gateway, err := tool.NewRegistry(tool.Dependencies{
		Students:           db,
		Practice:           db,
		Retriever:          retriever,
		Web:                openWebSearch(),
		Publisher:          openPublisher(),
		SummaryDestination: appCfg.SummaryDestination,
		DefaultTimezone:    orchCfg.DefaultTimezone,
		CallTimeout:        orchCfg.CallTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build capability registry")
	}

	models, err := registry.NewRegistry(ctx, *llmCfg, gateway)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build model registry")
	}

	recorder, err := storex.NewRecorder(db)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build chat recorder")
	}

	orch, err := orchestrator.New(orchestrator.Dependencies{
		Store:        openCheckpoints(),
		Models:       models,
		Capabilities: gateway,
		Recorder:     recorder,
	}, *orchCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build orchestrator")
	}

	if err := chat(ctx, orch, appCfg.SessionID); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("chat loop stopped")
	}
}

// chat reads one user message per line and prints Fredie's reply.
func chat(ctx context.Context, orch *orchestrator.Orchestrator, sessionID string) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			fmt.Print("> ")
			continue
		}
		if text == "/exit" {
			return nil
		}

		out, err := orch.HandleTurn(ctx, contractx.TurnInput{SessionID: sessionID, Text: text})
		switch {
		case errors.Is(err, orchestrator.ErrTurnCancelled):
			return ctx.Err()
		case err != nil:
			log.Error().Err(err).Str("session_id", sessionID).Msg("turn failed")
			fmt.Println(contractx.ReplyApology)
		default:
			sessionID = out.SessionID
			fmt.Println(out.Reply)
		}
		fmt.Print("> ")
	}
	return scanner.Err()
}

// openStore connects to Postgres when POSTGRES_* is set and falls back to the
// in-memory store otherwise.
func openStore(ctx context.Context) storex.Store {
	cfg, err := configx.Optional[postgresx.Config]("POSTGRES")
	if errors.Is(err, configx.ErrNotConfigured) {
		log.Warn().Msg("postgres not configured, using in-memory store")
		return storex.NewMemoryStore()
	}
	if err != nil {
		log.Fatal().Err(err).Msg("invalid postgres config")
	}
	db, err := postgresx.Open(*cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open postgres")
	}
	pg, err := storex.NewPostgresStore(db)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build postgres store")
	}
	if err := pg.CreateSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to create schema")
	}
	return pg
}

func openCheckpoints() statex.Store {
	cfg, err := configx.Optional[statex.UpstashRedisConfig]("UPSTASH_REDIS")
	if errors.Is(err, configx.ErrNotConfigured) {
		log.Warn().Msg("upstash redis not configured, checkpoints kept in memory")
		return statex.NewMemoryStore()
	}
	if err != nil {
		log.Fatal().Err(err).Msg("invalid upstash redis config")
	}
	st, err := statex.NewUpstashRedisStore(*cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build upstash checkpoint store")
	}
	return st
}

func openRetriever(docs storex.DocumentStore) *storex.Retriever {
	cfg, err := configx.Optional[openrouterx.EmbeddingConfig]("EMBEDDING")
	if errors.Is(err, configx.ErrNotConfigured) {
		log.Warn().Msg("embeddings not configured, retrieval disabled")
		return nil
	}
	if err != nil {
		log.Fatal().Err(err).Msg("invalid embedding config")
	}
	client := openrouterx.NewEmbeddingClient(*cfg)
	embedder, err := storex.NewOpenAIEmbedder(client, cfg.Model)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build embedder")
	}
	rewriter, err := storex.NewOpenAIRewriter(client, cfg.RewriteModel)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build query rewriter")
	}
	retriever, err := storex.NewRetriever(docs, embedder, rewriter)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build retriever")
	}
	return retriever
}

func openWebSearch() tool.WebSearcher {
	cfg, err := configx.Optional[tavilyx.Config]("TAVILY")
	if errors.Is(err, configx.ErrNotConfigured) {
		log.Warn().Msg("tavily not configured, web search disabled")
		return nil
	}
	if err != nil {
		log.Fatal().Err(err).Msg("invalid tavily config")
	}
	return tavilyx.MustNew(*cfg)
}

func openPublisher() tool.Publisher {
	cfg, err := configx.Optional[qstashx.Config]("QSTASH")
	if errors.Is(err, configx.ErrNotConfigured) {
		log.Warn().Msg("qstash not configured, summary job trigger disabled")
		return nil
	}
	if err != nil {
		log.Fatal().Err(err).Msg("invalid qstash config")
	}
	return qstashx.MustNew(*cfg)
}
