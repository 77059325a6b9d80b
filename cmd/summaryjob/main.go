// Command summaryjob condenses stored chats into per-session summaries. It
// runs once, or listens for QStash deliveries when SUMMARY_JOB_LISTEN_ADDR
// is set.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/fredie-agent/agent/contract"
	llmx "github.com/tanpawarit/fredie-agent/agent/llm"
	promptx "github.com/tanpawarit/fredie-agent/agent/prompt"
	storex "github.com/tanpawarit/fredie-agent/agent/store"
	"github.com/tanpawarit/fredie-agent/agent/summary"
	"github.com/tanpawarit/fredie-agent/agent/tool"
	configx "github.com/tanpawarit/fredie-agent/pkg/config"
	_ "github.com/tanpawarit/fredie-agent/pkg/logger/autoload"
	openrouterx "github.com/tanpawarit/fredie-agent/pkg/openrouter"
	postgresx "github.com/tanpawarit/fredie-agent/pkg/postgres"
	qstashx "github.com/tanpawarit/fredie-agent/pkg/qstash"
)

type JobConfig struct {
	ListenAddr string        `envconfig:"LISTEN_ADDR" split_words:"true"`
	PublicURL  string        `envconfig:"PUBLIC_URL" split_words:"true"`
	RunTimeout time.Duration `envconfig:"RUN_TIMEOUT" split_words:"true" default:"10m"`
}

const maxBodyBytes = 1 << 20

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jobCfg := configx.MustNew[JobConfig]("SUMMARY_JOB")
	llmCfg := configx.MustNew[llmx.Config]("OPENROUTER")
	pgCfg := configx.MustNew[postgresx.Config]("POSTGRES")
	embCfg := configx.MustNew[openrouterx.EmbeddingConfig]("EMBEDDING")

	db, err := postgresx.Open(*pgCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open postgres")
	}
	defer db.Close()

	store, err := storex.NewPostgresStore(db)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build postgres store")
	}

	client := openrouterx.NewEmbeddingClient(*embCfg)
	embedder, err := storex.NewOpenAIEmbedder(client, embCfg.Model)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build embedder")
	}
	retriever, err := storex.NewRetriever(store, embedder, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build retriever")
	}

	modelCfg := llmCfg.OpenRouterFor(contractx.AgentSummary)
	chatModel, err := modelCfg.New(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build summary model")
	}
	summarizer, err := summary.NewSummarizer(ctx, chatModel, promptx.LoadPromptSet().Summary)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build summarizer")
	}

	job, err := summary.NewJob(store, summarizer, retriever)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build summary job")
	}

	if jobCfg.ListenAddr == "" {
		runOnce(ctx, job, jobCfg.RunTimeout)
		return
	}

	verifier := qstashx.MustNew(*configx.MustNew[qstashx.Config]("QSTASH"))
	serve(ctx, jobCfg, job, verifier)
}

func runOnce(ctx context.Context, job *summary.Job, timeout time.Duration) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := job.Run(runCtx); err != nil {
		log.Fatal().Err(err).Msg("summary job failed")
	}
}

func serve(ctx context.Context, cfg *JobConfig, job *summary.Job, verifier *qstashx.Client) {
	h := &triggerHandler{job: job, verifier: verifier, subject: cfg.PublicURL, timeout: cfg.RunTimeout}
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.ListenAddr).Msg("summary job listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("summary job server stopped")
	}
}

type jobRunner interface {
	Run(ctx context.Context) (summary.Report, error)
}

// signatureVerifier is satisfied by *qstash.Client.
type signatureVerifier interface {
	Verify(signature string, body []byte, subject string) error
}

// triggerHandler runs the job for every verified QStash delivery. Deliveries
// that arrive while a run is in progress are acknowledged and skipped.
type triggerHandler struct {
	job      jobRunner
	verifier signatureVerifier
	subject  string
	timeout  time.Duration

	running sync.Mutex
}

func (h *triggerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := h.verifier.Verify(r.Header.Get("Upstash-Signature"), body, h.subject); err != nil {
		log.Warn().Err(err).Msg("rejected summary trigger")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req tool.SummaryJobRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
	}

	if !h.running.TryLock() {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	defer h.running.Unlock()

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	report, err := h.job.Run(ctx)
	if err != nil {
		log.Error().Err(err).Str("requested_by", req.RequestedBy).Msg("summary job failed")
		http.Error(w, "summary job failed", http.StatusInternalServerError)
		return
	}
	log.Debug().Str("requested_by", req.RequestedBy).Msg("summary trigger handled")

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(report)
}
