// graphmemoryd runs the graph memory service: it loads configuration,
// opens the graph/vector/object store connections, builds the ingestion,
// query, backup, storage-check, and token-manager services, wires them
// into the tool dispatcher, and serves both the MCP and REST transports
// on one port. Grounded on the teacher's cmd/mcp-manifold/main.go signal
// handling and graceful shutdown, generalized from a single stdio server
// to an HTTP listener carrying two transports.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"graphmemory/internal/auth"
	"graphmemory/internal/backup"
	"graphmemory/internal/chunker"
	"graphmemory/internal/config"
	"graphmemory/internal/dispatcher"
	"graphmemory/internal/embedder"
	"graphmemory/internal/graphstore"
	"graphmemory/internal/ingest"
	"graphmemory/internal/llmclient"
	"graphmemory/internal/lock"
	"graphmemory/internal/objectstore"
	"graphmemory/internal/observability"
	"graphmemory/internal/ontology"
	"graphmemory/internal/query"
	"graphmemory/internal/search"
	"graphmemory/internal/storagecheck"
	"graphmemory/internal/tokenmanager"
	"graphmemory/internal/transport/httpapi"
	"graphmemory/internal/transport/mcpserver"
	"graphmemory/internal/vectorstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("graphmemoryd: load config")
	}
	flag.IntVar(&cfg.Port, "port", cfg.Port, "HTTP listen port (overrides PORT)")
	flag.Parse()
	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.GraphDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("graphmemoryd: connect to graph store")
	}
	defer pool.Close()
	graphStore := graphstore.New(pool)
	if err := graphStore.Bootstrap(ctx); err != nil {
		log.Fatal().Err(err).Msg("graphmemoryd: bootstrap graph schema")
	}

	vectorStore, err := vectorstore.New(vectorstore.Config{Addr: cfg.QdrantAddr, APIKey: cfg.QdrantAPIKey})
	if err != nil {
		log.Fatal().Err(err).Msg("graphmemoryd: connect to vector store")
	}
	defer vectorStore.Close()

	objectStore, err := objectstore.NewS3Store(ctx, objectstore.S3Config{
		Endpoint:              cfg.S3Endpoint,
		Region:                cfg.S3Region,
		Bucket:                cfg.S3Bucket,
		AccessKey:             cfg.S3AccessKey,
		SecretKey:             cfg.S3SecretKey,
		UsePathStyle:          cfg.S3UsePathStyle,
		TLSInsecureSkipVerify: cfg.S3Insecure,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("graphmemoryd: connect to object store")
	}

	lockMgr, err := lock.New(cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		log.Fatal().Err(err).Msg("graphmemoryd: connect to redis lock manager")
	}
	defer lockMgr.Close()

	ontologyRegistry, err := ontology.LoadDir(cfg.OntologyDir)
	if err != nil {
		log.Fatal().Err(err).Msg("graphmemoryd: load ontologies")
	}

	embed := embedder.New(cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.LLMEmbedModel, cfg.EmbedDimension)

	llm, err := buildLLMClient(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("graphmemoryd: build llm client")
	}

	metrics, metricsHandler, err := observability.NewMetrics(cfg.ServiceName)
	if err != nil {
		log.Fatal().Err(err).Msg("graphmemoryd: init metrics")
	}
	defer metrics.Shutdown(context.Background())

	stopwords := searchStopwords()
	searchSvc := search.New(graphStore, stopwords)

	ingestSvc := &ingest.Service{
		Graph:     graphStore,
		Vectors:   vectorStore,
		Objects:   objectStore,
		Embedder:  embed,
		LLM:       llm,
		ChatModel: cfg.LLMChatModel,
		Ontology:  ontologyRegistry,
		Limits: ingest.Limits{
			MaxDocumentSizeMB:   cfg.MaxDocumentSizeMB,
			MaxTextLength:       cfg.MaxTextLength,
			ExtractionChunkSize: cfg.ExtractionChunkSize,
			ExtractionTimeout:   cfg.ExtractionTimeout,
		},
		Metrics: metrics,
		ChunkOptions: chunker.Options{
			TargetTokens:  cfg.ChunkSize,
			OverlapTokens: cfg.ChunkOverlap,
		},
	}

	querySvc := &query.Service{
		Graph:          graphStore,
		Vectors:        vectorStore,
		Embedder:       embed,
		LLM:            llm,
		ChatModel:      cfg.LLMChatModel,
		Search:         searchSvc,
		Metrics:        metrics,
		ScoreThreshold: cfg.RAGScoreThreshold,
		ChunkLimit:     cfg.RAGChunkLimit,
	}

	backupSvc := &backup.Service{
		Graph:     graphStore,
		Vectors:   vectorStore,
		Objects:   objectStore,
		Retention: cfg.BackupRetentionCount,
	}

	storageSvc := &storagecheck.Service{Graph: graphStore, Objects: objectStore}
	tokenSvc := &tokenmanager.Service{Graph: graphStore}

	if err := tokenSvc.BootstrapAdmin(ctx, cfg.BootstrapAdminKey); err != nil {
		log.Fatal().Err(err).Msg("graphmemoryd: bootstrap admin token")
	}

	d := dispatcher.New()
	d.Graph = graphStore
	d.Vectors = vectorStore
	d.Objects = objectStore
	d.Embedder = embed
	d.LLM = llm
	d.Ontology = ontologyRegistry
	d.Ingest = ingestSvc
	d.Query = querySvc
	d.Search = searchSvc
	d.Backup = backupSvc
	d.StorageCheck = storageSvc
	d.Tokens = tokenSvc
	d.Locks = lockMgr
	d.ChatModel = cfg.LLMChatModel

	authenticator := &auth.Authenticator{Graph: graphStore}

	mcpSrv := &mcpserver.Server{
		Dispatcher:     d,
		Auth:           authenticator,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
	}
	restSrv := &httpapi.Server{Dispatcher: d, Auth: authenticator, Metrics: metricsHandler}

	mux := http.NewServeMux()
	mux.Handle("/", restSrv.Handler())
	mux.Handle("/mcp/", http.StripPrefix("/mcp", mcpSrv.Handler()))

	srv := &http.Server{
		Addr:    formatAddr(cfg.Port),
		Handler: mux,
	}

	go func() {
		log.Info().Int("port", cfg.Port).Msg("graphmemoryd: listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("graphmemoryd: serve")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("graphmemoryd: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graphmemoryd: shutdown did not complete cleanly")
	}
	graphStore.Close()
}

func buildLLMClient(cfg *config.Config) (llmclient.Client, error) {
	switch cfg.LLMProvider {
	case "anthropic":
		return llmclient.NewAnthropic(cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.LLMChatModel), nil
	default:
		return llmclient.NewOpenAI(cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.LLMChatModel), nil
	}
}

func searchStopwords() *search.Stopwords {
	if path := os.Getenv("GRAPHMEMORY_STOPWORDS_PATH"); path != "" {
		sw, err := search.LoadStopwords(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("graphmemoryd: failed to load stopwords file, using default")
			return search.NewStopwords()
		}
		return sw
	}
	return search.NewStopwords()
}

func formatAddr(port int) string {
	return fmt.Sprintf(":%d", port)
}
