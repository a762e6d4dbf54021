// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package governance assembles the governance service: project registry,
// Sacred Plan store, two-layer approval, drift engine, drift monitor and
// the HTTP API in front of them.
//
// # Usage
//
//	cfg, err := config.Load("governance.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := governance.New(cfg, governance.Options{ConfigPath: "governance.yaml"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := svc.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Extension points (authentication, authorization, audit forwarding) are
// passed through Options.Extensions exactly as the other Aleutian services
// accept them.
package governance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/AleutianAI/AleutianGovernance/pkg/extensions"
	"github.com/AleutianAI/AleutianGovernance/pkg/logging"
	"github.com/AleutianAI/AleutianGovernance/services/governance/activity"
	"github.com/AleutianAI/AleutianGovernance/services/governance/approval"
	"github.com/AleutianAI/AleutianGovernance/services/governance/config"
	"github.com/AleutianAI/AleutianGovernance/services/governance/drift"
	"github.com/AleutianAI/AleutianGovernance/services/governance/embedding"
	"github.com/AleutianAI/AleutianGovernance/services/governance/middleware"
	"github.com/AleutianAI/AleutianGovernance/services/governance/monitor"
	"github.com/AleutianAI/AleutianGovernance/services/governance/observability"
	"github.com/AleutianAI/AleutianGovernance/services/governance/plan"
	"github.com/AleutianAI/AleutianGovernance/services/governance/project"
	"github.com/AleutianAI/AleutianGovernance/services/governance/routes"
	"github.com/AleutianAI/AleutianGovernance/services/governance/storage"
	"github.com/AleutianAI/AleutianGovernance/services/governance/vectorindex"
)

// ServiceName identifies the service in traces and logs.
const ServiceName = "aleutian-governance"

// hashingDimensions is the vector size of the offline embedding backend.
const hashingDimensions = 384

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// Options carries what the YAML config cannot.
type Options struct {
	// Extensions overrides auth, authz and audit forwarding. When
	// AuthProvider is nil and the configured token env var is set, a
	// static bearer token provider is used.
	Extensions *extensions.ServiceOptions
	// ConfigPath enables hot reload of drift thresholds and the monitor
	// interval. Empty disables the watcher.
	ConfigPath string
	// Logger overrides the logger built from cfg.Logging.
	Logger *logging.Logger
	// Embedder overrides the configured embedding backend.
	Embedder embedding.Provider
	// Secrets overrides the environment secret store.
	Secrets approval.SecretStore
}

// Service is a fully wired governance server.
//
// # Thread Safety
//
// Run is called once. Every component it holds is safe for concurrent use.
type Service struct {
	cfg    config.Config
	opts   extensions.ServiceOptions
	logger *logging.Logger
	log    *slog.Logger

	registry *prometheus.Registry
	metrics  *observability.Metrics

	db       *storage.DB
	projects *project.Registry
	router   *project.Router
	embedder embedding.Provider
	searcher *project.Searcher
	plans    *plan.Service
	audit    *approval.AuditLog
	workflow *approval.Workflow
	archiver *approval.GCSArchiver
	feed     *activity.Feed
	engine   *drift.Engine
	influx   *drift.InfluxRecorder
	hub      *monitor.Hub
	natsConn *nats.Conn
	monitor  *monitor.Monitor
	watcher  *config.Watcher
	handler  *gin.Engine

	tracerCleanup func(context.Context)
	closers       []func()
}

// New builds every component described by cfg. On error, whatever was
// already opened is closed again.
func New(cfg config.Config, o Options) (*Service, error) {
	s := &Service{cfg: cfg}
	if err := s.init(o); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (s *Service) init(o Options) (err error) {
	cfg := s.cfg
	s.logger = o.Logger
	if s.logger == nil {
		level, lerr := logging.ParseLevel(cfg.Logging.Level)
		if lerr != nil {
			return lerr
		}
		s.logger = logging.New(logging.Config{
			Level:   level,
			LogDir:  cfg.Logging.Dir,
			Service: "governance",
			JSON:    cfg.Logging.JSON,
		})
		s.closers = append(s.closers, func() { _ = s.logger.Close() })
	}
	s.log = s.logger.Slog()

	if o.Extensions != nil {
		s.opts = *o.Extensions
	} else {
		s.opts = extensions.DefaultOptions()
	}
	if o.Extensions == nil || o.Extensions.AuthProvider == nil {
		if token := envOrEmpty(cfg.Server.APITokenEnv); token != "" {
			s.opts.AuthProvider = extensions.NewStaticTokenProvider(token, "api-client",
				extensions.RoleAdmin, extensions.RoleApprover)
			s.opts.AuthzProvider = &extensions.RoleAuthzProvider{Rules: middleware.DefaultRules()}
		}
	}
	s.opts = s.opts.Normalize()

	ctx := context.Background()
	s.tracerCleanup, err = observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName:  ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		Stdout:       cfg.Tracing.Stdout,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s.metrics = observability.NewMetrics(s.registry)

	if err = s.initStorage(); err != nil {
		return err
	}
	if err = s.initProjects(ctx, o.Embedder); err != nil {
		return err
	}
	if err = s.initApproval(ctx, o.Secrets); err != nil {
		return err
	}
	if err = s.initDrift(); err != nil {
		return err
	}
	if err = s.initMonitor(); err != nil {
		return err
	}
	if o.ConfigPath != "" {
		s.watcher, err = config.NewWatcher(o.ConfigPath, s.reload, s.log)
		if err != nil {
			return err
		}
	}

	s.initHTTP()
	return nil
}

func envOrEmpty(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}

func (s *Service) initStorage() error {
	scfg := storage.DefaultConfig(s.cfg.Storage.Path)
	scfg.InMemory = s.cfg.Storage.InMemory
	scfg.SyncWrites = s.cfg.Storage.SyncWrites
	scfg.GCInterval = s.cfg.Storage.GCInterval
	scfg.Logger = s.log
	db, err := storage.Open(scfg)
	if err != nil {
		return fmt.Errorf("open plan store: %w", err)
	}
	s.db = db
	s.closers = append(s.closers, func() {
		if err := db.Close(); err != nil {
			s.log.Error("close plan store", "error", err)
		}
	})
	return nil
}

// newEmbedder builds the configured embedding backend.
func (s *Service) newEmbedder() (embedding.Provider, error) {
	var p embedding.Provider
	switch s.cfg.Embedding.Backend {
	case "openai":
		op, err := embedding.NewOpenAIProvider(envOrEmpty(s.cfg.Embedding.APIKeyEnv), s.cfg.Embedding.URL, s.cfg.Embedding.Model)
		if err != nil {
			return nil, err
		}
		p = op
	case "hashing":
		p = embedding.NewHashingProvider(hashingDimensions)
	default:
		p = embedding.NewHTTPProvider(s.cfg.Embedding.URL, nil)
	}
	return p, nil
}

func (s *Service) initProjects(ctx context.Context, embedder embedding.Provider) error {
	s.projects = project.NewRegistry(s.db)

	var index vectorindex.Index = vectorindex.NewMemoryIndex()
	if s.cfg.Weaviate.URL != "" {
		client, err := vectorindex.NewWeaviateClient(s.cfg.Weaviate.URL)
		if err != nil {
			return err
		}
		index = vectorindex.NewWeaviateIndex(client, s.cfg.Weaviate.ClassName, s.log)
		s.log.Info("using weaviate vector index", "url", s.cfg.Weaviate.URL)
	}
	s.router = project.NewRouter(s.projects, index, project.RouterConfig{
		IndexTimeout: s.cfg.Timeouts.Index,
		Logger:       s.log,
		Metrics:      s.metrics,
	})
	existing, err := s.projects.ListProjects(ctx)
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}
	s.router.Initialize(ctx, existing)

	if embedder == nil {
		if embedder, err = s.newEmbedder(); err != nil {
			return err
		}
	}
	s.embedder = embedding.WithTimeout(embedder, s.cfg.Timeouts.Embedding)
	s.searcher = project.NewSearcher(s.router, s.embedder)

	s.plans = plan.NewService(plan.Config{
		DB:       s.db,
		Projects: s.projects,
		Embedder: s.embedder,
		Resolver: s.router,
		Metrics:  s.metrics,
		Logger:   s.log,
	})
	s.feed = activity.NewFeed(s.db, s.projects, 0)
	return nil
}

func (s *Service) initApproval(ctx context.Context, secrets approval.SecretStore) error {
	audit, err := approval.OpenAuditLog(s.cfg.Approval.AuditLogPath, s.opts.AuditLogger, s.log)
	if err != nil {
		return err
	}
	s.audit = audit
	s.closers = append(s.closers, func() { _ = audit.Close() })

	if secrets == nil {
		secrets = approval.NewEnvSecretStore()
	}
	s.workflow, err = approval.NewWorkflow(approval.Config{
		Plans:             s.plans,
		Secrets:           secrets,
		SecretName:        s.cfg.Approval.SecretName,
		Audit:             audit,
		ChallengeTTL:      s.cfg.Approval.ChallengeTTL,
		AttemptsPerMinute: s.cfg.Approval.AttemptsPerMinute,
		Metrics:           s.metrics,
		Logger:            s.log,
	})
	if err != nil {
		return err
	}
	s.plans.OnTransition(s.workflow.HandleTransition)

	if ac := s.cfg.Approval.Archive; ac.Bucket != "" {
		s.archiver, err = approval.NewGCSArchiver(ctx, ac.Bucket, ac.Prefix, ac.CredentialsFile)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, func() { _ = s.archiver.Close() })
	}
	return nil
}

func (s *Service) initDrift() error {
	var recorder drift.Recorder
	if ic := s.cfg.Influx; ic.URL != "" {
		s.influx = drift.NewInfluxRecorder(ic.URL, envOrEmpty(ic.TokenEnv), ic.Org, ic.Bucket)
		s.closers = append(s.closers, s.influx.Close)
		recorder = s.influx
	}
	engine, err := drift.NewEngine(drift.Config{
		Plans:           s.plans,
		Activity:        s.feed,
		Embedder:        s.embedder,
		Classifier:      drift.NewLexicalClassifier(drift.DefaultCatalog()),
		Thresholds:      s.cfg.Drift.Thresholds,
		ActivityWindow:  s.cfg.Drift.ActivityWindow,
		ActivityTimeout: s.cfg.Timeouts.Activity,
		HistorySize:     s.cfg.Drift.HistorySize,
		Recorder:        recorder,
		Metrics:         s.metrics,
		Logger:          s.log,
	})
	if err != nil {
		return err
	}
	s.engine = engine
	return nil
}

func (s *Service) initMonitor() error {
	s.hub = monitor.NewHub(s.log)
	s.closers = append(s.closers, s.hub.Close)

	sinks := monitor.MultiSink{s.hub}
	if s.cfg.Alerts.NATSURL != "" {
		conn, err := monitor.ConnectNATS(s.cfg.Alerts.NATSURL, s.log)
		if err != nil {
			return err
		}
		s.natsConn = conn
		s.closers = append(s.closers, func() { _ = conn.Drain() })
		sinks = append(sinks, monitor.NewNATSSink(conn, s.cfg.Alerts.SubjectPrefix))
	}
	s.monitor = monitor.New(monitor.Config{
		Analyzer:      s.engine,
		Projects:      s.plans,
		Sink:          sinks,
		Interval:      s.cfg.Monitor.Interval,
		MaxConcurrent: s.cfg.Monitor.MaxConcurrent,
		Metrics:       s.metrics,
		Logger:        s.log,
	})
	return nil
}

func (s *Service) initHTTP() {
	if s.cfg.Server.GinMode != "" {
		gin.SetMode(s.cfg.Server.GinMode)
	}
	s.handler = gin.New()
	s.handler.Use(gin.Recovery())
	routes.SetupRoutes(s.handler, routes.Deps{
		Registry:    s.projects,
		Initializer: s.router,
		Remover:     s,
		Searcher:    s.searcher,
		Plans:       s.plans,
		Approval:    s.workflow,
		Feed:        s.feed,
		Engine:      s.engine,
		Hub:         s.hub,
		Gatherer:    s.registry,
		ServiceName: ServiceName,
	}, s.opts)
}

// reload applies the hot-reloadable parts of a new config.
func (s *Service) reload(cfg config.Config) {
	if err := s.engine.SetThresholds(cfg.Drift.Thresholds); err != nil {
		s.log.Warn("drift thresholds not reloaded", "error", err)
	} else {
		s.log.Info("drift thresholds reloaded",
			"aligned", cfg.Drift.Thresholds.Aligned,
			"minor", cfg.Drift.Thresholds.Minor,
			"moderate", cfg.Drift.Thresholds.Moderate)
	}
	s.monitor.SetInterval(cfg.Monitor.Interval)
}

// Router returns the HTTP handler for tests.
func (s *Service) Router() *gin.Engine { return s.handler }

// Monitor returns the drift monitor.
func (s *Service) Monitor() *monitor.Monitor { return s.monitor }

// DeleteProject removes a project and everything it owns. The monitor and
// live alert streams are stopped first so no analysis of the project can
// start while its data is being removed.
func (s *Service) DeleteProject(ctx context.Context, projectID string) error {
	if _, err := s.projects.GetProject(ctx, projectID); err != nil {
		return err
	}
	s.monitor.CancelProject(projectID)
	s.hub.DisconnectProject(projectID)

	plans, err := s.plans.ListPlans(ctx, projectID)
	if err != nil {
		return err
	}
	for _, p := range plans {
		s.workflow.Forget(p.ID)
	}
	if err := s.plans.DeleteProjectPlans(ctx, projectID); err != nil {
		return err
	}
	if err := s.feed.Purge(ctx, projectID); err != nil {
		return err
	}
	if err := s.router.DropProject(ctx, projectID); err != nil {
		s.log.Warn("project partition not dropped", "project_id", projectID, "error", err)
	}
	s.engine.Forget(projectID)
	s.metrics.ForgetProject(projectID)
	if err := s.projects.DeleteProject(ctx, projectID); err != nil {
		return err
	}
	s.log.Info("project deleted", "project_id", projectID)
	return nil
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully and
// releases every component.
func (s *Service) Run(ctx context.Context) error {
	defer s.close()

	if s.cfg.Monitor.Enabled {
		if err := s.monitor.Start(ctx); err != nil {
			return err
		}
	}
	if s.watcher != nil {
		if err := s.watcher.Start(ctx); err != nil {
			s.log.Warn("config hot reload disabled", "error", err)
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("governance server listening", "port", s.cfg.Server.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.log.Info("governance server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.monitor.Stop()
	s.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if s.archiver != nil {
		if obj, err := s.archiver.Archive(shutdownCtx, s.audit.Path()); err != nil {
			s.log.Error("audit log archive failed", "error", err)
		} else {
			s.log.Info("audit log archived", "object", obj)
		}
	}
	return nil
}

// Close releases every component without serving. Used when Run is never
// called.
func (s *Service) Close() { s.close() }

func (s *Service) close() {
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.monitor != nil {
		s.monitor.Stop()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
		s.tracerCleanup = nil
	}
}
