package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/gorm"

	"github.com/projectdocs/docstore/pkg/accounts"
	"github.com/projectdocs/docstore/pkg/audit"
	"github.com/projectdocs/docstore/pkg/authz"
	"github.com/projectdocs/docstore/pkg/docstore"
	"github.com/projectdocs/docstore/pkg/ha"
)

// Server wires the stores behind the HTTP API.
type Server struct {
	router          chi.Router
	db              *gorm.DB
	config          *Config
	logger          *slog.Logger
	grants          *authz.PermissionStore
	authorizer      authz.Authorizer
	users           *accounts.UserStore
	tokens          *accounts.TokenIssuer
	schemas         *docstore.SchemaCompiler
	docs            *docstore.DocumentStore
	projects        *docstore.ProjectStore
	imports         *docstore.ImportStore
	gate            *docstore.Gate
	auditStore      *audit.Store
	migrationLocker ha.MigrationLocker
	startedAt       time.Time
	initialized     bool
	mu              sync.RWMutex
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAuthorizer replaces the grant-table resolver.
func WithAuthorizer(a authz.Authorizer) ServerOption {
	return func(s *Server) {
		s.authorizer = a
	}
}

// WithTokenIssuer sets the issuer used by /token and by the identity
// middleware in jwt mode.
func WithTokenIssuer(issuer *accounts.TokenIssuer) ServerOption {
	return func(s *Server) {
		s.tokens = issuer
	}
}

// WithMigrationLocker sets the MigrationLocker used to serialize
// AutoMigrate across replicas. Without one migrations run unguarded.
func WithMigrationLocker(locker ha.MigrationLocker) ServerOption {
	return func(s *Server) {
		s.migrationLocker = locker
	}
}

// NewServer creates a Server over db. A nil cfg uses DefaultConfig.
func NewServer(db *gorm.DB, cfg *Config, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}

	grants := authz.NewPermissionStore(db)
	schemas := docstore.NewSchemaCompiler(cfg.CacheConfig())
	docs := docstore.NewDocumentStore(db, schemas, grants, logger.With("component", "documents"))
	users := accounts.NewUserStore(db, grants, cfg.BcryptCost, logger.With("component", "accounts"))

	s := &Server{
		db:         db,
		config:     cfg,
		logger:     logger,
		grants:     grants,
		authorizer: authz.NewResolver(grants),
		users:      users,
		schemas:    schemas,
		docs:       docs,
		projects:   docstore.NewProjectStore(db, docs, users, logger.With("component", "projects")),
		imports:    docstore.NewImportStore(db, docs.Engine(), logger.With("component", "imports")),
		gate:       docstore.NewGate(db, logger.With("component", "gate")),
		auditStore: audit.NewStore(db),
		startedAt:  time.Now(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Init creates or updates every table, under the migration lock when one
// is configured.
func (s *Server) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	migrateFn := func() error {
		steps := []struct {
			name string
			fn   func() error
		}{
			{"grants", s.grants.AutoMigrate},
			{"users", s.users.AutoMigrate},
			{"documents", s.docs.AutoMigrate},
			{"audit", s.auditStore.AutoMigrate},
		}
		for _, step := range steps {
			if err := step.fn(); err != nil {
				return fmt.Errorf("migrate %s: %w", step.name, err)
			}
		}
		return nil
	}

	var err error
	if s.migrationLocker != nil {
		s.logger.Info("running migrations with lock")
		err = s.migrationLocker.WithLock(ctx, migrateFn)
	} else {
		err = migrateFn()
	}
	if err != nil {
		return err
	}

	s.initialized = true
	return nil
}

// MountRoutes creates the HTTP router.
func (s *Server) MountRoutes() chi.Router {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mode, err := authz.ParseAuthMode(s.config.AuthMode)
	if err != nil {
		s.logger.Warn("invalid auth mode, using header identity", "mode", s.config.AuthMode, "error", err)
		mode = authz.AuthModeHeader
	}
	var verifier authz.TokenVerifier
	if s.tokens != nil {
		verifier = s.tokens
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", authz.RemoteUserHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(authz.IdentityMiddleware(mode, verifier, s.logger))

	auditCfg := s.config.AuditConfig()
	if auditCfg.Enabled {
		r.Use(audit.Middleware(s.auditStore, auditCfg, s.logger))
		s.logger.Info("audit middleware enabled",
			"logDenied", auditCfg.LogDenied,
			"retention", auditCfg.Retention.String())
	}

	r.Get("/healthz", s.healthHandler)
	r.Get("/livez", s.healthHandler)
	r.Get("/readyz", s.readyHandler)

	r.Post("/register", s.registerHandler)
	r.Post("/token", s.tokenHandler)

	r.Group(func(r chi.Router) {
		r.Use(authz.RequireIdentity())

		r.Get("/me", s.meHandler)

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", s.listProjectsHandler)
			r.Post("/", s.createProjectHandler)

			r.Route("/{project}", func(r chi.Router) {
				r.Get("/", s.getProjectHandler)
				r.Delete("/", s.deleteProjectHandler)

				r.Post("/permissions", s.grantProjectHandler)
				r.Delete("/permissions", s.revokeProjectHandler)
				r.Get("/permissions/{user}", s.listProjectPermissionsHandler)

				r.Get("/processes/", s.listProcessesHandler)
				r.Put("/processes/{process}", s.putProcessHandler)
				r.Get("/processes/{process}", s.getProcessHandler)
				r.Delete("/processes/{process}", s.deleteProcessHandler)

				r.Post("/computed-fields:recompute", s.recomputeHandler)

				r.Get("/imports/", s.listImportsHandler)
				r.Put("/imports/{import}", s.putImportHandler)
				r.Get("/imports/{import}", s.getImportHandler)
				r.Delete("/imports/{import}", s.deleteImportHandler)

				r.Route("/documents", func(r chi.Router) {
					r.Get("/", s.listDocumentsHandler)
					r.Post("/", s.createDocumentHandler)

					r.Route("/{document}", func(r chi.Router) {
						r.Get("/", s.readDocumentHandler)
						r.Put("/", s.writeDocumentHandler)
						r.Patch("/", s.mergeDocumentHandler)
						r.Delete("/", s.deleteDocumentHandler)

						r.Post("/permissions", s.grantDocumentHandler)
						r.Delete("/permissions", s.revokeDocumentHandler)
						r.Get("/permissions/{user}", s.listDocumentPermissionsHandler)

						r.Get("/revisions/{revision}", s.revisionHandler)

						r.Post("/last/*", s.writeAtPathHandler)
						r.Get("/last/*", s.partialReadHandler)
						r.Get("/{field}", s.partialReadHandler)
						r.Get("/{field}/*", s.partialReadHandler)
					})
				})
			})
		})

		r.Route("/users/{user}/permissions", func(r chi.Router) {
			r.Use(authz.RequireSystem(s.authorizer, authz.ActionEditPermissions))
			r.Get("/", s.listSystemPermissionsHandler)
			r.Post("/", s.grantSystemHandler)
			r.Delete("/", s.revokeSystemHandler)
		})

		r.With(authz.RequireSystem(s.authorizer, authz.ActionView)).
			Get("/audit/events", audit.ListEventsHandler(s.auditStore))
	})

	s.router = r
	return r
}

// Start launches the background loops. They stop when ctx is cancelled.
func (s *Server) Start(ctx context.Context) {
	auditCfg := s.config.AuditConfig()
	if auditCfg.Enabled {
		go audit.NewSweeper(s.auditStore, auditCfg, s.logger).Run(ctx)
	}
}

// Router returns the router built by MountRoutes.
func (s *Server) Router() chi.Router {
	return s.router
}

// healthHandler returns the liveness status of the server.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// readyHandler reports whether migrations ran and the database answers.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	initialized := s.initialized
	s.mu.RUnlock()

	allReady := initialized
	dbStatus := map[string]string{"status": "up"}
	if s.db == nil {
		dbStatus["status"] = "not_configured"
		allReady = false
	} else if sqlDB, err := s.db.DB(); err != nil {
		dbStatus["status"] = "down"
		dbStatus["error"] = err.Error()
		allReady = false
	} else if err := sqlDB.PingContext(r.Context()); err != nil {
		dbStatus["status"] = "down"
		dbStatus["error"] = err.Error()
		allReady = false
	}

	migrations := map[string]string{"status": "complete"}
	if !initialized {
		migrations["status"] = "pending"
	}

	status, code := "ready", http.StatusOK
	if !allReady {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"components": map[string]any{
			"database":     dbStatus,
			"migrations":   migrations,
			"schema_cache": s.schemas.CacheStats(),
		},
	})
}
