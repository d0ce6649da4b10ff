// Package http exposes the SkillX services as a JSON API on gin. The caller
// identity comes from the X-User-ID header set by the gateway in front of
// the service.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/taosiq/p2pskillx-sub000/internal/application/account"
	"github.com/taosiq/p2pskillx-sub000/internal/application/catalog"
	"github.com/taosiq/p2pskillx-sub000/internal/application/enrollment"
	"github.com/taosiq/p2pskillx-sub000/internal/application/recommend"
	"github.com/taosiq/p2pskillx-sub000/internal/application/social"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/course"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/notification"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/post"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/shared"
	"github.com/taosiq/p2pskillx-sub000/internal/domain/user"
	"github.com/taosiq/p2pskillx-sub000/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// Debug switches gin to debug mode.
	Debug bool
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Accounts is implemented by *account.Service.
type Accounts interface {
	Register(ctx context.Context, in account.RegisterInput) (*user.User, error)
	Authenticate(ctx context.Context, email, password string) (*user.User, error)
	GetProfile(ctx context.Context, userID string) (*user.User, error)
	VerifySkill(ctx context.Context, userID string, q account.QuizResult) (*account.SkillResult, error)
}

// Catalog is implemented by *catalog.Service.
type Catalog interface {
	CreateCourse(ctx context.Context, creatorID string, in catalog.CourseInput) (*course.Course, error)
	UpdateCourse(ctx context.Context, actorID, courseID string, upd catalog.CourseUpdate) (*course.Course, error)
	DeleteCourse(ctx context.Context, actorID, courseID string) error
	GetCourse(ctx context.Context, courseID string) (*course.Course, error)
	ListByCreator(ctx context.Context, creatorID string, limit, offset int) ([]*course.Course, error)
}

// Feed is implemented by *feed.Service.
type Feed interface {
	CreatePost(ctx context.Context, authorID, content string) (*post.Post, error)
	LikePost(ctx context.Context, actorID, postID string) (*post.Post, error)
	UnlikePost(ctx context.Context, actorID, postID string) (*post.Post, error)
	Comment(ctx context.Context, actorID, postID, text string) (*post.Comment, error)
	ListByAuthor(ctx context.Context, authorID string, limit, offset int) ([]*post.Post, error)
}

// Graph is implemented by *social.Manager.
type Graph interface {
	Follow(ctx context.Context, actorID, targetID string) (*social.Result, error)
	Unfollow(ctx context.Context, actorID, targetID string) (*social.Result, error)
	RemoveFollower(ctx context.Context, actorID, followerID string) (*social.Result, error)
	Reconcile(ctx context.Context, userID string) (social.ReconcileResult, error)
	Followers(ctx context.Context, userID string) ([]string, error)
	Following(ctx context.Context, userID string) ([]string, error)
}

// Enroller is implemented by *enrollment.Manager.
type Enroller interface {
	Enroll(ctx context.Context, userID, courseID string) (*enrollment.Result, error)
}

// Recommender is implemented by *recommend.Ranker.
type Recommender interface {
	Recommend(ctx context.Context, userID string) ([]recommend.Recommendation, error)
}

// Inbox is implemented by *service.StoreNotifier.
type Inbox interface {
	ListForRecipient(ctx context.Context, recipientID string, limit int) ([]notification.Notification, error)
	MarkRead(ctx context.Context, recipientID, id string) error
}

// Dependencies contains the services behind the routes. Health may be nil.
type Dependencies struct {
	Accounts    Accounts
	Catalog     Catalog
	Feed        Feed
	Graph       Graph
	Enroller    Enroller
	Recommender Recommender
	Inbox       Inbox
	Health      *HealthChecker
	Logger      *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	engine     *gin.Engine
	httpServer *http.Server
	log        *logger.Logger

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer builds the router and the underlying http.Server.
func NewServer(config Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Health == nil {
		deps.Health = NewHealthChecker("")
	}
	if config.Debug {
		gin.SetMode(gin.DebugMode)
	} else if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config: config,
		deps:   deps,
		engine: gin.New(),
		log:    deps.Logger.With(logger.Component("http")),
	}
	s.engine.Use(s.requestID(), s.accessLog(), s.recovery())
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         config.Addr,
		Handler:      s.engine,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.handleHealth)

	v1 := s.engine.Group("/v1")
	v1.POST("/users", s.handleRegister)
	v1.POST("/sessions", s.handleLogin)
	v1.GET("/users/:id", s.handleGetProfile)
	v1.GET("/users/:id/followers", s.handleFollowers)
	v1.GET("/users/:id/following", s.handleFollowing)
	v1.GET("/users/:id/courses", s.handleUserCourses)
	v1.GET("/users/:id/posts", s.handleUserPosts)
	v1.GET("/courses/:id", s.handleGetCourse)

	authed := v1.Group("")
	authed.Use(requireActor())
	authed.POST("/users/:id/follow", s.handleFollow)
	authed.DELETE("/users/:id/follow", s.handleUnfollow)
	authed.POST("/users/:id/reconcile", s.handleReconcile)

	authed.POST("/courses", s.handleCreateCourse)
	authed.PATCH("/courses/:id", s.handleUpdateCourse)
	authed.DELETE("/courses/:id", s.handleDeleteCourse)
	authed.POST("/courses/:id/enroll", s.handleEnroll)

	authed.POST("/posts", s.handleCreatePost)
	authed.POST("/posts/:id/like", s.handleLikePost)
	authed.DELETE("/posts/:id/like", s.handleUnlikePost)
	authed.POST("/posts/:id/comments", s.handleComment)

	me := authed.Group("/me")
	me.DELETE("/followers/:id", s.handleRemoveFollower)
	me.POST("/skills/verify", s.handleVerifySkill)
	me.GET("/recommendations", s.handleRecommendations)
	me.GET("/notifications", s.handleNotifications)
	me.POST("/notifications/:id/read", s.handleMarkRead)
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

const (
	requestIDKey = "request_id"
	actorKey     = "actor_id"

	// HeaderUserID carries the authenticated user id.
	HeaderUserID    = "X-User-ID"
	headerRequestID = "X-Request-ID"
)

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			logger.String("request_id", c.GetString(requestIDKey)),
			logger.String("method", c.Request.Method),
			logger.String("path", c.Request.URL.Path),
			logger.Int("status", c.Writer.Status()),
			logger.Latency(time.Since(start)),
		)
	}
}

func (s *Server) recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		s.log.Error("panic recovered",
			logger.String("request_id", c.GetString(requestIDKey)),
			logger.String("path", c.Request.URL.Path),
			logger.Any("panic", recovered),
		)
		respondError(c, http.StatusInternalServerError, &APIError{Code: "internal", Message: "internal server error"})
	})
}

// requireActor rejects requests without a caller identity and stores it on
// both the gin and the request context.
func requireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderUserID)
		if id == "" {
			respondError(c, http.StatusUnauthorized, &APIError{Code: "unauthorized", Message: HeaderUserID + " header is required"})
			return
		}
		c.Set(actorKey, id)
		c.Request = c.Request.WithContext(shared.WithActor(c.Request.Context(), id))
		c.Next()
	}
}

func actor(c *gin.Context) string {
	return c.GetString(actorKey)
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.log.Info("starting HTTP server", logger.String("address", s.config.Addr))

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.log.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Uptime returns how long the server has been serving.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}
