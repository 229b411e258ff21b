// Package devserver is an in-memory backend speaking the same REST contract
// as the production service, for local development and client tests.
package devserver

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"geonli-desk/internal/auth"
	"geonli-desk/internal/normalize"
)

type Options struct {
	Logger *zap.Logger
	// Token, when set, must arrive as the jwt cookie or a bearer header.
	Token string
	// ShareBaseURL prefixes generated share links.
	ShareBaseURL string
	// AIDelay is how long an evaluation takes.
	AIDelay time.Duration
	Now     func() time.Time
	NewID   func() string
}

type sessionDoc struct {
	normalize.SessionRecord
	shareToken string
}

type Server struct {
	opts Options
	log  *zap.Logger

	mu       sync.Mutex
	sessions map[string]*sessionDoc
	messages map[string]normalize.MessageRecord
	projects map[string]normalize.ProjectRecord
}

func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewID == nil {
		opts.NewID = objectID
	}
	if opts.ShareBaseURL == "" {
		opts.ShareBaseURL = "http://localhost/shared"
	}
	return &Server{
		opts:     opts,
		log:      opts.Logger.Named("devserver"),
		sessions: make(map[string]*sessionDoc),
		messages: make(map[string]normalize.MessageRecord),
		projects: make(map[string]normalize.ProjectRecord),
	}
}

// objectID mimics the 24 hex digit identifiers of the production store.
func objectID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	api := r.Group("/")
	api.Use(s.authRequired())

	api.GET("/sessions", s.listSessions)
	api.POST("/sessions", s.createSession)
	api.PUT("/sessions/:id", s.updateSession)
	api.DELETE("/sessions/:id", s.deleteSession)
	api.POST("/sessions/:id/share", s.shareSession)

	api.POST("/messages", s.createMessage)
	api.POST("/messages/ai-response", s.aiResponse)
	api.GET("/messages/:id", s.listMessages)
	api.DELETE("/messages/:id", s.deleteMessage)

	api.GET("/projects", s.listProjects)
	api.POST("/projects", s.createProject)
	api.PUT("/projects/:id", s.updateProject)
	api.DELETE("/projects/:id", s.deleteProject)
	api.GET("/projects/:id/sessions", s.projectSessions)

	return r
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}

func (s *Server) authRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.opts.Token == "" {
			c.Next()
			return
		}
		got := ""
		if ck, err := c.Cookie(auth.CookieName); err == nil {
			got = ck
		} else if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
			got = strings.TrimPrefix(h, "Bearer ")
		}
		if got != s.opts.Token {
			fail(c, http.StatusUnauthorized, "Not authenticated")
			return
		}
		c.Next()
	}
}

func fail(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}

func (s *Server) now() normalize.Timestamp {
	return normalize.NewTimestamp(s.opts.Now())
}

// Seed inserts a session with the given messages, oldest first. It returns
// the session id.
func (s *Server) Seed(name string, texts ...string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.newSessionLocked(name, nil)
	for i, text := range texts {
		sender := "user"
		if i%2 == 1 {
			sender = "ai"
		}
		s.newMessageLocked(doc.LegacyID, text, sender, nil)
	}
	return doc.LegacyID
}

func (s *Server) newSessionLocked(name string, projectID *string) *sessionDoc {
	now := s.now()
	doc := &sessionDoc{SessionRecord: normalize.SessionRecord{
		LegacyID:  s.opts.NewID(),
		UserID:    "dev",
		Name:      name,
		ProjectID: projectID,
		CreatedAt: now,
		UpdatedAt: now,
	}}
	s.sessions[doc.LegacyID] = doc
	return doc
}

func (s *Server) newMessageLocked(sessionID, text, sender string, image *string) normalize.MessageRecord {
	now := s.now()
	msg := normalize.MessageRecord{
		LegacyID:  s.opts.NewID(),
		SessionID: sessionID,
		UserID:    "dev",
		Text:      text,
		Sender:    sender,
		ImageData: image,
		Timestamp: now,
		CreatedAt: now,
	}
	s.messages[msg.LegacyID] = msg
	if doc := s.sessions[sessionID]; doc != nil {
		doc.UpdatedAt = now
	}
	return msg
}

// sortedSessions returns copies, most recently updated first.
func sortedSessions(docs []*sessionDoc) []normalize.SessionRecord {
	out := make([]normalize.SessionRecord, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.SessionRecord)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt.Time) {
			return out[i].LegacyID > out[j].LegacyID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt.Time)
	})
	return out
}

func (s *Server) shareLink() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s/%s", strings.TrimRight(s.opts.ShareBaseURL, "/"), s.opts.NewID())
	}
	return fmt.Sprintf("%s/%s", strings.TrimRight(s.opts.ShareBaseURL, "/"), base64.RawURLEncoding.EncodeToString(buf))
}
