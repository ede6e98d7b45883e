// Package mockapi is a small in-memory backend speaking the same protocol as
// the real one: bearer-protected item routes and a rotating refresh endpoint.
package mockapi

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lgc202/apikit/credential"
)

type Item struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type Server struct {
	mu      sync.Mutex
	access  string
	refresh string
	seq     int
	items   map[int]Item
	nextID  int

	refreshDelay time.Duration
	refreshCalls atomic.Int64

	engine *gin.Engine
}

type Option func(*Server)

// WithRefreshDelay slows the refresh endpoint down, which widens the window
// for concurrent 401s.
func WithRefreshDelay(d time.Duration) Option {
	return func(s *Server) { s.refreshDelay = d }
}

func WithItems(items ...Item) Option {
	return func(s *Server) {
		for _, it := range items {
			s.items[it.ID] = it
			s.nextID = max(s.nextID, it.ID)
		}
	}
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}

func New(opts ...Option) *Server {
	s := &Server{items: make(map[int]Item)}
	for _, opt := range opts {
		opt(s)
	}
	s.rotate()

	r := gin.New()
	r.Use(gin.Recovery())
	r.POST("/user/refresh", s.handleRefresh)
	r.GET("/status/:code", s.handleStatus)

	items := r.Group("/items", s.requireAuth)
	items.GET("", s.listItems)
	items.POST("", s.createItem)
	items.GET("/:id", s.getItem)
	items.DELETE("/:id", s.deleteItem)

	s.engine = r
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

// Tokens returns the currently valid pair.
func (s *Server) Tokens() credential.Pair {
	s.mu.Lock()
	defer s.mu.Unlock()
	return credential.Pair{AccessToken: s.access, RefreshToken: s.refresh}
}

// ExpireAccess invalidates the access token while keeping the refresh token valid.
func (s *Server) ExpireAccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = fmt.Sprintf("expired-%d", s.seq)
}

// RevokeRefresh invalidates the refresh token.
func (s *Server) RevokeRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh = ""
}

func (s *Server) RefreshCalls() int64 { return s.refreshCalls.Load() }

func (s *Server) rotate() {
	s.seq++
	s.access = fmt.Sprintf("access-%d", s.seq)
	s.refresh = fmt.Sprintf("refresh-%d", s.seq)
}

func (s *Server) handleRefresh(c *gin.Context) {
	s.refreshCalls.Add(1)
	if s.refreshDelay > 0 {
		time.Sleep(s.refreshDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rt := c.Query("refreshToken"); rt == "" || rt != s.refresh {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "invalid refresh token"})
		return
	}
	s.rotate()
	c.JSON(http.StatusOK, gin.H{"accessToken": s.access, "refreshToken": s.refresh})
}

func (s *Server) requireAuth(c *gin.Context) {
	s.mu.Lock()
	want := "Bearer " + s.access
	s.mu.Unlock()
	if c.GetHeader("Authorization") != want {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "token expired"})
		return
	}
	c.Next()
}

// handleStatus answers with the requested status, for exercising clients.
func (s *Server) handleStatus(c *gin.Context) {
	code, err := strconv.Atoi(c.Param("code"))
	if err != nil || code < 200 || code > 599 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid status code"})
		return
	}
	c.JSON(code, gin.H{"message": http.StatusText(code)})
}

func (s *Server) listItems(c *gin.Context) {
	s.mu.Lock()
	out := make([]Item, 0, len(s.items))
	for id := 1; id <= s.nextID; id++ {
		if it, ok := s.items[id]; ok {
			out = append(out, it)
		}
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, out)
}

func (s *Server) createItem(c *gin.Context) {
	var in struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "malformed body"})
		return
	}
	if in.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "name is required", "field": "name"})
		return
	}
	s.mu.Lock()
	s.nextID++
	it := Item{ID: s.nextID, Name: in.Name}
	s.items[it.ID] = it
	s.mu.Unlock()
	c.JSON(http.StatusCreated, it)
}

func (s *Server) getItem(c *gin.Context) {
	it, ok := s.lookup(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "item not found"})
		return
	}
	c.JSON(http.StatusOK, it)
}

func (s *Server) deleteItem(c *gin.Context) {
	it, ok := s.lookup(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "item not found"})
		return
	}
	s.mu.Lock()
	delete(s.items, it.ID)
	s.mu.Unlock()
	c.Status(http.StatusNoContent)
}

func (s *Server) lookup(raw string) (Item, bool) {
	id, err := strconv.Atoi(raw)
	if err != nil {
		return Item{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	return it, ok
}
