// Package admin implements the operator-facing HTTP/WS surface:
// unauthenticated health and stats endpoints, plus two JWT-gated
// operator routes for forcing a schedule and watching live round
// stats. There is no customer-facing route here, unlike the gateway
// this package is adapted from.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sentineldispatch/core/internal/candidatestore"
	"github.com/sentineldispatch/core/internal/model"
	"github.com/sentineldispatch/core/internal/operatorauth"
	"github.com/sentineldispatch/core/internal/scheduler"
	"github.com/sentineldispatch/core/internal/worker"
)

// WorkerStats is the subset of worker.Pool's surface the admin stats
// endpoint needs; kept as an interface so tests can stub it.
type WorkerStats interface {
	Stats() worker.Stats
}

// Config holds admin server configuration.
type Config struct {
	Addr            string
	RoundPushPeriod time.Duration
}

// Admin is the operator surface: a gin router plus the WebSocket
// clients currently watching round stats.
type Admin struct {
	cfg      Config
	router   *gin.Engine
	sched    *scheduler.Scheduler
	store    *candidatestore.Store
	pool     WorkerStats
	verifier *operatorauth.Verifier

	wsMu      sync.RWMutex
	wsClients map[uuid.UUID]*wsClient
}

type wsClient struct {
	id   uuid.UUID
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// New wires the admin router. pool may be nil before the worker fleet
// has started; stats simply omit worker fields until it's set.
func New(cfg Config, sched *scheduler.Scheduler, store *candidatestore.Store, pool WorkerStats, verifier *operatorauth.Verifier) *Admin {
	a := &Admin{
		cfg:       cfg,
		router:    gin.Default(),
		sched:     sched,
		store:     store,
		pool:      pool,
		verifier:  verifier,
		wsClients: make(map[uuid.UUID]*wsClient),
	}
	a.setupRoutes()
	return a
}

func (a *Admin) setupRoutes() {
	a.router.GET("/healthz", a.healthCheck)
	a.router.GET("/stats", a.stats)

	operator := a.router.Group("/operator")
	operator.Use(a.authMiddleware())
	{
		operator.POST("/force-schedule", a.forceSchedule)
		operator.GET("/rounds", a.handleRoundsWS)
	}
}

// Start blocks serving the admin router on cfg.Addr.
func (a *Admin) Start() error {
	return a.router.Run(a.cfg.Addr)
}

// Router exposes the underlying gin engine, mainly for tests that
// drive routes through httptest without binding a real port.
func (a *Admin) Router() *gin.Engine {
	return a.router
}

func (a *Admin) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		claims, err := a.verifier.VerifyToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("operator_id", claims.OperatorID)
		c.Next()
	}
}

func (a *Admin) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

type statsResponse struct {
	Candidates    *candidatestore.Stats `json:"candidates,omitempty"`
	Rounds        []model.RoundStats    `json:"recent_rounds"`
	Worker        *worker.Stats         `json:"worker,omitempty"`
	QueueLengths  map[string]int64      `json:"queue_lengths"`
	BucketLevels  map[string]float64    `json:"bucket_levels"`
	InFlightCount int                   `json:"in_flight_count"`
}

func (a *Admin) stats(c *gin.Context) {
	resp := statsResponse{
		Rounds:        a.sched.RecentRounds(),
		QueueLengths:  make(map[string]int64),
		BucketLevels:  make(map[string]float64),
		InFlightCount: a.sched.InFlightCount(),
	}

	if a.store != nil {
		if st, err := a.store.Stats(c.Request.Context(), a.store.Homes()); err == nil {
			resp.Candidates = st
		}
	}
	if a.pool != nil {
		ws := a.pool.Stats()
		resp.Worker = &ws
	}
	for _, q := range a.sched.Queues().DeepPriorityOrder() {
		if n, err := q.Len(c.Request.Context()); err == nil {
			resp.QueueLengths[q.Name()] = n
		}
	}
	for _, tier := range model.DeepTiers {
		if b := a.sched.Buckets().Get(string(tier)); b != nil {
			resp.BucketLevels[string(tier)] = b.Tokens()
		}
	}

	c.JSON(http.StatusOK, resp)
}

type forceScheduleRequest struct {
	EventID string `json:"event_id" binding:"required"`
	Tier    string `json:"tier" binding:"required"`
}

func (a *Admin) forceSchedule(c *gin.Context) {
	var req forceScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := a.sched.ForceSchedule(c.Request.Context(), req.EventID, model.Tier(strings.ToUpper(req.Tier))); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "scheduled"})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleRoundsWS upgrades to a WebSocket and streams round stats every
// RoundPushPeriod until the client disconnects.
func (a *Admin) handleRoundsWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := &wsClient{
		id:   uuid.New(),
		conn: conn,
		send: make(chan []byte, 8),
		done: make(chan struct{}),
	}

	a.wsMu.Lock()
	a.wsClients[client.id] = client
	a.wsMu.Unlock()

	go a.wsWritePump(client)
	go a.wsReadPump(client)
	go a.pushRounds(client)
}

func (a *Admin) wsReadPump(client *wsClient) {
	defer a.dropClient(client)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (a *Admin) wsWritePump(client *wsClient) {
	for {
		select {
		case msg := <-client.send:
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-client.done:
			return
		}
	}
}

func (a *Admin) pushRounds(client *wsClient) {
	period := a.cfg.RoundPushPeriod
	if period <= 0 {
		period = 5 * time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	var lastSent time.Time
	for {
		select {
		case <-ticker.C:
			rounds := a.sched.RecentRounds()
			if len(rounds) == 0 {
				continue
			}
			latest := rounds[len(rounds)-1]
			if !latest.Timestamp.After(lastSent) {
				continue
			}
			payload, err := json.Marshal(latest)
			if err != nil {
				continue
			}
			select {
			case client.send <- payload:
				lastSent = latest.Timestamp
			default:
			}
		case <-client.done:
			return
		}
	}
}

func (a *Admin) dropClient(client *wsClient) {
	a.wsMu.Lock()
	delete(a.wsClients, client.id)
	a.wsMu.Unlock()
	close(client.done)
	client.conn.Close()
}

// Shutdown closes every open operator WebSocket connection.
func (a *Admin) Shutdown(ctx context.Context) {
	a.wsMu.RLock()
	clients := make([]*wsClient, 0, len(a.wsClients))
	for _, cl := range a.wsClients {
		clients = append(clients, cl)
	}
	a.wsMu.RUnlock()

	for _, cl := range clients {
		a.dropClient(cl)
	}
}
