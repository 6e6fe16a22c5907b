// Package mock is an in-memory Pool Manager that speaks the same HTTP API as
// the real service. Tests point poolmanager.Client at it, and the poolmock
// command serves it for local development.
//
// Each pool keeps minimum_vms unclaimed VMs warm. A background manager moves
// VMs PENDING → RUNNING and tops pools back up after claims:
//
//	PENDING → RUNNING → CLAIMED → (release) → RUNNING
package mock

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/xid"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/hive/internal/poolmanager"
)

type VMState string

const (
	VMPending VMState = "PENDING"
	VMRunning VMState = "RUNNING"
	VMClaimed VMState = "CLAIMED"
)

const (
	PoolProvisioning = "PROVISIONING"
	PoolActive       = "ACTIVE"
)

type VM struct {
	ID        string    `json:"id"`
	State     VMState   `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// PoolDetail is the GET /pools/{name} body.
type PoolDetail struct {
	poolmanager.Pool
	MinimumVMs int  `json:"minimum_vms"`
	VMs        []VM `json:"vms"`
}

type pool struct {
	meta       poolmanager.Pool
	minimumVMs int
	vms        map[string]*VM
}

// Server is the simulator. The zero value is not usable; call New.
type Server struct {
	keyHash []byte
	logger  *slog.Logger
	tick    time.Duration
	router  chi.Router

	mu         sync.Mutex
	pools      map[string]*pool
	failNext   int
	failStatus int
	attempts   int
	requests   []poolmanager.CreatePoolRequest

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

type Option func(*Server)

// WithTick sets how often the manager advances VM states. Default 500ms.
func WithTick(d time.Duration) Option {
	return func(s *Server) { s.tick = d }
}

// New returns a simulator accepting Bearer apiKey. Only a bcrypt hash of the
// key is kept.
func New(apiKey string, logger *slog.Logger, opts ...Option) *Server {
	// keys over 72 bytes fail to hash and are then never accepted
	hash, _ := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.MinCost)

	s := &Server{
		keyHash: hash,
		logger:  logger,
		tick:    500 * time.Millisecond,
		pools:   make(map[string]*pool),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(s.requireKey)
	r.Post("/pools", s.handleCreatePool)
	r.Get("/pools/{name}", s.handleGetPool)
	r.Delete("/pools/{name}", s.handleDeletePool)
	r.Post("/pools/{name}/claim", s.handleClaim)
	r.Post("/pools/{name}/release/{vm}", s.handleRelease)
	s.router = r

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start launches the background manager. Calling it twice is harmless.
func (s *Server) Start() {
	s.startOnce.Do(func() {
		s.logger.Info("starting mock pool manager", slog.Duration("tick", s.tick))
		s.wg.Add(1)
		go s.manager()
	})
}

// Close stops the manager and waits for it to exit.
func (s *Server) Close() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
}

// FailNext makes the next n POST /pools calls fail with status.
func (s *Server) FailNext(n, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
	s.failStatus = status
}

// CreateAttempts counts POST /pools calls that passed authentication.
func (s *Server) CreateAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Requests returns the bodies of successful create calls.
func (s *Server) Requests() []poolmanager.CreatePoolRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]poolmanager.CreatePoolRequest(nil), s.requests...)
}

// Reconcile runs one manager step synchronously.
func (s *Server) Reconcile() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, p := range s.pools {
		unclaimed := 0
		for _, vm := range p.vms {
			if vm.State == VMPending {
				vm.State = VMRunning
			}
			if vm.State != VMClaimed {
				unclaimed++
			}
		}
		for ; unclaimed < p.minimumVMs; unclaimed++ {
			id := xid.New().String()
			p.vms[id] = &VM{ID: id, State: VMPending, CreatedAt: now}
		}
		p.meta.Status = p.status()
		p.meta.UpdatedAt = now
	}
}

func (s *Server) manager() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.Reconcile()
		}
	}
}

func (p *pool) status() string {
	running := 0
	for _, vm := range p.vms {
		if vm.State == VMRunning {
			running++
		}
	}
	if running >= p.minimumVMs {
		return PoolActive
	}
	return PoolProvisioning
}

func (p *pool) detail() PoolDetail {
	d := PoolDetail{Pool: p.meta, MinimumVMs: p.minimumVMs, VMs: make([]VM, 0, len(p.vms))}
	for _, vm := range p.vms {
		d.VMs = append(d.VMs, *vm)
	}
	return d
}

// ===== handlers =====

func (s *Server) requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || key == "" || bcrypt.CompareHashAndPassword(s.keyHash, []byte(key)) != nil {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleCreatePool(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts++
	if s.failNext > 0 {
		s.failNext--
		writeError(w, s.failStatus, "injected failure")
		return
	}

	var req poolmanager.CreatePoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.PoolName == "" {
		writeError(w, http.StatusBadRequest, "pool_name is required")
		return
	}
	if req.MinimumVMs < 1 {
		writeError(w, http.StatusBadRequest, "minimum_vms must be at least 1")
		return
	}
	if _, exists := s.pools[req.PoolName]; exists {
		writeError(w, http.StatusConflict, "pool already exists")
		return
	}

	now := time.Now()
	p := &pool{
		meta: poolmanager.Pool{
			ID:          xid.New().String(),
			Name:        req.PoolName,
			Status:      PoolProvisioning,
			OwnerID:     req.GitHubUsername,
			Description: req.RepoName,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		minimumVMs: req.MinimumVMs,
		vms:        make(map[string]*VM, req.MinimumVMs),
	}
	for i := 0; i < req.MinimumVMs; i++ {
		id := xid.New().String()
		p.vms[id] = &VM{ID: id, State: VMPending, CreatedAt: now}
	}
	s.pools[req.PoolName] = p
	s.requests = append(s.requests, req)

	s.logger.Info("mock pool created",
		slog.String("pool", req.PoolName),
		slog.Int("minimumVMs", req.MinimumVMs),
	)
	writeJSON(w, http.StatusCreated, p.meta)
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pools[chi.URLParam(r, "name")]
	if !ok {
		writeError(w, http.StatusNotFound, "pool not found")
		return
	}
	writeJSON(w, http.StatusOK, p.detail())
}

func (s *Server) handleDeletePool(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := chi.URLParam(r, "name")
	if _, ok := s.pools[name]; !ok {
		writeError(w, http.StatusNotFound, "pool not found")
		return
	}
	delete(s.pools, name)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pools[chi.URLParam(r, "name")]
	if !ok {
		writeError(w, http.StatusNotFound, "pool not found")
		return
	}
	for _, vm := range p.vms {
		if vm.State == VMRunning {
			vm.State = VMClaimed
			p.meta.Status = p.status()
			writeJSON(w, http.StatusOK, vm)
			return
		}
	}
	writeError(w, http.StatusConflict, "no running vm available")
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pools[chi.URLParam(r, "name")]
	if !ok {
		writeError(w, http.StatusNotFound, "pool not found")
		return
	}
	vm, ok := p.vms[chi.URLParam(r, "vm")]
	if !ok {
		writeError(w, http.StatusNotFound, "vm not found")
		return
	}
	if vm.State != VMClaimed {
		writeError(w, http.StatusConflict, "vm is not claimed")
		return
	}
	vm.State = VMRunning
	p.meta.Status = p.status()
	writeJSON(w, http.StatusOK, vm)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
