package ctlplane

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"grimm.is/warden/internal/audit"
	"grimm.is/warden/internal/brand"
	"grimm.is/warden/internal/clock"
	"grimm.is/warden/internal/config"
	"grimm.is/warden/internal/firewall"
	"grimm.is/warden/internal/fwdata"
	"grimm.is/warden/internal/logging"
	"grimm.is/warden/internal/metrics"
	"grimm.is/warden/internal/rules"
	"grimm.is/warden/internal/scheduler"
	"grimm.is/warden/internal/services"
)

// ServiceName is the net/rpc service name clients address.
const ServiceName = "Server"

// SocketMode is the permission of the control socket.
const SocketMode os.FileMode = 0660

// Options configures a Server.
type Options struct {
	SocketPath string
	Journal    *audit.Store // optional
	Metrics    *metrics.Registry
	Logger     *logging.Logger
	Clock      clock.Clock
	// Backend names the firewall backend in status output.
	Backend string
	// Tasks reports maintenance task state in status output. Optional.
	Tasks TaskReporter
	// Services reports component health in status output. Optional.
	Services HealthReporter
}

// HealthReporter is implemented by *services.Group.
type HealthReporter interface {
	Health() []services.Health
}

// TaskReporter is implemented by *scheduler.Scheduler.
type TaskReporter interface {
	Status() []scheduler.TaskStatus
}

// Server owns the control socket and serves Handler on it.
type Server struct {
	handler *Handler
	logger  *logging.Logger

	mu         sync.Mutex
	socketPath string
	listener   net.Listener
	conns      map[net.Conn]struct{}
	lastErr    error
	wg         sync.WaitGroup
}

// Handler holds the RPC methods. It is registered under ServiceName.
type Handler struct {
	manager   *rules.Manager
	journal   *audit.Store
	metrics   *metrics.Registry
	logger    *logging.Logger
	clock     clock.Clock
	backend   string
	tasks     TaskReporter
	services  HealthReporter
	startedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a control plane server for manager.
func NewServer(manager *rules.Manager, opts Options) *Server {
	logger := logging.OrDefault(opts.Logger).WithComponent("ctlplane")
	clk := clock.OrReal(opts.Clock)
	socketPath := opts.SocketPath
	if socketPath == "" {
		socketPath = brand.GetSocketPath()
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handler{
		manager:   manager,
		journal:   opts.Journal,
		metrics:   opts.Metrics,
		logger:    logger,
		clock:     clk,
		backend:   opts.Backend,
		tasks:     opts.Tasks,
		services:  opts.Services,
		startedAt: clk.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	return &Server{
		handler:    h,
		logger:     logger,
		socketPath: socketPath,
		conns:      make(map[net.Conn]struct{}),
	}
}

// Handler returns the RPC method set, for in-process callers and tests.
func (s *Server) Handler() *Handler {
	return s.handler
}

// SocketPath returns the socket the server listens on.
func (s *Server) SocketPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.socketPath
}

// Name implements services.Service.
func (s *Server) Name() string { return "ctlplane" }

// Start listens on the Unix socket and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	path := s.socketPath
	s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	// Remove a stale socket from a previous run
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove stale socket %s: %w", path, err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, SocketMode); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}
	return s.StartWithListener(listener)
}

// StartWithListener serves on an existing listener.
func (s *Server) StartWithListener(listener net.Listener) error {
	srv := rpc.NewServer()
	if err := srv.RegisterName(ServiceName, s.handler); err != nil {
		return fmt.Errorf("failed to register RPC service: %w", err)
	}

	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		return errors.New("control plane already running")
	}
	s.listener = listener
	s.lastErr = nil
	s.mu.Unlock()

	s.logger.Info("control plane listening", "addr", listener.Addr().String())

	s.wg.Add(1)
	go s.accept(srv, listener)
	return nil
}

func (s *Server) accept(srv *rpc.Server, listener net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Error("accept failed", "error", err)
				s.mu.Lock()
				s.lastErr = err
				s.mu.Unlock()
			}
			return
		}

		s.mu.Lock()
		if s.listener != listener {
			// Stop ran between Accept and here.
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
			}()
			srv.ServeConn(conn)
		}()
	}
}

// Stop closes the socket and every open connection, then waits for the
// connection goroutines. In-flight manager calls see a cancelled context.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	listener := s.listener
	s.listener = nil
	for conn := range s.conns {
		conn.Close()
	}
	path := s.socketPath
	s.mu.Unlock()

	if listener == nil {
		return nil
	}
	listener.Close()
	if _, ok := listener.(*net.UnixListener); ok {
		_ = os.Remove(path)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the server and cancels the handler context. The server
// cannot be restarted afterwards.
func (s *Server) Close() error {
	err := s.Stop(context.Background())
	s.handler.cancel()
	return err
}

// Health implements services.Service.
func (s *Server) Health() services.Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := services.Health{Name: s.Name(), Running: s.listener != nil, Addr: s.socketPath}
	if s.lastErr != nil {
		h.Error = s.lastErr.Error()
	}
	return h
}

// Reload moves the socket when socket_path changed.
func (s *Server) Reload(cfg *config.Config) (bool, error) {
	s.mu.Lock()
	changed := cfg.SocketPath != "" && cfg.SocketPath != s.socketPath
	running := s.listener != nil
	s.mu.Unlock()
	if !changed {
		return false, nil
	}

	if running {
		if err := s.Stop(context.Background()); err != nil {
			return false, err
		}
	}
	s.mu.Lock()
	s.socketPath = cfg.SocketPath
	s.mu.Unlock()
	if !running {
		return false, nil
	}
	return true, s.Start(context.Background())
}

// begin starts an RPC: it tags the context with a fresh request ID.
func (h *Handler) begin(method string) (context.Context, string) {
	id := uuid.NewString()
	h.logger.Debug("rpc", "method", method, "request_id", id)
	return audit.WithRequestID(h.ctx, id), id
}

// finish records metrics and turns a handler panic into an RPC error. It
// must be deferred directly.
func (h *Handler) finish(method string, start time.Time, errp *error) {
	if r := recover(); r != nil {
		h.logger.Error("rpc handler panicked", "method", method, "panic", r, "stack", string(debug.Stack()))
		*errp = fmt.Errorf("internal error in %s", method)
	}
	if h.metrics != nil {
		h.metrics.RecordRPC(method, *errp, h.clock.Since(start))
	}
}

// AddRule installs a rule descriptor.
func (h *Handler) AddRule(args *AddRuleArgs, reply *AddRuleReply) (err error) {
	defer h.finish("AddRule", h.clock.Now(), &err)
	ctx, reqID := h.begin("AddRule")
	reply.RequestID = reqID

	var d fwdata.Descriptor
	if err := d.UnmarshalBinary(args.Descriptor); err != nil {
		return fmt.Errorf("invalid descriptor: %w", err)
	}

	results, addErr := h.manager.Add(ctx, &d, rules.AddOptions{
		Weight:     args.Weight,
		Permit:     args.Permit,
		Persistent: args.Persistent,
	})
	for _, r := range results {
		out := AddRuleResult{
			Family:   r.Family.String(),
			Hash:     r.Hash.String(),
			Outcome:  string(r.Outcome),
			ID:       uint64(r.ID),
			Replaced: uint64(r.Replaced),
		}
		if r.Err != nil {
			out.Error = r.Err.Error()
		}
		reply.Results = append(reply.Results, out)
	}
	// Per-family failures travel in Results; only whole-request
	// failures become an RPC error.
	if addErr != nil && len(results) == 0 {
		return addErr
	}
	return nil
}

// ListRules returns the indexed rules ordered by expiration.
func (h *Handler) ListRules(args *Empty, reply *ListRulesReply) (err error) {
	defer h.finish("ListRules", h.clock.Now(), &err)
	for _, e := range h.manager.List() {
		reply.Rules = append(reply.Rules, ruleInfo(e))
	}
	return nil
}

// RemoveRule deletes one managed rule.
func (h *Handler) RemoveRule(args *RemoveRuleArgs, reply *Empty) (err error) {
	defer h.finish("RemoveRule", h.clock.Now(), &err)
	ctx, _ := h.begin("RemoveRule")
	return h.manager.Remove(ctx, firewall.FilterID(args.ID))
}

// RemoveAll deletes every managed rule.
func (h *Handler) RemoveAll(args *Empty, reply *RemoveAllReply) (err error) {
	defer h.finish("RemoveAll", h.clock.Now(), &err)
	ctx, _ := h.begin("RemoveAll")
	reply.Removed, err = h.manager.RemoveAll(ctx)
	return err
}

// RemoveUnknown deletes leftover rules whose names do not decode.
func (h *Handler) RemoveUnknown(args *Empty, reply *RemoveUnknownReply) (err error) {
	defer h.finish("RemoveUnknown", h.clock.Now(), &err)
	ctx, _ := h.begin("RemoveUnknown")
	reply.Removed, err = h.manager.RemoveUnknown(ctx)
	return err
}

// Refresh rebuilds the index from the firewall.
func (h *Handler) Refresh(args *Empty, reply *RefreshReply) (err error) {
	defer h.finish("Refresh", h.clock.Now(), &err)
	ctx, _ := h.begin("Refresh")
	report, err := h.manager.Refresh(ctx)
	if err != nil {
		return err
	}
	*reply = RefreshReply(report)
	return nil
}

// GetStatus returns the daemon status.
func (h *Handler) GetStatus(args *Empty, reply *GetStatusReply) (err error) {
	defer h.finish("GetStatus", h.clock.Now(), &err)
	st := h.manager.Status()
	reply.Status = Status{
		Version:     brand.Version,
		Backend:     h.backend,
		StartedAt:   h.startedAt,
		Uptime:      h.clock.Since(h.startedAt).Round(time.Second).String(),
		Rules:       st.Size,
		Capacity:    st.Capacity,
		ByFamily:    st.ByFamily,
		SweepActive: st.SweepActive,
		Interval:    st.Interval,
		LastSweep:   st.LastSweep,
		Sweeps:      st.Sweeps,
		Journal:     h.journal != nil,
	}
	if h.tasks != nil {
		reply.Status.Tasks = h.tasks.Status()
	}
	if h.services != nil {
		reply.Status.Services = h.services.Health()
	}
	return nil
}

// GetHistory queries the lifecycle journal.
func (h *Handler) GetHistory(args *GetHistoryArgs, reply *GetHistoryReply) (err error) {
	defer h.finish("GetHistory", h.clock.Now(), &err)
	if h.journal == nil {
		return errors.New("journal is disabled")
	}
	events, err := h.journal.Query(audit.Query{
		Start:  args.Since,
		Action: args.Action,
		RuleID: args.RuleID,
		Limit:  args.Limit,
	})
	if err != nil {
		return err
	}
	for i := range events {
		events[i].Details = flattenDetails(events[i].Details)
	}
	reply.Events = events
	return nil
}

// flattenDetails renders detail values as strings so gob can carry them
// inside interface values without type registration.
func flattenDetails(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = fmt.Sprint(v)
	}
	return out
}

func ruleInfo(e rules.Entry) RuleInfo {
	return RuleInfo{
		ID:         uint64(e.ID),
		Family:     e.Family.String(),
		Hash:       e.Hash.String(),
		Expiration: e.Expiration,
		Name:       e.Name,
	}
}
