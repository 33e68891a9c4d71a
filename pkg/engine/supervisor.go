package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// statusOK is the body the engine answers on /status.
	statusOK = "OK!"
	// probeTimeout bounds a single liveness probe.
	probeTimeout = 2 * time.Second
	// readyPollInterval is the delay between status probes while starting.
	readyPollInterval = 100 * time.Millisecond
	// closeGrace is how long Stop waits for a graceful exit before killing.
	closeGrace = 2 * time.Second
	// maxStatusBody bounds the status response read.
	maxStatusBody = 64
)

// Telemetry describes the runtime behind the engine.
type Telemetry struct {
	Executable string
	Origin     Origin
	Version    string
}

// Supervisor owns the engine process lifecycle for one session.
type Supervisor struct {
	cfg     Config
	logger  *slog.Logger
	builder *CommandBuilder
	spawn   Spawner
	client  *http.Client

	failed   atomic.Bool
	healthy  atomic.Bool
	announce sync.Once

	mu        sync.Mutex
	started   bool
	external  bool
	port      atomic.Int64
	proc      Process
	cmd       Command
	failure   error
	heartbeat context.CancelFunc
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = logger }
}

// WithSpawner replaces the process spawner.
func WithSpawner(spawn Spawner) Option {
	return func(s *Supervisor) { s.spawn = spawn }
}

// WithVersionProbe replaces the runtime version probe.
func WithVersionProbe(probe VersionProbe) Option {
	return func(s *Supervisor) { s.builder.probe = probe }
}

// WithLookPath replaces the PATH lookup.
func WithLookPath(lookPath func(string) (string, error)) Option {
	return func(s *Supervisor) { s.builder.lookPath = lookPath }
}

// WithHTTPClient sets the client used for status probes.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Supervisor) { s.client = client }
}

// New creates a Supervisor. The process is not started until EnsureStarted.
func New(cfg Config, opts ...Option) *Supervisor {
	cfg = cfg.withDefaults()

	s := &Supervisor{
		cfg:    cfg,
		logger: slog.Default(),
		spawn:  SpawnExec,
		client: &http.Client{},
	}
	s.builder = NewCommandBuilder(cfg, s.logger)

	for _, opt := range opts {
		opt(s)
	}

	s.builder.logger = s.logger

	return s
}

// EnsureStarted starts the engine if needed. Once a start has failed, every
// later call returns ErrEngineAlreadyFailed without spawning anything.
func (s *Supervisor) EnsureStarted(ctx context.Context) error {
	if s.failed.Load() {
		s.logger.Debug("analysis engine failed earlier in this session, skipping")

		return ErrEngineAlreadyFailed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failed.Load() {
		return ErrEngineAlreadyFailed
	}

	if s.started {
		if s.healthy.Load() || s.probe(ctx) {
			return nil
		}

		s.logger.Warn("analysis engine stopped responding, restarting it")
		s.shutdownLocked(ctx)
	}

	err := s.startLocked(ctx)
	if err != nil {
		s.failed.Store(true)
		s.failure = err
		// Callers own the user-facing report of this failure.
		s.logger.Debug("failed to start analysis engine", "error", err)

		return err
	}

	return nil
}

// Failure returns the error that moved the supervisor to the failed state.
func (s *Supervisor) Failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.failure
}

// Failed reports whether a start has failed in this session.
func (s *Supervisor) Failed() bool {
	return s.failed.Load()
}

func (s *Supervisor) startLocked(ctx context.Context) error {
	if s.cfg.ExistingPort > 0 {
		return s.attachLocked(ctx)
	}

	port, err := freePort(s.cfg.Host)
	if err != nil {
		return &StartError{Err: fmt.Errorf("%w: %w", ErrEngineUnavailable, err)}
	}

	cmd, err := s.builder.Build(ctx, port)
	if err != nil {
		return &StartError{Err: err}
	}

	proc, err := s.spawn(ctx, cmd, s.logger)
	if err != nil {
		return &StartError{Command: cmd.String(), Err: err}
	}

	s.port.Store(int64(port))
	s.proc = proc
	s.cmd = cmd

	readyErr := s.waitReady(ctx, proc.Done())
	if readyErr != nil {
		killErr := proc.Kill()
		if killErr != nil {
			s.logger.Debug("kill engine after failed start", "error", killErr)
		}

		s.proc = nil
		s.port.Store(0)

		return &StartError{Command: cmd.String(), Err: readyErr}
	}

	s.started = true
	s.external = false
	s.healthy.Store(true)

	go func() {
		<-proc.Done()
		s.healthy.Store(false)
	}()

	s.announce.Do(func() {
		s.logger.Info("analysis engine started",
			"executable", cmd.Executable,
			"origin", string(cmd.Origin),
			"version", cmd.Version.String(),
			"port", port,
		)
	})

	s.startHeartbeat()

	return nil
}

func (s *Supervisor) attachLocked(ctx context.Context) error {
	s.port.Store(int64(s.cfg.ExistingPort))

	readyErr := s.waitReady(ctx, nil)
	if readyErr != nil {
		s.port.Store(0)

		return &StartError{Command: "existing engine on port " + strconv.Itoa(s.cfg.ExistingPort), Err: readyErr}
	}

	s.started = true
	s.external = true
	s.healthy.Store(true)

	s.announce.Do(func() {
		s.logger.Info("using existing analysis engine", "port", s.cfg.ExistingPort)
	})

	s.startHeartbeat()

	return nil
}

func (s *Supervisor) waitReady(ctx context.Context, exited <-chan struct{}) error {
	deadline := time.NewTimer(s.cfg.StartTimeout)
	defer deadline.Stop()

	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		if s.probe(ctx) {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrEngineUnavailable, ctx.Err())
		case <-exited:
			return fmt.Errorf("%w: engine process exited during startup", ErrEngineUnavailable)
		case <-deadline.C:
			return fmt.Errorf("%w: engine did not answer within %s", ErrEngineUnavailable, s.cfg.StartTimeout)
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) startHeartbeat() {
	if s.cfg.HeartbeatInterval <= 0 {
		return
	}

	hbCtx, cancel := context.WithCancel(context.Background())
	s.heartbeat = cancel

	go func() {
		ticker := time.NewTicker(s.cfg.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				alive := s.probe(hbCtx)
				if hbCtx.Err() != nil {
					return
				}

				if !alive && s.healthy.Load() {
					s.logger.Warn("analysis engine heartbeat failed")
				}

				s.healthy.Store(alive)
			}
		}
	}()
}

// IsAlive probes the engine status endpoint.
func (s *Supervisor) IsAlive(ctx context.Context) bool {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	return started && s.probe(ctx)
}

func (s *Supervisor) probe(ctx context.Context) bool {
	port := s.currentPort()
	if port == 0 {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, s.url(port, "/status"), http.NoBody)
	if err != nil {
		return false
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxStatusBody))
	if err != nil {
		return false
	}

	return resp.StatusCode == http.StatusOK && strings.TrimSpace(string(body)) == statusOK
}

// currentPort reads the port without taking mu, which EnsureStarted may hold.
func (s *Supervisor) currentPort() int {
	return int(s.port.Load())
}

// Stop shuts the engine down. Calling it more than once is safe.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.shutdownLocked(ctx)

	return nil
}

func (s *Supervisor) shutdownLocked(ctx context.Context) {
	if s.heartbeat != nil {
		s.heartbeat()
		s.heartbeat = nil
	}

	if !s.started {
		return
	}

	s.started = false
	s.healthy.Store(false)
	defer s.port.Store(0)

	if s.external {
		return
	}

	s.requestClose(ctx)

	if s.proc == nil {
		return
	}

	select {
	case <-s.proc.Done():
	case <-time.After(closeGrace):
		killErr := s.proc.Kill()
		if killErr != nil {
			s.logger.Debug("kill engine", "error", killErr)
		}
	}

	s.proc = nil
}

func (s *Supervisor) requestClose(ctx context.Context) {
	closeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(closeCtx, http.MethodPost, s.url(s.currentPort(), "/close"), http.NoBody)
	if err != nil {
		return
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Debug("engine close request failed", "error", err)

		return
	}

	resp.Body.Close()
}

// BaseURL returns the engine root URL, or an empty string before start.
func (s *Supervisor) BaseURL() string {
	port := s.currentPort()
	if port == 0 {
		return ""
	}

	return "http://" + net.JoinHostPort(s.cfg.Host, strconv.Itoa(port))
}

// Port returns the engine port, or 0 before start.
func (s *Supervisor) Port() int {
	return s.currentPort()
}

func (s *Supervisor) url(port int, path string) string {
	return "http://" + net.JoinHostPort(s.cfg.Host, strconv.Itoa(port)) + path
}

// Command describes the command line of the running engine.
func (s *Supervisor) Command() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.external {
		return "existing engine on port " + strconv.Itoa(s.currentPort())
	}

	return s.cmd.String()
}

// Telemetry reports the runtime the engine runs on.
func (s *Supervisor) Telemetry() Telemetry {
	s.mu.Lock()
	defer s.mu.Unlock()

	tel := Telemetry{Executable: s.cmd.Executable, Origin: s.cmd.Origin}
	if s.cmd.Version != nil {
		tel.Version = s.cmd.Version.String()
	}

	return tel
}
