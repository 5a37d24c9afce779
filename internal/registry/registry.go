// Package registry tracks the specialist agents available to the gateway.
//
// Agents register on start (id, address, capabilities, voice identity,
// handoff aliases) and deregister on clean shutdown. Liveness is inferred
// from periodic health pings against each agent's /healthz endpoint; an
// agent that misses three consecutive ping intervals is marked unreachable.
// The registry is authoritative — id collisions are rejected at register
// time.
//
// Reads return snapshots; writes run under a short critical section. Safe
// for concurrent use.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Status is an agent's health status.
type Status string

const (
	StatusHealthy     Status = "healthy"
	StatusDegraded    Status = "degraded"
	StatusUnreachable Status = "unreachable"
)

// Mode is a conversation mode an agent supports.
type Mode string

const (
	ModeVoice  Mode = "voice"
	ModeText   Mode = "text"
	ModeHybrid Mode = "hybrid"
)

// ErrDuplicateID is returned by [Registry.Register] on an id collision.
var ErrDuplicateID = errors.New("registry: agent id already registered")

// ErrNotFound is returned by lookup operations for unknown agent ids.
var ErrNotFound = errors.New("registry: agent not found")

// AgentInfo describes one registered agent.
type AgentInfo struct {
	// ID is the agent's unique identifier (e.g. "triage", "persona-SimpleBanking").
	ID string `json:"id"`

	// Addr is the agent's WebSocket address ("host:port").
	Addr string `json:"addr"`

	// Capabilities lists the tool names this agent handles.
	Capabilities []string `json:"capabilities,omitempty"`

	// Modes lists supported conversation modes.
	Modes []Mode `json:"modes,omitempty"`

	// VoiceID is the agent's voice identity, if any.
	VoiceID string `json:"voiceId,omitempty"`

	// Persona is an optional persona tag.
	Persona string `json:"persona,omitempty"`

	// HandoffAliases lists short names that resolve to this agent in
	// transfer_to_<alias> tool names (e.g. "banking" for
	// "persona-SimpleBanking"). Owned by the agent, not the gateway.
	HandoffAliases []string `json:"handoffAliases,omitempty"`

	// Metadata carries arbitrary registration extras.
	Metadata map[string]string `json:"metadata,omitempty"`

	// Status and LastSeen are maintained by the registry.
	Status   Status    `json:"status"`
	LastSeen time.Time `json:"lastSeen"`
}

// DefaultPingInterval is the default interval between liveness pings.
const DefaultPingInterval = 15 * time.Second

// missedPingThreshold is the number of consecutive ping intervals without a
// successful probe before an agent is marked unreachable.
const missedPingThreshold = 3

// Registry is the authoritative agent directory. Create one with [New].
type Registry struct {
	pingInterval time.Duration
	httpClient   *http.Client

	mu      sync.RWMutex
	agents  map[string]*AgentInfo
	aliases map[string]string // alias → agent id
}

// Option configures a [Registry].
type Option func(*Registry)

// WithPingInterval sets the liveness ping interval. The default is
// [DefaultPingInterval].
func WithPingInterval(d time.Duration) Option {
	return func(r *Registry) { r.pingInterval = d }
}

// WithHTTPClient overrides the HTTP client used for health probes.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Registry) { r.httpClient = c }
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		pingInterval: DefaultPingInterval,
		httpClient:   &http.Client{Timeout: 5 * time.Second},
		agents:       make(map[string]*AgentInfo),
		aliases:      make(map[string]string),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register adds an agent. The id and every handoff alias must be unused.
func (r *Registry) Register(info AgentInfo) error {
	if info.ID == "" {
		return fmt.Errorf("registry: register: id is required")
	}
	if info.Addr == "" {
		return fmt.Errorf("registry: register %q: addr is required", info.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[info.ID]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateID, info.ID)
	}
	for _, alias := range info.HandoffAliases {
		if owner, ok := r.aliases[alias]; ok {
			return fmt.Errorf("registry: register %q: alias %q already owned by %q", info.ID, alias, owner)
		}
	}

	info.Status = StatusHealthy
	info.LastSeen = time.Now()
	r.agents[info.ID] = &info
	for _, alias := range info.HandoffAliases {
		r.aliases[alias] = info.ID
	}

	slog.Info("registry: agent registered",
		"agent_id", info.ID,
		"addr", info.Addr,
		"voice_id", info.VoiceID,
		"aliases", info.HandoffAliases,
	)
	return nil
}

// Deregister removes an agent and its aliases. Unknown ids are a no-op.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.agents[id]
	if !ok {
		return
	}
	delete(r.agents, id)
	for _, alias := range info.HandoffAliases {
		delete(r.aliases, alias)
	}
	slog.Info("registry: agent deregistered", "agent_id", id)
}

// List returns a snapshot of all registered agents.
func (r *Registry) List() []AgentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]AgentInfo, 0, len(r.agents))
	for _, info := range r.agents {
		out = append(out, *info)
	}
	return out
}

// Lookup returns the agent registered under id.
func (r *Registry) Lookup(id string) (AgentInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.agents[id]
	if !ok {
		return AgentInfo{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return *info, nil
}

// ResolveAlias maps a handoff alias (the <X> of transfer_to_<X>) to an agent
// id. An id that is itself registered resolves to itself.
func (r *Registry) ResolveAlias(alias string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if id, ok := r.aliases[alias]; ok {
		return id, true
	}
	if _, ok := r.agents[alias]; ok {
		return alias, true
	}
	return "", false
}

// IsAvailable reports whether id is registered and not unreachable.
func (r *Registry) IsAvailable(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.agents[id]
	return ok && info.Status != StatusUnreachable
}

// MarkStatus overrides an agent's status. Used by tests and by the gateway
// when a proxy dial fails before the pinger notices.
func (r *Registry) MarkStatus(id string, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if info, ok := r.agents[id]; ok {
		info.Status = status
	}
}

// RunPinger probes every registered agent each ping interval until ctx is
// cancelled. A successful probe refreshes LastSeen and restores
// StatusHealthy; an agent whose LastSeen is older than three intervals is
// marked unreachable.
func (r *Registry) RunPinger(ctx context.Context) {
	ticker := time.NewTicker(r.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pingAll(ctx)
		}
	}
}

func (r *Registry) pingAll(ctx context.Context) {
	for _, info := range r.List() {
		ok := r.probe(ctx, info.Addr)

		r.mu.Lock()
		current, exists := r.agents[info.ID]
		if !exists {
			r.mu.Unlock()
			continue
		}
		if ok {
			current.LastSeen = time.Now()
			if current.Status != StatusHealthy {
				slog.Info("registry: agent recovered", "agent_id", info.ID)
			}
			current.Status = StatusHealthy
		} else if time.Since(current.LastSeen) > time.Duration(missedPingThreshold)*r.pingInterval {
			if current.Status != StatusUnreachable {
				slog.Warn("registry: agent unreachable",
					"agent_id", info.ID,
					"last_seen", current.LastSeen,
				)
			}
			current.Status = StatusUnreachable
		} else if current.Status == StatusHealthy {
			current.Status = StatusDegraded
		}
		r.mu.Unlock()
	}
}

// probe issues a GET against the agent's /healthz endpoint.
func (r *Registry) probe(ctx context.Context, addr string) bool {
	reqCtx, cancel := context.WithTimeout(ctx, r.pingInterval/2)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, "http://"+addr+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
