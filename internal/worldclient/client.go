// Package worldclient is a websocket agent session that implements
// world.World on top of the voxelcraft agent protocol.
package worldclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Delinquent-Codex/mineflayer/internal/protocol"
	"github.com/Delinquent-Codex/mineflayer/internal/voxel"
	"github.com/Delinquent-Codex/mineflayer/internal/world"
)

const (
	defaultTaskTimeout = 30 * time.Second
	handshakeTimeout   = 5 * time.Second
	writeTimeout       = 5 * time.Second
	readTimeout        = 60 * time.Second
)

// AuthToken is the only auth mode that sends credentials in HELLO.
const AuthToken = "token"

// ErrClosed is returned by world calls once the session has ended.
var ErrClosed = errors.New("worldclient: session closed")

type Config struct {
	URL       string
	AgentName string
	// Version is the protocol version sent in HELLO and ACT. Defaults to
	// protocol.Version.
	Version string
	Auth    string
	Token   string
	// TaskTimeout bounds every navigation, open and transfer request.
	TaskTimeout time.Duration
	Logger      *zap.Logger
}

// Handler receives session lifecycle notifications. All methods are called
// from the read loop and must not block on world calls.
type Handler interface {
	OnSpawn(c *Client)
	OnKicked(reason string)
	OnError(err error)
	OnEnd(err error)
}

// Client is one agent session. It is safe for concurrent use; world calls
// block the calling goroutine until the server answers.
type Client struct {
	cfg Config
	log *zap.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu          sync.RWMutex
	agentID     string
	welcome     protocol.WelcomeMsg
	lastTick    uint64
	self        world.Vec3
	inventory   []world.Item
	blocks      *voxel.Memory
	entities    map[string]protocol.EntityObs
	itemPalette []string
	itemTags    json.RawMessage
	spawned     bool
	obsSignal   chan struct{}

	tasks *taskTable

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to the world server and sends HELLO.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("worldclient: empty url")
	}
	if cfg.Version == "" {
		cfg.Version = protocol.Version
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = defaultTaskTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if strings.EqualFold(cfg.Auth, AuthToken) && strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("worldclient: auth mode %q requires a token", cfg.Auth)
	}

	d := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := d.DialContext(ctx, cfg.URL, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	c := &Client{
		cfg:       cfg,
		log:       cfg.Logger.With(zap.String("agent", cfg.AgentName)),
		conn:      conn,
		blocks:    voxel.NewMemory(),
		entities:  map[string]protocol.EntityObs{},
		obsSignal: make(chan struct{}),
		tasks:     newTaskTable(),
		closed:    make(chan struct{}),
	}

	hello := protocol.HelloMsg{
		Type:              protocol.TypeHello,
		ProtocolVersion:   cfg.Version,
		SupportedVersions: protocol.SupportedVersions,
		AgentName:         cfg.AgentName,
		Capabilities: protocol.HelloCapabilities{
			DeltaVoxels: true,
			MaxQueue:    64,
		},
	}
	if tok := strings.TrimSpace(cfg.Token); tok != "" {
		hello.Auth = &protocol.HelloAuth{Token: tok}
	}
	if err := c.writeJSON(hello); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send HELLO: %w", err)
	}
	return c, nil
}

func (c *Client) AgentName() string { return c.cfg.AgentName }

func (c *Client) AgentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.agentID
}

// ItemPalette returns the item_palette catalog; an item's numeric id is its
// index.
func (c *Client) ItemPalette() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.itemPalette...)
}

// ItemTags returns the raw item_tags catalog, or nil if the server sent none.
func (c *Client) ItemTags() json.RawMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append(json.RawMessage(nil), c.itemTags...)
}

// Close ends the session. Run returns shortly after.
func (c *Client) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}

// Run reads frames until the connection ends or ctx is canceled. OnEnd is
// always called exactly once before Run returns.
func (c *Client) Run(ctx context.Context, h Handler) (err error) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-stop:
		}
	}()

	defer func() {
		c.markClosed()
		h.OnEnd(err)
	}()

	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, rerr := c.conn.ReadMessage()
		if rerr != nil {
			if ctx.Err() != nil {
				return nil
			}
			// A close frame from the server ends the session cleanly; one
			// carrying a reason is a kick. 1006 means no frame arrived.
			var ce *websocket.CloseError
			if errors.As(rerr, &ce) && ce.Code != websocket.CloseAbnormalClosure {
				if ce.Text != "" {
					h.OnKicked(ce.Text)
				}
				return nil
			}
			return fmt.Errorf("read: %w", rerr)
		}
		if err := c.handleFrame(msg, h); err != nil {
			h.OnError(err)
		}
	}
}

func (c *Client) markClosed() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.tasks.failAll(ErrClosed)
	})
}

func (c *Client) handleFrame(msg []byte, h Handler) error {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	switch base.Type {
	case protocol.TypeWelcome:
		var w protocol.WelcomeMsg
		if err := json.Unmarshal(msg, &w); err != nil {
			return fmt.Errorf("decode WELCOME: %w", err)
		}
		if !protocol.IsSupportedVersion(w.ProtocolVersion) {
			return fmt.Errorf("unsupported protocol version %q", w.ProtocolVersion)
		}
		c.mu.Lock()
		c.welcome = w
		c.agentID = w.AgentID
		c.mu.Unlock()
		c.log.Debug("welcome",
			zap.String("agent_id", w.AgentID),
			zap.Int("obs_radius", w.WorldParams.ObsRadius))

	case protocol.TypeCatalog:
		var cat protocol.CatalogMsg
		if err := json.Unmarshal(msg, &cat); err != nil {
			return fmt.Errorf("decode CATALOG: %w", err)
		}
		if !protocol.IsSupportedVersion(cat.ProtocolVersion) {
			return fmt.Errorf("unsupported catalog version %q", cat.ProtocolVersion)
		}
		return c.applyCatalog(cat)

	case protocol.TypeObs:
		var o protocol.ObsMsg
		if err := json.Unmarshal(msg, &o); err != nil {
			return fmt.Errorf("decode OBS: %w", err)
		}
		spawn, err := c.applyObs(&o)
		if spawn {
			h.OnSpawn(c)
		}
		return err
	}
	return nil
}

func (c *Client) applyCatalog(cat protocol.CatalogMsg) error {
	name := strings.ToLower(strings.TrimSpace(cat.Name))
	switch name {
	case protocol.CatalogBlockPalette, protocol.CatalogItemPalette:
		var names []string
		if err := json.Unmarshal(cat.Data, &names); err != nil {
			return fmt.Errorf("decode %s: %w", name, err)
		}
		c.mu.Lock()
		if name == protocol.CatalogBlockPalette {
			c.blocks.SetPalette(names)
		} else {
			c.itemPalette = names
		}
		c.mu.Unlock()
		c.log.Debug("catalog", zap.String("name", name), zap.Int("entries", len(names)))
	case protocol.CatalogItemTags:
		c.mu.Lock()
		c.itemTags = append(json.RawMessage(nil), cat.Data...)
		c.mu.Unlock()
		c.log.Debug("catalog", zap.String("name", name))
	}
	return nil
}

// applyObs merges an observation and reports whether it is the first one of
// the session.
func (c *Client) applyObs(o *protocol.ObsMsg) (spawn bool, err error) {
	c.mu.Lock()
	c.lastTick = o.Tick
	if o.AgentID != "" {
		c.agentID = o.AgentID
	}
	c.self = world.Vec3{X: float64(o.Self.Pos[0]), Y: float64(o.Self.Pos[1]), Z: float64(o.Self.Pos[2])}
	c.inventory = c.inventory[:0]
	for _, st := range o.Inventory {
		if st.Count > 0 {
			c.inventory = append(c.inventory, world.Item{Name: st.Item, Count: st.Count})
		}
	}

	if o.Voxels.Encoding != "" {
		if !c.blocks.HasPalette() {
			err = fmt.Errorf("voxels before block_palette at tick %d", o.Tick)
		} else if verr := c.blocks.Apply(o.Voxels); verr != nil {
			err = fmt.Errorf("tick %d: %w", o.Tick, verr)
		}
	}
	c.mergeEntities(o.Entities)

	if c.agentID != "" && !c.spawned {
		c.spawned = true
		spawn = true
	}
	close(c.obsSignal)
	c.obsSignal = make(chan struct{})
	c.mu.Unlock()

	c.tasks.handleEvents(o.Tick, o.Events)
	return spawn, err
}

// mergeEntities refreshes remembered entities. An entity missing from the
// frame is forgotten only when its position is inside the current view.
// Callers hold c.mu.
func (c *Client) mergeEntities(seen []protocol.EntityObs) {
	present := make(map[string]bool, len(seen))
	for _, e := range seen {
		present[e.ID] = true
		c.entities[e.ID] = e
		if isContainerKind(e.Type) {
			c.blocks.Put(entityBlock(e), e.Type)
		}
	}
	for id, e := range c.entities {
		if !present[id] && c.blocks.InView(entityBlock(e)) {
			delete(c.entities, id)
		}
	}
}

func (c *Client) lastObs() (tick uint64, agentID string, next <-chan struct{}) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastTick, c.agentID, c.obsSignal
}

// waitObsAfter blocks until an observation newer than tick arrives.
func (c *Client) waitObsAfter(ctx context.Context, tick uint64) error {
	for {
		cur, _, next := c.lastObs()
		if cur > tick {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return ErrClosed
		case <-next:
		}
	}
}

func (c *Client) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

func entityBlock(e protocol.EntityObs) world.BlockPos {
	return world.BlockPos{X: e.Pos[0], Y: e.Pos[1], Z: e.Pos[2]}
}

func isContainerKind(kind string) bool {
	return kind == "CHEST" || kind == "TRAPPED_CHEST"
}

func sortedIDs(m map[string]protocol.EntityObs) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
