package worldclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"

	"github.com/Delinquent-Codex/mineflayer/internal/protocol"
	"github.com/Delinquent-Codex/mineflayer/internal/voxel"
)

// fakeServer speaks just enough of the agent protocol to drive one session.
type fakeServer struct {
	t   *testing.T
	srv *httptest.Server

	hello  chan protocol.HelloMsg
	conns  chan *websocket.Conn
	acts   chan protocol.ActMsg
	schema *jsonschema.Schema

	writeMu sync.Mutex
	conn    *websocket.Conn
	tick    uint64
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	schema, err := jsonschema.Compile(filepath.Join("..", "protocol", "testdata", "act.schema.json"))
	require.NoError(t, err)

	fs := &fakeServer{
		t:      t,
		hello:  make(chan protocol.HelloMsg, 1),
		conns:  make(chan *websocket.Conn, 1),
		acts:   make(chan protocol.ActMsg, 32),
		schema: schema,
	}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			return
		}
		var hello protocol.HelloMsg
		_ = json.Unmarshal(msg, &hello)
		fs.hello <- hello
		fs.conns <- conn
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var act protocol.ActMsg
			if json.Unmarshal(msg, &act) != nil {
				continue
			}
			fs.acts <- act
		}
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http") + "/v1/ws"
}

// accept waits for the client's HELLO and takes over the connection.
func (fs *fakeServer) accept() protocol.HelloMsg {
	fs.t.Helper()
	select {
	case h := <-fs.hello:
		fs.conn = <-fs.conns
		fs.t.Cleanup(func() { _ = fs.conn.Close() })
		return h
	case <-time.After(2 * time.Second):
		fs.t.Fatal("no HELLO received")
		return protocol.HelloMsg{}
	}
}

func (fs *fakeServer) send(v any) {
	fs.writeMu.Lock()
	defer fs.writeMu.Unlock()
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	_ = fs.conn.WriteMessage(websocket.TextMessage, b)
}

func (fs *fakeServer) sendRaw(s string) {
	fs.writeMu.Lock()
	defer fs.writeMu.Unlock()
	_ = fs.conn.WriteMessage(websocket.TextMessage, []byte(s))
}

func (fs *fakeServer) kick(reason string) {
	fs.writeMu.Lock()
	defer fs.writeMu.Unlock()
	_ = fs.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(time.Second))
}

// obs sends an observation with the next tick.
func (fs *fakeServer) obs(o protocol.ObsMsg) {
	fs.writeMu.Lock()
	fs.tick++
	o.Tick = fs.tick
	fs.writeMu.Unlock()
	o.Type = protocol.TypeObs
	o.ProtocolVersion = protocol.Version
	o.AgentID = "A1"
	fs.send(o)
}

// nextAct returns the next ACT the client sent, validated against the schema.
func (fs *fakeServer) nextAct(timeout time.Duration) (protocol.ActMsg, bool) {
	select {
	case act := <-fs.acts:
		b, _ := json.Marshal(act)
		var v any
		_ = json.Unmarshal(b, &v)
		if err := fs.schema.Validate(v); err != nil {
			fs.t.Errorf("invalid ACT %s: %v", b, err)
		}
		return act, true
	case <-time.After(timeout):
		return protocol.ActMsg{}, false
	}
}

// respond answers every ACT with the observations reply returns, until the
// test ends. n counts ACTs from zero.
func (fs *fakeServer) respond(reply func(n int, act protocol.ActMsg) [][]protocol.Event) *actLog {
	log := &actLog{}
	done := make(chan struct{})
	stopped := make(chan struct{})
	fs.t.Cleanup(func() {
		close(done)
		<-stopped
	})
	go func() {
		defer close(stopped)
		for n := 0; ; n++ {
			var act protocol.ActMsg
			select {
			case <-done:
				return
			case act = <-fs.acts:
			}
			log.add(act)
			for _, events := range reply(n, act) {
				fs.obs(protocol.ObsMsg{Events: events})
			}
		}
	}()
	return log
}

type actLog struct {
	mu   sync.Mutex
	acts []protocol.ActMsg
}

func (l *actLog) add(a protocol.ActMsg) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acts = append(l.acts, a)
}

func (l *actLog) all() []protocol.ActMsg {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]protocol.ActMsg(nil), l.acts...)
}

func accepted(act protocol.ActMsg, taskID string) protocol.Event {
	return protocol.Event{"type": protocol.EventActionResult, "ref": act.Tasks[0].ID, "ok": true, "task_id": taskID}
}

func rejected(act protocol.ActMsg, code, msg string) protocol.Event {
	return protocol.Event{"type": protocol.EventActionResult, "ref": act.Tasks[0].ID, "ok": false, "code": code, "message": msg}
}

func taskDone(taskID string) protocol.Event {
	return protocol.Event{"type": protocol.EventTaskDone, "task_id": taskID}
}

func taskFail(taskID, code, msg string) protocol.Event {
	return protocol.Event{"type": protocol.EventTaskFail, "task_id": taskID, "code": code, "message": msg}
}

var blockPalette = []string{"AIR", "STONE", "CHEST"}

// fullView encodes a radius-1 cube around center: stone below, a chest east
// of the center, air elsewhere.
func fullView(center [3]int) protocol.VoxelsObs {
	ids := make([]uint16, 27)
	i := 0
	for dy := -1; dy <= 1; dy++ {
		for dz := -1; dz <= 1; dz++ {
			for dx := -1; dx <= 1; dx++ {
				switch {
				case dy == -1:
					ids[i] = 1
				case dy == 0 && dz == 0 && dx == 1:
					ids[i] = 2
				}
				i++
			}
		}
	}
	return protocol.VoxelsObs{Center: center, Radius: 1, Encoding: voxel.EncodingRLE, Data: voxel.EncodeRLE(ids)}
}

func emptyDelta(center [3]int) protocol.VoxelsObs {
	return protocol.VoxelsObs{Center: center, Radius: 1, Encoding: voxel.EncodingDelta}
}

func catalog(name string, data any) protocol.CatalogMsg {
	b, _ := json.Marshal(data)
	return protocol.CatalogMsg{
		Type:            protocol.TypeCatalog,
		ProtocolVersion: protocol.Version,
		Name:            name,
		Digest:          "d-" + name,
		Part:            1,
		TotalParts:      1,
		Data:            b,
	}
}

// handshake sends WELCOME and the catalogs the client consumes.
func (fs *fakeServer) handshake() {
	fs.send(protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		AgentID:         "A1",
		ResumeToken:     "resume",
		WorldParams:     protocol.WorldParams{TickRateHz: 5, ObsRadius: 1, Seed: 7},
	})
	fs.send(catalog(protocol.CatalogBlockPalette, blockPalette))
	fs.send(catalog(protocol.CatalogItemPalette, []string{"A", "B"}))
	fs.send(catalog(protocol.CatalogItemTags, map[string][]string{"wool": {"A"}}))
}

type recorder struct {
	spawned chan *Client
	ended   chan error

	mu     sync.Mutex
	kicked []string
	errs   []error
}

func newRecorder() *recorder {
	return &recorder{spawned: make(chan *Client, 4), ended: make(chan error, 1)}
}

func (r *recorder) OnSpawn(c *Client) { r.spawned <- c }
func (r *recorder) OnEnd(err error)   { r.ended <- err }

func (r *recorder) OnKicked(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kicked = append(r.kicked, reason)
}

func (r *recorder) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) Kicked() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.kicked...)
}

func (r *recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *recorder) waitSpawn(t *testing.T) *Client {
	t.Helper()
	select {
	case c := <-r.spawned:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("session never spawned")
		return nil
	}
}

func (r *recorder) waitEnd(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.ended:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("session never ended")
		return nil
	}
}

// session dials fs and runs the client until the test ends.
func session(t *testing.T, fs *fakeServer, cfg Config) (*Client, *recorder, context.CancelFunc) {
	t.Helper()
	cfg.URL = fs.url()
	if cfg.AgentName == "" {
		cfg.AgentName = "SorterBot"
	}
	if cfg.TaskTimeout == 0 {
		cfg.TaskTimeout = 2 * time.Second
	}
	c, err := Dial(context.Background(), cfg)
	require.NoError(t, err)
	fs.accept()

	rec := newRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = c.Run(ctx, rec)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-runDone:
		case <-time.After(2 * time.Second):
			t.Error("Run did not return")
		}
	})
	return c, rec, cancel
}
