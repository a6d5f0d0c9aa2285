package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/abyssgrid/gridmarket/internal/types"
	"github.com/abyssgrid/gridmarket/pkg/logger"
)

const (
	msgHello           = "hello"
	msgComputeRequest  = "compute_request"
	msgComputeResponse = "compute_response"

	writeTimeout   = 10 * time.Second
	helloTimeout   = 5 * time.Second
	maxMessageSize = 4 << 20
)

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type helloPayload struct {
	PeerID       string  `json:"peerId"`
	ComputeScore float64 `json:"computeScore"`
}

type wsPeer struct {
	info types.PeerInfo
	conn *websocket.Conn

	writeMu sync.Mutex
}

func (p *wsPeer) writeJSON(v interface{}) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return p.conn.WriteJSON(v)
}

// WSTransport is a websocket peer mesh. Each connection starts with a hello
// exchange identifying the peer and its compute score; after that both sides
// exchange compute requests and responses symmetrically.
type WSTransport struct {
	selfID   string
	score    float64
	log      *logger.Logger
	limiter  *rate.Limiter
	upgrader websocket.Upgrader

	mu         sync.RWMutex
	peers      map[string]*wsPeer
	onRequest  RequestHandler
	onResponse ResponseHandler
	closed     bool
}

// NewWSTransport creates a websocket transport identifying as selfID.
// msgRate bounds inbound messages per second across all peers.
func NewWSTransport(selfID string, computeScore float64, msgRate float64, log *logger.Logger) *WSTransport {
	return &WSTransport{
		selfID:  selfID,
		score:   computeScore,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(msgRate), int(msgRate)),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		peers: make(map[string]*wsPeer),
	}
}

// SelfID returns this transport's peer id.
func (t *WSTransport) SelfID() string { return t.selfID }

// Peers lists currently connected peers.
func (t *WSTransport) Peers() []types.PeerInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	peers := make([]types.PeerInfo, 0, len(t.peers))
	for _, p := range t.peers {
		peers = append(peers, p.info)
	}
	return peers
}

// OnRequest installs the inbound request handler.
func (t *WSTransport) OnRequest(h RequestHandler) {
	t.mu.Lock()
	t.onRequest = h
	t.mu.Unlock()
}

// OnResponse installs the inbound response handler.
func (t *WSTransport) OnResponse(h ResponseHandler) {
	t.mu.Lock()
	t.onResponse = h
	t.mu.Unlock()
}

func (t *WSTransport) peer(peerID string) *wsPeer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.peers[peerID]
}

func (t *WSTransport) send(peerID, msgType string, payload interface{}) error {
	p := t.peer(peerID)
	if p == nil {
		return types.ErrTransportFailed.Wrapf("peer %s not connected", peerID)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return types.ErrTransportFailed.Wrapf("encode %s: %v", msgType, err)
	}
	if err := p.writeJSON(envelope{Type: msgType, Payload: raw}); err != nil {
		t.dropPeer(peerID)
		return types.ErrTransportFailed.Wrapf("write to %s: %v", peerID, err)
	}
	return nil
}

// Send dispatches a compute request to a connected peer.
func (t *WSTransport) Send(_ context.Context, peerID string, req *types.ComputeRequest) error {
	return t.send(peerID, msgComputeRequest, req)
}

// SendResponse returns a compute response to the requesting peer.
func (t *WSTransport) SendResponse(_ context.Context, peerID string, resp *types.ComputeResponse) error {
	return t.send(peerID, msgComputeResponse, resp)
}

// ServeHTTP accepts inbound peer connections. Mount it on the node's /ws route.
func (t *WSTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.log.Warn("websocket upgrade failed", "error", err.Error())
		return
	}
	go t.handshake(conn, false)
}

// Connect dials a peer's /ws endpoint and performs the hello exchange.
func (t *WSTransport) Connect(ctx context.Context, url string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return types.ErrTransportFailed.Wrapf("dial %s: %v", url, err)
	}
	go t.handshake(conn, true)
	return nil
}

// handshake runs the hello exchange. The dialer speaks first.
func (t *WSTransport) handshake(conn *websocket.Conn, dialer bool) {
	conn.SetReadLimit(maxMessageSize)

	hello := envelope{Type: msgHello}
	hello.Payload, _ = json.Marshal(helloPayload{PeerID: t.selfID, ComputeScore: t.score})

	if dialer {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(hello); err != nil {
			conn.Close()
			return
		}
	}

	conn.SetReadDeadline(time.Now().Add(helloTimeout))
	var env envelope
	if err := conn.ReadJSON(&env); err != nil || env.Type != msgHello {
		t.log.Warn("peer handshake failed")
		conn.Close()
		return
	}
	var peerHello helloPayload
	if err := json.Unmarshal(env.Payload, &peerHello); err != nil || peerHello.PeerID == "" {
		conn.Close()
		return
	}

	if !dialer {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(hello); err != nil {
			conn.Close()
			return
		}
	}

	p := &wsPeer{
		info: types.PeerInfo{PeerID: peerHello.PeerID, ComputeScore: peerHello.ComputeScore},
		conn: conn,
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.Close()
		return
	}
	if old, ok := t.peers[peerHello.PeerID]; ok {
		old.conn.Close()
	}
	t.peers[peerHello.PeerID] = p
	t.mu.Unlock()

	t.log.Info("peer connected", "peer_id", peerHello.PeerID, "compute_score", peerHello.ComputeScore)
	t.readLoop(p)
}

func (t *WSTransport) readLoop(p *wsPeer) {
	defer t.dropPeer(p.info.PeerID)
	for {
		p.conn.SetReadDeadline(time.Time{})
		var env envelope
		if err := p.conn.ReadJSON(&env); err != nil {
			return
		}
		if !t.limiter.Allow() {
			t.log.Warn("dropping message over rate limit", "peer_id", p.info.PeerID)
			continue
		}

		switch env.Type {
		case msgComputeRequest:
			var req types.ComputeRequest
			if err := json.Unmarshal(env.Payload, &req); err != nil {
				t.log.Warn("malformed compute request", "peer_id", p.info.PeerID)
				continue
			}
			t.mu.RLock()
			h := t.onRequest
			t.mu.RUnlock()
			if h != nil {
				go h(context.Background(), p.info.PeerID, &req)
			}
		case msgComputeResponse:
			var resp types.ComputeResponse
			if err := json.Unmarshal(env.Payload, &resp); err != nil {
				t.log.Warn("malformed compute response", "peer_id", p.info.PeerID)
				continue
			}
			t.mu.RLock()
			h := t.onResponse
			t.mu.RUnlock()
			if h != nil {
				go h(&resp)
			}
		default:
			t.log.Debug("ignoring message", "type", env.Type, "peer_id", p.info.PeerID)
		}
	}
}

func (t *WSTransport) dropPeer(peerID string) {
	t.mu.Lock()
	p, ok := t.peers[peerID]
	if ok {
		delete(t.peers, peerID)
	}
	t.mu.Unlock()
	if ok {
		p.conn.Close()
		t.log.Info("peer disconnected", "peer_id", peerID)
	}
}

// Close disconnects all peers and rejects new connections.
func (t *WSTransport) Close() {
	t.mu.Lock()
	t.closed = true
	peers := t.peers
	t.peers = make(map[string]*wsPeer)
	t.mu.Unlock()
	for _, p := range peers {
		p.conn.Close()
	}
}

var _ Transport = (*WSTransport)(nil)
