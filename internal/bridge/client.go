package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"

	"omegartc/native/internal/config"
	"omegartc/native/internal/domain"
	"omegartc/native/internal/events"
	"omegartc/native/internal/registry"
	"omegartc/native/internal/signal"
)

var errUnknownMethod = errors.New("unknown method")

// client is one host runtime connected to the bridge.
type client struct {
	id     string
	conn   *websocket.Conn
	srv    *Server
	facade *signal.Facade
	log    logging.LeveledLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once

	subsMu sync.Mutex
	subs   map[string]events.Subscription
}

func newClient(id string, conn *websocket.Conn, srv *Server) *client {
	ctx, cancel := context.WithCancel(context.Background())
	return &client{
		id:     id,
		conn:   conn,
		srv:    srv,
		facade: srv.facade,
		log:    srv.log,
		ctx:    ctx,
		cancel: cancel,
		closed: make(chan struct{}),
		subs:   make(map[string]events.Subscription),
	}
}

// Close shuts down the socket and drops the client's subscriptions.
func (c *client) Close() {
	c.closeOnce.Do(c.close)
}

func (c *client) close() {
	close(c.closed)
	c.cancel()
	c.conn.Close()

	c.subsMu.Lock()
	subs := c.subs
	c.subs = make(map[string]events.Subscription)
	c.subsMu.Unlock()
	for _, sub := range subs {
		c.facade.Unsubscribe(sub)
	}

	c.srv.remove(c)
	c.log.Infof("client %s disconnected", c.id)
}

// sendJSON writes msg within the server's write timeout. A client that
// cannot keep up is disconnected so bus publishers never stall on it.
func (c *client) sendJSON(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Errorf("marshal error: %v", err)
		return
	}

	c.mu.Lock()
	c.log.Tracef(">>> %s", string(data))
	err = c.conn.SetWriteDeadline(time.Now().Add(c.srv.writeTimeout))
	if err == nil {
		err = c.conn.WriteMessage(websocket.TextMessage, data)
	}
	c.mu.Unlock()

	if err != nil {
		select {
		case <-c.closed:
		default:
			c.log.Warnf("write error, dropping client %s: %v", c.id, err)
			c.Close()
		}
	}
}

func (c *client) readLoop() {
	defer c.Close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.log.Debugf("read error: %v", err)
				}
			}
			return
		}

		c.log.Tracef("<<< %s", string(data))

		var req request
		if err := json.Unmarshal(data, &req); err != nil {
			c.log.Warnf("unmarshal error: %v", err)
			c.sendJSON(response{OK: false, Error: "malformed request"})
			continue
		}

		// Some calls wait on the engine; the host awaits each response.
		go c.handle(req)
	}
}

func (c *client) handle(req request) {
	result, err := c.dispatch(req)
	if err != nil {
		c.sendJSON(response{ID: req.ID, OK: false, Error: err.Error()})
		return
	}
	c.sendJSON(response{ID: req.ID, OK: true, Result: result})
}

func (c *client) dispatch(req request) (any, error) {
	f := c.facade
	ctx := c.ctx

	switch req.Method {
	case "peers", "connectedPeers", "exists", "isConnected", "offer", "answer",
		"acceptAnswer", "candidates", "acceptCandidates", "disconnect":
	default:
		return c.dispatchData(req)
	}

	mode, err := parseMode(req.Mode)
	if err != nil {
		return nil, err
	}

	switch req.Method {
	case "peers":
		return f.Peers(mode), nil
	case "connectedPeers":
		return f.ConnectedPeers(mode), nil
	case "exists":
		return f.Exists(mode, req.Peer), nil
	case "isConnected":
		return f.IsConnected(mode, req.Peer), nil
	case "offer":
		return f.Offer(ctx, mode, req.Peer, req.Name, voiceSetup(mode, req))
	case "answer":
		return f.Answer(ctx, mode, req.Peer, req.Name, req.Payload, voiceSetup(mode, req))
	case "acceptAnswer":
		return nil, f.AcceptAnswer(ctx, mode, req.Peer, req.Payload)
	case "candidates":
		return f.Candidates(ctx, mode, req.Peer)
	case "acceptCandidates":
		return nil, f.AcceptCandidates(ctx, mode, req.Peer, req.Payload)
	default: // "disconnect"
		f.Disconnect(mode, req.Peer)
		return nil, nil
	}
}

// dispatchData handles the calls that only apply to data connections.
func (c *client) dispatchData(req request) (any, error) {
	f := c.facade
	label := req.Channel
	if label == "" {
		label = registry.DefaultChannel
	}

	switch req.Method {
	case "channels":
		return f.Channels(req.Peer), nil
	case "channelExists":
		return f.ChannelExists(req.Peer, label), nil
	case "send":
		if req.Binary {
			data, err := base64.StdEncoding.DecodeString(req.Data)
			if err != nil {
				return nil, fmt.Errorf("binary data: %w", err)
			}
			return nil, f.SendBytes(c.ctx, req.Peer, label, data, req.Wait)
		}
		return nil, f.Send(c.ctx, req.Peer, label, req.Data, req.Wait)
	case "channelData":
		v, ok := f.ChannelData(req.Peer, label)
		if !ok {
			return nil, nil
		}
		return v, nil
	case "createChannel":
		ordered := true
		if req.Ordered != nil {
			ordered = *req.Ordered
		}
		return nil, f.CreateChannel(req.Peer, req.Channel, ordered)
	case "closeChannel":
		return nil, f.CloseChannel(req.Peer, req.Channel)
	case "subscribe":
		return c.subscribe(req.Peer, events.Kind(req.Topic))
	case "unsubscribe":
		return c.unsubscribe(req.Peer, events.Kind(req.Topic)), nil
	case "config":
		return wireConfig(f.Config()), nil
	case "configure":
		return c.configure(req)
	default:
		c.log.Warnf("unhandled method: %s", req.Method)
		return nil, fmt.Errorf("%w: %s", errUnknownMethod, req.Method)
	}
}

// subscribe forwards {peer}_{kind} to the client. Subscribing twice to the
// same topic keeps a single subscription.
func (c *client) subscribe(peer string, kind events.Kind) (string, error) {
	if peer == "" || kind == "" {
		return "", errors.New("subscribe needs a peer and a topic")
	}
	topic := events.Topic(peer, kind)

	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	select {
	case <-c.closed:
		return "", errors.New("client closed")
	default:
	}
	if _, ok := c.subs[topic]; ok {
		return topic, nil
	}
	c.subs[topic] = c.facade.Subscribe(peer, kind, func(args ...any) {
		c.sendJSON(event{Event: topic, Args: wireArgs(args)})
	})
	return topic, nil
}

func (c *client) unsubscribe(peer string, kind events.Kind) bool {
	topic := events.Topic(peer, kind)

	c.subsMu.Lock()
	sub, ok := c.subs[topic]
	delete(c.subs, topic)
	c.subsMu.Unlock()

	if !ok {
		return false
	}
	return c.facade.Unsubscribe(sub)
}

// configure applies the settings present in req on top of the current
// configuration. Connections that already exist keep their own copy.
func (c *client) configure(req request) (any, error) {
	cfg := c.facade.Config()
	if req.ICEServers != nil {
		cfg.ICEServers = req.ICEServers
	}
	if req.Policy != "" {
		policy, err := config.ParseRelayPolicy(req.Policy)
		if err != nil {
			return nil, err
		}
		cfg.RelayPolicy = policy
	}
	if req.Trickle != nil {
		cfg.Trickle = *req.Trickle
	}
	if err := c.facade.SetConfig(cfg); err != nil {
		return nil, err
	}
	return wireConfig(cfg), nil
}

func (c *client) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.conn.WriteControl(
				websocket.PingMessage,
				[]byte{},
				time.Now().Add(5*time.Second),
			)
			c.mu.Unlock()
			if err != nil {
				select {
				case <-c.closed:
				default:
					c.log.Debugf("ping error: %v", err)
					c.Close()
				}
				return
			}
		}
	}
}

func parseMode(s string) (domain.Mode, error) {
	if strings.TrimSpace(s) == "" {
		return domain.ModeData, nil
	}
	return domain.ParseMode(s)
}

func voiceSetup(mode domain.Mode, req request) *signal.VoiceSetup {
	if mode != domain.ModeVoice {
		return nil
	}
	return &signal.VoiceSetup{Microphone: req.Microphone}
}
