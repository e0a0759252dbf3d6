package foxglove

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"brainlink/pkg/analysis"
	"brainlink/pkg/engine"
	"brainlink/pkg/logging"
	"brainlink/pkg/protocol"
)

const (
	logLevelInfo    = 2
	logLevelWarning = 3
)

type Server struct {
	cfg       Config
	hub       *engine.Hub
	sessionID string
	clients   map[*client]struct{}
	mu        sync.RWMutex
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	subs map[uint32]uint64
	mu   sync.RWMutex
	once sync.Once
}

func NewServer(cfg Config, hub *engine.Hub) *Server {
	return &Server{
		cfg:       cfg.withDefaults(),
		hub:       hub,
		sessionID: uuid.NewString(),
		clients:   make(map[*client]struct{}),
	}
}

func (s *Server) SessionID() string {
	return s.sessionID
}

func (s *Server) Addr() string {
	return s.cfg.WSAddr
}

// Clients returns the number of connected websocket clients.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)

	httpServer := &http.Server{
		Addr:              s.cfg.WSAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if s.hub != nil {
		sub := s.hub.Subscribe()
		go s.broadcastLoop(ctx, sub)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	logging.Info("foxglove bridge listening",
		zap.String("addr", s.cfg.WSAddr),
		zap.String("session", s.sessionID),
	)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = httpServer.Shutdown(shutdownCtx)
		cancel()
		for _, c := range s.snapshotClients() {
			c.close()
		}
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("foxglove listen %s: %w", s.cfg.WSAddr, err)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		Subprotocols: []string{Subprotocol},
		CheckOrigin: func(*http.Request) bool {
			return true
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newClient(conn, s.cfg.SendBuf)
	s.addClient(c)
	logging.Debug("foxglove client connected", zap.String("remote", r.RemoteAddr))

	if err := conn.WriteJSON(s.serverInfo()); err != nil {
		c.close()
		s.removeClient(c)
		return
	}
	if err := conn.WriteJSON(s.advertise()); err != nil {
		c.close()
		s.removeClient(c)
		return
	}

	go c.writeLoop()
	c.readLoop(s.supportedChannels())

	c.close()
	s.removeClient(c)
	logging.Debug("foxglove client disconnected", zap.String("remote", r.RemoteAddr))
}

func (s *Server) supportedChannels() map[uint64]struct{} {
	return map[uint64]struct{}{
		s.cfg.ChannelID:    {},
		s.cfg.RawChannelID: {},
		s.cfg.LogChannelID: {},
	}
}

func (s *Server) serverInfo() ServerInfoMsg {
	return ServerInfoMsg{
		Op:                 OpServerInfo,
		Name:               s.cfg.Name,
		Capabilities:       []string{},
		SupportedEncodings: []string{},
		SessionID:          s.sessionID,
	}
}

func (s *Server) advertise() AdvertiseMsg {
	return AdvertiseMsg{Op: OpAdvertise, Channels: []Channel{
		{
			ID:             s.cfg.ChannelID,
			Topic:          s.cfg.Topic,
			Encoding:       "json",
			SchemaName:     "brainlink.Telemetry",
			SchemaEncoding: "jsonschema",
			Schema:         TelemetrySchema,
		},
		{
			ID:             s.cfg.RawChannelID,
			Topic:          s.cfg.RawTopic,
			Encoding:       "json",
			SchemaName:     "brainlink.RawEEG",
			SchemaEncoding: "jsonschema",
			Schema:         RawSchema,
		},
		{
			ID:             s.cfg.LogChannelID,
			Topic:          s.cfg.LogTopic,
			Encoding:       "json",
			SchemaName:     "foxglove.Log",
			SchemaEncoding: "jsonschema",
			Schema:         LogSchema,
		},
	}}
}

func (s *Server) broadcastLoop(ctx context.Context, sub <-chan protocol.Sample) {
	for {
		select {
		case <-ctx.Done():
			return
		case sample, ok := <-sub:
			if !ok {
				return
			}
			s.broadcastSample(sample)
		}
	}
}

func (s *Server) broadcastSample(sample protocol.Sample) {
	ts := sample.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	s.publishJSONToChannel(s.cfg.ChannelID, ts, telemetryFromSample(sample, ts))
	s.publishJSONToChannel(s.cfg.RawChannelID, ts, RawMessage{
		Timestamp: frameTime(ts),
		Value:     sample.Record.RawEEG,
	})
	if !sample.ParseOK {
		s.publishJSONToChannel(s.cfg.LogChannelID, ts, s.logMessage(ts, logLevelWarning,
			fmt.Sprintf("packet %d contained an unknown payload code", sample.Seq)))
	}
}

// PublishDecision reports a focus trigger on the log channel.
func (s *Server) PublishDecision(dec analysis.Decision, ts time.Time) {
	if !dec.Triggered {
		return
	}
	s.publishJSONToChannel(s.cfg.LogChannelID, ts, s.logMessage(ts, logLevelInfo,
		fmt.Sprintf("focus trigger #%d: sample avg %.2f over window avg %d",
			dec.Count, dec.SampleAverage, dec.FullAverage)))
}

func telemetryFromSample(sample protocol.Sample, ts time.Time) TelemetryMessage {
	return TelemetryMessage{
		Timestamp:     frameTime(ts),
		Seq:           sample.Seq,
		ParseOK:       sample.ParseOK,
		SignalQuality: sample.Record.SignalQuality,
		Focus:         sample.Record.Focus,
		Meditation:    sample.Record.Meditation,
		Raw:           sample.Record.RawEEG,
		Bands:         sample.Record.PowerBands,
	}
}

func (s *Server) logMessage(ts time.Time, level uint8, text string) LogMessage {
	return LogMessage{
		Timestamp: frameTime(ts),
		Level:     level,
		Message:   text,
		Name:      s.cfg.LogName,
	}
}

func (s *Server) publishJSONToChannel(channelID uint64, ts time.Time, message any) {
	payload, err := json.Marshal(message)
	if err != nil {
		logging.Warn("foxglove marshal failed", zap.Uint64("channel", channelID), zap.Error(err))
		return
	}

	logTime := uint64(ts.UnixNano())
	for _, c := range s.snapshotClients() {
		for _, subID := range c.subIDsForChannel(channelID) {
			c.trySend(EncodeMessageData(subID, logTime, payload))
		}
	}
}

func (s *Server) addClient(c *client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func (s *Server) snapshotClients() []*client {
	s.mu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()
	return clients
}

func newClient(conn *websocket.Conn, sendBuf int) *client {
	if sendBuf <= 0 {
		sendBuf = DefaultConfig().SendBuf
	}
	return &client{
		conn: conn,
		send: make(chan []byte, sendBuf),
		subs: make(map[uint32]uint64),
	}
}

func (c *client) readLoop(supportedChannels map[uint64]struct{}) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var header struct {
			Op string `json:"op"`
		}
		if err := json.Unmarshal(data, &header); err != nil {
			continue
		}

		switch header.Op {
		case OpSubscribe:
			var msg SubscribeMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			for _, sub := range msg.Subscriptions {
				if _, ok := supportedChannels[sub.ChannelID]; ok {
					c.addSub(sub.ID, sub.ChannelID)
				}
			}
		case OpUnsubscribe:
			var msg UnsubscribeMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			for _, id := range msg.SubscriptionIDs {
				c.removeSub(id)
			}
		}
	}
}

func (c *client) writeLoop() {
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			c.close()
			return
		}
	}
}

// trySend drops the frame when the client is behind or already closed.
func (c *client) trySend(msg []byte) {
	defer func() {
		_ = recover()
	}()
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) addSub(id uint32, channelID uint64) {
	c.mu.Lock()
	c.subs[id] = channelID
	c.mu.Unlock()
}

func (c *client) removeSub(id uint32) {
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
}

func (c *client) subIDsForChannel(channelID uint64) []uint32 {
	c.mu.RLock()
	ids := make([]uint32, 0, len(c.subs))
	for id, ch := range c.subs {
		if ch == channelID {
			ids = append(ids, id)
		}
	}
	c.mu.RUnlock()
	return ids
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
		_ = c.conn.Close()
	})
}
