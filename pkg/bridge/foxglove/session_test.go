package foxglove_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"brainlink/pkg/bridge/foxglove"
	"brainlink/pkg/engine"
	"brainlink/pkg/protocol"
)

type foxgloveSession struct {
	hub      *engine.Hub
	srv      *foxglove.Server
	conn     *websocket.Conn
	channels map[string]foxglove.Channel
	session  string
}

func startFoxgloveSession(t *testing.T, cfg foxglove.Config) *foxgloveSession {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen free port: %v", err)
	}
	cfg.WSAddr = ln.Addr().String()
	_ = ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	hub := engine.NewHub()
	go hub.Run(ctx)

	srv := foxglove.NewServer(cfg, hub)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(ctx)
	}()

	dialURL := url.URL{Scheme: "ws", Host: cfg.WSAddr, Path: "/"}
	dialer := websocket.Dialer{Subprotocols: []string{foxglove.Subprotocol}}

	var conn *websocket.Conn
	for i := 0; i < 80; i++ {
		conn, _, err = dialer.Dial(dialURL.String(), nil)
		if err == nil {
			break
		}
		time.Sleep(25 * time.Millisecond)
	}
	if err != nil {
		cancel()
		t.Fatalf("dial foxglove websocket: %v", err)
	}

	_, infoRaw, err := readWSMessage(conn)
	if err != nil {
		cancel()
		_ = conn.Close()
		t.Fatalf("read serverInfo: %v", err)
	}
	var info foxglove.ServerInfoMsg
	if err := json.Unmarshal(infoRaw, &info); err != nil || info.Op != foxglove.OpServerInfo {
		cancel()
		_ = conn.Close()
		t.Fatalf("unexpected serverInfo: %s (%v)", infoRaw, err)
	}

	_, advRaw, err := readWSMessage(conn)
	if err != nil {
		cancel()
		_ = conn.Close()
		t.Fatalf("read advertise: %v", err)
	}
	var adv foxglove.AdvertiseMsg
	if err := json.Unmarshal(advRaw, &adv); err != nil {
		cancel()
		_ = conn.Close()
		t.Fatalf("decode advertise json: %v", err)
	}

	channels := make(map[string]foxglove.Channel, len(adv.Channels))
	for _, ch := range adv.Channels {
		channels[ch.Topic] = ch
	}

	t.Cleanup(func() {
		_ = conn.Close()
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				t.Fatalf("foxglove server run error: %v", err)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting foxglove server shutdown")
		}
	})

	return &foxgloveSession{
		hub:      hub,
		srv:      srv,
		conn:     conn,
		channels: channels,
		session:  info.SessionID,
	}
}

func readWSMessage(conn *websocket.Conn) (int, []byte, error) {
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, raw, err := conn.ReadMessage()
	_ = conn.SetReadDeadline(time.Time{})
	return msgType, raw, err
}

func subscribeChannel(t *testing.T, conn *websocket.Conn, subID uint32, channelID uint64) {
	t.Helper()
	msg := foxglove.SubscribeMsg{
		Op: foxglove.OpSubscribe,
		Subscriptions: []foxglove.Subscription{
			{ID: subID, ChannelID: channelID},
		},
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("subscribe channel %d: %v", channelID, err)
	}
	// Subscriptions are applied asynchronously.
	time.Sleep(20 * time.Millisecond)
}

func readBinaryPayloadForSubID(t *testing.T, conn *websocket.Conn, subID uint32) []byte {
	t.Helper()
	for i := 0; i < 40; i++ {
		msgType, frame, err := readWSMessage(conn)
		if err != nil {
			t.Fatalf("read messageData frame: %v", err)
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		if len(frame) < 13 || frame[0] != foxglove.BinaryOpMessageData {
			continue
		}
		if binary.LittleEndian.Uint32(frame[1:5]) != subID {
			continue
		}
		payload := make([]byte, len(frame[13:]))
		copy(payload, frame[13:])
		return payload
	}
	t.Fatalf("did not receive messageData for subscription id %d", subID)
	return nil
}

func TestFoxgloveAdvertisesChannels(t *testing.T) {
	cfg := foxglove.DefaultConfig()
	s := startFoxgloveSession(t, cfg)

	for _, topic := range []string{cfg.Topic, cfg.RawTopic, cfg.LogTopic} {
		if _, ok := s.channels[topic]; !ok {
			t.Fatalf("missing advertised topic: %s", topic)
		}
	}
	if s.session != s.srv.SessionID() {
		t.Fatalf("serverInfo session %q does not match %q", s.session, s.srv.SessionID())
	}
}

func TestFoxglovePublishesTelemetry(t *testing.T) {
	cfg := foxglove.DefaultConfig()
	s := startFoxgloveSession(t, cfg)
	subscribeChannel(t, s.conn, 21, s.channels[cfg.Topic].ID)

	s.hub.Publish(protocol.Sample{
		Seq:       3,
		Timestamp: time.Unix(100, 5),
		ParseOK:   true,
		Record:    protocol.TelemetryRecord{SignalQuality: 200, Focus: 50, RawEEG: 512},
	})

	payload := readBinaryPayloadForSubID(t, s.conn, 21)
	var msg foxglove.TelemetryMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("decode telemetry payload: %v", err)
	}
	if msg.Seq != 3 || msg.Focus != 50 || msg.Raw != 512 || msg.SignalQuality != 200 {
		t.Fatalf("unexpected telemetry: %+v", msg)
	}
	if msg.Timestamp.Sec != 100 || msg.Timestamp.Nsec != 5 {
		t.Fatalf("unexpected timestamp: %+v", msg.Timestamp)
	}
}

func TestFoxgloveLogsParseFailures(t *testing.T) {
	cfg := foxglove.DefaultConfig()
	s := startFoxgloveSession(t, cfg)
	subscribeChannel(t, s.conn, 31, s.channels[cfg.LogTopic].ID)

	s.hub.Publish(protocol.Sample{Seq: 9, Timestamp: time.Unix(5, 0), ParseOK: false})

	payload := readBinaryPayloadForSubID(t, s.conn, 31)
	var msg foxglove.LogMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("decode log payload: %v", err)
	}
	if msg.Level != 3 {
		t.Fatalf("expected warning level, got %d", msg.Level)
	}
	if !strings.Contains(msg.Message, "packet 9") {
		t.Fatalf("unexpected log message: %q", msg.Message)
	}
}

func TestFoxgloveIgnoresUnknownChannelSubscription(t *testing.T) {
	cfg := foxglove.DefaultConfig()
	s := startFoxgloveSession(t, cfg)
	subscribeChannel(t, s.conn, 41, 999)
	subscribeChannel(t, s.conn, 42, s.channels[cfg.RawTopic].ID)

	s.hub.Publish(protocol.Sample{Seq: 1, Timestamp: time.Unix(7, 0), ParseOK: true, Record: protocol.TelemetryRecord{RawEEG: 77}})

	payload := readBinaryPayloadForSubID(t, s.conn, 42)
	var msg foxglove.RawMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("decode raw payload: %v", err)
	}
	if msg.Value != 77 {
		t.Fatalf("unexpected raw value: %d", msg.Value)
	}
}

func TestFoxgloveTracksConnectedClients(t *testing.T) {
	s := startFoxgloveSession(t, foxglove.DefaultConfig())
	if got := s.srv.Clients(); got != 1 {
		t.Fatalf("expected 1 connected client, got %d", got)
	}

	_ = s.conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for s.srv.Clients() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client still registered after disconnect: %d", s.srv.Clients())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
