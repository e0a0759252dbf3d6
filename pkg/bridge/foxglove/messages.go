package foxglove

import (
	"encoding/binary"
	"time"

	"brainlink/pkg/protocol"
)

const (
	OpServerInfo  = "serverInfo"
	OpAdvertise   = "advertise"
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"

	BinaryOpMessageData = 0x01

	Subprotocol = "foxglove.websocket.v1"
)

type ServerInfoMsg struct {
	Op                 string            `json:"op"`
	Name               string            `json:"name"`
	Capabilities       []string          `json:"capabilities"`
	SupportedEncodings []string          `json:"supportedEncodings,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	SessionID          string            `json:"sessionId,omitempty"`
}

// Channel is one advertised topic.
type Channel struct {
	ID             uint64 `json:"id"`
	Topic          string `json:"topic"`
	Encoding       string `json:"encoding"`
	SchemaName     string `json:"schemaName"`
	SchemaEncoding string `json:"schemaEncoding,omitempty"`
	Schema         string `json:"schema,omitempty"`
}

type AdvertiseMsg struct {
	Op       string    `json:"op"`
	Channels []Channel `json:"channels"`
}

type Subscription struct {
	ID        uint32 `json:"id"`
	ChannelID uint64 `json:"channelId"`
}

type SubscribeMsg struct {
	Op            string         `json:"op"`
	Subscriptions []Subscription `json:"subscriptions"`
}

type UnsubscribeMsg struct {
	Op              string   `json:"op"`
	SubscriptionIDs []uint32 `json:"subscriptionIds"`
}

// EncodeMessageData frames payload as a binary messageData op.
func EncodeMessageData(subscriptionID uint32, logTime uint64, payload []byte) []byte {
	out := make([]byte, 1+4+8+len(payload))
	out[0] = BinaryOpMessageData
	binary.LittleEndian.PutUint32(out[1:5], subscriptionID)
	binary.LittleEndian.PutUint64(out[5:13], logTime)
	copy(out[13:], payload)
	return out
}

// FrameTime is the {sec, nsec} stamp used by foxglove schemas.
type FrameTime struct {
	Sec  uint32 `json:"sec"`
	Nsec uint32 `json:"nsec"`
}

func frameTime(ts time.Time) FrameTime {
	return FrameTime{Sec: uint32(ts.Unix()), Nsec: uint32(ts.Nanosecond())}
}

type TelemetryMessage struct {
	Timestamp     FrameTime           `json:"timestamp"`
	Seq           uint64              `json:"seq"`
	ParseOK       bool                `json:"parse_ok"`
	SignalQuality uint8               `json:"signal_quality"`
	Focus         int8                `json:"focus"`
	Meditation    int8                `json:"meditation"`
	Raw           uint16              `json:"raw"`
	Bands         protocol.PowerBands `json:"bands"`
}

type RawMessage struct {
	Timestamp FrameTime `json:"timestamp"`
	Value     uint16    `json:"value"`
}

// LogMessage follows foxglove.Log.
type LogMessage struct {
	Timestamp FrameTime `json:"timestamp"`
	Level     uint8     `json:"level"`
	Message   string    `json:"message"`
	Name      string    `json:"name"`
	File      string    `json:"file"`
	Line      uint32    `json:"line"`
}
