package discovery

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServiceEntry(t *testing.T) {
	tests := []struct {
		name  string
		entry *zeroconf.ServiceEntry
		want  *Bridge
	}{
		{
			name: "ipv4 with txt",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "lab"},
				Port:          8765,
				AddrIPv4:      []net.IP{net.ParseIP("192.168.1.20")},
				Text:          []string{"session=abc", "topic=/eeg/telemetry", "junk"},
			},
			want: &Bridge{
				Instance: "lab",
				Host:     "192.168.1.20",
				Port:     8765,
				Session:  "abc",
				Topic:    "/eeg/telemetry",
				Metadata: map[string]string{"session": "abc", "topic": "/eeg/telemetry"},
			},
		},
		{
			name: "ipv6 fallback",
			entry: &zeroconf.ServiceEntry{
				ServiceRecord: zeroconf.ServiceRecord{Instance: "desk"},
				Port:          9000,
				AddrIPv6:      []net.IP{net.ParseIP("fe80::1")},
			},
			want: &Bridge{
				Instance: "desk",
				Host:     "fe80::1",
				Port:     9000,
				Metadata: map[string]string{},
			},
		},
		{
			name:  "no address",
			entry: &zeroconf.ServiceEntry{Port: 8765},
		},
		{
			name:  "no port",
			entry: &zeroconf.ServiceEntry{AddrIPv4: []net.IP{net.ParseIP("10.0.0.1")}},
		},
		{
			name: "nil entry",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseServiceEntry(tt.entry))
		})
	}
}

func TestBridgeURL(t *testing.T) {
	assert.Equal(t, "ws://10.0.0.4:8765", (&Bridge{Host: "10.0.0.4", Port: 8765}).URL())
	assert.Equal(t, "ws://[fe80::1]:8765", (&Bridge{Host: "fe80::1", Port: 8765}).URL())
}

func TestPortFromAddr(t *testing.T) {
	port, err := PortFromAddr("127.0.0.1:8765")
	require.NoError(t, err)
	assert.Equal(t, 8765, port)

	port, err = PortFromAddr(":9102")
	require.NoError(t, err)
	assert.Equal(t, 9102, port)

	for _, bad := range []string{"localhost", "host:0", "host:http", "host:70000"} {
		_, err := PortFromAddr(bad)
		assert.Error(t, err, bad)
	}
}

func TestTXTRecordsSkipEmpty(t *testing.T) {
	assert.Empty(t, Advertisement{}.txtRecords())
	assert.Equal(t, []string{"session=s1", "topic=/t"}, Advertisement{Session: "s1", Topic: "/t"}.txtRecords())
}
