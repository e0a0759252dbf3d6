// Package discovery advertises the foxglove bridge over mDNS and finds
// bridges run by other instances.
package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"brainlink/pkg/logging"
)

const (
	// ServiceType is the DNS-SD type used for the websocket bridge.
	ServiceType   = "_brainlink-ws._tcp"
	ServiceDomain = "local."

	DefaultScanTimeout = 3 * time.Second

	txtSession = "session"
	txtTopic   = "topic"
)

// Bridge is a bridge found on the local network.
type Bridge struct {
	Instance string
	Host     string
	Port     int
	Session  string
	Topic    string
	Metadata map[string]string
}

// URL is the websocket address a foxglove client connects to.
func (b *Bridge) URL() string {
	return "ws://" + net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
}

// Advertisement is the information published for one bridge.
type Advertisement struct {
	Instance string
	Addr     string
	Session  string
	Topic    string
}

// Advertise registers the bridge and keeps it registered until ctx is done.
func Advertise(ctx context.Context, ad Advertisement) error {
	port, err := PortFromAddr(ad.Addr)
	if err != nil {
		return err
	}

	server, err := zeroconf.Register(ad.Instance, ServiceType, ServiceDomain, port, ad.txtRecords(), nil)
	if err != nil {
		return fmt.Errorf("register mDNS service: %w", err)
	}
	logging.Info("advertising bridge over mDNS",
		zap.String("instance", ad.Instance),
		zap.Int("port", port),
	)

	<-ctx.Done()
	server.Shutdown()
	return nil
}

func (ad Advertisement) txtRecords() []string {
	var txt []string
	if ad.Session != "" {
		txt = append(txt, txtSession+"="+ad.Session)
	}
	if ad.Topic != "" {
		txt = append(txt, txtTopic+"="+ad.Topic)
	}
	return txt
}

// PortFromAddr extracts the numeric port from a host:port listen address.
func PortFromAddr(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("parse listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port in listen address %q", addr)
	}
	return port, nil
}

// Scan browses for bridges until timeout or ctx is done.
func Scan(ctx context.Context, timeout time.Duration) ([]*Bridge, error) {
	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	var (
		mu    sync.Mutex
		found []*Bridge
	)
	entries := make(chan *zeroconf.ServiceEntry)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for entry := range entries {
			if b := parseServiceEntry(entry); b != nil {
				mu.Lock()
				found = append(found, b)
				mu.Unlock()
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()
	select {
	case <-drained:
	case <-time.After(time.Second):
	}
	mu.Lock()
	defer mu.Unlock()
	return append([]*Bridge(nil), found...), nil
}

func parseServiceEntry(entry *zeroconf.ServiceEntry) *Bridge {
	if entry == nil || entry.Port == 0 {
		return nil
	}

	var host string
	for _, addr := range entry.AddrIPv4 {
		host = addr.String()
		break
	}
	if host == "" && len(entry.AddrIPv6) > 0 {
		host = entry.AddrIPv6[0].String()
	}
	if host == "" {
		return nil
	}

	metadata := make(map[string]string)
	for _, txt := range entry.Text {
		parts := strings.SplitN(txt, "=", 2)
		if len(parts) == 2 {
			metadata[parts[0]] = parts[1]
		}
	}

	return &Bridge{
		Instance: entry.Instance,
		Host:     host,
		Port:     entry.Port,
		Session:  metadata[txtSession],
		Topic:    metadata[txtTopic],
		Metadata: metadata,
	}
}
