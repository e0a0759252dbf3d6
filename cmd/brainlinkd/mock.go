package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"brainlink/pkg/logging"
	"brainlink/pkg/protocol"
)

const (
	mockRawHz        = 512
	mockRawOffset    = 2048.0
	mockRawAmplitude = 400.0
	mockAlphaHz      = 10.0

	mockFocusPeriod = 40 * time.Second
	mockMeditPeriod = 55 * time.Second
)

func newMockCmd() *cobra.Command {
	var (
		addr string
		hz   int
	)
	cmd := &cobra.Command{
		Use:   "mock",
		Short: "Serve a synthetic ThinkGear stream over TCP",
		Long: `Generate raw EEG packets at the given rate plus a once-per-second summary
packet (signal quality, focus, meditation and band powers), and stream them to
every TCP client. Point 'brainlinkd serve --source tcp' at it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", addr, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "mock headset listening on %s\n", ln.Addr())
			return serveMock(cmd.Context(), ln, hz)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:7070", "TCP listen address")
	cmd.Flags().IntVar(&hz, "hz", mockRawHz, "Raw packets per second")
	return cmd
}

// serveMock accepts clients until ctx is done and streams to each one.
func serveMock(ctx context.Context, ln net.Listener, hz int) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		logging.Info("mock client connected", zap.String("remote", conn.RemoteAddr().String()))
		go func() {
			defer conn.Close()
			if err := streamMock(ctx, conn, hz); err != nil {
				logging.Debug("mock client dropped", zap.Error(err))
			}
		}()
	}
}

func streamMock(ctx context.Context, w io.Writer, hz int) error {
	if hz <= 0 {
		hz = mockRawHz
	}
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()

	start := time.Now()
	var tick int
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			t := now.Sub(start).Seconds()
			pkt, err := mockRawPacket(t)
			if err != nil {
				return err
			}
			if tick%hz == 0 {
				summary, err := mockSummaryPacket(t)
				if err != nil {
					return err
				}
				pkt = append(pkt, summary...)
			}
			if _, err := w.Write(pkt); err != nil {
				return err
			}
			tick++
		}
	}
}

// mockFocus swings between 10 and 90 over mockFocusPeriod.
func mockFocus(t float64) int8 {
	return int8(50 + 40*math.Sin(2*math.Pi*t/mockFocusPeriod.Seconds()))
}

func mockMeditation(t float64) int8 {
	return int8(50 + 40*math.Cos(2*math.Pi*t/mockMeditPeriod.Seconds()))
}

// mockRawValue is an alpha-band sine whose amplitude follows the focus level.
func mockRawValue(t float64) uint16 {
	gain := 0.5 + float64(mockFocus(t))/100
	v := mockRawOffset + mockRawAmplitude*gain*math.Sin(2*math.Pi*mockAlphaHz*t)
	return uint16(math.Round(v))
}

func mockBands(t float64) protocol.PowerBands {
	focus := float64(mockFocus(t))
	var bands protocol.PowerBands
	for i := range bands {
		// Lower bands carry more power; beta grows with focus.
		base := 60000.0 / float64(i+1)
		if i >= 4 {
			base *= 0.5 + focus/100
		}
		bands[i] = uint16(math.Min(base, math.MaxUint16))
	}
	return bands
}

func mockRawPacket(t float64) ([]byte, error) {
	return protocol.Encode(protocol.AppendRawValue(nil, mockRawValue(t)))
}

func mockSummaryPacket(t float64) ([]byte, error) {
	payload := protocol.AppendSignalQuality(nil, 0)
	payload = protocol.AppendPowerBands(payload, mockBands(t))
	payload = protocol.AppendFocus(payload, mockFocus(t))
	payload = protocol.AppendMeditation(payload, mockMeditation(t))
	return protocol.Encode(payload)
}
