package service

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"taskloop/pkg/config"
)

func TestSendTimesOutOnSilentRelay(t *testing.T) {
	// A relay that accepts the connection and never sends a greeting.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		var conns []net.Conn
		defer func() {
			for _, c := range conns {
				c.Close()
			}
		}()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conns = append(conns, conn)
		}
	}()

	cfg := config.SMTPConfig{
		Host: "127.0.0.1",
		Port: ln.Addr().(*net.TCPAddr).Port,
		From: "reminders@taskloop.local",
	}
	sender := NewSMTPSender(cfg, 200*time.Millisecond, zap.NewNop())

	start := time.Now()
	err = sender.Send("user@example.com", "subject", "body")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second, "send must fail at the deadline, not hang")
}

func TestSendFailsWhenRelayUnreachable(t *testing.T) {
	// Grab a free port, then close it so the dial is refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	cfg := config.SMTPConfig{Host: "127.0.0.1", Port: port, From: "reminders@taskloop.local"}
	sender := NewSMTPSender(cfg, time.Second, zap.NewNop())

	require.Error(t, sender.Send("user@example.com", "subject", "body"))
}

func TestNewSMTPSenderDefaultsTimeout(t *testing.T) {
	cfg := config.SMTPConfig{Host: "localhost", Port: 1025, From: "reminders@taskloop.local"}

	sender := NewSMTPSender(cfg, 0, zap.NewNop())
	assert.Equal(t, defaultSendTimeout, sender.timeout)
}
