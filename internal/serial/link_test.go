package serial

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/KevinKickass/OpenWateringCore/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedPort answers each write with the next scripted reply. A reply is a
// list of chunks handed out one per Read; an exhausted reply reads as EOF.
type scriptedPort struct {
	writes  []string
	replies [][]string
	pending []string
	flushes int
	readErr error
	closed  bool
}

func (p *scriptedPort) Write(b []byte) (int, error) {
	p.writes = append(p.writes, string(b))
	p.pending = nil
	if len(p.replies) > 0 {
		p.pending = p.replies[0]
		p.replies = p.replies[1:]
	}
	return len(b), nil
}

func (p *scriptedPort) Read(b []byte) (int, error) {
	if p.readErr != nil {
		return 0, p.readErr
	}
	if len(p.pending) == 0 {
		return 0, io.EOF
	}
	chunk := p.pending[0]
	p.pending = p.pending[1:]
	return copy(b, chunk), nil
}

func (p *scriptedPort) Flush() error {
	p.flushes++
	return nil
}

func (p *scriptedPort) Close() error {
	p.closed = true
	return nil
}

type fakeClock struct {
	t      time.Time
	sleeps []time.Duration
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(d time.Duration) {
	c.sleeps = append(c.sleeps, d)
	c.t = c.t.Add(d)
}

func testSerialConfig() config.SerialConfig {
	return config.SerialConfig{
		Retries:      3,
		LongTimeout:  time.Second,
		Terminator:   "\n",
		PendingReply: "rcv",
	}
}

func newTestLink(t *testing.T, port *scriptedPort, mutate func(*config.SerialConfig)) (*Link, *fakeClock) {
	t.Helper()

	cfg := testSerialConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	link, err := NewLink(port, cfg, zap.NewNop())
	require.NoError(t, err)

	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	link.sleep = clock.sleep
	link.now = clock.now
	return link, clock
}

func replies(lines ...string) [][]string {
	out := make([][]string, len(lines))
	for i, l := range lines {
		out[i] = []string{l}
	}
	return out
}

func TestNewLink_RejectsBadTerminator(t *testing.T) {
	cfg := testSerialConfig()
	cfg.Terminator = "\r\n"

	_, err := NewLink(&scriptedPort{}, cfg, zap.NewNop())
	require.Error(t, err)
	assert.True(t, IsKind(err, KindArgument))
}

func TestSend_AppendsTerminatorOnce(t *testing.T) {
	port := &scriptedPort{replies: replies("OK\n", "OK\n")}
	link, _ := newTestLink(t, port, nil)

	_, err := link.Send("ok")
	require.NoError(t, err)
	_, err = link.Send("ok\n")
	require.NoError(t, err)

	assert.Equal(t, []string{"ok\n", "ok\n"}, port.writes)
	assert.Equal(t, 2, port.flushes)
}

func TestSend_TrimsReply(t *testing.T) {
	port := &scriptedPort{replies: [][]string{{"  [1,", "2]\r\n"}}}
	link, _ := newTestLink(t, port, nil)

	reply, err := link.Send("hx 1")
	require.NoError(t, err)
	assert.Equal(t, "[1,2]", reply)
}

func TestSend_Failures(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		kind  ErrorKind
	}{
		{"empty", "\n", KindEmpty},
		{"whitespace", "   \r\n", KindEmpty},
		{"device error", "ERROR: unknown command\n", KindDevice},
		{"error inside payload", "[1,ERROR]\n", KindDevice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := &scriptedPort{replies: replies(tt.reply)}
			link, _ := newTestLink(t, port, nil)

			_, err := link.Send("ok")
			require.Error(t, err)
			assert.True(t, IsKind(err, tt.kind), "got %v", err)
		})
	}
}

func TestSend_ReadFailureIsIO(t *testing.T) {
	port := &scriptedPort{readErr: errors.New("device unplugged")}
	link, _ := newTestLink(t, port, nil)

	_, err := link.Send("ok")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindIO))
}

func TestSend_Delay(t *testing.T) {
	t.Run("sleeps configured delay", func(t *testing.T) {
		port := &scriptedPort{replies: replies("OK\n")}
		link, clock := newTestLink(t, port, func(c *config.SerialConfig) { c.Delay = 500 * time.Millisecond })

		_, err := link.Send("ok")
		require.NoError(t, err)
		assert.Equal(t, []time.Duration{500 * time.Millisecond}, clock.sleeps)
	})

	t.Run("zero delay skips sleep", func(t *testing.T) {
		port := &scriptedPort{replies: replies("OK\n")}
		link, clock := newTestLink(t, port, nil)

		_, err := link.Send("ok")
		require.NoError(t, err)
		assert.Empty(t, clock.sleeps)
	})
}

func TestSend_PendingReply(t *testing.T) {
	t.Run("waits for payload", func(t *testing.T) {
		port := &scriptedPort{replies: [][]string{{"rcv\n", "", "", "[1,2]\n"}}}
		link, _ := newTestLink(t, port, nil)

		reply, err := link.Send("hx 2")
		require.NoError(t, err)
		assert.Equal(t, "[1,2]", reply)
		assert.Len(t, port.writes, 1)
	})

	t.Run("payload in same read", func(t *testing.T) {
		port := &scriptedPort{replies: replies("rcv\n[3,4]\n")}
		link, clock := newTestLink(t, port, nil)

		reply, err := link.Send("hx 2")
		require.NoError(t, err)
		assert.Equal(t, "[3,4]", reply)
		assert.Empty(t, clock.sleeps)
	})

	t.Run("times out as empty", func(t *testing.T) {
		port := &scriptedPort{replies: replies("rcv\n")}
		link, clock := newTestLink(t, port, func(c *config.SerialConfig) { c.Delay = 100 * time.Millisecond })

		_, err := link.Send("hx 2")
		require.Error(t, err)
		assert.True(t, IsKind(err, KindEmpty))
		// one delay after the write, then ten polls until the long timeout
		assert.Len(t, clock.sleeps, 11)
	})
}

func TestSendWithRetries(t *testing.T) {
	t.Run("stops at first success", func(t *testing.T) {
		port := &scriptedPort{replies: replies("OK\n", "OK\n")}
		link, _ := newTestLink(t, port, nil)

		reply, err := link.SendWithRetries("ok")
		require.NoError(t, err)
		assert.Equal(t, "OK", reply)
		assert.Len(t, port.writes, 1)
	})

	t.Run("recovers after failures", func(t *testing.T) {
		port := &scriptedPort{replies: replies("\n", "ERROR\n", "OK\n")}
		link, _ := newTestLink(t, port, nil)

		reply, err := link.SendWithRetries("ok")
		require.NoError(t, err)
		assert.Equal(t, "OK", reply)
		assert.Len(t, port.writes, 3)
	})

	t.Run("exhausted keeps last cause", func(t *testing.T) {
		port := &scriptedPort{replies: replies("\n", "ERROR\n", "OK\n")}
		link, _ := newTestLink(t, port, func(c *config.SerialConfig) { c.Retries = 2 })

		_, err := link.SendWithRetries("ok")
		require.Error(t, err)
		assert.True(t, IsKind(err, KindRetriesExhausted))
		assert.True(t, IsKind(err, KindDevice))
		assert.Len(t, port.writes, 2)
	})

	t.Run("io errors are retried", func(t *testing.T) {
		port := &scriptedPort{readErr: io.ErrUnexpectedEOF}
		link, _ := newTestLink(t, port, nil)

		_, err := link.SendWithRetries("ok")
		require.Error(t, err)
		assert.True(t, IsKind(err, KindRetriesExhausted))
		assert.True(t, IsKind(err, KindIO))
		assert.Len(t, port.writes, 3)
	})
}

func TestClose(t *testing.T) {
	port := &scriptedPort{}
	link, _ := newTestLink(t, port, nil)

	require.NoError(t, link.Close())
	assert.True(t, port.closed)
}
