package serial

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/KevinKickass/OpenWateringCore/internal/config"
	"go.uber.org/zap"
)

const (
	maxReplyBytes = 4096
	minPollDelay  = 20 * time.Millisecond
)

// Link is a blocking command/response client for the rig's microcontroller.
// Every command is one ASCII line; the reply is one trimmed line, optionally
// preceded by the pending sentinel when the device answers later.
type Link struct {
	port       Port
	cfg        config.SerialConfig
	terminator byte
	logger     *zap.Logger

	mu sync.Mutex

	// cacheMu guards the channel count cache. It is held across the fetch,
	// so concurrent callers share one round trip.
	cacheMu             sync.Mutex
	channelCount        int
	channelCountFetched time.Time
	channelCountValid   bool

	sleep func(time.Duration)
	now   func() time.Time
}

func NewLink(port Port, cfg config.SerialConfig, logger *zap.Logger) (*Link, error) {
	if port == nil {
		return nil, &Error{Kind: KindConnection, Message: "port cannot be nil"}
	}
	if len(cfg.Terminator) > 1 {
		return nil, &Error{Kind: KindArgument, Message: fmt.Sprintf("terminator must be a single byte, got %q", cfg.Terminator)}
	}
	terminator := byte('\n')
	if len(cfg.Terminator) == 1 {
		terminator = cfg.Terminator[0]
	}
	if terminator >= 0x80 {
		return nil, &Error{Kind: KindArgument, Message: "terminator is not an ascii character"}
	}
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Link{
		port:       port,
		cfg:        cfg,
		terminator: terminator,
		logger:     logger,
		sleep:      time.Sleep,
		now:        time.Now,
	}, nil
}

// Close schließt den Port
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port.Close()
}

// Send performs one exchange. It fails when the trimmed reply is empty or
// contains "ERROR".
func (l *Link) Send(cmd string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.exchange(cmd)
}

// SendWithRetries repeats Send up to the configured retry count and returns
// the first successful reply.
func (l *Link) SendWithRetries(cmd string) (string, error) {
	return l.sendExpect(cmd, nil)
}

// sendExpect is SendWithRetries with an additional reply-shape check. A shape
// failure counts as a failed attempt.
func (l *Link) sendExpect(cmd string, check func(reply string) error) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var last error
	for attempt := 1; attempt <= l.cfg.Retries; attempt++ {
		reply, err := l.exchange(cmd)
		if err == nil && check != nil {
			err = check(reply)
		}
		if err == nil {
			return reply, nil
		}
		last = err

		l.logger.Warn("Serial exchange failed",
			zap.String("command", cmd),
			zap.Int("attempt", attempt),
			zap.Int("retries", l.cfg.Retries),
			zap.Error(err))

		var se *Error
		if errors.As(err, &se) && !se.Kind.Retryable() {
			return "", err
		}
	}

	return "", &Error{
		Kind:    KindRetriesExhausted,
		Command: cmd,
		Message: fmt.Sprintf("%d attempts failed", l.cfg.Retries),
		Err:     last,
	}
}

func (l *Link) exchange(cmd string) (string, error) {
	// Stale bytes from an earlier exchange must not be taken as this reply
	if err := l.port.Flush(); err != nil {
		return "", &Error{Kind: KindIO, Command: cmd, Message: "flush failed", Err: err}
	}

	msg := cmd
	if !strings.HasSuffix(msg, string(l.terminator)) {
		msg += string(l.terminator)
	}

	if _, err := l.port.Write([]byte(msg)); err != nil {
		return "", &Error{Kind: KindIO, Command: cmd, Message: "write failed", Err: err}
	}
	if l.cfg.Delay > 0 {
		l.sleep(l.cfg.Delay)
	}

	raw, err := l.readAvailable()
	if err != nil {
		return "", &Error{Kind: KindIO, Command: cmd, Message: "read failed", Err: err}
	}
	reply := strings.TrimSpace(raw)

	if l.cfg.PendingReply != "" {
		first, rest, _ := strings.Cut(reply, string(l.terminator))
		if strings.TrimSpace(first) == l.cfg.PendingReply {
			reply = strings.TrimSpace(rest)
			if reply == "" {
				reply, err = l.awaitPayload(cmd)
				if err != nil {
					return "", err
				}
			}
		}
	}

	l.logger.Debug("Serial exchange",
		zap.String("command", cmd),
		zap.String("reply", reply))

	if reply == "" {
		return "", &Error{Kind: KindEmpty, Command: cmd}
	}
	if strings.Contains(reply, "ERROR") {
		return "", &Error{Kind: KindDevice, Command: cmd, Response: reply}
	}

	return reply, nil
}

// awaitPayload polls until the device pushes the real reply or the long
// timeout elapses. An expired wait yields an empty reply.
func (l *Link) awaitPayload(cmd string) (string, error) {
	poll := l.cfg.Delay
	if poll <= 0 {
		poll = minPollDelay
	}

	start := l.now()
	for l.now().Sub(start) < l.cfg.LongTimeout {
		l.sleep(poll)

		raw, err := l.readAvailable()
		if err != nil {
			return "", &Error{Kind: KindIO, Command: cmd, Message: "read failed", Err: err}
		}
		if reply := strings.TrimSpace(raw); reply != "" {
			return reply, nil
		}
	}

	l.logger.Warn("Pending reply timed out",
		zap.String("command", cmd),
		zap.Duration("long_timeout", l.cfg.LongTimeout))
	return "", nil
}

// readAvailable reads until a terminated line arrives or the port has nothing
// more to give.
func (l *Link) readAvailable() (string, error) {
	var buf bytes.Buffer
	chunk := make([]byte, 256)

	for buf.Len() < maxReplyBytes {
		n, err := l.port.Read(chunk)
		buf.Write(chunk[:n])

		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", err
		}
		if n == 0 || chunk[n-1] == l.terminator {
			break
		}
	}

	return buf.String(), nil
}
