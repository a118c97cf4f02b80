package serial

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ChannelCountTTL is how long a fetched channel count is trusted.
const ChannelCountTTL = 5 * time.Minute

// Environment is the ambient sensor reading returned by the dht command.
type Environment struct {
	Humidity    float64 `json:"hum"`
	Temperature float64 `json:"temp"`
}

// OK reports whether the device answered the ok command with a literal OK.
func (l *Link) OK() (bool, error) {
	reply, err := l.SendWithRetries("ok")
	if err != nil {
		return false, err
	}
	return reply == "OK", nil
}

// ReadChannels takes one raw multi-channel reading averaged over n samples.
func (l *Link) ReadChannels(n int) ([]float64, error) {
	cmd := fmt.Sprintf("hx %d", n)

	reply, err := l.sendExpect(cmd, bracketed(cmd))
	if err != nil {
		return nil, err
	}

	inner := strings.TrimSpace(reply[1 : len(reply)-1])
	if inner == "" {
		return []float64{}, nil
	}

	elems := strings.Split(inner, ",")
	values := make([]float64, 0, len(elems))
	for _, elem := range elems {
		v, err := strconv.ParseFloat(strings.TrimSpace(elem), 64)
		if err != nil {
			return nil, &Error{Kind: KindParseFloat, Command: cmd, Response: reply, Err: err}
		}
		values = append(values, v)
	}

	return values, nil
}

// ReadChannel takes one raw reading of a single channel.
func (l *Link) ReadChannel(n, index int) (float64, error) {
	cmd := fmt.Sprintf("hx_single %d %d", n, index)

	reply, err := l.SendWithRetries(cmd)
	if err != nil {
		return 0, err
	}

	v, err := strconv.ParseFloat(reply, 64)
	if err != nil {
		return 0, &Error{Kind: KindParseFloat, Command: cmd, Response: reply, Err: err}
	}
	return v, nil
}

// ReadChannelCount returns the number of load cells the device reports.
// The value is served from cache for ChannelCountTTL after each fetch; device
// resets do not invalidate it.
func (l *Link) ReadChannelCount() (int, error) {
	l.cacheMu.Lock()
	defer l.cacheMu.Unlock()

	if l.channelCountValid && l.now().Sub(l.channelCountFetched) <= ChannelCountTTL {
		return l.channelCount, nil
	}

	const cmd = "hx_n"
	reply, err := l.SendWithRetries(cmd)
	if err != nil {
		return 0, err
	}

	n, err := strconv.Atoi(reply)
	if err != nil {
		return 0, &Error{Kind: KindParseInt, Command: cmd, Response: reply, Err: err}
	}

	l.channelCount = n
	l.channelCountFetched = l.now()
	l.channelCountValid = true

	l.logger.Debug("Channel count fetched", zap.Int("channels", n))
	return n, nil
}

func (l *Link) ReadEnvironment() (Environment, error) {
	const cmd = "dht"

	reply, err := l.SendWithRetries(cmd)
	if err != nil {
		return Environment{}, err
	}

	var env Environment
	if err := json.Unmarshal([]byte(reply), &env); err != nil {
		return Environment{}, &Error{Kind: KindDecode, Command: cmd, Response: reply, Err: err}
	}
	return env, nil
}

// MoveStepper moves the stepper by delta steps. With detach the device
// releases the stepper after the move.
func (l *Link) MoveStepper(delta int, detach bool) error {
	cmd := fmt.Sprintf("stepper %d", delta)
	if detach {
		cmd += " 1"
	}
	return l.actuate(cmd, "OK")
}

// MoveServo points the servo at angle, which must be in [1, 179].
func (l *Link) MoveServo(angle int) error {
	if angle < 1 || angle > 179 {
		return &Error{Kind: KindArgument, Message: fmt.Sprintf("servo angle must be in [1, 179], got %d", angle)}
	}
	cmd := fmt.Sprintf("servo %d", angle)

	reply, err := l.SendWithRetries(cmd)
	if err != nil {
		return err
	}

	echo, err := strconv.Atoi(reply)
	if err != nil {
		return &Error{Kind: KindParseInt, Command: cmd, Response: reply, Err: err}
	}
	if echo != angle {
		return &Error{Kind: KindDevice, Command: cmd, Response: reply, Message: fmt.Sprintf("servo echoed %d", echo)}
	}
	return nil
}

// ActuatePump runs the pump for durationMs at intensity percent duty.
func (l *Link) ActuatePump(durationMs, intensity int) error {
	if intensity < 0 || intensity > 100 {
		return &Error{Kind: KindArgument, Message: fmt.Sprintf("pump intensity must be in [0, 100], got %d", intensity)}
	}
	if durationMs < 0 {
		return &Error{Kind: KindArgument, Message: fmt.Sprintf("pump duration must not be negative, got %d", durationMs)}
	}
	return l.actuate(fmt.Sprintf("pump %d %d", durationMs, intensity), "OK")
}

func (l *Link) SetStepperAttached(attached bool) error {
	return l.actuate(fmt.Sprintf("stepper_attach %s", flag(attached)), "OK")
}

func (l *Link) SetServoAttached(attached bool) error {
	return l.actuate(fmt.Sprintf("servo_attach %s", flag(attached)), "OK")
}

// actuate sends a command that moves hardware. A well-formed reply with the
// wrong content is a device error and the command is not repeated.
func (l *Link) actuate(cmd, want string) error {
	reply, err := l.SendWithRetries(cmd)
	if err != nil {
		return err
	}
	if reply != want {
		return &Error{Kind: KindDevice, Command: cmd, Response: reply, Message: fmt.Sprintf("expected %q", want)}
	}
	return nil
}

func bracketed(cmd string) func(string) error {
	return func(reply string) error {
		if len(reply) < 2 || !strings.HasPrefix(reply, "[") || !strings.HasSuffix(reply, "]") {
			return &Error{Kind: KindMalformedPayload, Command: cmd, Response: reply, Message: "expected a bracketed list"}
		}
		return nil
	}
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
