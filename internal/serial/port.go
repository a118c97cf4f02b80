package serial

import (
	"fmt"
	"io"
	"time"

	"github.com/KevinKickass/OpenWateringCore/internal/config"
	tarm "github.com/tarm/serial"
	"go.uber.org/zap"
)

// Port represents a serial port.
// The native implementation wraps github.com/tarm/serial; tests use an in-memory script.
type Port interface {
	io.ReadWriteCloser

	// Flush discards data received but not read and data written but not transmitted.
	Flush() error
}

// Open opens the configured device and wraps it in a Link.
func Open(cfg config.SerialConfig, logger *zap.Logger) (*Link, error) {
	portCfg, err := nativeConfig(cfg)
	if err != nil {
		return nil, &Error{Kind: KindConnection, Message: cfg.Port, Err: err}
	}

	port, err := tarm.OpenPort(portCfg)
	if err != nil {
		return nil, &Error{Kind: KindConnection, Message: fmt.Sprintf("failed to open serial port %s", cfg.Port), Err: err}
	}

	logger.Info("Serial port opened",
		zap.String("port", cfg.Port),
		zap.Int("baud", cfg.Baud),
		zap.String("parity", cfg.Parity))

	link, err := NewLink(port, cfg, logger)
	if err != nil {
		port.Close()
		return nil, err
	}
	return link, nil
}

func nativeConfig(cfg config.SerialConfig) (*tarm.Config, error) {
	c := &tarm.Config{
		Name:        cfg.Port,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
		Size:        byte(cfg.DataBits),
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 3 * time.Second
	}

	switch cfg.Parity {
	case "", "N":
		c.Parity = tarm.ParityNone
	case "E":
		c.Parity = tarm.ParityEven
	case "O":
		c.Parity = tarm.ParityOdd
	default:
		return nil, fmt.Errorf("unsupported parity %q", cfg.Parity)
	}

	switch cfg.StopBits {
	case 0, 1:
		c.StopBits = tarm.Stop1
	case 2:
		c.StopBits = tarm.Stop2
	default:
		return nil, fmt.Errorf("unsupported stop bits %d", cfg.StopBits)
	}

	return c, nil
}
