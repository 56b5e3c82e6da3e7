// Package serialport provides the serial link the request protocol runs over.
package serialport

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// AutoDetect as the port name selects the first USB serial port found.
const AutoDetect = "auto"

// Defaults for the link
const (
	DefaultBaudRate      = 9600
	DefaultReadTimeout   = 5 * time.Millisecond
	DefaultRetryInterval = 2 * time.Second
)

var (
	// ErrNoPort is returned when auto-detection finds no USB serial port.
	ErrNoPort = errors.New("no usb serial port found")
	// ErrDisconnected is returned by Write while the port is closed.
	ErrDisconnected = errors.New("serial port disconnected")
)

// Config describes the link.
type Config struct {
	Name          string
	BaudRate      int
	ReadTimeout   time.Duration
	RetryInterval time.Duration
	VID           string // optional USB vendor filter for auto-detection
}

// Port is the subset of serial.Port the link drives.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// OpenFunc opens a port.
type OpenFunc func(cfg Config) (Port, error)

// Link is a serial connection that reopens itself after I/O failures.
// Reads never block longer than the configured read timeout, so a Read
// returning (0, nil) means no data is waiting.
type Link struct {
	cfg  Config
	open OpenFunc

	mu          sync.Mutex
	port        Port
	lastAttempt time.Time
	now         func() time.Time
}

// New creates a link over the real serial driver. The port is opened lazily.
func New(cfg Config) *Link {
	return NewWithOpener(cfg, Open)
}

// NewWithOpener creates a link that opens ports with open.
func NewWithOpener(cfg Config, open OpenFunc) *Link {
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	return &Link{
		cfg:  cfg,
		open: open,
		now:  time.Now,
	}
}

// Open opens the configured serial port in 8N1 mode with a short read timeout.
func Open(cfg Config) (Port, error) {
	name := cfg.Name
	if name == "" || name == AutoDetect {
		found, err := FindPort(cfg.VID)
		if err != nil {
			return nil, err
		}
		name = found
	}

	p, err := serial.Open(name, &serial.Mode{BaudRate: cfg.BaudRate})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	if err := p.SetReadTimeout(cfg.ReadTimeout); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", name, err)
	}

	log.Info().Str("port", name).Int("baud", cfg.BaudRate).Msg("Serial port opened")
	return p, nil
}

// FindPort returns the first USB serial port, optionally matching a vendor id.
func FindPort(vid string) (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	for _, p := range ports {
		log.Debug().
			Str("port", p.Name).
			Bool("usb", p.IsUSB).
			Str("vid", p.VID).
			Str("pid", p.PID).
			Msg("Found serial port")
		if !p.IsUSB {
			continue
		}
		if vid != "" && !strings.EqualFold(p.VID, vid) {
			continue
		}
		return p.Name, nil
	}
	return "", ErrNoPort
}

// Read reads whatever is waiting on the port. While disconnected it returns (0, nil)
// and retries the open at most once per retry interval.
func (l *Link) Read(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	port := l.connect()
	if port == nil {
		return 0, nil
	}
	n, err := port.Read(p)
	if err != nil {
		l.disconnect(err)
		return n, nil
	}
	return n, nil
}

// Write writes p to the port. Bytes written while disconnected are dropped.
func (l *Link) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.port == nil {
		return 0, ErrDisconnected
	}
	n, err := l.port.Write(p)
	if err != nil {
		l.disconnect(err)
		return n, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return n, nil
}

// Connected reports whether the port is open.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port != nil
}

// Close closes the port.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.port == nil {
		return nil
	}
	err := l.port.Close()
	l.port = nil
	return err
}

func (l *Link) connect() Port {
	if l.port != nil {
		return l.port
	}
	now := l.now()
	if !l.lastAttempt.IsZero() && now.Sub(l.lastAttempt) < l.cfg.RetryInterval {
		return nil
	}
	l.lastAttempt = now

	port, err := l.open(l.cfg)
	if err != nil {
		log.Warn().Err(err).Dur("retry_in", l.cfg.RetryInterval).Msg("Serial port unavailable")
		return nil
	}
	l.port = port
	return port
}

func (l *Link) disconnect(cause error) {
	log.Error().Err(cause).Msg("Serial I/O failed, closing port")
	if err := l.port.Close(); err != nil {
		log.Debug().Err(err).Msg("Error closing serial port")
	}
	l.port = nil
}
