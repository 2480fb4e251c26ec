package oven

import (
	"bufio"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// DefaultCandidates are the ports probed when no port is configured.
var DefaultCandidates = []string{"/dev/ttyUSB0", "/dev/ttyUSB1", "/dev/ttyUSB2"}

// T962 implements Transport for a T-962 controller running the improved
// firmware, which logs telemetry and accepts shell commands on its UART.
type T962 struct {
	candidates []string
	baudRate   int
	log        *zap.SugaredLogger

	mu       sync.Mutex
	port     serial.Port
	portPath string
	reader   *bufio.Reader
}

// T962Config holds connection configuration for the T-962 transport.
type T962Config struct {
	PortPath   string   `yaml:"port_path" json:"portPath"`     // fixed port; empty to probe Candidates
	Candidates []string `yaml:"candidates" json:"candidates"` // probed in order
	BaudRate   int      `yaml:"baud_rate" json:"baudRate"`
}

var postOpenDelay = 500 * time.Millisecond

// openPort is swapped out in tests.
var openPort = func(path string, mode *serial.Mode) (serial.Port, error) {
	return serial.Open(path, mode)
}

// NewT962 creates a new T-962 transport.
func NewT962(cfg T962Config, log *zap.SugaredLogger) *T962 {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	candidates := cfg.Candidates
	if cfg.PortPath != "" {
		candidates = []string{cfg.PortPath}
	}
	if len(candidates) == 0 {
		candidates = DefaultCandidates
	}
	return &T962{
		candidates: candidates,
		baudRate:   cfg.BaudRate,
		log:        log,
	}
}

func (t *T962) Name() string { return "T-962" }

// PortPath returns the port that Connect settled on.
func (t *T962) PortPath() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.portPath
}

// Connect tries each candidate port in order and keeps the first that opens.
func (t *T962) Connect() error {
	mode := &serial.Mode{
		BaudRate: t.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	for _, path := range t.candidates {
		port, err := openPort(path, mode)
		if err != nil {
			t.log.Infof("[serial] tried %s, but failed: %v", path, err)
			continue
		}
		if err := port.SetReadTimeout(serial.NoTimeout); err != nil {
			port.Close()
			t.log.Infof("[serial] tried %s, but failed to set timeout: %v", path, err)
			continue
		}

		// Discard whatever the controller printed before we attached.
		time.Sleep(postOpenDelay)
		port.ResetInputBuffer()

		t.mu.Lock()
		t.port = port
		t.portPath = path
		t.reader = bufio.NewReader(port)
		t.mu.Unlock()

		t.log.Infof("[serial] using serial port %s at %d baud", path, t.baudRate)
		return nil
	}

	return fmt.Errorf("%w (tried %s)", ErrNoDevice, strings.Join(t.candidates, ", "))
}

func (t *T962) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	t.reader = nil
	return err
}

// ReadLine blocks until a full line arrives.
func (t *T962) ReadLine() (string, error) {
	t.mu.Lock()
	r := t.reader
	t.mu.Unlock()
	if r == nil {
		return "", fmt.Errorf("t962: not connected")
	}

	line, err := r.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("t962: read: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// WriteLine sends cmd terminated by a newline.
func (t *T962) WriteLine(cmd string) error {
	t.mu.Lock()
	port := t.port
	t.mu.Unlock()
	if port == nil {
		return fmt.Errorf("t962: not connected")
	}

	if _, err := port.Write([]byte(cmd + "\n")); err != nil {
		return fmt.Errorf("t962: write %q: %w", cmd, err)
	}
	t.log.Debugf("[serial] sent %q", cmd)
	return nil
}
