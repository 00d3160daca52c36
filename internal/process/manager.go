// Package process tracks the background gateway through a PID file and
// counts the client sessions that rely on it.
package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	PIDFilename = "gateway.pid"
	RefFilename = "sessions.count"

	stopTimeout  = 5 * time.Second
	startTimeout = 10 * time.Second
	pollInterval = 100 * time.Millisecond
)

// ErrStartTimeout is returned when a spawned gateway never wrote its PID.
var ErrStartTimeout = errors.New("gateway startup timeout")

type Manager struct {
	pidFile string
	refFile string
	mu      sync.RWMutex

	// Command builds the process started by StartServiceIfNeeded.
	Command func() *exec.Cmd
}

func NewManager(baseDir string) *Manager {
	return &Manager{
		pidFile: filepath.Join(baseDir, PIDFilename),
		refFile: filepath.Join(baseDir, RefFilename),
		Command: func() *exec.Cmd { return exec.Command(os.Args[0], "start") },
	}
}

func (m *Manager) WritePID() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(m.pidFile), 0o750); err != nil {
		return fmt.Errorf("create pid directory: %w", err)
	}

	return os.WriteFile(m.pidFile, []byte(strconv.Itoa(os.Getpid())), 0o600)
}

// ReadPID returns 0 when no valid PID file exists.
func (m *Manager) ReadPID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return readInt(m.pidFile)
}

// IsRunning probes the recorded PID and removes a stale PID file.
func (m *Manager) IsRunning() bool {
	pid := m.ReadPID()
	if pid == 0 {
		return false
	}

	if err := syscall.Kill(pid, 0); err != nil {
		_ = m.CleanupPID()
		return false
	}

	return true
}

// Stop sends SIGTERM and waits for the gateway to go away.
func (m *Manager) Stop() error {
	pid := m.ReadPID()
	if pid == 0 {
		return nil
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("send SIGTERM to process %d: %w", pid, err)
	}

	deadline := time.Now().Add(stopTimeout)
	for time.Now().Before(deadline) && m.IsRunning() {
		time.Sleep(pollInterval)
	}

	return m.CleanupPID()
}

func (m *Manager) CleanupPID() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return removeIfExists(m.pidFile)
}

// IncrementRef records one more client session using the gateway.
func (m *Manager) IncrementRef() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.writeRef(readInt(m.refFile) + 1)
}

// DecrementRef returns the remaining session count.
func (m *Manager) DecrementRef() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := readInt(m.refFile)
	if count > 0 {
		count--
	}
	return count, m.writeRef(count)
}

func (m *Manager) ReadRef() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return readInt(m.refFile)
}

func (m *Manager) CleanupRef() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return removeIfExists(m.refFile)
}

func (m *Manager) writeRef(count int) error {
	if err := os.MkdirAll(filepath.Dir(m.refFile), 0o750); err != nil {
		return fmt.Errorf("create ref directory: %w", err)
	}
	if err := os.WriteFile(m.refFile, []byte(strconv.Itoa(count)), 0o600); err != nil {
		return fmt.Errorf("write ref file: %w", err)
	}
	return nil
}

func (m *Manager) WaitForService(timeout time.Duration) bool {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if m.IsRunning() {
			return true
		}
		<-ticker.C
	}

	return false
}

// StartServiceIfNeeded spawns the gateway in the background unless it is
// already running. It reports whether this call started it.
func (m *Manager) StartServiceIfNeeded() (bool, error) {
	if m.IsRunning() {
		return false, nil
	}

	cmd := m.Command()
	if err := cmd.Start(); err != nil {
		return false, fmt.Errorf("start gateway: %w", err)
	}
	go func() { _ = cmd.Wait() }()

	if !m.WaitForService(startTimeout) {
		return false, ErrStartTimeout
	}

	return true, nil
}

func readInt(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}

	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return n
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", filepath.Base(path), err)
	}
	return nil
}
