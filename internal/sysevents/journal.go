package sysevents

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/nvtuner/internal/errors"
	"codeberg.org/mutker/nvtuner/internal/logger"
)

const (
	ErrJournalQuery   = errors.ErrorCode("sysevents_journal_query_failed")
	ErrAlreadyStarted = errors.ErrorCode("sysevents_already_started")
)

// driverResetPatterns match kernel log lines that indicate the GPU
// driver reset or fell over. Xid is the NVIDIA driver's error class.
var driverResetPatterns = []string{
	"NVRM: Xid",
	"GPU has fallen off the bus",
	"gpu reset",
	"nvidia-modeset: ERROR",
}

var crashPatterns = []string{
	"segfault",
	"general protection fault",
	"traps:",
	"oom-kill",
}

type journalMonitor struct {
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewJournalMonitor returns a Monitor backed by the systemd journal's
// kernel ring buffer.
func NewJournalMonitor() Monitor {
	return &journalMonitor{}
}

func (m *journalMonitor) Start(ctx context.Context, pollInterval time.Duration) error {
	errFactory := errors.New()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return errFactory.New(ErrAlreadyStarted)
	}
	if pollInterval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, pollInterval.String())
	}

	ctx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if reset, err := m.DriverResetSince(pollInterval * 2); err == nil && reset {
					logger.Warn().Msg("Driver reset observed in kernel log")
				}
			}
		}
	}()

	return nil
}

func (m *journalMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	cancel()
	<-done
}

func (m *journalMonitor) DriverResetSince(window time.Duration) (bool, error) {
	lines, err := m.journalLines(window)
	if err != nil {
		return false, err
	}

	return scanForReset(lines), nil
}

func (m *journalMonitor) ApplicationCrashesSince(window time.Duration) ([]CrashEvent, error) {
	lines, err := m.journalLines(window)
	if err != nil {
		return nil, err
	}

	return scanForCrashes(lines), nil
}

func scanForReset(lines []string) bool {
	for _, line := range lines {
		for _, pattern := range driverResetPatterns {
			if strings.Contains(line, pattern) {
				return true
			}
		}
	}

	return false
}

func scanForCrashes(lines []string) []CrashEvent {
	var crashes []CrashEvent
	for _, line := range lines {
		for _, pattern := range crashPatterns {
			if strings.Contains(line, pattern) {
				crashes = append(crashes, CrashEvent{
					Timestamp: time.Now(),
					Process:   processFromLine(line),
					Detail:    line,
				})
				break
			}
		}
	}

	return crashes
}

func (m *journalMonitor) journalLines(window time.Duration) ([]string, error) {
	errFactory := errors.New()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	since := fmt.Sprintf("-%dsec", int(window.Seconds()))
	cmd := exec.CommandContext(ctx, "journalctl", "-k", "--since", since, "-o", "cat", "--no-pager")
	out, err := cmd.Output()
	if err != nil {
		return nil, errFactory.Wrap(ErrJournalQuery, err)
	}

	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	return lines, nil
}

// processFromLine extracts the leading "name[pid]:" token when present.
func processFromLine(line string) string {
	if idx := strings.Index(line, "["); idx > 0 {
		return strings.TrimSpace(line[:idx])
	}

	fields := strings.Fields(line)
	if len(fields) > 0 {
		return fields[0]
	}

	return ""
}
