package workload

import (
	"bytes"
	"context"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"sync"
	"time"

	"codeberg.org/mutker/nvtuner/internal/errors"
	"codeberg.org/mutker/nvtuner/internal/logger"
)

var fpsPattern = regexp.MustCompile(`(?i)fps[:=\s]+([0-9]+(?:\.[0-9]+)?)|([0-9]+(?:\.[0-9]+)?)\s+frames`)

func glmark2Args(duration time.Duration, intensity Intensity) []string {
	args := []string{"--run-forever", "--annotate"}
	switch intensity {
	case Light:
		args = append(args, "--size", "800x600")
	case Medium:
		args = append(args, "--size", "1920x1080")
	default:
		args = append(args, "--size", "1920x1080", "--fullscreen")
	}

	return args
}

func glxgearsArgs(_ time.Duration, _ Intensity) []string {
	return nil
}

func dmonArgs(duration time.Duration, _ Intensity) []string {
	return []string{"dmon", "-s", "u", "-c", strconv.Itoa(int(duration.Seconds()))}
}

// execStrategy drives an external benchmark process for a bounded
// duration and parses its FPS output when it prints any.
type execStrategy struct {
	name string
	bin  string
	args func(time.Duration, Intensity) []string
}

func newExecStrategy(name, bin string, args func(time.Duration, Intensity) []string) Strategy {
	return &execStrategy{name: name, bin: bin, args: args}
}

func (s *execStrategy) Name() string { return s.name }

func (s *execStrategy) Available() bool {
	_, err := exec.LookPath(s.bin)
	return err == nil
}

func (s *execStrategy) Run(ctx context.Context, duration time.Duration, intensity Intensity) (Result, error) {
	errFactory := errors.New()
	start := time.Now()

	// Collect output through a Writer so the exec-managed copier owns
	// the pipe; Wait joins the copier, so no trailing lines are lost
	// on the kill paths.
	sink := &fpsSink{}
	cmd := exec.Command(s.bin, s.args(duration, intensity)...)
	cmd.Stdout = sink

	if err := cmd.Start(); err != nil {
		return Result{}, errFactory.Wrap(ErrStartFailed, err)
	}

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	result := Result{}
	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case err := <-waitDone:
		// The process ended before its time was up: a crash unless it
		// exited cleanly within a heartbeat of the deadline.
		result.Duration = time.Since(start)
		if err != nil || result.Duration < duration-time.Second {
			result.Crashed = true
			return result, nil
		}
		result.Completed = true
	case <-ctx.Done():
		// Critical abort: kill immediately, no grace period.
		_ = cmd.Process.Kill()
		result.Crashed = !waitWithin(waitDone, killBound)
		result.Duration = time.Since(start)
		return result, ctx.Err()
	case <-timer.C:
		result.Completed = true
		result.Duration = time.Since(start)
		if !terminate(cmd, waitDone) {
			result.Completed = false
			result.Crashed = true
		}
	}

	result.AvgFPS, result.FrameTimeStdDev = fpsStats(sink.values())

	return result, nil
}

// fpsSink accumulates process output line by line and parses FPS
// figures as they arrive. Safe for the exec copier goroutine to write
// while the strategy reads the totals.
type fpsSink struct {
	mu   sync.Mutex
	rest []byte
	fps  []float64
}

func (s *fpsSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rest = append(s.rest, p...)
	for {
		i := bytes.IndexByte(s.rest, '\n')
		if i < 0 {
			break
		}
		line := string(s.rest[:i])
		s.rest = s.rest[i+1:]
		if fps, ok := parseFPS(line); ok {
			s.fps = append(s.fps, fps)
		}
	}

	return len(p), nil
}

func (s *fpsSink) values() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := append([]float64(nil), s.fps...)
	// A final line cut off by the kill still counts.
	if fps, ok := parseFPS(string(s.rest)); ok {
		out = append(out, fps)
	}

	return out
}

// terminate asks the process to exit, escalating to SIGKILL after the
// grace period. Returns false if the process outlived the kill bound.
func terminate(cmd *exec.Cmd, waitDone <-chan error) bool {
	_ = cmd.Process.Signal(terminateSignal)
	if waitWithin(waitDone, TerminateGrace) {
		return true
	}

	logger.Warn().Msg("Workload ignored termination request, killing")
	_ = cmd.Process.Kill()

	return waitWithin(waitDone, killBound)
}

func waitWithin(waitDone <-chan error, bound time.Duration) bool {
	select {
	case <-waitDone:
		return true
	case <-time.After(bound):
		return false
	}
}

func parseFPS(line string) (float64, bool) {
	matches := fpsPattern.FindStringSubmatch(line)
	if matches == nil {
		return 0, false
	}

	raw := matches[1]
	if raw == "" {
		raw = matches[2]
	}
	fps, err := strconv.ParseFloat(raw, 64)
	if err != nil || fps <= 0 {
		return 0, false
	}

	return fps, true
}

// fpsStats returns the mean FPS and the standard deviation of the
// per-interval frame times in milliseconds.
func fpsStats(fpsValues []float64) (avgFPS, frameTimeStdDev float64) {
	if len(fpsValues) == 0 {
		return 0, 0
	}

	frameTimes := make([]float64, len(fpsValues))
	var fpsSum, ftSum float64
	for i, fps := range fpsValues {
		fpsSum += fps
		frameTimes[i] = 1000 / fps
		ftSum += frameTimes[i]
	}
	avgFPS = fpsSum / float64(len(fpsValues))

	mean := ftSum / float64(len(frameTimes))
	var variance float64
	for _, ft := range frameTimes {
		variance += (ft - mean) * (ft - mean)
	}
	variance /= float64(len(frameTimes))

	return avgFPS, math.Sqrt(variance)
}
