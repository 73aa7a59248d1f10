// Package device decides once per process whether inference runs on the CPU
// or on an accelerator.
package device

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Kind int

const (
	CPU Kind = iota
	Accelerator
)

// Info describes the device inference is placed on. Backend is the label
// reported to clients ("cpu", "cuda" or "metal").
type Info struct {
	Kind    Kind   `json:"-"`
	Backend string `json:"backend"`
	Name    string `json:"name,omitempty"`
}

func (i Info) IsAccelerator() bool {
	return i.Kind == Accelerator
}

func (i Info) String() string {
	if i.Backend != "" {
		return i.Backend
	}
	if i.Kind == Accelerator {
		return "gpu"
	}
	return "cpu"
}

var cpuInfo = Info{Kind: CPU, Backend: "cpu"}

// Probe reports the device inference should run on.
type Probe interface {
	Detect(ctx context.Context) Info
}

// ParseOverride validates a configured device preference.
func ParseOverride(value string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", "auto":
		return "auto", nil
	case "cpu", "cuda", "metal":
		return normalized, nil
	case "gpu":
		return "cuda", nil
	default:
		return "", fmt.Errorf("unknown device %q (expected auto, cpu, cuda or metal)", value)
	}
}

type Detector struct {
	GOOS     string
	GOARCH   string
	Override string
	Timeout  time.Duration
	Run      func(ctx context.Context, name string, args ...string) (string, error)
	Logger   *zap.Logger
}

func NewDetector(override string, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		GOOS:     runtime.GOOS,
		GOARCH:   runtime.GOARCH,
		Override: override,
		Timeout:  5 * time.Second,
		Run:      runCommand,
		Logger:   logger,
	}
}

func (d *Detector) Detect(ctx context.Context) Info {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	switch strings.ToLower(strings.TrimSpace(d.Override)) {
	case "cpu":
		logger.Info("device forced to cpu")
		return cpuInfo
	case "cuda", "gpu":
		logger.Info("device forced to cuda")
		return Info{Kind: Accelerator, Backend: "cuda"}
	case "metal":
		logger.Info("device forced to metal")
		return Info{Kind: Accelerator, Backend: "metal"}
	}

	if d.GOOS == "darwin" && d.GOARCH == "arm64" {
		info := Info{Kind: Accelerator, Backend: "metal", Name: "Apple Silicon"}
		logger.Info("accelerator detected", zap.String("backend", info.Backend), zap.String("name", info.Name))
		return info
	}

	if d.Run == nil {
		return cpuInfo
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := d.Run(probeCtx, "nvidia-smi", "--query-gpu=name", "--format=csv,noheader")
	if err != nil {
		logger.Info("no accelerator detected; using cpu", zap.Error(err))
		return cpuInfo
	}

	name := firstLine(out)
	if name == "" {
		logger.Info("nvidia-smi reported no devices; using cpu")
		return cpuInfo
	}

	info := Info{Kind: Accelerator, Backend: "cuda", Name: name}
	logger.Info("accelerator detected", zap.String("backend", info.Backend), zap.String("name", info.Name))
	return info
}

// Cached queries the wrapped probe at most once.
type Cached struct {
	probe Probe
	once  sync.Once
	info  Info
}

func NewCached(probe Probe) *Cached {
	return &Cached{probe: probe}
}

func (c *Cached) Detect(ctx context.Context) Info {
	c.once.Do(func() {
		if c.probe == nil {
			c.info = cpuInfo
			return
		}
		c.info = c.probe.Detect(ctx)
	})
	return c.info
}

// Static always reports the same device.
type Static Info

func (s Static) Detect(context.Context) Info {
	return Info(s)
}

func firstLine(value string) string {
	for _, line := range strings.Split(value, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%s: %w (%s)", name, err, msg)
		}
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return stdout.String(), nil
}
