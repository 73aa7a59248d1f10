package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultStartTimeout = 5 * time.Minute
	readyPollInterval   = 250 * time.Millisecond
	stopGracePeriod     = 5 * time.Second
)

// ServerBackend keeps a model resident in a whisper-server child process and
// talks to it over loopback HTTP.
type ServerBackend struct {
	Executable   string
	Host         string
	StartTimeout time.Duration
	HTTPClient   *http.Client
	Logger       *zap.Logger

	freePort func(host string) (int, error)
}

func NewServerBackend(override string, startTimeout time.Duration, logger *zap.Logger) (*ServerBackend, error) {
	exe, err := ResolveExecutable(serverBinary, override)
	if err != nil {
		return nil, err
	}
	return &ServerBackend{
		Executable:   exe,
		StartTimeout: startTimeout,
		Logger:       logger,
	}, nil
}

func (b *ServerBackend) Name() string { return "server" }

func (b *ServerBackend) Load(ctx context.Context, spec LoadSpec) (Instance, error) {
	logger := b.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := ensureExecutable(b.Executable); err != nil {
		return nil, fmt.Errorf("whisper-server missing or not executable: %w", err)
	}
	if _, err := os.Stat(spec.Model.Path); err != nil {
		return nil, fmt.Errorf("model file %s: %w", spec.Model.Path, err)
	}

	host := b.Host
	if host == "" {
		host = "127.0.0.1"
	}
	pickPort := b.freePort
	if pickPort == nil {
		pickPort = freeLoopbackPort
	}
	port, err := pickPort(host)
	if err != nil {
		return nil, fmt.Errorf("reserve port for whisper-server: %w", err)
	}

	args := []string{"-m", spec.Model.Path, "--host", host, "--port", strconv.Itoa(port), "-l", "auto"}
	args = append(args, deviceArgs(spec.Device.IsAccelerator(), PrecisionFor(spec.Device))...)

	// The child outlives the load request, so it is not bound to ctx.
	cmd := exec.Command(b.Executable, args...)
	output := newTailWriter(logger.Named("whisper-server"), 20)
	cmd.Stdout = output
	cmd.Stderr = output

	logger.Debug("starting whisper-server", zap.String("engine", b.Executable), zap.Strings("args", args))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start whisper-server: %w", err)
	}

	inst := &serverInstance{
		cmd:     cmd,
		baseURL: "http://" + net.JoinHostPort(host, strconv.Itoa(port)),
		client:  b.HTTPClient,
		output:  output,
		exited:  make(chan struct{}),
		logger:  logger,
	}
	if inst.client == nil {
		inst.client = &http.Client{}
	}
	go func() {
		inst.waitErr = cmd.Wait()
		close(inst.exited)
	}()

	timeout := b.StartTimeout
	if timeout <= 0 {
		timeout = defaultStartTimeout
	}
	if err := inst.waitReady(ctx, timeout); err != nil {
		_ = inst.Close()
		return nil, err
	}

	logger.Info("whisper-server ready", zap.String("url", inst.baseURL), zap.Int("pid", cmd.Process.Pid))
	return inst, nil
}

type serverInstance struct {
	cmd     *exec.Cmd
	baseURL string
	client  *http.Client
	output  *tailWriter
	logger  *zap.Logger

	exited  chan struct{}
	waitErr error

	closeOnce sync.Once
}

func (s *serverInstance) waitReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		if s.ping(ctx) {
			return nil
		}

		select {
		case <-s.exited:
			return s.exitError("whisper-server exited during model load")
		case <-ctx.Done():
			return fmt.Errorf("waiting for whisper-server: %w", ctx.Err())
		case <-deadline.C:
			return fmt.Errorf("whisper-server not ready after %s (%s)", timeout, s.output.Tail())
		case <-ticker.C:
		}
	}
}

func (s *serverInstance) ping(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/", nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode < http.StatusInternalServerError
}

func (s *serverInstance) Transcribe(ctx context.Context, req TranscriptionRequest) (string, error) {
	select {
	case <-s.exited:
		return "", s.exitError("whisper-server is not running")
	default:
	}

	body, contentType, err := inferenceForm(req)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/inference", body)
	if err != nil {
		return "", fmt.Errorf("create inference request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("whisper-server request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read whisper-server response: %w", err)
	}

	var decoded inferenceResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("whisper-server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if resp.StatusCode != http.StatusOK || decoded.Error != "" {
		msg := decoded.Error
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return "", fmt.Errorf("whisper-server returned status %d: %s", resp.StatusCode, msg)
	}

	return strings.TrimSpace(decoded.Text), nil
}

// Close stops the child process, escalating to a kill after a grace period.
func (s *serverInstance) Close() error {
	s.closeOnce.Do(func() {
		select {
		case <-s.exited:
			return
		default:
		}

		if runtime.GOOS == "windows" {
			_ = s.cmd.Process.Kill()
		} else {
			_ = s.cmd.Process.Signal(os.Interrupt)
		}

		select {
		case <-s.exited:
		case <-time.After(stopGracePeriod):
			s.logger.Warn("whisper-server did not stop; killing", zap.Int("pid", s.cmd.Process.Pid))
			_ = s.cmd.Process.Kill()
			<-s.exited
		}
	})
	return nil
}

func (s *serverInstance) exitError(msg string) error {
	if s.waitErr != nil {
		return fmt.Errorf("%s: %w (%s)", msg, s.waitErr, s.output.Tail())
	}
	return fmt.Errorf("%s (%s)", msg, s.output.Tail())
}

type inferenceResponse struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

func inferenceForm(req TranscriptionRequest) (io.Reader, string, error) {
	audio, err := os.Open(req.AudioPath)
	if err != nil {
		return nil, "", fmt.Errorf("open audio: %w", err)
	}
	defer audio.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filepath.Base(req.AudioPath))
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return nil, "", fmt.Errorf("write audio data: %w", err)
	}

	_ = writer.WriteField("response_format", "json")
	_ = writer.WriteField("temperature", "0.0")
	if lang := strings.TrimSpace(req.Language); lang != "" {
		_ = writer.WriteField("language", lang)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("finish form: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

func freeLoopbackPort(host string) (int, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer ln.Close()

	addr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		return 0, errors.New("listener has no TCP address")
	}
	return addr.Port, nil
}

// tailWriter forwards child output to the debug log line by line and keeps
// the last lines for error messages.
type tailWriter struct {
	logger *zap.Logger
	max    int

	mu      sync.Mutex
	partial []byte
	lines   []string
}

func newTailWriter(logger *zap.Logger, max int) *tailWriter {
	return &tailWriter{logger: logger, max: max}
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.partial = append(w.partial, p...)
	for {
		idx := bytes.IndexByte(w.partial, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimSpace(string(w.partial[:idx]))
		w.partial = w.partial[idx+1:]
		if line == "" {
			continue
		}
		w.logger.Debug(line)
		w.lines = append(w.lines, line)
		if len(w.lines) > w.max {
			w.lines = w.lines[len(w.lines)-w.max:]
		}
	}
	return len(p), nil
}

func (w *tailWriter) Tail() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.lines) == 0 {
		return "no output"
	}
	start := 0
	if len(w.lines) > 5 {
		start = len(w.lines) - 5
	}
	return strings.Join(w.lines[start:], "; ")
}
