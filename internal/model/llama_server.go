package model

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// LlamaServerOptions configure the llama.cpp server subprocess.
type LlamaServerOptions struct {
	Bin          string
	Host         string
	CtxSize      int
	NGL          int
	Threads      int
	ExtraArgs    []string
	ReadyTimeout time.Duration
	// Logger receives process lifecycle lines; nil discards them.
	Logger       *zerolog.Logger
}

// ParseLlamaServerOptions reads ctx_size, ngl, threads, host, extra_args and
// ready_timeout from a model's option map.
func ParseLlamaServerOptions(bin string, opts map[string]string) (LlamaServerOptions, error) {
	o := LlamaServerOptions{Bin: bin, Host: opts["host"]}
	for key, dst := range map[string]*int{"ctx_size": &o.CtxSize, "ngl": &o.NGL, "threads": &o.Threads} {
		if v := opts[key]; v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return o, fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}
	if v := opts["ready_timeout"]; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return o, fmt.Errorf("ready_timeout: %w", err)
		}
		o.ReadyTimeout = d
	}
	o.ExtraArgs = strings.Fields(opts["extra_args"])
	return o, nil
}

// LlamaServer runs one llama-server process per loaded model: Load spawns it
// and waits for /v1/models, Unload terminates it.
type LlamaServer struct {
	base
	path   string
	opts   LlamaServerOptions
	client *http.Client

	log    zerolog.Logger

	mu   sync.Mutex
	proc *llamaProc
}

type llamaProc struct {
	cmd     *exec.Cmd
	baseURL string
	done    chan struct{}
}

// NewLlamaServer returns an unloaded handle for the gguf file at path.
func NewLlamaServer(desc Descriptor, path string, opts LlamaServerOptions) *LlamaServer {
	if strings.TrimSpace(opts.Host) == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.Bin == "" {
		opts.Bin = "llama-server"
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 60 * time.Second
	}
	if desc.Backend == "" {
		desc.Backend = "llama-server"
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "llama-server").Str("model", desc.ID).Logger()
	}
	return &LlamaServer{base: base{desc: desc}, path: path, opts: opts, client: &http.Client{Timeout: 0}, log: logger}
}

// BaseURL returns the running server's URL, or "" when unloaded.
func (s *LlamaServer) BaseURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return ""
	}
	return s.proc.baseURL
}

func (s *LlamaServer) Load(ctx context.Context) error {
	if strings.TrimSpace(s.path) == "" {
		return errors.New("model path is empty")
	}
	if _, err := exec.LookPath(s.opts.Bin); err != nil {
		return ErrDependencyUnavailable(fmt.Sprintf("llama-server binary %q not found", s.opts.Bin))
	}
	port, err := pickFreePort(s.opts.Host)
	if err != nil {
		return err
	}
	baseURL := fmt.Sprintf("http://%s:%d", s.opts.Host, port)
	args := []string{"-m", s.path, "--host", s.opts.Host, "--port", strconv.Itoa(port)}
	if s.opts.CtxSize > 0 {
		args = append(args, "-c", strconv.Itoa(s.opts.CtxSize))
	}
	if s.opts.NGL > 0 {
		args = append(args, "-ngl", strconv.Itoa(s.opts.NGL))
	}
	if s.opts.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(s.opts.Threads))
	}
	args = append(args, s.opts.ExtraArgs...)

	cmd := exec.Command(s.opts.Bin, args...)
	// stderr tail is reported on early exit
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start llama-server: %w", err)
	}
	s.log.Info().Int("pid", cmd.Process.Pid).Int("port", port).Msg("llama-server started")

	proc := &llamaProc{cmd: cmd, baseURL: baseURL, done: make(chan struct{})}
	waitErr := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		waitErr <- err
		close(proc.done)
	}()

	deadline := time.NewTimer(s.opts.ReadyTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case werr := <-waitErr:
			tail := stderr.String()
			if len(tail) > 4096 {
				tail = tail[len(tail)-4096:]
			}
			return fmt.Errorf("llama-server exited before ready: %v; stderr tail: %s", werr, tail)
		case <-deadline.C:
			terminate(proc)
			return fmt.Errorf("llama-server not ready in %s: %s", s.opts.ReadyTimeout, baseURL)
		case <-ctx.Done():
			terminate(proc)
			return ctx.Err()
		case <-tick.C:
		}
		if s.healthy(baseURL) {
			break
		}
	}
	s.mu.Lock()
	s.proc = proc
	s.mu.Unlock()
	s.loaded.Store(true)
	s.log.Info().Str("url", baseURL).Msg("llama-server ready")
	return nil
}

func (s *LlamaServer) healthy(baseURL string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/models", nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Unload sends SIGTERM and kills the process if it has not exited in 2s.
func (s *LlamaServer) Unload() error {
	s.mu.Lock()
	proc := s.proc
	s.proc = nil
	s.mu.Unlock()
	s.loaded.Store(false)
	if proc == nil {
		return nil
	}
	terminate(proc)
	s.log.Info().Msg("llama-server stopped")
	return nil
}

func terminate(p *llamaProc) {
	if p.cmd.Process == nil {
		return
	}
	_ = p.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		_ = p.cmd.Process.Kill()
		<-p.done
	}
}

type chatRequest struct {
	Messages      []Message `json:"messages"`
	MaxTokens     int       `json:"max_tokens,omitempty"`
	Temperature   float64   `json:"temperature"`
	TopP          float64   `json:"top_p,omitempty"`
	TopK          int       `json:"top_k,omitempty"`
	RepeatPenalty float64   `json:"repeat_penalty,omitempty"`
	Seed          int64     `json:"seed,omitempty"`
	Stream        bool      `json:"stream"`
}

type chatStreamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// GenerateText streams an OpenAI-compatible chat completion.
func (s *LlamaServer) GenerateText(ctx context.Context, p TextParams, onDelta func(string) error) (TextResult, error) {
	baseURL := s.BaseURL()
	if baseURL == "" {
		return TextResult{}, ErrNotLoaded(s.desc.ID)
	}
	body, _ := json.Marshal(chatRequest{
		Messages:      p.Messages,
		MaxTokens:     p.MaxTokens,
		Temperature:   p.Temperature,
		TopP:          p.TopP,
		TopK:          p.TopK,
		RepeatPenalty: p.RepetitionPenalty,
		Seed:          p.Seed,
		Stream:        true,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return TextResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return TextResult{}, ctx.Err()
		}
		return TextResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return TextResult{}, fmt.Errorf("llama server http error: %s: %s", resp.Status, string(b))
	}
	var (
		res  TextResult
		text strings.Builder
	)
	r := bufio.NewReader(resp.Body)
	for {
		line, rerr := r.ReadString('\n')
		l := strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToLower(l), "data:") {
			data := strings.TrimSpace(l[len("data:"):])
			if data == "[DONE]" {
				break
			}
			var msg chatStreamResponse
			if e := json.Unmarshal([]byte(data), &msg); e == nil {
				if len(msg.Choices) > 0 {
					if frag := msg.Choices[0].Delta.Content; frag != "" {
						text.WriteString(frag)
						res.OutputTokens++
						if onDelta != nil {
							if err := onDelta(frag); err != nil {
								return res, err
							}
						}
					}
					if fr := msg.Choices[0].FinishReason; fr != "" {
						res.FinishReason = fr
					}
				}
				if msg.Usage != nil {
					res.InputTokens = msg.Usage.PromptTokens
					res.OutputTokens = msg.Usage.CompletionTokens
				}
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			return res, rerr
		}
	}
	res.Text = text.String()
	if res.FinishReason == "" {
		res.FinishReason = "stop"
	}
	return res, nil
}

func pickFreePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
