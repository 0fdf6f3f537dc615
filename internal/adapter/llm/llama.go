package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cwygoda/skim/internal/config"
	"github.com/cwygoda/skim/internal/domain"
)

const promptFilePlaceholder = "{prompt_file}"

// Llama runs a llama.cpp style command line engine, one process per call.
type Llama struct {
	command   string
	args      []string
	model     string
	threads   int
	maxTokens int
	maxPrompt int
	markers   []config.ProgressMarker
	parser    OutputParser
	logger    *slog.Logger

	busy atomic.Bool
}

var _ domain.Summarizer = (*Llama)(nil)

// NewLlama creates an engine from config.
func NewLlama(ec config.EngineConfig, logger *slog.Logger) (*Llama, error) {
	if ec.Command == "" {
		return nil, fmt.Errorf("engine command is required")
	}
	parser, err := NewParser(ec.Output)
	if err != nil {
		return nil, err
	}
	args := ec.Args
	if len(args) == 0 {
		args = config.DefaultLlamaArgs()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Llama{
		command:   ec.Command,
		args:      args,
		model:     ec.Model,
		threads:   ec.Threads,
		maxTokens: ec.MaxTokens,
		maxPrompt: ec.MaxPromptChars,
		markers:   ec.Progress,
		parser:    parser,
		logger:    logger,
	}, nil
}

// Summarize runs the engine on text. Only one call may run at a time; a
// concurrent call fails with domain.ErrEngineBusy. progress always receives
// 100 before Summarize returns.
func (l *Llama) Summarize(ctx context.Context, text string, progress domain.ProgressFunc) (string, error) {
	rep := newReporter(progress)
	defer rep.finish()

	if !l.busy.CompareAndSwap(false, true) {
		return "", domain.ErrEngineBusy
	}
	defer l.busy.Store(false)

	prompt := BuildPrompt(text, l.maxPrompt)

	var promptPath string
	if l.needsPromptFile() {
		path, err := writePromptFile(prompt)
		if err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrInference, err)
		}
		defer os.Remove(path)
		promptPath = path
	}

	rep.report(0)

	cmd := exec.CommandContext(ctx, l.command, l.expandArgs(promptPath)...)
	cmd.WaitDelay = 2 * time.Second
	if promptPath == "" {
		cmd.Stdin = strings.NewReader(prompt)
	}

	var stdout bytes.Buffer
	diag := &diagnostics{
		markers: l.markers,
		report:  rep.report,
		onLine: func(line string) {
			l.logger.Debug("engine diagnostics", "line", line)
		},
	}
	cmd.Stdout = &stdout
	cmd.Stderr = diag

	start := time.Now()
	if err := cmd.Start(); err != nil {
		l.logger.Error("engine failed to start", "command", l.command, "error", err)
		return "", fmt.Errorf("%w: start %s: %v", domain.ErrInference, l.command, err)
	}
	waitErr := cmd.Wait()
	diag.flush()

	if waitErr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %s killed after %s", domain.ErrTimeout, l.command, time.Since(start).Truncate(time.Millisecond))
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrInference, ctx.Err())
		}
		l.logger.Error("engine failed", "command", l.command, "error", waitErr, "stderr", diag.Tail())
		return "", fmt.Errorf("%w: %s failed: %v", domain.ErrInference, l.command, waitErr)
	}

	summary, err := l.parser.Parse(prompt, stdout.String())
	if err != nil {
		return "", err
	}
	l.logger.Debug("engine finished", "duration", time.Since(start), "output_bytes", stdout.Len())
	return summary, nil
}

func (l *Llama) needsPromptFile() bool {
	for _, arg := range l.args {
		if strings.Contains(arg, promptFilePlaceholder) {
			return true
		}
	}
	return false
}

// expandArgs fills the placeholders of the configured argument list.
func (l *Llama) expandArgs(promptPath string) []string {
	r := strings.NewReplacer(
		"{model}", l.model,
		promptFilePlaceholder, promptPath,
		"{threads}", strconv.Itoa(l.threads),
		"{max_tokens}", strconv.Itoa(l.maxTokens),
	)
	args := make([]string, len(l.args))
	for i, arg := range l.args {
		args[i] = r.Replace(arg)
	}
	return args
}

func writePromptFile(prompt string) (string, error) {
	f, err := os.CreateTemp("", "skim-prompt-*.txt")
	if err != nil {
		return "", fmt.Errorf("create prompt file: %w", err)
	}
	if _, err := f.WriteString(prompt); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write prompt file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close prompt file: %w", err)
	}
	return f.Name(), nil
}
