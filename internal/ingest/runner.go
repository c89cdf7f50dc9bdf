package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

const (
	stderrLimit = 64 << 10
	waitDelay   = 5 * time.Second
)

// Command is one external process invocation. Args are passed as argv,
// never through a shell.
type Command struct {
	Path string
	Args []string
	Env  []string
}

// PipeResult holds the captured, size-capped output of a producer | consumer run.
type PipeResult struct {
	Stderr string
	Output string
}

// Runner runs producer with its stdout connected to consumer's stdin and
// waits for both. Cancelling ctx kills both processes.
type Runner interface {
	RunPipe(ctx context.Context, producer, consumer Command) (PipeResult, error)
}

// ExecRunner is the os/exec Runner.
type ExecRunner struct{}

func (ExecRunner) RunPipe(ctx context.Context, producer, consumer Command) (PipeResult, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return PipeResult{}, fmt.Errorf("create pipe: %w", err)
	}

	var prodErr, consOut, consErr cappedBuffer
	p := command(ctx, producer)
	p.Stdout = pw
	p.Stderr = &prodErr
	c := command(ctx, consumer)
	c.Stdin = pr
	c.Stdout = &consOut
	c.Stderr = &consErr

	if err := c.Start(); err != nil {
		pr.Close()
		pw.Close()
		return PipeResult{}, &ToolError{Tool: consumer.Path, Err: err}
	}
	if err := p.Start(); err != nil {
		pr.Close()
		pw.Close()
		c.Wait()
		return PipeResult{}, &ToolError{Tool: producer.Path, Err: err}
	}
	// The children hold their own copies; ours must go so the consumer sees EOF.
	pr.Close()
	pw.Close()

	pErr := p.Wait()
	cErr := c.Wait()

	res := PipeResult{
		Stderr: prodErr.String() + consErr.String(),
		Output: consOut.String(),
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	// A consumer failure usually surfaces in the producer as a broken pipe,
	// so report the consumer first.
	if cErr != nil {
		return res, toolError(consumer.Path, cErr, consErr.String())
	}
	if pErr != nil {
		return res, toolError(producer.Path, pErr, prodErr.String())
	}
	return res, nil
}

func command(ctx context.Context, c Command) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.WaitDelay = waitDelay
	return cmd
}

func toolError(tool string, err error, stderr string) *ToolError {
	te := &ToolError{Tool: tool, Stderr: stderr, Err: err}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		te.ExitCode = exitErr.ExitCode()
	}
	return te
}

// cappedBuffer keeps the first stderrLimit bytes and silently discards the
// rest, so a chatty process never blocks or fails on its stderr.
type cappedBuffer struct {
	buf       bytes.Buffer
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := stderrLimit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
			b.truncated = true
		} else {
			b.buf.Write(p)
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + "\n[truncated]"
	}
	return b.buf.String()
}
