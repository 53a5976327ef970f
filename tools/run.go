// Copyright 2025, the Conseq contributors.

package tools

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path"
	"strconv"
	"strings"
	"time"
)

// stderrTailLen bounds how much captured stderr is attached to a
// ToolError.
const stderrTailLen = 2048

// Cmd describes one external tool invocation.
type Cmd struct {
	Tool string
	Args []string
	Dir  string

	// If set, the tool's stdout is streamed here instead of being
	// captured in the Result.
	Stdout io.Writer
}

// Result holds the captured output of a completed invocation.
type Result struct {
	Stdout string
	Stderr string
}

// ToolError reports a delegated binary that exited nonzero or was
// killed.  It is always fatal to the current stage and never retried
// here; retry policy belongs to the caller.
type ToolError struct {
	Tool       string
	ExitCode   int
	StderrTail string
	Timeout    bool
}

func (e *ToolError) Error() string {
	msg := e.Tool + " failed"
	if e.Timeout {
		msg += " (timed out)"
	} else if e.ExitCode != 0 {
		msg += " (exit " + strconv.Itoa(e.ExitCode) + ")"
	}
	if e.StderrTail != "" {
		msg += ": " + e.StderrTail
	}
	return msg
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTailLen {
		s = s[len(s)-stderrTailLen:]
	}
	return s
}

// Run executes one tool synchronously, capturing its output.  A
// nonzero exit (or a kill due to ctx expiry) yields a *ToolError.
// Run performs no filesystem mutation of its own; any files written
// are a consequence of the invoked tool.
func Run(ctx context.Context, c Cmd) (Result, error) {

	cmd := exec.CommandContext(ctx, c.Tool, c.Args...)
	cmd.Dir = c.Dir

	var outbuf, errbuf bytes.Buffer
	if c.Stdout != nil {
		cmd.Stdout = c.Stdout
	} else {
		cmd.Stdout = &outbuf
	}
	cmd.Stderr = &errbuf

	err := cmd.Run()
	res := Result{Stdout: outbuf.String(), Stderr: errbuf.String()}
	if err == nil {
		return res, nil
	}

	te := &ToolError{
		Tool:       path.Base(c.Tool),
		StderrTail: tail(res.Stderr),
	}
	if ctx.Err() == context.DeadlineExceeded {
		te.Timeout = true
	}
	if ee, ok := err.(*exec.ExitError); ok {
		te.ExitCode = ee.ExitCode()
	} else {
		te.ExitCode = -1
		te.StderrTail = err.Error()
	}

	return res, te
}

// RunPipe joins two tools with a pipe, producer stdout to consumer
// stdin.  Both must succeed.
func RunPipe(ctx context.Context, producer, consumer Cmd) (Result, error) {

	pr, pw, err := os.Pipe()
	if err != nil {
		return Result{}, err
	}

	pcmd := exec.CommandContext(ctx, producer.Tool, producer.Args...)
	pcmd.Dir = producer.Dir
	pcmd.Stdout = pw
	var perr bytes.Buffer
	pcmd.Stderr = &perr

	ccmd := exec.CommandContext(ctx, consumer.Tool, consumer.Args...)
	ccmd.Dir = consumer.Dir
	ccmd.Stdin = pr
	var cout, cerr bytes.Buffer
	if consumer.Stdout != nil {
		ccmd.Stdout = consumer.Stdout
	} else {
		ccmd.Stdout = &cout
	}
	ccmd.Stderr = &cerr

	if err := pcmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		return Result{}, &ToolError{Tool: path.Base(producer.Tool), ExitCode: -1, StderrTail: err.Error()}
	}
	// The children hold their own dups of the pipe ends.  The
	// parent's copies must be closed as soon as each child has
	// started: a parent-held write end would keep a producer
	// blocked on a full pipe alive forever after the consumer
	// exits, instead of letting it die on EPIPE.
	pw.Close()
	if err := ccmd.Start(); err != nil {
		pcmd.Process.Kill()
		pcmd.Wait()
		pr.Close()
		return Result{}, &ToolError{Tool: path.Base(consumer.Tool), ExitCode: -1, StderrTail: err.Error()}
	}
	pr.Close()

	perrRun := pcmd.Wait()
	cerrRun := ccmd.Wait()

	res := Result{Stdout: cout.String(), Stderr: cerr.String()}

	// A consumer death also takes the producer down through the
	// pipe, so when both fail the consumer's status is the root
	// cause.
	if cerrRun != nil {
		te := &ToolError{Tool: path.Base(consumer.Tool), StderrTail: tail(cerr.String())}
		if ctx.Err() == context.DeadlineExceeded {
			te.Timeout = true
		}
		if ee, ok := cerrRun.(*exec.ExitError); ok {
			te.ExitCode = ee.ExitCode()
		} else {
			te.ExitCode = -1
		}
		return res, te
	}

	if perrRun != nil {
		te := &ToolError{Tool: path.Base(producer.Tool), StderrTail: tail(perr.String())}
		if ctx.Err() == context.DeadlineExceeded {
			te.Timeout = true
		}
		if ee, ok := perrRun.(*exec.ExitError); ok {
			te.ExitCode = ee.ExitCode()
		} else {
			te.ExitCode = -1
		}
		return res, te
	}

	return res, nil
}

// RunContext derives a per-invocation context carrying the caller's
// tool timeout.  A zero timeout means no deadline.
func RunContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
