package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/hinshun/vt10x"
)

// maxChunkSize bounds one stream-json line.
const maxChunkSize = 4 * 1024 * 1024

// process is a running agent phase. A reader goroutine feeds chunks until the
// output ends; Close or ctx cancellation terminate the process.
type process struct {
	cmd     *exec.Cmd
	ctx     context.Context
	grace   time.Duration
	chunks  chan Chunk
	closed  chan struct{}
	done    chan struct{}
	exitErr error

	issueMu sync.Mutex
	issue   *Issue
	stderr  *tailWriter

	stopWatch func() bool
	closeOnce sync.Once
	cleanup   func()
}

func newProcess(ctx context.Context, cmd *exec.Cmd, grace time.Duration) *process {
	return &process{
		cmd:    cmd,
		ctx:    ctx,
		grace:  grace,
		chunks: make(chan Chunk, 16),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// startPipe runs cmd with stdout as a line-delimited JSON stream.
func startPipe(ctx context.Context, cmd *exec.Cmd, grace time.Duration) (Stream, error) {
	p := newProcess(ctx, cmd, grace)
	p.stderr = &tailWriter{limit: 4096, onLine: p.detect}
	cmd.Stderr = p.stderr

	setProcessGroup(cmd)
	cmd.WaitDelay = grace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open agent stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start agent: %w", err)
	}
	p.watch()

	go func() {
		defer p.finish()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), maxChunkSize)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(strings.TrimSpace(string(line))) == 0 {
				continue
			}
			chunk := make(Chunk, len(line))
			copy(chunk, line)
			if !p.emit(chunk) {
				_, _ = io.Copy(io.Discard, stdout)
				return
			}
		}
	}()
	return p, nil
}

// startTerminal runs cmd under a PTY for agents that only render to a
// terminal. Output is fed through a vt10x screen and each change of the last
// non-empty line becomes a text chunk.
func startTerminal(ctx context.Context, cmd *exec.Cmd, cols, rows int, grace time.Duration) (Stream, error) {
	if rows <= 0 {
		rows = 24
	}
	if cols <= 0 {
		cols = 80
	}

	vt := vt10x.New(vt10x.WithSize(cols, rows))
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	if err != nil {
		return nil, fmt.Errorf("failed to start PTY: %w", err)
	}

	p := newProcess(ctx, cmd, grace)
	p.cleanup = func() { _ = ptmx.Close() }
	p.watch()

	go func() {
		defer p.finish()
		var pending strings.Builder
		var last string
		buf := make([]byte, 32*1024)
		for {
			n, err := ptmx.Read(buf)
			if n > 0 {
				data := buf[:n]
				p.detectPartial(&pending, data)
				vt.Write(data)

				if line := lastScreenLine(vt, cols, rows); line != "" && line != last {
					last = line
					chunk, _ := json.Marshal(map[string]string{"type": "text", "text": line})
					if !p.emit(chunk) {
						return
					}
				}
			}
			if err != nil {
				// EIO once the child exits
				return
			}
		}
	}()
	return p, nil
}

// lastScreenLine returns the bottom-most non-blank row of the screen.
func lastScreenLine(vt vt10x.Terminal, cols, rows int) string {
	for row := rows - 1; row >= 0; row-- {
		var sb strings.Builder
		for col := 0; col < cols; col++ {
			g := vt.Cell(col, row)
			if g.Char == 0 {
				sb.WriteByte(' ')
			} else {
				sb.WriteRune(g.Char)
			}
		}
		if line := strings.TrimSpace(sb.String()); line != "" {
			return line
		}
	}
	return ""
}

// watch terminates the process when ctx is cancelled.
func (p *process) watch() {
	p.stopWatch = context.AfterFunc(p.ctx, p.terminate)
}

// emit hands a chunk to Recv. It returns false once the stream was closed.
func (p *process) emit(c Chunk) bool {
	select {
	case p.chunks <- c:
		return true
	case <-p.closed:
		return false
	}
}

func (p *process) finish() {
	close(p.chunks)
	p.exitErr = p.cmd.Wait()
	close(p.done)
}

// Recv returns the next chunk, or the reason the stream ended.
func (p *process) Recv() (Chunk, error) {
	if c, ok := <-p.chunks; ok {
		return c, nil
	}
	<-p.done

	if p.ctx.Err() != nil {
		return nil, context.Cause(p.ctx)
	}
	if issue := p.currentIssue(); issue != nil {
		return nil, issue
	}
	if p.exitErr != nil {
		if p.stderr != nil {
			if tail := strings.TrimSpace(p.stderr.String()); tail != "" {
				return nil, fmt.Errorf("agent exited: %w: %s", p.exitErr, tail)
			}
		}
		return nil, fmt.Errorf("agent exited: %w", p.exitErr)
	}
	return nil, io.EOF
}

// Close stops the process if it is still running and releases its resources.
// Safe to call multiple times.
func (p *process) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
		if p.stopWatch != nil {
			p.stopWatch()
		}
		p.terminate()
		if p.cleanup != nil {
			p.cleanup()
		}
	})
	return nil
}

// terminate sends SIGTERM to the process group, waits for the grace period,
// then kills it.
func (p *process) terminate() {
	if p.cmd.Process == nil {
		return
	}
	select {
	case <-p.done:
		return
	default:
	}

	signalGroup(p.cmd, syscall.SIGTERM)
	select {
	case <-p.done:
		return
	case <-time.After(p.grace):
	}

	signalGroup(p.cmd, syscall.SIGKILL)
	<-p.done
}

// detect records the first known agent failure and stops the process.
func (p *process) detect(line string) {
	issue := DetectIssue(line)
	if issue == nil {
		return
	}
	p.issueMu.Lock()
	first := p.issue == nil
	if first {
		p.issue = issue
	}
	p.issueMu.Unlock()
	if first {
		go p.terminate()
	}
}

// detectPartial accumulates PTY output and checks each completed line.
func (p *process) detectPartial(pending *strings.Builder, data []byte) {
	pending.Write(data)
	text := pending.String()
	idx := strings.LastIndexAny(text, "\r\n")
	if idx < 0 {
		return
	}
	for _, line := range strings.FieldsFunc(text[:idx], func(r rune) bool { return r == '\n' || r == '\r' }) {
		p.detect(stripANSI(line))
	}
	pending.Reset()
	pending.WriteString(text[idx+1:])
}

func (p *process) currentIssue() *Issue {
	p.issueMu.Lock()
	defer p.issueMu.Unlock()
	return p.issue
}

// tailWriter keeps the last limit bytes written and reports complete lines.
type tailWriter struct {
	mu      sync.Mutex
	limit   int
	buf     []byte
	partial []byte
	onLine  func(string)
}

func (w *tailWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	w.buf = append(w.buf, b...)
	if len(w.buf) > w.limit {
		w.buf = w.buf[len(w.buf)-w.limit:]
	}
	w.partial = append(w.partial, b...)
	var lines []string
	for {
		i := strings.IndexByte(string(w.partial), '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(w.partial[:i]))
		w.partial = w.partial[i+1:]
	}
	w.mu.Unlock()

	for _, line := range lines {
		if w.onLine != nil {
			w.onLine(line)
		}
	}
	return len(b), nil
}

func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return string(w.buf)
}

var _ Stream = (*process)(nil)
