package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adamancini/modrunner/internal/proc"
)

// ReadyMarker prefixes the stdout line the bootstrap prints once the
// module is loaded. The rest of the line is the load report.
const ReadyMarker = "\x1emodrunner:ready "

// heldLimit caps the output kept for failure messages once a stream is open.
const heldLimit = 8 << 10

// gate holds a stream's output until opened, then passes it through to out.
type gate struct {
	mu   sync.Mutex
	out  io.Writer
	held bytes.Buffer
	open bool
}

func (g *gate) Write(p []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.open {
		return g.held.Write(p)
	}
	if g.out == nil {
		return len(p), nil
	}
	return g.out.Write(p)
}

func (g *gate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.open {
		return
	}
	g.open = true
	if g.out != nil && g.held.Len() > 0 {
		g.out.Write(g.held.Bytes())
	}
	g.held.Reset()
}

func (g *gate) bytes() []byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	b := g.held.Bytes()
	if len(b) > heldLimit {
		b = b[len(b)-heldLimit:]
	}
	return append([]byte(nil), b...)
}

// readyScanner watches stdout for the ready line. Lines before it go to
// the stdout gate.
type readyScanner struct {
	out     *gate
	partial []byte
	seen    bool
	ready   chan *report
	onReady func()
}

func (s *readyScanner) Write(p []byte) (int, error) {
	if s.seen {
		s.out.Write(p)
		return len(p), nil
	}

	s.partial = append(s.partial, p...)
	for {
		i := bytes.IndexByte(s.partial, '\n')
		if i < 0 {
			return len(p), nil
		}
		line := s.partial[:i+1]
		if rep, ok := parseReady(line); ok {
			rest := append([]byte(nil), s.partial[i+1:]...)
			s.partial = nil
			s.seen = true
			s.onReady()
			s.ready <- rep
			if len(rest) > 0 {
				s.out.Write(rest)
			}
			return len(p), nil
		}
		s.out.Write(line)
		s.partial = s.partial[i+1:]
	}
}

func (s *readyScanner) flush() {
	if len(s.partial) > 0 {
		s.out.Write(s.partial)
		s.partial = nil
	}
}

func parseReady(line []byte) (*report, bool) {
	payload, ok := bytes.CutPrefix(line, []byte(ReadyMarker))
	if !ok {
		return nil, false
	}
	var rep report
	if err := json.Unmarshal(bytes.TrimSpace(payload), &rep); err != nil {
		return nil, false
	}
	rep.OK = true
	return &rep, true
}

// liveProcess is an interpreter holding a loaded module. It accepts one
// command on stdin and exits after running it, or when stdin closes.
type liveProcess struct {
	resultPath string
	input      *os.File
	commands   *os.File
	stdout     *readyScanner
	stdoutGate *gate
	stderrGate *gate
	cancel     context.CancelFunc
	stopLoad   func() bool
	done       chan struct{}
	used       atomic.Bool
	closeOnce  sync.Once

	// Set before done is closed.
	output []byte
	err    error
}

// command is the single line sent to a ready interpreter.
type command struct {
	Function string   `json:"function"`
	Args     []string `json:"args"`
}

func (p *liveProcess) wait(ctx context.Context, runner proc.Runner, cmd proc.Command) {
	output, err := runner.Run(ctx, cmd)
	p.stdout.flush()
	p.output = append(append(output, p.stdoutGate.bytes()...), p.stderrGate.bytes()...)
	p.err = err
	p.input.Close()
	close(p.done)
}

// claim marks the process as spent. Only the first caller gets true.
func (p *liveProcess) claim() bool {
	return p.used.CompareAndSwap(false, true)
}

// send hands the interpreter its command and waits for it to exit.
// Cancelling ctx interrupts the call.
func (p *liveProcess) send(ctx context.Context, c command) {
	stop := context.AfterFunc(ctx, p.cancel)
	defer stop()

	if line, err := json.Marshal(c); err == nil {
		p.commands.Write(append(line, '\n'))
	}
	p.commands.Close()
	<-p.done
}

// release closes stdin and waits for the interpreter to exit, stopping it
// if it lingers.
func (p *liveProcess) release() {
	p.closeOnce.Do(func() {
		p.used.Store(true)
		p.commands.Close()
		select {
		case <-p.done:
		case <-time.After(proc.WaitDelay):
			p.cancel()
			<-p.done
		}
		p.stopLoad()
		p.cancel()
		os.Remove(p.resultPath)
	})
}
