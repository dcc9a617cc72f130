package shell

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"golang.org/x/term"
)

// MaxTerminalBufferBytes bounds every terminal's output ring (256 KiB:
// "PTY output buffer size ≤ 256 KiB at all times").
const MaxTerminalBufferBytes = 256 * 1024

const (
	openSettleWait    = 800 * time.Millisecond
	settleInterval    = 500 * time.Millisecond
	defaultRunTimeout = 30 * time.Second
)

// terminalBuffer is a bounded ring: a byte buffer
// with two cursors. readCursor advances on "give me new output since last
// read"; viewCursor advances on "show last N lines". Both cursors are
// expressed as offsets into the logical (untrimmed) byte stream — trimmed
// tracks how many leading bytes have been dropped so offsets below it are
// clamped to 0 rather than going negative.
type terminalBuffer struct {
	mu         sync.Mutex
	data       []byte
	trimmed    int64
	readCursor int64
	viewCursor int64
}

func (b *terminalBuffer) append(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
	if over := len(b.data) - MaxTerminalBufferBytes; over > 0 {
		b.data = b.data[over:]
		b.trimmed += int64(over)
		clean := sanitizeUTF8Prefix(b.data)
		b.trimmed += int64(len(b.data) - len(clean))
		b.data = clean
	}
}

// sanitizeUTF8Prefix drops the leading continuation bytes of a rune that
// was cut in half because the ring buffer was trimmed at an arbitrary byte
// offset. A raw byte-offset trim otherwise risks handing the model a
// dangling partial UTF-8 sequence at the front of the buffer.
func sanitizeUTF8Prefix(data []byte) []byte {
	i := 0
	for i < len(data) && i < utf8.UTFMax-1 && !utf8.RuneStart(data[i]) {
		i++
	}
	return data[i:]
}

func (b *terminalBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// logicalEnd returns the absolute offset one past the last buffered byte.
func (b *terminalBuffer) logicalEnd() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trimmed + int64(len(b.data))
}

// sliceFrom returns buffered bytes from absolute offset `from` to the end.
func (b *terminalBuffer) sliceFrom(from int64) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	rel := from - b.trimmed
	if rel < 0 {
		rel = 0
	}
	if rel >= int64(len(b.data)) {
		return nil
	}
	out := make([]byte, len(b.data)-int(rel))
	copy(out, b.data[rel:])
	return out
}

// newSinceRead returns bytes appended since readCursor and advances it to
// the current end.
func (b *terminalBuffer) newSinceRead() []byte {
	b.mu.Lock()
	from := b.readCursor
	rel := from - b.trimmed
	if rel < 0 {
		rel = 0
	}
	var out []byte
	if rel < int64(len(b.data)) {
		out = make([]byte, len(b.data)-int(rel))
		copy(out, b.data[rel:])
	}
	b.readCursor = b.trimmed + int64(len(b.data))
	b.mu.Unlock()
	return out
}

func lastNLines(data []byte, n int) []byte {
	if n <= 0 {
		return nil
	}
	count := 0
	for i := len(data) - 1; i >= 0; i-- {
		if data[i] == '\n' {
			count++
			if count > n {
				out := make([]byte, len(data)-i-1)
				copy(out, data[i+1:])
				return out
			}
		}
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

// TerminalSession is a persistent pseudo-terminal the agent can open, run
// commands in, view, and close.
type TerminalSession struct {
	ID        string
	Label     string
	ShellPID  int
	CreatedAt time.Time

	master *os.File
	cmd    *exec.Cmd
	buf    *terminalBuffer

	mu     sync.Mutex
	exited bool
}

func (t *TerminalSession) markExited() {
	t.mu.Lock()
	t.exited = true
	t.mu.Unlock()
}

func (t *TerminalSession) isExited() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exited
}

// TerminalPool owns the persistent terminal sessions: it allocates real
// OS pty master/slave pairs, spawns a shell as session leader, and drives
// each session's background reader, ring buffer, and settle algorithm.
//
// Ground: internal/shell/process_registry.go's registry/ring-buffer/
// sweeper shape (TTL sweeper omitted here — PTY sessions are explicitly
// closed or reclaimed on shutdown; sessions carry no TTL).
type TerminalPool struct {
	mu       sync.RWMutex
	sessions map[string]*TerminalSession
	logger   *slog.Logger
	shellBin string
}

// NewTerminalPool creates an empty terminal pool. shellBin overrides the
// shell binary used for new sessions; when it is empty, $SHELL is used,
// and "/bin/bash" when $SHELL is unset.
func NewTerminalPool(logger *slog.Logger, shellBin string) *TerminalPool {
	if logger == nil {
		logger = slog.Default()
	}
	return &TerminalPool{
		sessions: make(map[string]*TerminalSession),
		logger:   logger.With("component", "terminal_pool"),
		shellBin: shellBin,
	}
}

// defaultPtySize sizes new terminals after the daemon's own controlling
// terminal when one exists (e.g. `agentd start --foreground`), falling
// back to a conventional 80x24 when running detached.
func defaultPtySize() *pty.Winsize {
	if term.IsTerminal(int(os.Stdout.Fd())) {
		if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 && h > 0 {
			return &pty.Winsize{Cols: uint16(w), Rows: uint16(h)}
		}
	}
	return &pty.Winsize{Cols: 80, Rows: 24}
}

// Resize changes a terminal's pty window size, e.g. in response to the
// controlling channel's own resize event.
func (p *TerminalPool) Resize(id string, cols, rows int) error {
	sess, ok := p.Get(id)
	if !ok {
		return fmt.Errorf("terminal %s not found", id)
	}
	return pty.Setsize(sess.master, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

func (p *TerminalPool) resolveShell() string {
	if p.shellBin != "" {
		return p.shellBin
	}
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/bash"
}

// Open allocates a PTY, spawns a shell as its session leader, waits for
// the prompt to settle, and optionally cds into workingDir. Returns the
// new terminal's id and whatever output accumulated during the open.
func (p *TerminalPool) Open(label, workingDir string) (id string, initialOutput string, err error) {
	cmd := exec.Command(p.resolveShell())
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	master, err := pty.StartWithSize(cmd, defaultPtySize())
	if err != nil {
		return "", "", fmt.Errorf("terminal_open: spawn shell: %w", err)
	}

	sess := &TerminalSession{
		ID:        uuid.NewString(),
		Label:     label,
		ShellPID:  cmd.Process.Pid,
		CreatedAt: time.Now(),
		master:    master,
		cmd:       cmd,
		buf:       &terminalBuffer{},
	}

	p.mu.Lock()
	p.sessions[sess.ID] = sess
	p.mu.Unlock()

	go p.readLoop(sess)
	go func() {
		_ = cmd.Wait()
		sess.markExited()
	}()

	time.Sleep(openSettleWait)

	if workingDir != "" {
		pre := sess.buf.logicalEnd()
		if _, werr := master.Write([]byte("cd " + shellQuote(workingDir) + "\n")); werr == nil {
			p.settle(sess, pre, 5*time.Second)
			// Discard the cd's own echo/output; the caller only wants the
			// shell's startup banner.
			sess.buf.newSinceRead()
		}
	}

	out := sess.buf.newSinceRead()
	return sess.ID, scrubOutput(string(out)), nil
}

func (p *TerminalPool) readLoop(sess *TerminalSession) {
	buf := make([]byte, 4096)
	for {
		n, err := sess.master.Read(buf)
		if n > 0 {
			sess.buf.append(buf[:n])
		}
		if err != nil {
			sess.markExited()
			return
		}
	}
}

// Get returns a session by id.
func (p *TerminalPool) Get(id string) (*TerminalSession, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.sessions[id]
	return s, ok
}

// Run writes command followed by a newline and waits for output to settle
// .
func (p *TerminalPool) Run(id, command string, timeoutMs int) (string, error) {
	return p.writeAndSettle(id, command+"\n", timeoutMs)
}

// Input writes raw text without a trailing newline — used to answer
// interactive prompts.
func (p *TerminalPool) Input(id, rawText string, timeoutMs int) (string, error) {
	return p.writeAndSettle(id, rawText, timeoutMs)
}

func (p *TerminalPool) writeAndSettle(id, payload string, timeoutMs int) (string, error) {
	sess, ok := p.Get(id)
	if !ok {
		return "", fmt.Errorf("terminal %s not found", id)
	}
	if sess.isExited() {
		return "", fmt.Errorf("terminal %s has exited", id)
	}

	timeout := time.Duration(timeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultRunTimeout
	}

	pre := sess.buf.logicalEnd()
	if _, err := sess.master.Write([]byte(payload)); err != nil {
		return "", fmt.Errorf("terminal write: %w", err)
	}

	result := p.settle(sess, pre, timeout)
	return result, nil
}

// settle waits for output to stop growing: poll until at
// least one new byte arrives or the child exits, then repeatedly sleep and
// compare buffer length until it stabilizes or the deadline lapses. Returns
// the delta since `pre`, scrubbed, with the exited/timed-out prefix spec
// requires.
func (p *TerminalPool) settle(sess *TerminalSession, pre int64, timeout time.Duration) string {
	deadline := time.Now().Add(timeout)
	pollInterval := 20 * time.Millisecond

	for sess.buf.logicalEnd() == pre && !sess.isExited() && time.Now().Before(deadline) {
		time.Sleep(pollInterval)
	}

	for !sess.isExited() && time.Now().Before(deadline) {
		before := sess.buf.len()
		time.Sleep(settleInterval)
		after := sess.buf.len()
		if before == after {
			break
		}
	}

	delta := string(sess.buf.sliceFrom(pre))
	sess.buf.newSinceRead() // settle also counts as a read for the cursor
	scrubbed := scrubOutput(delta)

	switch {
	case sess.isExited():
		return "[process exited]\n" + scrubbed
	case time.Now().After(deadline):
		return fmt.Sprintf("[timed out after %ds — process still running]\n%s", int(timeout.Seconds()), scrubbed)
	default:
		return scrubbed
	}
}

// noNewOutputSentinel is returned by View when nothing meaningful arrived
// since the last view.
const noNewOutputSentinel = "[no new output since last view]"

// View returns the last N lines without consuming read_cursor. If nothing
// meaningful has arrived since the previous View, it returns the sentinel
// so the caller stops polling.
func (p *TerminalPool) View(id string, n int) (string, error) {
	sess, ok := p.Get(id)
	if !ok {
		return "", fmt.Errorf("terminal %s not found", id)
	}

	sess.buf.mu.Lock()
	sincePrevView := sess.buf.sliceFromLocked(sess.buf.viewCursor)
	sess.buf.viewCursor = sess.buf.trimmed + int64(len(sess.buf.data))
	tail := lastNLines(sess.buf.data, n)
	sess.buf.mu.Unlock()

	if len(sincePrevView) == 0 || !hasMeaningfulContent(string(sincePrevView)) {
		return noNewOutputSentinel, nil
	}
	return scrubOutput(string(tail)), nil
}

// sliceFromLocked is sliceFrom's body for callers that already hold the
// buffer's mutex.
func (b *terminalBuffer) sliceFromLocked(from int64) []byte {
	rel := from - b.trimmed
	if rel < 0 {
		rel = 0
	}
	if rel >= int64(len(b.data)) {
		return nil
	}
	out := make([]byte, len(b.data)-int(rel))
	copy(out, b.data[rel:])
	return out
}

// Close sends SIGHUP to the child, closes the master fd, and removes the
// session from the registry.
func (p *TerminalPool) Close(id string) error {
	p.mu.Lock()
	sess, ok := p.sessions[id]
	if ok {
		delete(p.sessions, id)
	}
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("terminal %s not found", id)
	}
	return closeSession(sess)
}

func closeSession(sess *TerminalSession) error {
	if sess.cmd != nil && sess.cmd.Process != nil {
		_ = sess.cmd.Process.Signal(syscall.SIGHUP)
	}
	return sess.master.Close()
}

// Shutdown drains the registry, sending SIGHUP to every child and closing
// every master fd.
func (p *TerminalPool) Shutdown() {
	p.mu.Lock()
	sessions := make([]*TerminalSession, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.sessions = make(map[string]*TerminalSession)
	p.mu.Unlock()

	for _, s := range sessions {
		if err := closeSession(s); err != nil {
			p.logger.Warn("error closing terminal during shutdown", "id", s.ID, "error", err)
		}
	}
}

// Count returns how many terminals are currently registered.
func (p *TerminalPool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sessions)
}

func shellQuote(s string) string {
	return "'" + replaceAll(s, "'", `'\''`) + "'"
}

func replaceAll(s, old, new string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if i+len(old) <= len(s) && s[i:i+len(old)] == old {
			out = append(out, new...)
			i += len(old) - 1
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}
