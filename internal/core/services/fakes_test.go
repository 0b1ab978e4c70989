package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sentinel/console/internal/domain"
	"github.com/sentinel/console/internal/infrastructure/db"
	"github.com/sentinel/console/internal/infrastructure/logger"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	category domain.Category
	ref      domain.MessageRef
	msg      domain.Message
}

type fakeNotifier struct {
	mu    sync.Mutex
	fail  bool
	sent  []sentMessage
	edits map[string]domain.Message

	// onSend runs after a message is delivered and before Send returns.
	onSend func(ref domain.MessageRef)
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{edits: make(map[string]domain.Message)}
}

func (n *fakeNotifier) Send(_ context.Context, category domain.Category, msg domain.Message) (domain.MessageRef, bool) {
	n.mu.Lock()
	if n.fail {
		n.mu.Unlock()
		return domain.MessageRef{}, false
	}
	ref := domain.MessageRef{ChannelID: string(category), MessageID: fmt.Sprintf("msg-%d", len(n.sent)+1)}
	n.sent = append(n.sent, sentMessage{category: category, ref: ref, msg: msg})
	onSend := n.onSend
	n.mu.Unlock()

	if onSend != nil {
		onSend(ref)
	}
	return ref, true
}

func (n *fakeNotifier) Edit(_ context.Context, ref domain.MessageRef, msg domain.Message) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.edits[ref.MessageID] = msg
	return true
}

func (n *fakeNotifier) Sent(category domain.Category) []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sentMessage
	for _, s := range n.sent {
		if s.category == category {
			out = append(out, s)
		}
	}
	return out
}

func (n *fakeNotifier) Edited(id string) (domain.Message, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	m, ok := n.edits[id]
	return m, ok
}

type execCall struct {
	target  domain.RemoteTarget
	command string
	timeout time.Duration
}

// fakeExecutor answers commands by the first matching prefix rule.
type fakeExecutor struct {
	mu    sync.Mutex
	rules map[string]domain.CommandResult
	calls []execCall
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{rules: make(map[string]domain.CommandResult)}
}

func (e *fakeExecutor) On(prefix string, res domain.CommandResult) {
	e.mu.Lock()
	e.rules[prefix] = res
	e.mu.Unlock()
}

func (e *fakeExecutor) Execute(_ context.Context, target domain.RemoteTarget, command string, timeout time.Duration) domain.CommandResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, execCall{target: target, command: command, timeout: timeout})
	best := ""
	for prefix := range e.rules {
		if strings.HasPrefix(command, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return domain.CommandResult{Success: true}
	}
	return e.rules[best]
}

func (e *fakeExecutor) Calls() []execCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]execCall(nil), e.calls...)
}

// fakeFiles serves remote files keyed by host+path. Unknown files do not
// exist; hosts in fail return a transport error.
type fakeFiles struct {
	mu    sync.Mutex
	files map[string]string
	fail  map[string]bool
	reads []string
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{files: make(map[string]string), fail: make(map[string]bool)}
}

func (f *fakeFiles) Put(host, path, content string) {
	f.mu.Lock()
	f.files[host+path] = content
	f.mu.Unlock()
}

func (f *fakeFiles) ReadFile(_ context.Context, target domain.RemoteTarget, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, target.Host+path)
	if f.fail[target.Host] {
		return nil, errors.New("sftp: subsystem unavailable")
	}
	content, ok := f.files[target.Host+path]
	if !ok {
		return nil, fmt.Errorf("sftp: open %s: %w", path, fs.ErrNotExist)
	}
	return []byte(content), nil
}

func ok(stdout string) domain.CommandResult {
	return domain.CommandResult{Success: true, Stdout: stdout}
}

type fakeSource struct {
	mu        sync.Mutex
	kind      string
	queue     []domain.QueueItem
	queueErr  error
	removeErr error
	removed   []int
}

func (s *fakeSource) Kind() string { return s.kind }

func (s *fakeSource) Queue(context.Context) ([]domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queueErr != nil {
		return nil, s.queueErr
	}
	return append([]domain.QueueItem(nil), s.queue...), nil
}

func (s *fakeSource) RemoveFromQueue(_ context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removeErr != nil {
		return s.removeErr
	}
	s.removed = append(s.removed, id)
	return nil
}

func (s *fakeSource) Set(items ...domain.QueueItem) {
	s.mu.Lock()
	s.queue = items
	s.mu.Unlock()
}

type fakeApplier struct {
	mu      sync.Mutex
	applied []domain.ApprovalAction
	fail    map[string]bool
}

func (a *fakeApplier) Apply(_ context.Context, action domain.ApprovalAction, _ string) domain.CommandResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.applied = append(a.applied, action)
	if a.fail[action.Target] {
		return domain.CommandResult{Stderr: "pull failed", ExitCode: 1}
	}
	return ok("done")
}

func (a *fakeApplier) Applied() []domain.ApprovalAction {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.ApprovalAction(nil), a.applied...)
}

func newTestStore(t *testing.T) *db.Store {
	t.Helper()
	store, err := db.OpenMemory(logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func queueItem(id int, title string, size, left float64) domain.QueueItem {
	return domain.QueueItem{ID: id, Title: title, Size: size, SizeLeft: left, Status: "downloading"}
}
