package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ZentaChain/securechat/pkg/protocol"
)

// prompt is one pending file offer waiting for /accept or /reject
type prompt struct {
	fileID string
	answer chan bool
}

// terminal prints client events as plain lines and resolves file prompts
// from typed commands
type terminal struct {
	mu      sync.Mutex
	out     io.Writer
	prompts map[string]*prompt // short id -> prompt
}

func newTerminal(out io.Writer) *terminal {
	return &terminal{out: out, prompts: make(map[string]*prompt)}
}

func (t *terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, "[%s] "+format+"\n", append([]any{time.Now().Format("15:04:05")}, args...)...)
}

func shortID(fileID string) string {
	if len(fileID) > 8 {
		return fileID[:8]
	}
	return fileID
}

func (t *terminal) AppendSystemMessage(text string) {
	t.printf("* %s", text)
}

func (t *terminal) UpdateUserList(users []protocol.UserStatus) {
	parts := make([]string, 0, len(users))
	for _, u := range users {
		parts = append(parts, u.Username+" ("+u.Status+")")
	}
	t.printf("Online: %s", strings.Join(parts, ", "))
}

func (t *terminal) UpdateGroupList(groups []string) {
	sorted := append([]string(nil), groups...)
	sort.Strings(sorted)
	t.printf("Groups: %s", strings.Join(sorted, ", "))
}

func (t *terminal) UpdateGroupMembers(group string, members []string) {
	t.printf("Members of %s: %s", group, strings.Join(members, ", "))
}

func (t *terminal) DeliverMessage(conversation, from, text string) {
	if conversation == from {
		t.printf("<%s> %s", from, text)
		return
	}
	t.printf("[%s] <%s> %s", conversation, from, text)
}

// PromptFileAcceptance blocks until the user answers or the offer is
// withdrawn
func (t *terminal) PromptFileAcceptance(fileID, text string) bool {
	p := &prompt{fileID: fileID, answer: make(chan bool, 1)}
	id := shortID(fileID)

	t.mu.Lock()
	t.prompts[id] = p
	t.mu.Unlock()

	t.printf("? %s  (/accept %s or /reject %s)", text, id, id)
	return <-p.answer
}

func (t *terminal) ClosePrompt(fileID string) {
	t.answer(shortID(fileID), false)
}

// answer resolves a pending prompt. It reports false for unknown ids.
func (t *terminal) answer(id string, accept bool) bool {
	t.mu.Lock()
	p, ok := t.prompts[id]
	delete(t.prompts, id)
	t.mu.Unlock()

	if !ok {
		return false
	}
	p.answer <- accept
	return true
}

func (t *terminal) pending() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.prompts))
	for id := range t.prompts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
