package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/securechat/pkg/client"
	"github.com/ZentaChain/securechat/pkg/protocol"
)

var _ client.Presenter = (*terminal)(nil)

type call struct {
	op   string
	args []string
}

type fakeClient struct {
	calls chan call
}

func newFakeClient() *fakeClient { return &fakeClient{calls: make(chan call, 16)} }

func (f *fakeClient) record(op string, args ...string) error {
	f.calls <- call{op, args}
	return nil
}

func (f *fakeClient) next(t *testing.T) call {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(time.Second):
		t.Fatal("no client call")
		return call{}
	}
}

func (f *fakeClient) SendGroupMessage(g, text string) error { return f.record("group", g, text) }
func (f *fakeClient) SendSecureDM(p, text string) error     { return f.record("dm", p, text) }
func (f *fakeClient) CreateGroup(g string) error            { return f.record("create", g) }
func (f *fakeClient) JoinGroup(g string) error              { return f.record("join", g) }
func (f *fakeClient) LeaveGroup(g string) error             { return f.record("leave", g) }
func (f *fakeClient) UpdateStatus(s string) error           { return f.record("status", s) }
func (f *fakeClient) RequestUserList() error                { return f.record("users") }
func (f *fakeClient) RequestGroupList() error               { return f.record("groups") }

func (f *fakeClient) SendDirectFile(_ context.Context, path, peer string) error {
	return f.record("send", peer, path)
}

func (f *fakeClient) SendGroupFile(_ context.Context, path, group string) error {
	return f.record("sendgroup", group, path)
}

func (f *fakeClient) GroupResumePoint(_ context.Context, path, group string) (int, error) {
	return 4, f.record("progress", group, path)
}

func TestShellCommands(t *testing.T) {
	fc := newFakeClient()
	var out bytes.Buffer
	sh := &shell{ctx: context.Background(), c: fc, term: newTerminal(&out)}
	current := ""

	tests := []struct {
		line string
		want call
	}{
		{"/dm bob hello there", call{"dm", []string{"bob", "hello there"}}},
		{"/join devs", call{"join", []string{"devs"}}},
		{"plain text", call{"group", []string{"devs", "plain text"}}},
		{"/create ops", call{"create", []string{"ops"}}},
		{"/group devs  spaced  ", call{"group", []string{"devs", "spaced"}}},
		{"/status Away", call{"status", []string{"Away"}}},
		{"/users", call{"users", nil}},
		{"/groups", call{"groups", nil}},
		{"/send bob /tmp/a.bin", call{"send", []string{"bob", "/tmp/a.bin"}}},
		{"/sendgroup devs report.pdf", call{"sendgroup", []string{"devs", "report.pdf"}}},
		{"/progress devs report.pdf", call{"progress", []string{"devs", "report.pdf"}}},
		{"/leave devs", call{"leave", []string{"devs"}}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			require.NoError(t, sh.run(tt.line, &current))
			assert.Equal(t, tt.want, fc.next(t))
		})
	}

	assert.Equal(t, "", current, "leaving the current group clears it")
	assert.Contains(t, out.String(), "Group devs holds chunks up to 4 of report.pdf")
}

func TestShellErrors(t *testing.T) {
	sh := &shell{ctx: context.Background(), c: newFakeClient(), term: newTerminal(&bytes.Buffer{})}
	current := ""

	assert.Error(t, sh.run("no group yet", &current))
	assert.Error(t, sh.run("/dm bob", &current))
	assert.Error(t, sh.run("/join", &current))
	assert.Error(t, sh.run("/frobnicate x y", &current))
	assert.Error(t, sh.run("/accept deadbeef", &current))
	assert.ErrorIs(t, sh.run("/quit", &current), errQuit)
	assert.NoError(t, sh.run("   ", &current))
}

func TestPromptAnsweredByCommand(t *testing.T) {
	var out bytes.Buffer
	term := newTerminal(&out)
	sh := &shell{ctx: context.Background(), c: newFakeClient(), term: term}
	current := ""

	fileID := strings.Repeat("ab", 16)
	got := make(chan bool, 1)
	go func() { got <- term.PromptFileAcceptance(fileID, "alice wants to send 'a.txt'") }()

	require.Eventually(t, func() bool { return len(term.pending()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, sh.run("/accept "+shortID(fileID), &current))
	assert.True(t, <-got)
	assert.Empty(t, term.pending())
}

func TestClosePromptRejects(t *testing.T) {
	term := newTerminal(&bytes.Buffer{})

	got := make(chan bool, 1)
	go func() { got <- term.PromptFileAcceptance("f1", "offer") }()
	require.Eventually(t, func() bool { return len(term.pending()) == 1 }, time.Second, 5*time.Millisecond)

	term.ClosePrompt("f1")
	assert.False(t, <-got)

	// Closing again is harmless
	term.ClosePrompt("f1")
}

func TestTerminalRendering(t *testing.T) {
	var out bytes.Buffer
	term := newTerminal(&out)

	term.DeliverMessage("alice", "alice", "hi")
	term.DeliverMessage("devs", "bob", "standup")
	term.UpdateUserList([]protocol.UserStatus{{Username: "alice", Status: "Online"}})
	term.UpdateGroupList([]string{"ops", "devs"})

	s := out.String()
	assert.Contains(t, s, "<alice> hi")
	assert.Contains(t, s, "[devs] <bob> standup")
	assert.Contains(t, s, "Online: alice (Online)")
	assert.Contains(t, s, "Groups: devs, ops")
}

func TestPromptFor(t *testing.T) {
	assert.Equal(t, "> ", promptFor(""))
	assert.Equal(t, "[devs] > ", promptFor("devs"))
}

func TestReadWithScanner(t *testing.T) {
	lines := make(chan string)
	go readWithScanner(strings.NewReader("/join devs\nhello\n"), lines)

	var got []string
	for line := range lines {
		got = append(got, line)
	}
	assert.Equal(t, []string{"/join devs", "hello"}, got)
}
