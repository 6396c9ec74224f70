package client

import (
	"strings"
	"sync"

	"github.com/ZentaChain/securechat/pkg/protocol"
)

type delivered struct {
	conversation, from, text string
}

// recordingPresenter keeps everything the client reports
type recordingPresenter struct {
	mu       sync.Mutex
	accept   bool
	messages []string
	chats    []delivered
	users    []protocol.UserStatus
	groups   []string
	members  map[string][]string
	prompts  []string
	closed   []string
}

func newRecordingPresenter(accept bool) *recordingPresenter {
	return &recordingPresenter{accept: accept, members: make(map[string][]string)}
}

func (r *recordingPresenter) AppendSystemMessage(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, text)
}

func (r *recordingPresenter) UpdateUserList(users []protocol.UserStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = users
}

func (r *recordingPresenter) UpdateGroupList(groups []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups = groups
}

func (r *recordingPresenter) UpdateGroupMembers(group string, members []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[group] = members
}

func (r *recordingPresenter) PromptFileAcceptance(fileID, prompt string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts = append(r.prompts, prompt)
	return r.accept
}

func (r *recordingPresenter) ClosePrompt(fileID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, fileID)
}

func (r *recordingPresenter) DeliverMessage(conversation, from, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chats = append(r.chats, delivered{conversation, from, text})
}

// saw reports whether any system message contains substr
func (r *recordingPresenter) saw(substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

func (r *recordingPresenter) chatLog() []delivered {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]delivered(nil), r.chats...)
}

func (r *recordingPresenter) closedPrompts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.closed...)
}

func (r *recordingPresenter) groupList() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.groups
}

func (r *recordingPresenter) groupMembers(group string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.members[group]
}

// recordingSender captures outbound packets instead of writing them
type recordingSender struct {
	mu   sync.Mutex
	sent []*protocol.Packet
	err  error
}

func (s *recordingSender) send(p *protocol.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, p.Clone())
	return nil
}

// sendChunked records the whole payload as one packet
func (s *recordingSender) sendChunked(t protocol.PacketType, receiver, group string, payload []byte) error {
	p := protocol.NewPacket(t)
	p.Receiver = receiver
	p.Group = group
	p.TransactionID = "tx"
	p.TotalChunks = 1
	p.Payload = append([]byte(nil), payload...)
	return s.send(p)
}

func (s *recordingSender) ofType(t protocol.PacketType) []*protocol.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*protocol.Packet
	for _, p := range s.sent {
		if p.Type == t {
			out = append(out, p)
		}
	}
	return out
}

func (s *recordingSender) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = nil
}
