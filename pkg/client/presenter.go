package client

import "github.com/ZentaChain/securechat/pkg/protocol"

// Presenter is the surface the client reports to. Implementations render;
// the client never does. Calls may arrive from any goroutine.
type Presenter interface {
	AppendSystemMessage(text string)
	UpdateUserList(users []protocol.UserStatus)
	UpdateGroupList(groups []string)
	UpdateGroupMembers(group string, members []string)

	// PromptFileAcceptance blocks until the user answers. ClosePrompt with
	// the same fileID must make a pending prompt return false.
	PromptFileAcceptance(fileID, prompt string) bool
	ClosePrompt(fileID string)

	// DeliverMessage hands a complete message to the conversation keyed by
	// peer or group name
	DeliverMessage(conversation, from, text string)
}

// NopPresenter discards everything and rejects every file offer
type NopPresenter struct{}

func (NopPresenter) AppendSystemMessage(string)               {}
func (NopPresenter) UpdateUserList([]protocol.UserStatus)     {}
func (NopPresenter) UpdateGroupList([]string)                 {}
func (NopPresenter) UpdateGroupMembers(string, []string)      {}
func (NopPresenter) PromptFileAcceptance(string, string) bool { return false }
func (NopPresenter) ClosePrompt(string)                       {}
func (NopPresenter) DeliverMessage(string, string, string)    {}
