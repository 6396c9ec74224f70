package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ZentaChain/securechat/pkg/client"
)

var errQuit = errors.New("quit")

// chatClient is the part of client.Client the command loop drives
type chatClient interface {
	SendGroupMessage(group, text string) error
	SendSecureDM(peer, text string) error
	CreateGroup(group string) error
	JoinGroup(group string) error
	LeaveGroup(group string) error
	UpdateStatus(status string) error
	RequestUserList() error
	RequestGroupList() error
	SendDirectFile(ctx context.Context, path, peer string) error
	SendGroupFile(ctx context.Context, path, group string) error
	GroupResumePoint(ctx context.Context, path, group string) (int, error)
}

var _ chatClient = (*client.Client)(nil)

const usage = `Commands:
  /dm <user> <text>          end-to-end encrypted direct message
  /group <group> <text>      message a group
  /create <group>            create and join a group
  /join <group>              join a group
  /leave <group>             leave a group
  /status <status>           publish presence (Online, Away, Busy)
  /users                     list online users
  /groups                    list groups
  /send <user> <path>        send a file
  /sendgroup <group> <path>  offer a file to a group
  /progress <group> <path>   lowest chunk all group members hold
  /accept <id>, /reject <id> answer a file offer
  /quit`

// shell runs typed commands against a client
type shell struct {
	ctx  context.Context
	c    chatClient
	term *terminal
}

// run executes one input line. Plain text goes to the current group.
func (s *shell) run(line string, current *string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		if *current == "" {
			return errors.New("no current group, use /group <group> <text> or /join <group>")
		}
		return s.c.SendGroupMessage(*current, line)
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	arg, tail, _ := strings.Cut(rest, " ")
	tail = strings.TrimSpace(tail)

	switch cmd {
	case "/quit", "/exit":
		return errQuit
	case "/help":
		s.term.printf("%s", usage)
		return nil
	case "/users":
		return s.c.RequestUserList()
	case "/groups":
		return s.c.RequestGroupList()
	}

	if arg == "" {
		return fmt.Errorf("%s needs an argument, see /help", cmd)
	}

	switch cmd {
	case "/create":
		*current = arg
		return s.c.CreateGroup(arg)
	case "/join":
		*current = arg
		return s.c.JoinGroup(arg)
	case "/leave":
		if *current == arg {
			*current = ""
		}
		return s.c.LeaveGroup(arg)
	case "/status":
		return s.c.UpdateStatus(rest)
	case "/accept", "/reject":
		if !s.term.answer(arg, cmd == "/accept") {
			return fmt.Errorf("no pending offer %q (pending: %s)", arg, strings.Join(s.term.pending(), ", "))
		}
		return nil
	}

	if tail == "" {
		return fmt.Errorf("%s needs two arguments, see /help", cmd)
	}

	switch cmd {
	case "/dm":
		return s.c.SendSecureDM(arg, tail)
	case "/group":
		*current = arg
		return s.c.SendGroupMessage(arg, tail)
	case "/send":
		go func() {
			if err := s.c.SendDirectFile(s.ctx, tail, arg); err != nil {
				s.term.printf("! Sending %s to %s failed: %v", tail, arg, err)
			}
		}()
		return nil
	case "/sendgroup":
		return s.c.SendGroupFile(s.ctx, tail, arg)
	case "/progress":
		last, err := s.c.GroupResumePoint(s.ctx, tail, arg)
		if err != nil {
			return err
		}
		s.term.printf("Group %s holds chunks up to %d of %s", arg, last, tail)
		return nil
	}
	return fmt.Errorf("unknown command %s, see /help", cmd)
}
