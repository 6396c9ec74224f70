package relay

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ZentaChain/securechat/pkg/protocol"
)

// isControl reports packets handled inline on the connection goroutine
// because they touch registry state or need an immediate reply
func isControl(t protocol.PacketType) bool {
	switch t {
	case protocol.TypeLogin,
		protocol.TypeGroupCreate, protocol.TypeGroupJoin, protocol.TypeGroupLeave,
		protocol.TypeFileInit, protocol.TypeChunkAck, protocol.TypeStatusUpdate,
		protocol.TypeUserListQuery, protocol.TypeGroupListQuery:
		return true
	}
	return false
}

// isRoutable reports packets a client may hand to the dispatcher
func isRoutable(t protocol.PacketType) bool {
	switch t {
	case protocol.TypeDM, protocol.TypeGroupMessage,
		protocol.TypeDMAck, protocol.TypeGroupAck,
		protocol.TypeKeyExchange, protocol.TypeGroupListUpdate,
		protocol.TypeFileReq, protocol.TypeFileResp,
		protocol.TypeFileChunk, protocol.TypeFileComplete, protocol.TypeFileAbort,
		protocol.TypeResumeQuery, protocol.TypeResumeInfo:
		return true
	}
	return false
}

func (c *Connection) handlePacket(p *protocol.Packet) {
	if c.State() != StateAuthenticated {
		switch p.Type {
		case protocol.TypeLogin:
			c.handleLogin(p)
		case protocol.TypeHeartbeat:
		default:
			c.log.WithField("type", p.Type.String()).Debug("Ignoring packet before login")
		}
		return
	}

	// Never trust a client-supplied sender
	p.Sender = c.Username()

	if isControl(p.Type) {
		c.handleControl(p)
		return
	}

	switch {
	case p.Type == protocol.TypeHeartbeat:
	case p.Type == protocol.TypeResumeQuery:
		c.handleResumeQuery(p)
	case isRoutable(p.Type):
		c.server.dispatcher.Enqueue(p)
	default:
		c.log.WithField("type", p.Type.String()).Debug("No handler for packet type")
	}
}

func (c *Connection) handleControl(p *protocol.Packet) {
	reg := c.server.registry
	entry := c.log.WithField("user", p.Sender)

	switch p.Type {
	case protocol.TypeLogin:
		entry.Warn("Ignoring LOGIN on an authenticated connection")

	case protocol.TypeGroupCreate:
		if !validGroupName(p.Group) {
			entry.WithField("group", p.Group).Warn("Rejecting invalid group name")
			return
		}
		reg.CreateGroup(p.Group)
		reg.JoinGroup(p.Group, p.Sender)
		entry.WithField("group", p.Group).Info("Group created")
		c.server.broadcastGroupList()
		c.server.sendGroupMembers(p.Group)

	case protocol.TypeGroupJoin:
		if !validGroupName(p.Group) {
			entry.WithField("group", p.Group).Warn("Rejecting invalid group name")
			return
		}
		reg.JoinGroup(p.Group, p.Sender)
		entry.WithField("group", p.Group).Info("Joined group")
		c.server.broadcastGroupList()
		c.server.sendGroupMembers(p.Group)

	case protocol.TypeGroupLeave:
		if reg.LeaveGroup(p.Group, p.Sender) {
			entry.WithField("group", p.Group).Info("Left group")
		}
		c.server.broadcastGroupList()
		c.server.sendGroupMembers(p.Group)

	case protocol.TypeFileInit:
		c.server.dispatcher.Enqueue(p)

	case protocol.TypeChunkAck:
		// The ack travels receiver -> file sender, so Sender is the receiver
		// whose progress is recorded
		reg.UpdateLSTCI(p.FileID, p.Sender, p.ChunkIndex)
		c.server.dispatcher.Enqueue(p)

	case protocol.TypeStatusUpdate:
		status := strings.TrimSpace(string(p.Payload))
		if status == "" || strings.ContainsAny(status, "|:") {
			entry.Warn("Rejecting malformed status")
			return
		}
		reg.SetUserStatus(p.Sender, status)
		entry.WithField("status", status).Info("Status changed")
		c.server.broadcastUserList()

	case protocol.TypeUserListQuery:
		c.Send(c.server.userListPacket())

	case protocol.TypeGroupListQuery:
		c.sendGroupList()
	}
}

func (c *Connection) handleLogin(p *protocol.Packet) {
	reg := c.server.registry

	username, hashedPassword, err := protocol.ParseLogin(p.Payload)
	if err != nil {
		c.sendAuthResponse(false, "Invalid login format")
		return
	}
	if !protocol.ValidUsername(username) {
		c.server.stats.AuthFailures.Add(1)
		c.log.WithField("user", username).Warn("Rejecting reserved or malformed username")
		c.sendAuthResponse(false, "Invalid username")
		return
	}

	ok, err := reg.Authenticate(username, hashedPassword)
	if err != nil || !ok {
		c.server.stats.AuthFailures.Add(1)
		entry := c.log.WithField("user", username)
		if err != nil {
			entry = entry.WithError(err)
		}
		entry.Info("Login rejected")
		c.sendAuthResponse(false, "Invalid password")
		return
	}

	c.mu.Lock()
	c.username = username
	c.mu.Unlock()
	c.state.CompareAndSwap(int32(StateAuthenticating), int32(StateAuthenticated))
	c.log = c.log.WithField("user", username)

	reg.AddClient(username, c)
	reg.SetUserStatus(username, StatusOnline)

	c.log.Info("User logged in")
	c.sendAuthResponse(true, "Welcome")
	c.server.broadcastUserList()
	c.sendGroupList()
}

// handleResumeQuery answers group queries from the LSTCI table. Queries for
// a single user are forwarded so that peer answers from its own disk state.
func (c *Connection) handleResumeQuery(p *protocol.Packet) {
	reg := c.server.registry

	group := ""
	switch {
	case p.Receiver == "" && p.Group != "":
		group = p.Group
	case p.Receiver != "" && !reg.IsOnline(p.Receiver) && reg.HasGroup(p.Receiver):
		group = p.Receiver
	}

	if group == "" {
		c.server.dispatcher.Enqueue(p)
		return
	}

	last := reg.GroupResumePoint(p.FileID, group, p.Sender)

	info := protocol.NewPacket(protocol.TypeResumeInfo)
	info.Sender = group
	info.Group = group
	info.Receiver = p.Sender
	info.FileID = p.FileID
	info.ChunkIndex = last
	c.Send(info)

	c.log.WithFields(logrus.Fields{
		"file_id":    p.FileID,
		"group":      group,
		"last_chunk": last,
	}).Debug("Answered group resume query")
}

func (c *Connection) sendAuthResponse(success bool, message string) {
	resp := protocol.NewPacket(protocol.TypeAuthResponse)
	resp.Payload = protocol.FormatAuthResponse(success, message)
	c.Send(resp)
}

func (c *Connection) sendGroupList() {
	p := c.server.groupListPacket()
	p.Receiver = c.Username()
	c.Send(p)
}

func (rs *RelayServer) userListPacket() *protocol.Packet {
	p := protocol.NewPacket(protocol.TypeUserList)
	p.Priority = protocol.PriorityChat
	p.Payload = protocol.FormatUserList(rs.registry.UserStatuses())
	return p
}

func (rs *RelayServer) groupListPacket() *protocol.Packet {
	p := protocol.NewPacket(protocol.TypeGroupListUpdate)
	p.Payload = protocol.FormatNameList(rs.registry.Groups())
	return p
}

func (rs *RelayServer) broadcastUserList() {
	rs.registry.Broadcast(rs.userListPacket())
}

func (rs *RelayServer) broadcastGroupList() {
	rs.registry.Broadcast(rs.groupListPacket())
}

// sendGroupMembers pushes the member list of group to its online members
func (rs *RelayServer) sendGroupMembers(group string) {
	members, err := rs.registry.GroupMembers(group)
	if err != nil {
		return
	}

	p := protocol.NewPacket(protocol.TypeUserListUpdate)
	p.Group = group
	p.Payload = protocol.FormatNameList(members)

	for _, name := range members {
		rs.registry.Deliver(name, p)
	}
}

func validGroupName(name string) bool {
	return name != "" && len(name) <= 64 && !strings.ContainsAny(name, ",:|\n")
}
