package client

import (
	"github.com/sirupsen/logrus"

	"github.com/ZentaChain/securechat/pkg/protocol"
)

// handlePacket is the single dispatch point for inbound traffic. It runs on
// the read loop, so anything that waits on the user goes to a goroutine.
func (c *Client) handlePacket(p *protocol.Packet) {
	switch p.Type {
	case protocol.TypeAuthResponse:
		if w := c.loginWait.Load(); w != nil {
			w.resolve(protocol.ParseAuthResponse(p.Payload))
		}

	case protocol.TypeDM, protocol.TypeGroupMessage:
		c.handleChat(p)

	case protocol.TypeDMAck, protocol.TypeGroupAck:
		c.handleDeliveryAck(p)

	case protocol.TypeUserList:
		c.ui.UpdateUserList(protocol.ParseUserList(p.Payload))

	case protocol.TypeUserListUpdate:
		if p.Group != "" {
			c.ui.UpdateGroupMembers(p.Group, protocol.ParseNameList(p.Payload))
		} else {
			c.ui.UpdateUserList(protocol.ParseUserList(p.Payload))
		}

	case protocol.TypeGroupListUpdate:
		c.ui.UpdateGroupList(protocol.ParseNameList(p.Payload))

	case protocol.TypeKeyExchange:
		if err := c.e2ee.HandleKeyExchange(p); err != nil {
			c.log.WithError(err).WithField("peer", p.Sender).Warn("Key exchange failed")
			c.ui.AppendSystemMessage("Error in E2EE handshake with " + p.Sender)
		}

	case protocol.TypeHeartbeat:
		// keepalive

	default:
		if !c.files.handle(p) {
			c.log.WithField("type", p.Type.String()).Debug("Ignored packet")
		}
	}
}

// handleChat reassembles chunked messages and acknowledges complete ones
func (c *Client) handleChat(p *protocol.Packet) {
	if p.TransactionID == "" {
		// Relay notices are sent whole
		c.deliver(p)
		return
	}

	full, complete, err := c.reassembler.Add(p)
	if err != nil {
		c.log.WithError(err).WithFields(logrus.Fields{
			"from": p.Sender,
			"tx":   p.TransactionID,
		}).Warn("Dropped chat chunk")
		return
	}
	if !complete {
		return
	}

	msg := p.Clone()
	msg.Payload = full
	c.deliver(msg)

	ackType := protocol.TypeDMAck
	if p.Type == protocol.TypeGroupMessage {
		ackType = protocol.TypeGroupAck
	}
	ack := protocol.NewPacket(ackType)
	ack.Receiver = p.Sender
	ack.Group = p.Group
	ack.TransactionID = p.TransactionID
	ack.TotalChunks = p.TotalChunks
	if err := c.send(ack); err != nil {
		c.log.WithError(err).Debug("Delivery ack not sent")
	}
}

func (c *Client) deliver(p *protocol.Packet) {
	if p.Type == protocol.TypeGroupMessage {
		if p.Group == "" {
			return
		}
		c.ui.DeliverMessage(p.Target(), p.Sender, string(p.Payload))
		return
	}

	if p.Sender == protocol.SystemSender {
		if protocol.IsForcedDisconnect(p) {
			c.forced.Store(true)
			c.log.Info("Forced disconnect notice received, auto-reconnect disabled")
		}
		c.ui.AppendSystemMessage(string(p.Payload))
		return
	}

	c.ui.DeliverMessage(p.Target(), p.Sender, c.e2ee.Open(p.Sender, p.Payload))
}

func (c *Client) handleDeliveryAck(p *protocol.Packet) {
	if p.Type == protocol.TypeDMAck {
		c.ui.AppendSystemMessage("Message delivered to " + p.Sender + " ✓")
		return
	}
	c.ui.AppendSystemMessage("Delivered to " + p.Sender + " in " + p.Group + " ✓")
}
