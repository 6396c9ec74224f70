package protocol

import (
	"fmt"
)

// Protocol constants
const (
	// Magic number prefixed to every encoded packet ('SCHT')
	ProtocolMagic = 0x53434854

	// Protocol version
	ProtocolVersion = 0x0100 // v1.0

	// MessageChunkSize is the slice size used for chunked DM / group messages
	MessageChunkSize = 1024

	// FileChunkSize is the slice size used for file transfers. Both endpoints
	// must agree on it since receivers seek to chunkIndex*FileChunkSize.
	FileChunkSize = 64 * 1024

	// MaxTotalChunks bounds the chunk count of a single transaction
	// (2M chunks at 64 KiB is ~128 GiB)
	MaxTotalChunks = 2_000_000

	// NoProgress is the resume point reported when nothing has been received
	NoProgress = -1

	// SystemSender is the sender name used for relay-originated notices
	SystemSender = "System"
)

// PacketType is the wire discriminant of a Packet
type PacketType uint8

// Packet types. The set is closed; Decode rejects anything else.
const (
	TypeLogin PacketType = iota + 1
	TypeAuthResponse
	TypeDM
	TypeGroupMessage
	TypeDMAck
	TypeGroupAck
	TypeHeartbeat
	TypeGroupCreate
	TypeGroupJoin
	TypeGroupLeave
	TypeGroupListUpdate
	TypeGroupListQuery
	TypeUserList
	TypeUserListUpdate
	TypeUserListQuery
	TypeStatusUpdate
	TypeKeyExchange
	TypeFileReq
	TypeFileResp
	TypeFileInit
	TypeFileChunk
	TypeChunkAck
	TypeFileComplete
	TypeFileAbort
	TypeResumeQuery
	TypeResumeInfo

	typeSentinel
)

var packetTypeNames = map[PacketType]string{
	TypeLogin:           "LOGIN",
	TypeAuthResponse:    "AUTH_RESPONSE",
	TypeDM:              "DM",
	TypeGroupMessage:    "GROUP_MESSAGE",
	TypeDMAck:           "DM_ACK",
	TypeGroupAck:        "GROUP_ACK",
	TypeHeartbeat:       "HEARTBEAT",
	TypeGroupCreate:     "GROUP_CREATE",
	TypeGroupJoin:       "GROUP_JOIN",
	TypeGroupLeave:      "GROUP_LEAVE",
	TypeGroupListUpdate: "GROUP_LIST_UPDATE",
	TypeGroupListQuery:  "GROUP_LIST_QUERY",
	TypeUserList:        "USER_LIST",
	TypeUserListUpdate:  "USER_LIST_UPDATE",
	TypeUserListQuery:   "USER_LIST_QUERY",
	TypeStatusUpdate:    "STATUS_UPDATE",
	TypeKeyExchange:     "KEY_EXCHANGE",
	TypeFileReq:         "FILE_REQ",
	TypeFileResp:        "FILE_RESP",
	TypeFileInit:        "FILE_INIT",
	TypeFileChunk:       "FILE_CHUNK",
	TypeChunkAck:        "CHUNK_ACK",
	TypeFileComplete:    "FILE_COMPLETE",
	TypeFileAbort:       "FILE_ABORT",
	TypeResumeQuery:     "RESUME_QUERY",
	TypeResumeInfo:      "RESUME_INFO",
}

// String returns the wire name of the type
func (t PacketType) String() string {
	if name, ok := packetTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
}

// Valid reports whether t is one of the defined packet types
func (t PacketType) Valid() bool {
	return t > 0 && t < typeSentinel
}

// Priorities. Lower values are more urgent.
const (
	PriorityAck     = 0
	PriorityControl = 1
	PriorityChat    = 2
	PriorityBulk    = 3
)

// IsAck reports whether t is a delivery confirmation that must never wait
// behind bulk traffic
func IsAck(t PacketType) bool {
	switch t {
	case TypeChunkAck, TypeDMAck, TypeGroupAck, TypeResumeInfo:
		return true
	}
	return false
}

// IsChat reports whether t carries a chat message
func IsChat(t PacketType) bool {
	return t == TypeDM || t == TypeGroupMessage
}

// DefaultPriority returns the priority normally assigned to packets of type t
func DefaultPriority(t PacketType) int {
	switch {
	case IsAck(t):
		return PriorityAck
	case IsChat(t), t == TypeFileReq, t == TypeFileResp:
		return PriorityChat
	case t == TypeFileInit, t == TypeFileChunk:
		return PriorityBulk
	default:
		return PriorityControl
	}
}
