package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidType       = errors.New("invalid packet type")
	ErrInvalidChunkCount = errors.New("invalid total chunk count")
	ErrInvalidChunkIndex = errors.New("chunk index out of range")
)

// Packet is the single wire envelope exchanged between clients and the relay.
//
// Fields used per type:
//
//	LOGIN              Payload "user:hashedPassword"
//	AUTH_RESPONSE      Payload "SUCCESS:msg" | "FAIL:msg"
//	DM                 Receiver, TransactionID, ChunkIndex, TotalChunks, Payload (E2EE ciphertext)
//	GROUP_MESSAGE      Group, TransactionID, ChunkIndex, TotalChunks, Payload
//	DM_ACK, GROUP_ACK  Receiver, Group (group ack), TransactionID, TotalChunks
//	GROUP_CREATE/JOIN/LEAVE  Group
//	GROUP_LIST_UPDATE  Payload "g1,g2"
//	USER_LIST          Payload "user:status|user:status"
//	USER_LIST_UPDATE   Group, Payload "m1,m2"
//	STATUS_UPDATE      Payload status text
//	KEY_EXCHANGE       Receiver, Payload X25519 public key
//	FILE_REQ           Receiver or Group, FileID, FileName, FileSize, TransactionID
//	FILE_RESP          Receiver, Group (optional), FileID, Payload "YES" | "NO"
//	FILE_INIT          Receiver, Group (optional), FileID, FileName, FileSize, TotalChunks, TransactionID
//	FILE_CHUNK         FILE_INIT fields + ChunkIndex, Payload
//	CHUNK_ACK          Receiver (file sender), FileID, ChunkIndex, TotalChunks
//	FILE_COMPLETE      Receiver, Group (optional), FileID, FileName, Payload hex checksum
//	FILE_ABORT         Receiver or Group, FileID, FileName
//	RESUME_QUERY       Receiver or Group, FileID, FileName, FileSize
//	RESUME_INFO        Receiver, FileID, ChunkIndex (last received, -1 none)
//
// Sender is always overwritten by the relay with the authenticated username.
type Packet struct {
	Type          PacketType
	Priority      int
	Sender        string
	Receiver      string
	Group         string
	FileID        string
	FileName      string
	FileSize      int64
	ChunkIndex    int
	TotalChunks   int
	TransactionID string
	Payload       []byte
}

// NewPacket creates a packet with the default priority for its type
func NewPacket(t PacketType) *Packet {
	return &Packet{
		Type:     t,
		Priority: DefaultPriority(t),
	}
}

// IsTransactional reports whether the packet is one chunk of a larger transaction
func (p *Packet) IsTransactional() bool {
	return p.TransactionID != "" && (IsChat(p.Type) || p.Type == TypeFileChunk)
}

// Validate checks the type tag and, for transaction-scoped packets, the chunk bounds
func (p *Packet) Validate() error {
	if !p.Type.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidType, uint8(p.Type))
	}

	if !p.IsTransactional() {
		return nil
	}

	return ValidateChunk(p.ChunkIndex, p.TotalChunks)
}

// ValidateChunk checks index and count against the sane range
func ValidateChunk(index, total int) error {
	if total <= 0 || total > MaxTotalChunks {
		return fmt.Errorf("%w: %d", ErrInvalidChunkCount, total)
	}
	if index < 0 || index >= total {
		return fmt.Errorf("%w: %d/%d", ErrInvalidChunkIndex, index, total)
	}
	return nil
}

// Target returns the conversation key of the packet: the group if set, the
// sender otherwise
func (p *Packet) Target() string {
	if p.Group != "" {
		return p.Group
	}
	return p.Sender
}

// Clone returns a shallow copy; the payload slice is shared
func (p *Packet) Clone() *Packet {
	cp := *p
	return &cp
}

// String implements fmt.Stringer for logging
func (p *Packet) String() string {
	return fmt.Sprintf("%s[P%d %s->%s/%s chunk %d/%d]",
		p.Type, p.Priority, p.Sender, p.Receiver, p.Group, p.ChunkIndex+1, p.TotalChunks)
}
