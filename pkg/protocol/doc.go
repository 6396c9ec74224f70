// Package protocol implements the securechat wire protocol.
//
// The protocol package defines the single Packet envelope, its closed set of
// type tags, the binary encoding, the length-prefixed framing used on the
// encrypted stream and the chunking helpers shared by the relay and clients.
//
// # Protocol Overview
//
// After the transport handshake (see pkg/network) every frame on the wire is:
//
//	length:uint32 (big-endian) | ciphertext:bytes
//
// The plaintext of each frame is one encoded Packet:
//   - Magic (4 bytes): Protocol identifier (0x53434854 = "SCHT")
//   - Version (2 bytes): Protocol version (0x0100 = v1.0)
//   - Flags (2 bytes): FlagCompressed when the body is an LZ4 block
//   - Body: type, priority, string fields (2-byte length prefix), file size,
//     chunk index/count, transaction ID, payload (4-byte length prefix)
//
// # Packet Types
//
// Session:
//   - LOGIN / AUTH_RESPONSE: credential exchange
//   - HEARTBEAT: keepalive, ignored by the relay
//
// Messaging:
//   - DM / GROUP_MESSAGE: chunked chat messages, grouped by transaction ID
//   - DM_ACK / GROUP_ACK: delivery confirmation after reassembly
//   - KEY_EXCHANGE: end-to-end session bootstrap between two peers
//
// Directory:
//   - GROUP_CREATE / GROUP_JOIN / GROUP_LEAVE, GROUP_LIST_UPDATE, GROUP_LIST_QUERY
//   - USER_LIST, USER_LIST_UPDATE, USER_LIST_QUERY, STATUS_UPDATE
//
// File transfer:
//   - FILE_REQ / FILE_RESP: permission prompt
//   - RESUME_QUERY / RESUME_INFO: last received chunk
//   - FILE_INIT, FILE_CHUNK, CHUNK_ACK, FILE_COMPLETE, FILE_ABORT
//
// # Priorities
//
// Lower values are more urgent. Acknowledgements are 0, control 1, chat 2 and
// bulk file data 3. The relay drains its dispatch queue in priority order.
//
// # Chunk Bounds
//
// A packet that carries a transaction ID must have 0 < TotalChunks <= 2,000,000
// and 0 <= ChunkIndex < TotalChunks. Decode rejects anything else.
package protocol
