package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ZentaChain/securechat/pkg/crypto"
	"github.com/ZentaChain/securechat/pkg/protocol"
)

// upload describes one source file being offered or sent
type upload struct {
	path   string
	name   string
	size   int64
	fileID string
	txID   string
	total  int
}

func (t *fileTransfers) newUpload(path string) (*upload, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	name := filepath.Base(path)
	return &upload{
		path:   path,
		name:   name,
		size:   info.Size(),
		fileID: protocol.FileID(name, info.Size()),
		txID:   uuid.NewString(),
		total:  protocol.ChunkCount(info.Size(), t.cfg.ChunkSize),
	}, nil
}

func (up *upload) packet(typ protocol.PacketType) *protocol.Packet {
	p := protocol.NewPacket(typ)
	p.FileID = up.fileID
	p.FileName = up.name
	p.FileSize = up.size
	p.TransactionID = up.txID
	return p
}

// claim registers the upload, refusing a second concurrent one of the same file
func (t *fileTransfers) claim(up *upload) error {
	if _, loaded := t.uploads.LoadOrStore(up.fileID, up); loaded {
		t.ui.AppendSystemMessage(fmt.Sprintf(
			"Upload already in progress for '%s'. Please wait for the current transfer or its timeout (%s).",
			up.name, t.cfg.OfferTTL))
		return ErrUploadInProgress
	}
	return nil
}

// SendDirectFile runs the private transfer: resume query, permission, data
func (t *fileTransfers) SendDirectFile(ctx context.Context, path, peer string) error {
	up, err := t.newUpload(path)
	if err != nil {
		return err
	}
	if err := t.claim(up); err != nil {
		return err
	}
	defer t.uploads.CompareAndDelete(up.fileID, up)

	last := t.queryResume(ctx, up, peer)

	w := t.permissions.add(up.fileID)
	defer t.permissions.remove(up.fileID, w)

	req := up.packet(protocol.TypeFileReq)
	req.Receiver = peer
	if err := t.out.send(req); err != nil {
		return fmt.Errorf("send file request: %w", err)
	}
	t.ui.AppendSystemMessage(fmt.Sprintf("Asking %s for permission to send '%s'...", peer, up.name))

	approved, err := w.wait(ctx, 0)
	if err != nil {
		return err
	}
	if !approved {
		t.ui.AppendSystemMessage("Transfer denied by " + peer)
		return ErrTransferDenied
	}

	t.ui.AppendSystemMessage(fmt.Sprintf("Permission granted! Starting upload of '%s'", up.name))
	return t.sendUnicast(ctx, up, peer, "", last)
}

// groupOffer tracks a FILE_REQ broadcast to a group until it expires
type groupOffer struct {
	t     *fileTransfers
	up    *upload
	group string
	ctx   context.Context

	mu         sync.Mutex
	closed     bool
	responders map[string]struct{}
	wg         sync.WaitGroup
}

// SendGroupFile broadcasts the offer and returns. Every member that accepts
// before the offer expires gets its own transfer.
func (t *fileTransfers) SendGroupFile(ctx context.Context, path, group string) error {
	if group == "" {
		return ErrGroupRequired
	}

	up, err := t.newUpload(path)
	if err != nil {
		return err
	}
	if err := t.claim(up); err != nil {
		return err
	}

	offer := &groupOffer{
		t:          t,
		up:         up,
		group:      group,
		ctx:        ctx,
		responders: make(map[string]struct{}),
	}
	t.offers.Store(up.fileID, offer)

	req := up.packet(protocol.TypeFileReq)
	req.Group = group
	if err := t.out.send(req); err != nil {
		t.offers.CompareAndDelete(up.fileID, offer)
		t.uploads.CompareAndDelete(up.fileID, up)
		return fmt.Errorf("send file offer: %w", err)
	}

	t.ui.AppendSystemMessage(fmt.Sprintf("Offered '%s' to Group %s", up.name, group))
	go offer.expire(t.cfg.OfferTTL)
	return nil
}

// respond starts a transfer to peer on its first acceptance
func (o *groupOffer) respond(peer string, accepted bool) {
	log := o.t.log.WithFields(logrus.Fields{"file_id": o.up.fileID, "peer": peer})
	if !accepted {
		log.Info("Group file declined")
		return
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		log.Debug("Acceptance after offer expired")
		return
	}
	if _, dup := o.responders[peer]; dup {
		o.mu.Unlock()
		return
	}
	o.responders[peer] = struct{}{}
	o.wg.Add(1)
	o.mu.Unlock()

	log.Info("Group file accepted, starting transfer")
	go func() {
		defer o.wg.Done()
		last := o.t.queryResume(o.ctx, o.up, peer)
		err := o.t.sendUnicast(o.ctx, o.up, peer, o.group, last)
		if err != nil && !errors.Is(err, ErrPeerUnreachable) {
			log.WithError(err).Warn("Group transfer failed")
			o.t.ui.AppendSystemMessage("Failed to send file to " + peer)
		}
	}()
}

// expire closes the offer after ttl, tells the group, then waits for the
// running transfers before releasing the upload
func (o *groupOffer) expire(ttl time.Duration) {
	timer := time.NewTimer(ttl)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-o.ctx.Done():
	}

	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.t.offers.CompareAndDelete(o.up.fileID, o)

	abort := o.up.packet(protocol.TypeFileAbort)
	abort.Group = o.group
	if err := o.t.out.send(abort); err != nil {
		o.t.log.WithError(err).Debug("Offer expiry notice not sent")
	}
	o.t.log.WithField("file_id", o.up.fileID).Debug("Group offer expired")

	o.wg.Wait()
	o.t.uploads.CompareAndDelete(o.up.fileID, o.up)
}

func (t *fileTransfers) handleFileResponse(p *protocol.Packet) {
	accepted := strings.EqualFold(string(p.Payload), protocol.FileAccept)

	if v, ok := t.offers.Load(p.FileID); ok {
		v.(*groupOffer).respond(p.Sender, accepted)
		return
	}
	if !t.permissions.resolve(p.FileID, accepted) {
		t.log.WithField("file_id", p.FileID).Debug("Unexpected file response")
	}
}

// queryResume asks target how far it got. Any failure means no progress.
func (t *fileTransfers) queryResume(ctx context.Context, up *upload, target string) int {
	key := peerKey{fileID: up.fileID, peer: target}
	w := t.resumes.add(key)
	defer t.resumes.remove(key, w)

	q := up.packet(protocol.TypeResumeQuery)
	q.TransactionID = ""
	q.Receiver = target
	if err := t.out.send(q); err != nil {
		t.log.WithError(err).Debug("Resume query not sent")
		return protocol.NoProgress
	}

	last, err := w.wait(ctx, t.cfg.ResumeTimeout)
	if err != nil {
		t.log.WithField("peer", target).Debug("No resume info, starting from scratch")
		return protocol.NoProgress
	}

	t.log.WithFields(logrus.Fields{"peer": target, "last_chunk": last}).Info("Peer reported progress")
	return last
}

// GroupResumePoint asks the relay for the lowest chunk acknowledged by every
// online member of group
func (t *fileTransfers) GroupResumePoint(ctx context.Context, path, group string) (int, error) {
	up, err := t.newUpload(path)
	if err != nil {
		return protocol.NoProgress, err
	}

	key := peerKey{fileID: up.fileID, peer: group}
	w := t.resumes.add(key)
	defer t.resumes.remove(key, w)

	q := up.packet(protocol.TypeResumeQuery)
	q.TransactionID = ""
	q.Group = group
	if err := t.out.send(q); err != nil {
		return protocol.NoProgress, err
	}
	return w.wait(ctx, t.cfg.ResumeTimeout)
}

func (t *fileTransfers) handleResumeInfo(p *protocol.Packet) {
	if !t.resumes.resolve(peerKey{fileID: p.FileID, peer: p.Sender}, p.ChunkIndex) {
		t.log.WithFields(logrus.Fields{"file_id": p.FileID, "from": p.Sender}).Debug("Ignored resume info")
	}
}

// sendUnicast streams the chunks after last to peer, stop-and-wait, then
// sends the checksum. A receiver that already holds everything only gets
// the checksum.
func (t *fileTransfers) sendUnicast(ctx context.Context, up *upload, peer, group string, last int) error {
	log := t.log.WithFields(logrus.Fields{"file_id": up.fileID, "peer": peer})

	start := last + 1
	if start < 0 {
		start = 0
	}

	if start < up.total {
		startPkt := up.packet(protocol.TypeFileInit)
		startPkt.Receiver = peer
		startPkt.Group = group
		startPkt.TotalChunks = up.total
		if err := t.out.send(startPkt); err != nil {
			return fmt.Errorf("send file init: %w", err)
		}

		if err := t.streamChunks(ctx, up, peer, group, start); err != nil {
			if errors.Is(err, ErrPeerUnreachable) {
				abort := up.packet(protocol.TypeFileAbort)
				abort.Receiver = peer
				t.out.send(abort)
				log.Warn("Transfer abandoned, no acknowledgement")
				t.ui.AppendSystemMessage("Drop " + peer + " (Timeout)")
			}
			return err
		}
	} else {
		log.Info("Receiver already has every chunk")
	}

	sum, err := crypto.FileChecksum(up.path)
	if err != nil {
		return fmt.Errorf("checksum %s: %w", up.name, err)
	}

	complete := up.packet(protocol.TypeFileComplete)
	complete.Receiver = peer
	complete.Group = group
	complete.Payload = []byte(sum)
	if err := t.out.send(complete); err != nil {
		return fmt.Errorf("send file complete: %w", err)
	}

	log.Info("File sent")
	t.ui.AppendSystemMessage(fmt.Sprintf("Finished sending '%s' to %s", up.name, peer))
	return nil
}

func (t *fileTransfers) streamChunks(ctx context.Context, up *upload, peer, group string, start int) error {
	f, err := os.Open(up.path)
	if err != nil {
		return err
	}
	defer f.Close()

	chunkSize := t.cfg.ChunkSize
	if start > 0 {
		if _, err := f.Seek(int64(start)*int64(chunkSize), io.SeekStart); err != nil {
			return err
		}
		t.log.WithFields(logrus.Fields{"file_id": up.fileID, "skipped": start}).Info("Resuming transfer")
	}

	buf := make([]byte, chunkSize)
	for idx := start; idx < up.total; idx++ {
		n, err := io.ReadFull(f, buf)
		switch {
		case err == nil, errors.Is(err, io.ErrUnexpectedEOF):
		case errors.Is(err, io.EOF) && up.size == 0:
		default:
			return fmt.Errorf("read chunk %d: %w", idx, err)
		}

		chunk := up.packet(protocol.TypeFileChunk)
		chunk.Receiver = peer
		chunk.Group = group
		chunk.ChunkIndex = idx
		chunk.TotalChunks = up.total
		chunk.Payload = append([]byte(nil), buf[:n]...)

		if err := t.sendChunk(ctx, chunk, peer); err != nil {
			return err
		}
	}
	return nil
}

// sendChunk keeps exactly one chunk in flight until it is acknowledged or
// the retry budget runs out
func (t *fileTransfers) sendChunk(ctx context.Context, p *protocol.Packet, peer string) error {
	key := ackKey{fileID: p.FileID, peer: peer, chunk: p.ChunkIndex}

	for attempt := 1; attempt <= t.cfg.MaxRetries; attempt++ {
		w := t.acks.add(key)
		if err := t.out.send(p); err != nil {
			t.log.WithError(err).Debug("Chunk send failed")
		}

		_, err := w.wait(ctx, t.cfg.AckTimeout)
		t.acks.remove(key, w)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		t.log.WithFields(logrus.Fields{
			"file_id": p.FileID,
			"peer":    peer,
			"chunk":   p.ChunkIndex,
			"attempt": attempt,
		}).Warn("Timeout waiting for chunk ack")
	}

	return fmt.Errorf("%w: no ack for chunk %d from %s", ErrPeerUnreachable, p.ChunkIndex, peer)
}

func (t *fileTransfers) handleChunkAck(p *protocol.Packet) {
	key := ackKey{fileID: p.FileID, peer: p.Sender, chunk: p.ChunkIndex}
	if !t.acks.resolve(key, struct{}{}) {
		t.log.WithFields(logrus.Fields{
			"file_id": p.FileID,
			"chunk":   p.ChunkIndex,
		}).Debug("Late or duplicate chunk ack")
	}
}
