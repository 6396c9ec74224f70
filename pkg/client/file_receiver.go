package client

import (
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ZentaChain/securechat/pkg/crypto"
	"github.com/ZentaChain/securechat/pkg/protocol"
)

// download is one partial file being written
type download struct {
	mu       sync.Mutex
	f        *os.File
	name     string
	total    int
	received map[int]struct{}
}

func (d *download) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f != nil {
		d.f.Sync()
		d.f.Close()
		d.f = nil
	}
}

// allowed reports whether a file packet may touch the disk. Group files
// need an explicit acceptance first.
func (t *fileTransfers) allowed(p *protocol.Packet) bool {
	if p.Group == "" {
		return true
	}
	_, ok := t.accepted.Load(p.FileID)
	return ok
}

func (t *fileTransfers) handleFileRequest(p *protocol.Packet) {
	name, err := safeFileName(p.FileName)
	if err != nil {
		t.log.WithField("name", p.FileName).Warn("Rejected file offer with invalid name")
		return
	}

	// The prompt blocks on the user, keep the read loop moving
	go func() {
		prompt := fmt.Sprintf("%s wants to send '%s' (%d KB) in %s.\nAccept?",
			p.Sender, name, p.FileSize/1024, where(p))
		accept := t.ui.PromptFileAcceptance(p.FileID, prompt)

		resp := protocol.NewPacket(protocol.TypeFileResp)
		resp.Receiver = p.Sender
		resp.Group = p.Group
		resp.FileID = p.FileID
		if accept {
			t.accepted.Store(p.FileID, struct{}{})
			resp.Payload = []byte(protocol.FileAccept)
			t.ui.AppendSystemMessage(fmt.Sprintf("You accepted file '%s'", name))
		} else {
			t.accepted.Delete(p.FileID)
			resp.Payload = []byte(protocol.FileReject)
			t.ui.AppendSystemMessage(fmt.Sprintf("You rejected file '%s'", name))
		}

		if err := t.out.send(resp); err != nil {
			t.log.WithError(err).Warn("File response not sent")
		}
	}()
}

// openDownload opens or reuses the partial file for p. A stale remnant
// longer than the declared size is cut back, and the chunks it already
// holds in full count as received.
func (t *fileTransfers) openDownload(p *protocol.Packet, name string) (*download, error) {
	if err := os.MkdirAll(t.cfg.DownloadDir, 0o755); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(t.partPath(name), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	size := info.Size()
	if size > p.FileSize {
		if err := f.Truncate(p.FileSize); err != nil {
			f.Close()
			return nil, err
		}
		t.log.WithFields(logrus.Fields{
			"file": name,
			"from": size,
			"to":   p.FileSize,
		}).Info("Truncated stale partial file")
		size = p.FileSize
	}

	d := &download{
		f:        f,
		name:     name,
		total:    p.TotalChunks,
		received: make(map[int]struct{}),
	}
	for i := 0; i <= protocol.LastChunkForSize(size, t.cfg.ChunkSize); i++ {
		d.received[i] = struct{}{}
	}

	if old, loaded := t.downloads.Swap(p.FileID, d); loaded {
		old.(*download).close()
	}
	return d, nil
}

func (t *fileTransfers) handleFileInit(p *protocol.Packet) {
	if !t.allowed(p) {
		t.log.WithField("file_id", p.FileID).Debug("Ignoring unaccepted group file")
		return
	}

	name, err := safeFileName(p.FileName)
	if err != nil {
		t.log.WithField("name", p.FileName).Warn("Rejected file with invalid name")
		return
	}
	if err := protocol.ValidateChunk(0, p.TotalChunks); err != nil {
		t.log.WithError(err).Warn("Rejected file init")
		return
	}

	if _, err := t.openDownload(p, name); err != nil {
		t.log.WithError(err).Error("Failed to initialize file download")
		t.ui.AppendSystemMessage(fmt.Sprintf("ERROR - Cannot save file '%s'", name))
		return
	}

	t.ui.AppendSystemMessage(fmt.Sprintf("Receiving file '%s' from %s in %s", name, p.Sender, where(p)))
}

func (t *fileTransfers) handleFileChunk(p *protocol.Packet) {
	if !t.allowed(p) {
		return
	}

	log := t.log.WithFields(logrus.Fields{"file_id": p.FileID, "chunk": p.ChunkIndex})
	if err := protocol.ValidateChunk(p.ChunkIndex, p.TotalChunks); err != nil {
		log.WithError(err).Warn("Dropped file chunk")
		return
	}

	var d *download
	if v, ok := t.downloads.Load(p.FileID); ok {
		d = v.(*download)
	} else {
		// The FILE_INIT was lost, typically across a reconnect
		name, err := safeFileName(p.FileName)
		if err != nil {
			log.Warn("Dropped chunk with invalid file name")
			return
		}
		if d, err = t.openDownload(p, name); err != nil {
			log.WithError(err).Error("Auto-recovery failed")
			return
		}
		log.Info("Recovered transfer from partial file")
		t.ui.AppendSystemMessage(fmt.Sprintf("Resuming reception of '%s' in %s (%s mode)",
			name, where(p), t.cfg.PartSuffix))
	}

	if len(p.Payload) > t.cfg.ChunkSize || p.TotalChunks != d.total {
		log.WithFields(logrus.Fields{
			"size":  len(p.Payload),
			"total": p.TotalChunks,
		}).Warn("Dropped chunk that does not fit the transfer")
		return
	}

	d.mu.Lock()
	if d.f == nil {
		d.mu.Unlock()
		return
	}
	if _, err := d.f.WriteAt(p.Payload, int64(p.ChunkIndex)*int64(t.cfg.ChunkSize)); err != nil {
		d.mu.Unlock()
		log.WithError(err).Error("Chunk write failed")
		return
	}
	// Unacknowledged until durable
	if err := d.f.Sync(); err != nil {
		d.mu.Unlock()
		log.WithError(err).Error("Chunk sync failed")
		return
	}
	d.received[p.ChunkIndex] = struct{}{}
	done := len(d.received) >= d.total
	if done {
		d.f.Close()
		d.f = nil
	}
	d.mu.Unlock()

	ack := protocol.NewPacket(protocol.TypeChunkAck)
	ack.Receiver = p.Sender
	ack.Group = p.Group
	ack.FileID = p.FileID
	ack.ChunkIndex = p.ChunkIndex
	ack.TotalChunks = p.TotalChunks
	if err := t.out.send(ack); err != nil {
		log.WithError(err).Debug("Chunk ack not sent")
	}

	if done {
		t.downloads.CompareAndDelete(p.FileID, d)
		t.ui.AppendSystemMessage(fmt.Sprintf("All chunks of '%s' received, verifying...", d.name))
	}
}

// handleFileComplete verifies the partial file against the sender's
// checksum and moves it into place. A mismatch leaves it for inspection.
func (t *fileTransfers) handleFileComplete(p *protocol.Packet) {
	name, err := safeFileName(p.FileName)
	if err != nil {
		return
	}
	log := t.log.WithFields(logrus.Fields{"file_id": p.FileID, "file": name})

	if v, ok := t.downloads.LoadAndDelete(p.FileID); ok {
		v.(*download).close()
	}
	t.accepted.Delete(p.FileID)

	expected := string(p.Payload)
	part, final := t.partPath(name), t.finalPath(name)

	if _, ok := fileSize(part); !ok {
		// Nothing was sent because we already had the whole file
		sum, err := crypto.FileChecksum(final)
		switch {
		case os.IsNotExist(err):
			log.Debug("Completion for a file with no local data")
		case err != nil:
			log.WithError(err).Error("Checksum failed")
			t.ui.AppendSystemMessage(fmt.Sprintf("[INTEGRITY] Could not verify '%s'", name))
		case crypto.ChecksumEqual(expected, sum):
			t.ui.AppendSystemMessage(fmt.Sprintf("[INTEGRITY] '%s' already present and verified ✅", name))
		default:
			log.WithFields(logrus.Fields{"expected": expected, "actual": sum}).Error("Checksum mismatch on existing file")
			t.ui.AppendSystemMessage(fmt.Sprintf("[INTEGRITY] '%s' CORRUPTED ❌ (Checksum Mismatch!)", name))
		}
		return
	}

	local, err := crypto.FileChecksum(part)
	if err != nil {
		log.WithError(err).Error("Checksum failed")
		t.ui.AppendSystemMessage(fmt.Sprintf("[INTEGRITY] Could not verify '%s'", name))
		return
	}

	if !crypto.ChecksumEqual(expected, local) {
		log.WithFields(logrus.Fields{"expected": expected, "actual": local}).Error("Checksum mismatch")
		t.ui.AppendSystemMessage(fmt.Sprintf("[INTEGRITY] '%s' CORRUPTED ❌ (Checksum Mismatch!)", name))
		return
	}

	if err := replaceFile(part, final); err != nil {
		log.WithError(err).Error("Rename failed")
		t.ui.AppendSystemMessage(fmt.Sprintf("[INTEGRITY] '%s' Verified but Rename Failed ⚠️", name))
		return
	}

	log.Info("File verified and saved")
	t.ui.AppendSystemMessage(fmt.Sprintf("[INTEGRITY] '%s' Verified & Saved ✅", name))
}

func replaceFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.Rename(src, dst)
}

func (t *fileTransfers) handleFileAbort(p *protocol.Packet) {
	t.ui.ClosePrompt(p.FileID)

	name, err := safeFileName(p.FileName)
	if err != nil {
		name = p.FileName
	}

	if p.Group != "" {
		if _, ok := t.accepted.Load(p.FileID); ok {
			// The offer closed, our own transfer carries on
			return
		}
		t.ui.AppendSystemMessage(fmt.Sprintf("Request for '%s' timed out (Too late to click YES).", name))
		return
	}

	if v, ok := t.downloads.LoadAndDelete(p.FileID); ok {
		v.(*download).close()
		t.ui.AppendSystemMessage(fmt.Sprintf("Transfer of '%s' aborted by %s. Partial data kept for resume.", name, p.Sender))
		return
	}
	t.ui.AppendSystemMessage(fmt.Sprintf("Request for '%s' was withdrawn by %s.", name, p.Sender))
}

// localProgress reports the last chunk held on disk for name
func (t *fileTransfers) localProgress(name string, size int64) int {
	if n, ok := fileSize(t.finalPath(name)); ok && n == size {
		return protocol.LastChunkOfFile(n, t.cfg.ChunkSize)
	}
	if n, ok := fileSize(t.partPath(name)); ok {
		return protocol.LastChunkForSize(n, t.cfg.ChunkSize)
	}
	return protocol.NoProgress
}

func (t *fileTransfers) handleResumeQuery(p *protocol.Packet) {
	last := protocol.NoProgress
	if name, err := safeFileName(p.FileName); err == nil {
		last = t.localProgress(name, p.FileSize)
	}

	info := protocol.NewPacket(protocol.TypeResumeInfo)
	info.Receiver = p.Sender
	info.FileID = p.FileID
	info.ChunkIndex = last
	if err := t.out.send(info); err != nil {
		t.log.WithError(err).Debug("Resume info not sent")
	}

	t.log.WithFields(logrus.Fields{"file_id": p.FileID, "last_chunk": last}).Debug("Answered resume query")
}
