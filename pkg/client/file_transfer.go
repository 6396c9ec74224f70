package client

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ZentaChain/securechat/pkg/config"
	"github.com/ZentaChain/securechat/pkg/protocol"
)

var (
	ErrPeerUnreachable  = errors.New("peer unreachable")
	ErrUploadInProgress = errors.New("upload already in progress")
	ErrTransferDenied   = errors.New("transfer denied")
	ErrInvalidFileName  = errors.New("invalid file name")
)

// peerKey scopes resume coordination to one file and one answering party
type peerKey struct {
	fileID string
	peer   string
}

// ackKey identifies the single chunk in flight to one receiver
type ackKey struct {
	fileID string
	peer   string
	chunk  int
}

// fileTransfers holds upload and download state for one client
type fileTransfers struct {
	cfg config.FileTransferConfig
	out packetSender
	ui  Presenter
	log *logrus.Entry

	// upload side
	uploads     sync.Map // fileID -> *upload
	offers      sync.Map // fileID -> *groupOffer
	acks        waiterSet[ackKey, struct{}]
	resumes     waiterSet[peerKey, int]
	permissions waiterSet[string, bool]

	// download side
	downloads sync.Map // fileID -> *download
	accepted  sync.Map // fileID -> struct{}
}

func newFileTransfers(cfg config.FileTransferConfig, out packetSender, ui Presenter) *fileTransfers {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = protocol.FileChunkSize
	}
	return &fileTransfers{
		cfg: cfg,
		out: out,
		ui:  ui,
		log: logrus.WithField("component", "files"),
	}
}

// safeFileName strips any directory part from a name chosen by the peer
func safeFileName(name string) (string, error) {
	base := filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if base == "." || base == ".." || base == string(filepath.Separator) {
		return "", ErrInvalidFileName
	}
	return base, nil
}

func (t *fileTransfers) partPath(name string) string {
	return filepath.Join(t.cfg.DownloadDir, name+t.cfg.PartSuffix)
}

func (t *fileTransfers) finalPath(name string) string {
	return filepath.Join(t.cfg.DownloadDir, name)
}

// where describes the conversation a file packet belongs to
func where(p *protocol.Packet) string {
	if p.Group != "" {
		return "Group " + p.Group
	}
	return "Private Chat"
}

// closeAll releases every open download handle. Partial files stay on disk.
func (t *fileTransfers) closeAll() {
	t.downloads.Range(func(k, v any) bool {
		t.downloads.Delete(k)
		v.(*download).close()
		return true
	})
}

func fileSize(path string) (int64, bool) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return 0, false
	}
	return info.Size(), true
}

// handle routes inbound file packets, reporting false for any other type
func (t *fileTransfers) handle(p *protocol.Packet) bool {
	switch p.Type {
	case protocol.TypeFileReq:
		t.handleFileRequest(p)
	case protocol.TypeFileResp:
		t.handleFileResponse(p)
	case protocol.TypeFileInit:
		t.handleFileInit(p)
	case protocol.TypeFileChunk:
		t.handleFileChunk(p)
	case protocol.TypeChunkAck:
		t.handleChunkAck(p)
	case protocol.TypeFileComplete:
		t.handleFileComplete(p)
	case protocol.TypeFileAbort:
		t.handleFileAbort(p)
	case protocol.TypeResumeQuery:
		t.handleResumeQuery(p)
	case protocol.TypeResumeInfo:
		t.handleResumeInfo(p)
	default:
		return false
	}
	return true
}
