package upload

import (
	"encoding/base64"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"slicer-backend/internal/core"
	"slicer-backend/internal/core/utils"
	"slicer-backend/pkg/api"
)

const maxConcurrentSessions = 4096

// Accepted filetype sets per calling context. The plain upload endpoint also
// takes finished g-code; the slicing endpoint only takes sliceable geometry.
var (
	UploadFiletypes = map[string]struct{}{
		"stl": {}, "obj": {}, "step": {}, "3mf": {}, "gcode": {},
	}
	SliceFiletypes = map[string]struct{}{
		"stl": {}, "obj": {}, "step": {}, "3mf": {},
	}
)

type session struct {
	totalChunks int
	filetype    string
	settings    *api.SliceSettings
	chunks      map[int][]byte
}

// ChunkOutcome reports the state of a session after one chunk insertion.
// Assembled is set exactly once, on the chunk that completes the session.
type ChunkOutcome struct {
	Received int
	Total    int
	Complete bool

	Assembled []byte
	Filetype  string
	Settings  *api.SliceSettings
}

// Manager is the in-memory session table for in-flight chunked uploads.
// Sessions are process local and non-durable: a restart loses them. Access
// is serialized per session id only; unrelated sessions proceed in parallel.
type Manager struct {
	mu        sync.RWMutex
	locks     utils.MutexMap
	sessions  map[string]*session
	uploadDir string
}

func NewManager(uploadDir string) *Manager {
	return &Manager{
		locks:     utils.NewMutexMap(maxConcurrentSessions),
		sessions:  make(map[string]*session),
		uploadDir: uploadDir,
	}
}

// SubmitChunk validates and stores one chunk. Validation failures leave the
// session table untouched. On the completing chunk the session is removed
// from the table and the reassembled bytes are returned.
func (m *Manager) SubmitChunk(req api.ChunkRequest, accepted map[string]struct{}) (ChunkOutcome, *core.SliceError) {
	if req.Id == "" {
		return ChunkOutcome{}, core.Errf(core.ErrInvalidRequest, "upload id must not be empty")
	}
	if req.ChunkIndex < 0 {
		return ChunkOutcome{}, core.Errf(core.ErrInvalidRequest, "chunk index must not be negative")
	}
	if req.TotalChunks <= 0 {
		return ChunkOutcome{}, core.Errf(core.ErrInvalidRequest, "total chunk count must be positive")
	}
	filetype := strings.ToLower(req.Filetype)
	if _, ok := accepted[filetype]; !ok {
		return ChunkOutcome{}, core.Errf(core.ErrInvalidRequest, "filetype %q is not accepted", req.Filetype)
	}

	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		return ChunkOutcome{}, core.Errf(core.ErrInvalidRequest, "chunk data is not valid base64").WithDetail(err.Error())
	}

	if err := m.locks.Lock(req.Id); err != nil {
		return ChunkOutcome{}, core.Errf(core.ErrInvalidRequest, "too many concurrent upload sessions")
	}
	defer func() {
		if err := m.locks.Unlock(req.Id); err != nil {
			slog.Error("error releasing session lock", "id", req.Id, "error", err)
		}
	}()

	m.mu.Lock()
	sess := m.sessions[req.Id]
	if sess == nil {
		// First chunk for this id fixes the session parameters; later chunks
		// cannot alter them.
		sess = &session{
			totalChunks: req.TotalChunks,
			filetype:    filetype,
			settings:    req.Settings,
			chunks:      make(map[int][]byte),
		}
		m.sessions[req.Id] = sess
	}
	m.mu.Unlock()

	// Re-submission of an index overwrites silently: last write wins.
	sess.chunks[req.ChunkIndex] = data

	received := len(sess.chunks)
	if received < sess.totalChunks {
		return ChunkOutcome{Received: received, Total: sess.totalChunks}, nil
	}

	assembled := assemble(sess.chunks)

	m.mu.Lock()
	delete(m.sessions, req.Id)
	m.mu.Unlock()

	return ChunkOutcome{
		Received:  received,
		Total:     sess.totalChunks,
		Complete:  true,
		Assembled: assembled,
		Filetype:  sess.filetype,
		Settings:  sess.settings,
	}, nil
}

// assemble concatenates chunks in ascending index order so the reconstructed
// file is identical regardless of network arrival order.
func assemble(chunks map[int][]byte) []byte {
	indices := make([]int, 0, len(chunks))
	size := 0
	for idx, chunk := range chunks {
		indices = append(indices, idx)
		size += len(chunk)
	}
	sort.Ints(indices)

	assembled := make([]byte, 0, size)
	for _, idx := range indices {
		assembled = append(assembled, chunks[idx]...)
	}
	return assembled
}

// Delete removes a session and best-effort deletes persisted artifacts whose
// filenames start with the session id followed by a separator. It reports
// whether the session existed; cleanup failures are logged, never surfaced.
func (m *Manager) Delete(id string) bool {
	if id == "" {
		return false
	}

	m.mu.Lock()
	_, found := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	m.cleanupArtifacts(id)

	return found
}

// Has reports whether a session is currently in flight for id.
func (m *Manager) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[id]
	return ok
}

func (m *Manager) cleanupArtifacts(id string) {
	entries, err := os.ReadDir(m.uploadDir)
	if err != nil {
		slog.Error("error listing upload directory for cleanup", "id", id, "error", err)
		return
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, id+"_") && !strings.HasPrefix(name, id+"-") && !strings.HasPrefix(name, id+".") {
			continue
		}
		if err := os.Remove(filepath.Join(m.uploadDir, name)); err != nil {
			slog.Error("error removing session artifact", "id", id, "file", name, "error", err)
		}
	}
}
