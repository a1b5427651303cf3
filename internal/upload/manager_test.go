package upload_test

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slicer-backend/internal/core"
	"slicer-backend/internal/upload"
	"slicer-backend/pkg/api"
)

func chunk(data string) string {
	return base64.StdEncoding.EncodeToString([]byte(data))
}

func chunkRequest(id string, index, total int, filetype, data string) api.ChunkRequest {
	return api.ChunkRequest{
		Id:          id,
		ChunkIndex:  index,
		TotalChunks: total,
		Filetype:    filetype,
		Data:        data,
	}
}

func apiChunk(id string, index, total int, filetype, raw string) api.ChunkRequest {
	return chunkRequest(id, index, total, filetype, chunk(raw))
}

func TestSubmitChunkReassemblesOutOfOrder(t *testing.T) {
	manager := upload.NewManager(t.TempDir())

	parts := []struct {
		index int
		data  string
	}{
		{2, "c"}, {0, "a"}, {1, "b"},
	}

	for i, part := range parts {
		outcome, serr := manager.SubmitChunk(apiChunk("sess1", part.index, 3, "stl", part.data), upload.UploadFiletypes)
		require.Nil(t, serr)

		assert.Equal(t, i+1, outcome.Received)
		assert.Equal(t, 3, outcome.Total)

		if i < len(parts)-1 {
			assert.False(t, outcome.Complete)
			assert.Nil(t, outcome.Assembled)
		} else {
			assert.True(t, outcome.Complete)
			assert.Equal(t, []byte("abc"), outcome.Assembled)
			assert.Equal(t, "stl", outcome.Filetype)
		}
	}

	assert.False(t, manager.Has("sess1"))
}

func TestSubmitChunkDuplicateIndexLastWriteWins(t *testing.T) {
	manager := upload.NewManager(t.TempDir())

	_, serr := manager.SubmitChunk(apiChunk("sess", 0, 2, "stl", "XX"), upload.UploadFiletypes)
	require.Nil(t, serr)

	outcome, serr := manager.SubmitChunk(apiChunk("sess", 0, 2, "stl", "aa"), upload.UploadFiletypes)
	require.Nil(t, serr)
	assert.False(t, outcome.Complete)
	assert.Equal(t, 1, outcome.Received)

	outcome, serr = manager.SubmitChunk(apiChunk("sess", 1, 2, "stl", "bb"), upload.UploadFiletypes)
	require.Nil(t, serr)
	require.True(t, outcome.Complete)
	assert.Equal(t, []byte("aabb"), outcome.Assembled)
}

func TestSubmitChunkValidation(t *testing.T) {
	manager := upload.NewManager(t.TempDir())

	tests := []struct {
		name string
		req  func() (string, int, int, string, string)
	}{
		{"empty id", func() (string, int, int, string, string) { return "", 0, 1, "stl", chunk("a") }},
		{"negative index", func() (string, int, int, string, string) { return "s", -1, 1, "stl", chunk("a") }},
		{"zero total", func() (string, int, int, string, string) { return "s", 0, 0, "stl", chunk("a") }},
		{"bad filetype", func() (string, int, int, string, string) { return "s", 0, 1, "exe", chunk("a") }},
		{"bad base64", func() (string, int, int, string, string) { return "s", 0, 1, "stl", "not base64!!!" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, index, total, filetype, data := tt.req()
			_, serr := manager.SubmitChunk(chunkRequest(id, index, total, filetype, data), upload.UploadFiletypes)
			require.NotNil(t, serr)
			assert.Equal(t, core.ErrInvalidRequest, serr.Kind)
		})
	}

	// Failed submissions must not leave a session behind.
	assert.False(t, manager.Has("s"))
}

func TestSubmitChunkGcodeOnlyForPlainUploads(t *testing.T) {
	manager := upload.NewManager(t.TempDir())

	outcome, serr := manager.SubmitChunk(apiChunk("g1", 0, 1, "gcode", "; gcode"), upload.UploadFiletypes)
	require.Nil(t, serr)
	assert.True(t, outcome.Complete)

	_, serr = manager.SubmitChunk(apiChunk("g2", 0, 1, "gcode", "; gcode"), upload.SliceFiletypes)
	require.NotNil(t, serr)
	assert.Equal(t, core.ErrInvalidRequest, serr.Kind)
}

func TestSubmitChunkFiletypeCaseInsensitive(t *testing.T) {
	manager := upload.NewManager(t.TempDir())

	outcome, serr := manager.SubmitChunk(apiChunk("s", 0, 1, "STL", "x"), upload.UploadFiletypes)
	require.Nil(t, serr)
	require.True(t, outcome.Complete)
	assert.Equal(t, "stl", outcome.Filetype)
}

func TestSubmitChunkFirstChunkFixesSessionParams(t *testing.T) {
	manager := upload.NewManager(t.TempDir())

	_, serr := manager.SubmitChunk(apiChunk("s", 0, 2, "stl", "a"), upload.UploadFiletypes)
	require.Nil(t, serr)

	// A later chunk claiming a different total does not alter the session.
	outcome, serr := manager.SubmitChunk(apiChunk("s", 1, 5, "obj", "b"), upload.UploadFiletypes)
	require.Nil(t, serr)
	require.True(t, outcome.Complete)
	assert.Equal(t, "stl", outcome.Filetype)
	assert.Equal(t, []byte("ab"), outcome.Assembled)
}

func TestDeleteSessionAndArtifacts(t *testing.T) {
	dir := t.TempDir()
	manager := upload.NewManager(dir)

	_, serr := manager.SubmitChunk(apiChunk("victim", 0, 2, "stl", "a"), upload.UploadFiletypes)
	require.Nil(t, serr)

	for _, name := range []string{"victim_model.stl", "victim-1.gcode", "victim.json", "victimother.stl", "bystander_model.stl"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}

	assert.True(t, manager.Delete("victim"))
	assert.False(t, manager.Has("victim"))

	for _, name := range []string{"victim_model.stl", "victim-1.gcode", "victim.json"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.True(t, os.IsNotExist(err), "expected %s to be removed", name)
	}
	for _, name := range []string{"victimother.stl", "bystander_model.stl"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, "expected %s to survive", name)
	}
}

func TestDeleteUnknownSession(t *testing.T) {
	manager := upload.NewManager(t.TempDir())

	assert.False(t, manager.Delete("missing"))
	assert.False(t, manager.Delete(""))
}

func TestConcurrentSessionsDoNotInterfere(t *testing.T) {
	manager := upload.NewManager(t.TempDir())

	done := make(chan []byte, 2)
	for i := 0; i < 2; i++ {
		go func(n int) {
			id := fmt.Sprintf("sess-%d", n)
			var assembled []byte
			for j := 0; j < 10; j++ {
				outcome, serr := manager.SubmitChunk(apiChunk(id, j, 10, "stl", fmt.Sprintf("%d", n)), upload.UploadFiletypes)
				if serr != nil {
					t.Errorf("unexpected error: %v", serr)
				}
				if outcome.Complete {
					assembled = outcome.Assembled
				}
			}
			done <- assembled
		}(i)
	}

	for i := 0; i < 2; i++ {
		assembled := <-done
		require.Len(t, assembled, 10)
		for _, b := range assembled[1:] {
			assert.Equal(t, assembled[0], b)
		}
	}
}
