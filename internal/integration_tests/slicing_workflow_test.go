package integrationtests

import (
	"context"
	"encoding/base64"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	backend "slicer-backend/internal/api"
	"slicer-backend/internal/core"
	"slicer-backend/internal/database"
	"slicer-backend/internal/messaging"
	"slicer-backend/internal/signing"
	"slicer-backend/internal/storage"
	"slicer-backend/internal/upload"
	"slicer-backend/pkg/api"
)

const workflowGcode = `; HEADER_BLOCK_START
; model printing time: 42m 0s; total estimated time: 45m 0s
; HEADER_BLOCK_END
; CONFIG_BLOCK_START
; filament used [g] = 21.00
; CONFIG_BLOCK_END
`

type scriptedRunner struct{}

func (scriptedRunner) Run(ctx context.Context, name string, args []string) (core.CommandResult, error) {
	outputDir := args[len(args)-2]
	if err := os.WriteFile(filepath.Join(outputDir, "plate_1.gcode"), []byte(workflowGcode), 0644); err != nil {
		return core.CommandResult{}, err
	}
	return core.CommandResult{}, nil
}

// TestSlicingWorkflow runs the chunked slicing flow end to end against a real
// postgres ledger.
func TestSlicingWorkflow(t *testing.T) {
	ctx, cancel := integrationTimeout(t, 5*time.Minute)
	defer cancel()

	uri := setupPostgresContainer(t, ctx)
	db, err := database.NewDatabase(uri)
	require.NoError(t, err)

	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	signer, err := signing.NewSigner("workflow-secret", store.BaseDir())
	require.NoError(t, err)

	invoker := core.NewInvoker("/usr/bin/slicer", store.BaseDir(), t.TempDir(), time.Minute, scriptedRunner{})
	pipeline := core.NewPipeline(db, store, invoker, signer, core.PipelineOptions{WorkRoot: t.TempDir()})

	queue := messaging.NewInMemoryQueue()
	service := backend.NewBackendService(db, upload.NewManager(store.BaseDir()), pipeline, queue, signer)

	router := chi.NewRouter()
	router.Route("/api/v1", func(r chi.Router) {
		service.AddRoutes(r)
	})

	data := []byte("solid benchy")
	half := len(data) / 2

	var progress api.ChunkProgress
	require.NoError(t, httpRequest(router, http.MethodPost, "/api/v1/slicer/chunk", api.ChunkRequest{
		Id: "wf1", ChunkIndex: 0, TotalChunks: 2, Filetype: "stl",
		Data: base64.StdEncoding.EncodeToString(data[:half]),
	}, &progress))
	assert.False(t, progress.Complete)

	var complete api.SliceComplete
	require.NoError(t, httpRequest(router, http.MethodPost, "/api/v1/slicer/chunk", api.ChunkRequest{
		Id: "wf1", ChunkIndex: 1, TotalChunks: 2, Filetype: "stl",
		Data: base64.StdEncoding.EncodeToString(data[half:]),
	}, &complete))

	assert.True(t, complete.Complete)
	assert.Equal(t, "45m 0s", complete.Times.Total)
	assert.Equal(t, "21.00", complete.Filament.UsedG)

	var job database.SliceJob
	require.NoError(t, db.First(&job, "session_id = ?", "wf1").Error)
	assert.Equal(t, database.JobCompleted, job.Status)
	assert.Equal(t, "wf1_print.gcode", job.OutputFilename)
	assert.True(t, job.CompletionTime.Valid)
}
