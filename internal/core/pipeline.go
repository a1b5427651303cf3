package core

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"slicer-backend/internal/database"
	"slicer-backend/internal/pricing"
	"slicer-backend/internal/signing"
	"slicer-backend/internal/storage"
	"slicer-backend/pkg/api"
)

// Pipeline drives a completed upload through slicing, metadata extraction,
// link issuing and cleanup. Every run is recorded in the job ledger, and every
// exit path (success or failure) removes the engine working directory.
type Pipeline struct {
	db      *gorm.DB
	store   *storage.LocalStore
	mirror  storage.ObjectStore
	invoker *Invoker
	signer  *signing.Signer
	pricing *pricing.Client

	workRoot string

	// purgeOnFailure additionally deletes the persisted model artifact and
	// any generated profile files on failure. Off by default: the
	// conservative policy keeps user data around for retries.
	purgeOnFailure bool
}

type PipelineOptions struct {
	WorkRoot       string
	Mirror         storage.ObjectStore
	Pricing        *pricing.Client
	PurgeOnFailure bool
}

func NewPipeline(db *gorm.DB, store *storage.LocalStore, invoker *Invoker, signer *signing.Signer, opts PipelineOptions) *Pipeline {
	workRoot := opts.WorkRoot
	if workRoot == "" {
		workRoot = os.TempDir()
	}
	return &Pipeline{
		db:             db,
		store:          store,
		mirror:         opts.Mirror,
		invoker:        invoker,
		signer:         signer,
		pricing:        opts.Pricing,
		workRoot:       workRoot,
		purgeOnFailure: opts.PurgeOnFailure,
	}
}

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]`)

// sessionTag is the session id with separators stripped; generated filenames
// embed it so failure cleanup can tell generated files from user-supplied
// ones.
func sessionTag(sessionId string) string {
	return nonAlphanumeric.ReplaceAllString(sessionId, "")
}

func ModelFilename(sessionId, filetype string) string {
	return fmt.Sprintf("%s_model.%s", sessionTag(sessionId), filetype)
}

// CreateJob inserts the ledger row for a slicing run.
func (p *Pipeline) CreateJob(ctx context.Context, jobId uuid.UUID, sessionId string, settings *api.SliceSettings, status string) error {
	var settingsJSON []byte
	if settings != nil {
		var err error
		if settingsJSON, err = json.Marshal(settings); err != nil {
			return fmt.Errorf("error marshalling slice settings: %w", err)
		}
	}

	job := database.SliceJob{
		Id:           jobId,
		SessionId:    sessionId,
		Status:       status,
		Settings:     settingsJSON,
		CreationTime: time.Now().UTC(),
	}

	if err := p.db.WithContext(ctx).Create(&job).Error; err != nil {
		return fmt.Errorf("error creating slice job record: %w", err)
	}
	return nil
}

// PersistUpload stores a reassembled plain upload under the serving root and
// mirrors it when a mirror is configured.
func (p *Pipeline) PersistUpload(ctx context.Context, filename string, data []byte) error {
	if err := p.store.PutObject(ctx, filename, bytes.NewReader(data)); err != nil {
		return Errf(ErrMisconfigured, "unable to persist uploaded file").WithDetail(err.Error())
	}
	p.MirrorArtifacts(ctx, filename)
	return nil
}

// RunSession persists an assembled model file and runs the full slicing flow
// for it. Returns the terminal completion payload or the classified failure.
func (p *Pipeline) RunSession(ctx context.Context, jobId uuid.UUID, sessionId string, data []byte, filetype string, settings *api.SliceSettings, allowArchive bool) (*api.SliceComplete, *SliceError) {
	modelFilename := ModelFilename(sessionId, filetype)

	if err := p.store.PutObject(ctx, modelFilename, bytes.NewReader(data)); err != nil {
		serr := Errf(ErrMisconfigured, "unable to persist assembled model").WithDetail(err.Error())
		p.fail(ctx, jobId, sessionId, serr, "", "")
		return nil, serr
	}

	return p.Run(ctx, jobId, sessionId, modelFilename, settings, allowArchive)
}

// Run slices an already persisted model file. When allowArchive is set,
// multiple engine outputs are packaged into a single zip artifact; otherwise
// anything other than exactly one output fails the job.
func (p *Pipeline) Run(ctx context.Context, jobId uuid.UUID, sessionId, modelFilename string, settings *api.SliceSettings, allowArchive bool) (*api.SliceComplete, *SliceError) {
	if err := database.UpdateSliceJobStatus(ctx, p.db, jobId, database.JobRunning); err != nil {
		slog.Warn("unable to mark slice job running", "job_id", jobId, "error", err)
	}

	if err := p.db.WithContext(ctx).Model(&database.SliceJob{Id: jobId}).
		Update("model_filename", modelFilename).Error; err != nil {
		slog.Warn("unable to record model filename", "job_id", jobId, "error", err)
	}

	modelPath := filepath.Join(p.store.BaseDir(), modelFilename)
	modelInfo, err := os.Stat(modelPath)
	if err != nil {
		serr := Errf(ErrNotFound, "model file %q not found", modelFilename)
		p.fail(ctx, jobId, sessionId, serr, "", modelFilename)
		return nil, serr
	}

	modelUrl, err := p.signer.SignedURL(modelFilename)
	if err != nil {
		serr := signingError(err)
		p.fail(ctx, jobId, sessionId, serr, "", modelFilename)
		return nil, serr
	}

	workDir := filepath.Join(p.workRoot, "slice-"+uuid.NewString())

	result := p.invoker.Invoke(ctx, modelPath, workDir, settings)
	if !result.Ok() {
		p.fail(ctx, jobId, sessionId, result.Err, result.WorkDir, modelFilename)
		return nil, result.Err
	}

	outputPath := result.Outputs[0]
	if len(result.Outputs) > 1 {
		if !allowArchive {
			serr := Errf(ErrUnexpectedOutputCount, "engine produced %d output files, expected 1", len(result.Outputs))
			p.fail(ctx, jobId, sessionId, serr, result.WorkDir, modelFilename)
			return nil, serr
		}
		outputPath, err = packageArchive(result.WorkDir, result.Outputs)
		if err != nil {
			serr := Errf(ErrMisconfigured, "unable to package engine outputs").WithDetail(err.Error())
			p.fail(ctx, jobId, sessionId, serr, result.WorkDir, modelFilename)
			return nil, serr
		}
	}

	var meta GcodeMetadata
	if strings.EqualFold(filepath.Ext(outputPath), ".gcode") {
		var serr *SliceError
		meta, serr = ExtractGcodeMetadata(outputPath)
		if serr != nil {
			p.fail(ctx, jobId, sessionId, serr, result.WorkDir, modelFilename)
			return nil, serr
		}
	}

	outputFilename := fmt.Sprintf("%s_print%s", sessionTag(sessionId), filepath.Ext(outputPath))

	outputFile, err := os.Open(outputPath)
	if err != nil {
		serr := Errf(ErrMisconfigured, "unable to read engine output").WithDetail(err.Error())
		p.fail(ctx, jobId, sessionId, serr, result.WorkDir, modelFilename)
		return nil, serr
	}
	putErr := p.store.PutObject(ctx, outputFilename, outputFile)
	outputFile.Close()
	if putErr != nil {
		serr := Errf(ErrMisconfigured, "unable to persist engine output").WithDetail(putErr.Error())
		p.fail(ctx, jobId, sessionId, serr, result.WorkDir, modelFilename)
		return nil, serr
	}

	outputInfo, err := os.Stat(filepath.Join(p.store.BaseDir(), outputFilename))
	if err != nil {
		serr := Errf(ErrMisconfigured, "unable to stat persisted output").WithDetail(err.Error())
		p.fail(ctx, jobId, sessionId, serr, result.WorkDir, modelFilename)
		return nil, serr
	}

	outputUrl, err := p.signer.SignedURL(outputFilename)
	if err != nil {
		serr := signingError(err)
		p.fail(ctx, jobId, sessionId, serr, result.WorkDir, modelFilename)
		return nil, serr
	}

	p.MirrorArtifacts(ctx, modelFilename, outputFilename)
	removeDir(result.WorkDir)

	complete := &api.SliceComplete{
		Complete:      true,
		ModelFilename: modelFilename,
		ModelSize:     modelInfo.Size(),
		ModelUrl:      modelUrl,
		GcodeFilename: outputFilename,
		GcodeSize:     outputInfo.Size(),
		GcodeUrl:      outputUrl,
		Times:         meta.Times,
		Filament:      meta.Filament,
	}

	if p.pricing != nil {
		price, err := p.pricing.SubmitQuote(ctx, pricing.QuoteRequest{
			ModelFilename: modelFilename,
			GcodeFilename: outputFilename,
			Times:         meta.Times,
			Filament:      meta.Filament,
		})
		if err != nil {
			// Slicing succeeded but the quote was not persisted; no partial
			// success is reported to the caller.
			serr := Errf(ErrDownstreamFailure, "pricing service failed").WithDetail(err.Error())
			p.fail(ctx, jobId, sessionId, serr, "", modelFilename)
			return nil, serr
		}
		complete.Price = &price
	}

	resultJSON, err := json.Marshal(complete)
	if err != nil {
		slog.Error("error marshalling completion payload", "job_id", jobId, "error", err)
	}
	if err := database.MarkSliceJobCompleted(ctx, p.db, jobId, outputFilename, resultJSON); err != nil {
		slog.Warn("unable to mark slice job completed", "job_id", jobId, "error", err)
	}

	return complete, nil
}

func (p *Pipeline) MirrorArtifacts(ctx context.Context, filenames ...string) {
	if p.mirror == nil {
		return
	}
	for _, filename := range filenames {
		data, err := p.store.GetObject(ctx, filename)
		if err != nil {
			slog.Error("error reading artifact for mirroring", "file", filename, "error", err)
			continue
		}
		if err := p.mirror.PutObject(ctx, filename, bytes.NewReader(data)); err != nil {
			slog.Error("error mirroring artifact", "file", filename, "error", err)
		}
	}
}

// fail performs the cleanup owed on every failure path: the engine working
// directory always goes; persisted artifacts only under the destructive
// policy. Cleanup failures are logged, never surfaced.
func (p *Pipeline) fail(ctx context.Context, jobId uuid.UUID, sessionId string, serr *SliceError, workDir, modelFilename string) {
	if workDir != "" {
		removeDir(workDir)
	}

	if p.purgeOnFailure {
		if modelFilename != "" {
			if err := p.store.DeleteObject(ctx, modelFilename); err != nil {
				slog.Error("error deleting model artifact on failure", "file", modelFilename, "error", err)
			}
		}
		p.purgeGeneratedProfiles(ctx, sessionId)
	}

	if err := database.MarkSliceJobFailed(ctx, p.db, jobId, string(serr.Kind), serr.Detail); err != nil {
		slog.Warn("unable to mark slice job failed", "job_id", jobId, "error", err)
	}
}

// purgeGeneratedProfiles deletes profile files whose names embed the session
// tag. User-supplied profiles never carry the tag, so they survive.
func (p *Pipeline) purgeGeneratedProfiles(ctx context.Context, sessionId string) {
	tag := sessionTag(sessionId)
	if tag == "" {
		return
	}

	objects, err := p.store.ListObjects(ctx, "")
	if err != nil {
		slog.Error("error listing artifacts for failure cleanup", "error", err)
		return
	}

	for _, obj := range objects {
		if !strings.HasSuffix(strings.ToLower(obj.Name), ".json") || !strings.Contains(obj.Name, tag) {
			continue
		}
		if err := p.store.DeleteObject(ctx, obj.Name); err != nil {
			slog.Error("error deleting generated profile on failure", "file", obj.Name, "error", err)
		}
	}
}

func packageArchive(workDir string, outputs []string) (string, error) {
	archivePath := filepath.Join(workDir, "outputs.zip")

	archive, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("error creating archive: %w", err)
	}
	defer archive.Close()

	writer := zip.NewWriter(archive)
	for _, output := range outputs {
		data, err := os.ReadFile(output)
		if err != nil {
			return "", fmt.Errorf("error reading output %s: %w", output, err)
		}
		entry, err := writer.Create(filepath.Base(output))
		if err != nil {
			return "", fmt.Errorf("error adding archive entry: %w", err)
		}
		if _, err := entry.Write(data); err != nil {
			return "", fmt.Errorf("error writing archive entry: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("error finalizing archive: %w", err)
	}

	return archivePath, nil
}

func removeDir(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		slog.Error("error removing working directory", "dir", dir, "error", err)
	}
}

func signingError(err error) *SliceError {
	if err == signing.ErrNoSecret {
		return Errf(ErrMisconfigured, "link signing secret is not configured")
	}
	return Errf(ErrMisconfigured, "unable to sign artifact link").WithDetail(err.Error())
}
