package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"slicer-backend/internal/core"
	"slicer-backend/internal/database"
	"slicer-backend/internal/messaging"
	"slicer-backend/internal/signing"
	"slicer-backend/internal/upload"
	"slicer-backend/pkg/api"
)

const maxUploadSize = 512 << 20

type BackendService struct {
	db        *gorm.DB
	uploads   *upload.Manager
	pipeline  *core.Pipeline
	publisher messaging.Publisher
	signer    *signing.Signer
}

func NewBackendService(db *gorm.DB, uploads *upload.Manager, pipeline *core.Pipeline, publisher messaging.Publisher, signer *signing.Signer) *BackendService {
	return &BackendService{
		db:        db,
		uploads:   uploads,
		pipeline:  pipeline,
		publisher: publisher,
		signer:    signer,
	}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Route("/uploads", func(r chi.Router) {
		r.Post("/chunk", RestHandler(s.UploadChunk))
		r.Delete("/{session_id}", RestHandler(s.DeleteSession))
	})
	r.Route("/slicer", func(r chi.Router) {
		r.Post("/chunk", RestHandler(s.SliceChunk))
		r.Post("/upload", RestHandler(s.UploadAndSlice))
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", RestHandler(s.SubmitSliceJob))
			r.Get("/{job_id}", RestHandler(s.GetSliceJob))
		})
	})
	r.Get("/files/download", s.DownloadFile)
}

// UploadChunk accepts one fragment of a plain chunked upload. The completing
// chunk persists the reassembled file and returns its signed download link.
func (s *BackendService) UploadChunk(r *http.Request) (any, error) {
	req, err := ParseRequest[api.ChunkRequest](r)
	if err != nil {
		return nil, err
	}

	outcome, serr := s.uploads.SubmitChunk(req, upload.UploadFiletypes)
	if serr != nil {
		return nil, serr
	}

	if !outcome.Complete {
		return api.ChunkProgress{Received: outcome.Received, Total: outcome.Total}, nil
	}

	filename := core.ModelFilename(req.Id, outcome.Filetype)
	if err := s.pipeline.PersistUpload(r.Context(), filename, outcome.Assembled); err != nil {
		return nil, err
	}

	url, err := s.signer.SignedURL(filename)
	if err != nil {
		if errors.Is(err, signing.ErrNoSecret) {
			return nil, core.Errf(core.ErrMisconfigured, "link signing secret is not configured")
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "unable to sign download link: %v", err)
	}

	return api.UploadComplete{
		Complete: true,
		Filename: filename,
		Size:     int64(len(outcome.Assembled)),
		Url:      url,
	}, nil
}

// SliceChunk accepts one fragment of a slicing upload. The completing chunk
// runs the full slicing flow synchronously and returns the terminal payload.
func (s *BackendService) SliceChunk(r *http.Request) (any, error) {
	req, err := ParseRequest[api.ChunkRequest](r)
	if err != nil {
		return nil, err
	}

	outcome, serr := s.uploads.SubmitChunk(req, upload.SliceFiletypes)
	if serr != nil {
		return nil, serr
	}

	if !outcome.Complete {
		return api.ChunkProgress{Received: outcome.Received, Total: outcome.Total}, nil
	}

	jobId := uuid.New()
	if err := s.pipeline.CreateJob(r.Context(), jobId, req.Id, outcome.Settings, database.JobRunning); err != nil {
		slog.Error("error creating slice job record", "session_id", req.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "unable to create slice job")
	}

	complete, serr := s.pipeline.RunSession(r.Context(), jobId, req.Id, outcome.Assembled, outcome.Filetype, outcome.Settings, false)
	if serr != nil {
		return nil, serr
	}

	return complete, nil
}

// DeleteSession discards an in-flight upload session and any artifacts
// already persisted under its id.
func (s *BackendService) DeleteSession(r *http.Request) (any, error) {
	id := chi.URLParam(r, "session_id")
	if id == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "missing {session_id} url parameter")
	}

	if !s.uploads.Delete(id) {
		return nil, core.Errf(core.ErrNotFound, "no upload session with id %q", id)
	}

	return nil, nil
}

// UploadAndSlice is the single-request alternative to the chunked slicing
// flow: a multipart upload is sliced synchronously, and multiple engine
// outputs are allowed and packaged into one archive.
func (s *BackendService) UploadAndSlice(r *http.Request) (any, error) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "unable to parse multipart request: %v", err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "missing 'file' form field")
	}
	defer file.Close()

	filetype := strings.TrimPrefix(strings.ToLower(filepath.Ext(header.Filename)), ".")
	if _, ok := upload.SliceFiletypes[filetype]; !ok {
		return nil, core.Errf(core.ErrInvalidRequest, "filetype %q is not accepted", filetype)
	}

	var settings *api.SliceSettings
	if raw := r.FormValue("settings"); raw != "" {
		settings = &api.SliceSettings{}
		if err := json.Unmarshal([]byte(raw), settings); err != nil {
			return nil, core.Errf(core.ErrInvalidRequest, "invalid settings payload").WithDetail(err.Error())
		}
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "unable to read uploaded file: %v", err)
	}

	jobId := uuid.New()
	sessionId := jobId.String()
	if err := s.pipeline.CreateJob(r.Context(), jobId, sessionId, settings, database.JobRunning); err != nil {
		slog.Error("error creating slice job record", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "unable to create slice job")
	}

	complete, serr := s.pipeline.RunSession(r.Context(), jobId, sessionId, data, filetype, settings, true)
	if serr != nil {
		return nil, serr
	}

	return complete, nil
}

// SubmitSliceJob queues an asynchronous slicing run over a model file that
// was previously uploaded.
func (s *BackendService) SubmitSliceJob(r *http.Request) (any, error) {
	req, err := ParseRequest[api.SubmitSliceJobRequest](r)
	if err != nil {
		return nil, err
	}

	if req.Filename == "" {
		return nil, core.Errf(core.ErrInvalidRequest, "filename is required")
	}
	if _, err := s.signer.ResolvePath(req.Filename); err != nil {
		return nil, core.Errf(core.ErrInvalidRequest, "invalid filename %q", req.Filename)
	}

	ctx := r.Context()
	jobId := uuid.New()

	if err := s.pipeline.CreateJob(ctx, jobId, jobId.String(), req.Settings, database.JobQueued); err != nil {
		slog.Error("error creating slice job record", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "unable to create slice job")
	}

	payload := messaging.SliceTaskPayload{
		JobId:    jobId,
		Filename: req.Filename,
		Settings: req.Settings,
	}
	if err := s.publisher.PublishSliceTask(ctx, payload); err != nil {
		slog.Error("error publishing slice task", "job_id", jobId, "error", err)
		if err := database.MarkSliceJobFailed(context.WithoutCancel(ctx), s.db, jobId, string(core.ErrDownstreamFailure), "unable to queue slicing task"); err != nil {
			slog.Error("error marking slice job failed", "job_id", jobId, "error", err)
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "unable to queue slicing task")
	}

	slog.Info("submitted slice job", "job_id", jobId, "filename", req.Filename)
	return api.SubmitSliceJobResponse{JobId: jobId}, nil
}

func (s *BackendService) GetSliceJob(r *http.Request) (any, error) {
	jobId, err := URLParamUUID(r, "job_id")
	if err != nil {
		return nil, err
	}

	var job database.SliceJob
	if err := s.db.WithContext(r.Context()).First(&job, "id = ?", jobId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, core.Errf(core.ErrNotFound, "no slice job with id %s", jobId)
		}
		slog.Error("error getting slice job", "job_id", jobId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving slice job record")
	}

	res := api.SliceJob{
		Id:           job.Id,
		SessionId:    job.SessionId,
		Status:       job.Status,
		ErrorKind:    job.ErrorKind,
		ErrorDetail:  job.ErrorDetail,
		CreationTime: job.CreationTime,
	}

	if len(job.Result) > 0 {
		var complete api.SliceComplete
		if err := json.Unmarshal(job.Result, &complete); err != nil {
			slog.Error("error unmarshalling slice job result", "job_id", jobId, "error", err)
		} else {
			res.Result = &complete
		}
	}

	return res, nil
}

// DownloadFile serves a stored artifact after verifying the link signature.
// It bypasses RestHandler because the success path streams file bytes, not
// JSON.
func (s *BackendService) DownloadFile(w http.ResponseWriter, r *http.Request) {
	query, err := ParseRequestQueryParams[api.DownloadQuery](r)
	if err != nil {
		writeError(w, err)
		return
	}

	ok, err := s.signer.Verify(query.Filename, query.Signature)
	if err != nil {
		if errors.Is(err, signing.ErrNoSecret) {
			writeError(w, core.Errf(core.ErrMisconfigured, "link signing secret is not configured"))
		} else {
			writeError(w, CodedErrorf(http.StatusInternalServerError, "unable to verify signature: %v", err))
		}
		return
	}
	if !ok {
		writeError(w, core.Errf(core.ErrInvalidSignature, "signature does not match filename"))
		return
	}

	path, err := s.signer.ResolvePath(query.Filename)
	if err != nil {
		writeError(w, core.Errf(core.ErrInvalidSignature, "filename resolves outside the serving root"))
		return
	}

	w.Header().Set("Content-Disposition", "attachment; filename=\""+filepath.Base(query.Filename)+"\"")
	http.ServeFile(w, r, path)
}
