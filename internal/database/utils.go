package database

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func UpdateSliceJobStatus(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	if status == JobCompleted || status == JobFailed {
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&SliceJob{Id: jobId}).Updates(updates).Error; err != nil {
		slog.Error("error updating slice job status", "job_id", jobId, "status", status, "error", err)
		return err
	}
	return nil
}

func MarkSliceJobFailed(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, kind, detail string) error {
	updates := map[string]any{
		"status":          JobFailed,
		"error_kind":      kind,
		"error_detail":    detail,
		"completion_time": time.Now().UTC(),
	}

	if err := txn.WithContext(ctx).Model(&SliceJob{Id: jobId}).Updates(updates).Error; err != nil {
		slog.Error("error marking slice job failed", "job_id", jobId, "error", err)
		return err
	}
	return nil
}

func MarkSliceJobCompleted(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, outputFilename string, result []byte) error {
	updates := map[string]any{
		"status":          JobCompleted,
		"output_filename": outputFilename,
		"result":          result,
		"completion_time": time.Now().UTC(),
	}

	if err := txn.WithContext(ctx).Model(&SliceJob{Id: jobId}).Updates(updates).Error; err != nil {
		slog.Error("error marking slice job completed", "job_id", jobId, "error", err)
		return err
	}
	return nil
}
