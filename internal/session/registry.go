// Package session persists the per-device "transcoding in progress" records.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jmylchreest/encodarr/internal/models"
)

// ErrNotFound is returned when a device has no record.
var ErrNotFound = errors.New("transcoding info not found")

// Registry stores one TranscodingInfo per device.
type Registry struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewRegistry creates a registry over db. The schema must already be migrated.
func NewRegistry(db *gorm.DB, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{db: db, logger: logger.With(slog.String("component", "session"))}
}

// upsertColumns are replaced when a device reports again.
var upsertColumns = []string{
	"job_id", "path", "container",
	"video_codec", "audio_codec", "is_video_direct", "is_audio_direct",
	"bitrate", "framerate", "width", "height", "audio_channels",
	"position_ticks", "frame", "completion_percentage",
	"updated_at",
}

// ReportTranscodingProgress stores info as the device's current record. Reports
// without a device id are dropped.
func (r *Registry) ReportTranscodingProgress(ctx context.Context, info *models.TranscodingInfo) error {
	if info == nil || info.DeviceID == "" {
		return nil
	}

	// The caller's value is reused across reports; the stored copy gets its own id.
	row := *info
	row.BaseModel = models.BaseModel{}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "device_id"}},
			DoUpdates: clause.AssignmentColumns(upsertColumns),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("storing transcoding info for %s: %w", info.DeviceID, err)
	}
	return nil
}

// ClearTranscodingInfo removes the device's record. Clearing an absent record is not an error.
func (r *Registry) ClearTranscodingInfo(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return nil
	}
	res := r.db.WithContext(ctx).Where("device_id = ?", deviceID).Delete(&models.TranscodingInfo{})
	if res.Error != nil {
		return fmt.Errorf("clearing transcoding info for %s: %w", deviceID, res.Error)
	}
	if res.RowsAffected > 0 {
		r.logger.DebugContext(ctx, "cleared transcoding info", slog.String("device_id", deviceID))
	}
	return nil
}

// Get returns the device's record.
func (r *Registry) Get(ctx context.Context, deviceID string) (*models.TranscodingInfo, error) {
	var info models.TranscodingInfo
	err := r.db.WithContext(ctx).Where("device_id = ?", deviceID).First(&info).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting transcoding info for %s: %w", deviceID, err)
	}
	return &info, nil
}

// List returns every record, most recently updated first.
func (r *Registry) List(ctx context.Context) ([]models.TranscodingInfo, error) {
	var infos []models.TranscodingInfo
	if err := r.db.WithContext(ctx).Order("updated_at DESC").Find(&infos).Error; err != nil {
		return nil, fmt.Errorf("listing transcoding info: %w", err)
	}
	return infos, nil
}
