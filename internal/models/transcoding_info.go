package models

// TranscodingInfo is the client-visible "transcoding in progress" record of a device.
// There is at most one row per device; a new transcode for the same device replaces it.
type TranscodingInfo struct {
	BaseModel

	DeviceID  string `gorm:"uniqueIndex;not null;size:255" json:"device_id"`
	JobID     string `gorm:"size:64;index" json:"job_id"`
	Path      string `gorm:"size:2048" json:"path"`
	Container string `gorm:"size:16" json:"container,omitempty"`

	VideoCodec    string `gorm:"size:50" json:"video_codec,omitempty"`
	AudioCodec    string `gorm:"size:50" json:"audio_codec,omitempty"`
	IsVideoDirect bool   `json:"is_video_direct"`
	IsAudioDirect bool   `json:"is_audio_direct"`

	Bitrate       *int     `json:"bitrate,omitempty"` // bps
	Framerate     *float64 `json:"framerate,omitempty"`
	Width         *int     `json:"width,omitempty"`
	Height        *int     `json:"height,omitempty"`
	AudioChannels *int     `json:"audio_channels,omitempty"`

	PositionTicks        *int64   `json:"position_ticks,omitempty"`
	Frame                *int64   `json:"frame,omitempty"`
	CompletionPercentage *float64 `json:"completion_percentage,omitempty"`
}

// TableName returns the table name for TranscodingInfo.
func (TranscodingInfo) TableName() string {
	return "transcoding_infos"
}
