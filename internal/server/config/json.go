package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/docvault/internal/flagx"
)

// JsonConfig mirrors Config for JSON unmarshalling. Pointer fields
// distinguish "absent" from "zero"; only present fields overlay the
// defaults. Durations are given in hours, sizes in bytes.
type JsonConfig struct {
	DatabaseDSN *string `json:"database_dsn"`
	FilesDir    *string `json:"files_dir"`
	TempDir     *string `json:"temp_dir"`

	MasterSecret *string `json:"master_secret"`

	MaxUploadBytes *int64  `json:"max_upload_bytes"`
	AllowedMime    *string `json:"allowed_mime"`

	OCRLanguages *string `json:"ocr_languages"`
	OCRDPI       *int    `json:"ocr_dpi"`
	OCRMaxPages  *int    `json:"ocr_max_pages"`

	TrashRetentionDays *int `json:"trash_retention_days"`
	PurgeIntervalHours *int `json:"purge_interval_hours"`
	PurgeBatchSize     *int `json:"purge_batch_size"`

	StorageBackend *string `json:"storage_backend"`
	S3RootUser     *string `json:"s3_root_user"`
	S3RootPassword *string `json:"s3_root_password"`
	S3Bucket       *string `json:"s3_bucket"`
	S3Region       *string `json:"s3_region"`
	S3BaseEndpoint *string `json:"s3_base_endpoint"`
}

// parseJson overlays cfg with values from the JSON file named by the
// -c/-config flag, when present. A missing or unreadable file is ignored:
// JSON config is optional.
func parseJson(cfg *Config) {
	path := flagx.JsonConfigFlags()
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return
	}

	applyJson(cfg, &jc)
}

func applyJson(cfg *Config, jc *JsonConfig) {
	if jc.DatabaseDSN != nil {
		cfg.DatabaseDSN = *jc.DatabaseDSN
	}
	if jc.FilesDir != nil {
		cfg.FilesDir = *jc.FilesDir
	}
	if jc.TempDir != nil {
		cfg.TempDir = *jc.TempDir
	}
	if jc.MasterSecret != nil {
		cfg.MasterSecret = *jc.MasterSecret
	}
	if jc.MaxUploadBytes != nil {
		cfg.MaxUploadBytes = *jc.MaxUploadBytes
	}
	if jc.AllowedMime != nil {
		cfg.AllowedMime = *jc.AllowedMime
	}
	if jc.OCRLanguages != nil {
		cfg.OCRLanguages = *jc.OCRLanguages
	}
	if jc.OCRDPI != nil {
		cfg.OCRDPI = *jc.OCRDPI
	}
	if jc.OCRMaxPages != nil {
		cfg.OCRMaxPages = *jc.OCRMaxPages
	}
	if jc.TrashRetentionDays != nil {
		cfg.TrashRetentionDays = *jc.TrashRetentionDays
	}
	if jc.PurgeIntervalHours != nil {
		cfg.PurgeInterval = time.Duration(*jc.PurgeIntervalHours) * time.Hour
	}
	if jc.PurgeBatchSize != nil {
		cfg.PurgeBatchSize = *jc.PurgeBatchSize
	}
	if jc.StorageBackend != nil {
		cfg.StorageBackend = *jc.StorageBackend
	}
	if jc.S3RootUser != nil {
		cfg.S3RootUser = *jc.S3RootUser
	}
	if jc.S3RootPassword != nil {
		cfg.S3RootPassword = *jc.S3RootPassword
	}
	if jc.S3Bucket != nil {
		cfg.S3Bucket = *jc.S3Bucket
	}
	if jc.S3Region != nil {
		cfg.S3Region = *jc.S3Region
	}
	if jc.S3BaseEndpoint != nil {
		cfg.S3BaseEndpoint = *jc.S3BaseEndpoint
	}
}
