package models

import "time"

// DateRange is an inclusive span of ISO dates.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// BackupMetadata is written as metadata.json inside every backup archive.
type BackupMetadata struct {
	BackupTimestamp string    `json:"backup_timestamp"`
	BackupDate      string    `json:"backup_date"`
	TotalRows       int       `json:"total_rows"`
	UniqueAssets    int       `json:"unique_assets"`
	DateRange       DateRange `json:"date_range"`
	Assets          []string  `json:"assets"`
	Columns         []string  `json:"columns"`
	Checksum        string    `json:"checksum,omitempty"`
}

// BackupInfo describes one archive on disk.
type BackupInfo struct {
	Filename  string    `json:"filename"`
	Path      string    `json:"filepath"`
	Timestamp string    `json:"timestamp"`
	Size      int64     `json:"size"`
	Created   time.Time `json:"created"`
}

// RestoreResult reports what a restore replaced the store with.
type RestoreResult struct {
	Archive      string          `json:"archive"`
	RowsLoaded   int             `json:"rows_loaded"`
	RowsUploaded int             `json:"rows_uploaded"`
	Metadata     *BackupMetadata `json:"metadata,omitempty"`
}

// TickerCount compares a ticker's row count in an uploaded file with the store.
type TickerCount struct {
	Ticker     string `json:"ticker"`
	FileRows   int    `json:"file_rows"`
	StoredRows int    `json:"stored_rows"`
}

// UploadReport describes a CSV upload and its verification against the store.
type UploadReport struct {
	File         string        `json:"file"`
	Rows         int           `json:"rows"`
	Uploaded     int           `json:"uploaded"`
	UniqueAssets int           `json:"unique_assets"`
	DateRange    DateRange     `json:"date_range"`
	Warnings     []string      `json:"warnings,omitempty"`
	Counts       []TickerCount `json:"counts"`
}

// Verified reports whether the store holds at least every uploaded row per ticker.
func (r *UploadReport) Verified() bool {
	for _, c := range r.Counts {
		if c.StoredRows < c.FileRows {
			return false
		}
	}
	return true
}
