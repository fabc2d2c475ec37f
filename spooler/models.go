package spooler

import "time"

// ProcessedFile marks one input file as handled so later cycles skip it. A
// changed file (new SHA-256) is processed again.
type ProcessedFile struct {
	ID          uint   `gorm:"primaryKey"`
	Path        string `gorm:"uniqueIndex:uniq_path_sha;size:1024"`
	SHA256      string `gorm:"uniqueIndex:uniq_path_sha;size:64"`
	Input       string `gorm:"index;size:64"`
	SizeBytes   int64
	ModUnixNano int64
	ProcessedAt time.Time `gorm:"index"`
	// RunID links the file to the CaptureRun it was stitched into; empty for
	// files that failed before stitching.
	RunID     string `gorm:"index;size:36"`
	Failed    bool   `gorm:"index"`
	MovedTo   string `gorm:"size:1024"`
	LastError string `gorm:"type:text"`
}

// CaptureRun is one stitched recording run.
type CaptureRun struct {
	ID         uint      `gorm:"primaryKey"`
	RunID      string    `gorm:"uniqueIndex;size:36"`
	CreatedAt  time.Time `gorm:"index"`
	Input      string    `gorm:"index;size:64"`
	Machine    string    `gorm:"index;size:128"`
	StartTime  time.Time `gorm:"index"`
	FirstFile  string    `gorm:"size:512"`
	FileCount  int
	FilesJSON  string `gorm:"type:text"`
	RowsJSON   string `gorm:"type:text"`
	HFRows     int
	Dropped    int
	Saturated  int
	Synced     bool
	Truncated  bool `gorm:"index"`
	Broken     bool `gorm:"index"`
	Warnings   int
	WarnJSON   string `gorm:"type:text"`
	GCodeHash  string `gorm:"index;size:64"`
	ExportPath string `gorm:"size:1024"`
}
