package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"pantry-gpt/pipeline"
)

// ScanRecord represents the schema of the scan_records table
type ScanRecord struct {
	ID                 uint      `gorm:"primaryKey"`
	Source             string    `gorm:"size:1024;not null"` // File name or upload name
	ProductName        string    `gorm:"size:255"`
	Category           string    `gorm:"size:64;index"`
	ExpirationDate     string    `gorm:"size:10"`
	Status             string    `gorm:"size:32;not null;index"`
	State              string    `gorm:"size:32;not null"`
	CombinedConfidence float64   `gorm:"not null;default:0"`
	OCRBackend         string    `gorm:"size:64"`
	ExtractionBackend  string    `gorm:"size:64"`
	Product            string    `gorm:"size:1048576"` // Serialized ProductData
	Error              string    `gorm:"size:4096"`
	CreatedAt          time.Time `gorm:"index"`
}

// InitializeDB opens the SQLite database at path and migrates the schema
func InitializeDB(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	// SQLite allows a single writer; batch workers share this handle.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&ScanRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database schema: %w", err)
	}
	return db, nil
}

// newScanRecord flattens a pipeline result into a record. procErr is the
// pipeline error, if any.
func newScanRecord(source string, res *pipeline.Result, status ScanStatus, combined float64, procErr error) (ScanRecord, error) {
	record := ScanRecord{
		Source:             source,
		Status:             string(status),
		CombinedConfidence: combined,
	}
	if procErr != nil {
		record.Error = procErr.Error()
	}
	if res == nil {
		record.State = pipeline.Submitted.String()
		return record, nil
	}
	record.State = res.State.String()
	if res.OCR != nil {
		record.OCRBackend = res.OCR.BackendUsed
	}
	if p := res.Product; p != nil {
		record.ProductName = p.ProductName
		record.Category = p.Category
		record.ExpirationDate = p.ExpirationDate
		record.ExtractionBackend = p.BackendUsed
		data, err := json.Marshal(p)
		if err != nil {
			return record, fmt.Errorf("error serializing product data: %w", err)
		}
		record.Product = string(data)
	}
	return record, nil
}

// InsertScanRecord inserts a new scan record into the database
func InsertScanRecord(db *gorm.DB, record *ScanRecord) error {
	return db.Create(record).Error
}

// GetScanRecords retrieves the most recent scan records, newest first.
// A non-positive limit returns all records.
func GetScanRecords(db *gorm.DB, status string, limit int) ([]ScanRecord, error) {
	var records []ScanRecord
	query := db.Order("created_at desc, id desc")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	result := query.Find(&records)
	return records, result.Error
}
