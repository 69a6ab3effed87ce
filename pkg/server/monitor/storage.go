package monitor

import (
	"os"
	"path/filepath"
	"sync"
	"time"
)

// usageCacheDuration bounds how often the data directory is walked.
const usageCacheDuration = 10 * time.Second

// StorageUsage is the body of the storage usage endpoint.
type StorageUsage struct {
	UsedBytes   int64   `json:"used_bytes"`
	MaxBytes    int64   `json:"max_bytes"`
	UsedPercent float64 `json:"used_percent"`
	Backend     string  `json:"backend"`
}

// StorageMonitor reports disk usage of the interval store's data directory.
type StorageMonitor struct {
	dataDir       string
	backend       string
	maxBytes      int64
	cachedUsage   int64
	lastCheck     time.Time
	cacheDuration time.Duration
	mu            sync.Mutex
}

// NewStorageMonitor creates a monitor for dataDir. An empty dataDir (the
// memory backend) always reports zero usage.
func NewStorageMonitor(backend, dataDir string, maxBytes int64) *StorageMonitor {
	return &StorageMonitor{
		dataDir:       dataDir,
		backend:       backend,
		maxBytes:      maxBytes,
		cacheDuration: usageCacheDuration,
	}
}

// GetUsage returns current storage usage in bytes, recomputed at most once
// per cache period.
func (sm *StorageMonitor) GetUsage() (int64, error) {
	if sm.dataDir == "" {
		return 0, nil
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.lastCheck.IsZero() && time.Since(sm.lastCheck) < sm.cacheDuration {
		return sm.cachedUsage, nil
	}

	usage, err := calculateDirSize(sm.dataDir)
	if err != nil {
		return 0, err
	}

	sm.cachedUsage = usage
	sm.lastCheck = time.Now()
	return usage, nil
}

// GetLimit returns the configured storage limit in bytes.
func (sm *StorageMonitor) GetLimit() int64 {
	return sm.maxBytes
}

// Usage returns the full usage report.
func (sm *StorageMonitor) Usage() (StorageUsage, error) {
	used, err := sm.GetUsage()
	if err != nil {
		return StorageUsage{}, err
	}
	usage := StorageUsage{UsedBytes: used, MaxBytes: sm.maxBytes, Backend: sm.backend}
	if sm.maxBytes > 0 {
		usage.UsedPercent = float64(used) / float64(sm.maxBytes) * 100
	}
	return usage, nil
}

// calculateDirSize sums the on-disk size of every file under path.
func calculateDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(filePath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		actual, err := getActualFileSize(filePath, info)
		if err != nil {
			actual = info.Size()
		}
		size += actual
		return nil
	})
	return size, err
}
