// Package storage 持久化安装记录与当前版本标记。
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/liangyou/fwinstall/pkg/models"
)

const (
	recordsFile = "installs.json"
	currentFile = "current"

	// maxRecords 限制历史记录条数，超出时丢弃最旧的。
	maxRecords = 50
)

// LocalStorage 定义安装记录与当前版本标记的读写接口。
type LocalStorage interface {
	SaveRecord(record models.InstallRecord) error
	LoadRecords() ([]models.InstallRecord, error)
	GetCurrentVersionMarker() (string, error)
	SetCurrentVersionMarker(version string) error
}

// FileStorage 通过文件系统持久化安装记录。
type FileStorage struct {
	recordsPath string
	currentPath string
	mu          sync.Mutex
}

// RecordsFile 表示 installs.json 的结构。
type RecordsFile struct {
	Installs []models.InstallRecord `json:"installs"`
}

// NewFileStorage 构造文件系统存储，StateDir 为空时使用安装根目录下的 .fwinstall。
func NewFileStorage(cfg models.Config) *FileStorage {
	dir := cfg.StateDir
	if dir == "" && cfg.Install.Root != "" {
		dir = filepath.Join(cfg.Install.Root, ".fwinstall")
	}
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "fwinstall")
	}
	return &FileStorage{
		recordsPath: filepath.Join(dir, recordsFile),
		currentPath: filepath.Join(dir, currentFile),
	}
}

// SaveRecord 追加一条安装记录，按安装时间排序保存。
func (s *FileStorage) SaveRecord(record models.InstallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureRoot(); err != nil {
		return err
	}

	records, err := s.readRecordsLocked()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	records = append(records, record)
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].InstalledAt.Before(records[j].InstalledAt)
	})
	if len(records) > maxRecords {
		records = records[len(records)-maxRecords:]
	}

	return s.writeRecordsLocked(records)
}

// LoadRecords 读取所有安装记录，从旧到新。
func (s *FileStorage) LoadRecords() ([]models.InstallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readRecordsLocked()
	if errors.Is(err, os.ErrNotExist) {
		return []models.InstallRecord{}, nil
	}
	return records, err
}

// GetCurrentVersionMarker 读取当前版本标记，不存在时返回空字符串。
func (s *FileStorage) GetCurrentVersionMarker() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.currentPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("storage: read marker: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// SetCurrentVersionMarker 写入当前版本标记。
func (s *FileStorage) SetCurrentVersionMarker(version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureRoot(); err != nil {
		return err
	}
	return writeAtomic(s.currentPath, []byte(strings.TrimSpace(version)+"\n"))
}

func (s *FileStorage) ensureRoot() error {
	if err := os.MkdirAll(filepath.Dir(s.recordsPath), 0o755); err != nil {
		return fmt.Errorf("storage: create state dir: %w", err)
	}
	return nil
}

func (s *FileStorage) readRecordsLocked() ([]models.InstallRecord, error) {
	data, err := os.ReadFile(s.recordsPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []models.InstallRecord{}, os.ErrNotExist
		}
		return nil, fmt.Errorf("storage: read records: %w", err)
	}
	if len(data) == 0 {
		return []models.InstallRecord{}, nil
	}

	var file RecordsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("storage: decode %s: %w", s.recordsPath, err)
	}
	if file.Installs == nil {
		file.Installs = []models.InstallRecord{}
	}
	return file.Installs, nil
}

func (s *FileStorage) writeRecordsLocked(records []models.InstallRecord) error {
	data, err := json.MarshalIndent(RecordsFile{Installs: records}, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encode records: %w", err)
	}
	return writeAtomic(s.recordsPath, data)
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("storage: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("storage: replace %s: %w", path, err)
	}
	return nil
}
