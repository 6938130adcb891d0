package telegram

import (
	"os"
	"strconv"
	"strings"
)

// OffsetStore хранит смещение getUpdates в файле между перезапусками.
// Пустой путь делает хранилище чисто памятным.
type OffsetStore struct {
	path   string
	offset int64
}

// NewOffsetStore конструктор OffsetStore.
func NewOffsetStore(path string) *OffsetStore {
	return &OffsetStore{path: path}
}

// Load возвращает сохранённое смещение, 0 если файла нет или он испорчен.
func (s *OffsetStore) Load() int64 {
	if s.path == "" {
		return s.offset
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return 0
	}
	value, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0
	}
	s.offset = value
	return value
}

// Save записывает смещение.
func (s *OffsetStore) Save(offset int64) error {
	s.offset = offset
	if s.path == "" {
		return nil
	}
	return os.WriteFile(s.path, []byte(strconv.FormatInt(offset, 10)), 0o644)
}
