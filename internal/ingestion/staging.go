package ingestion

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fieldsales/backend/pkg/logger"
	"github.com/fieldsales/backend/pkg/utils"
)

var ErrStagedNotFound = errors.New("staged upload not found or expired")

// StagedUpload keeps a parsed file between the upload step and the column configuration step.
type StagedUpload struct {
	Key       string    `json:"key"`
	Kind      string    `json:"kind"`
	Filename  string    `json:"filename"`
	Table     *Table    `json:"table"`
	CreatedAt time.Time `json:"created_at"`
}

func NewStagedUpload(kind, filename string, data []byte, table *Table) *StagedUpload {
	return &StagedUpload{
		Key:       utils.ContentKey(kind, data),
		Kind:      kind,
		Filename:  filename,
		Table:     table,
		CreatedAt: time.Now(),
	}
}

type Stager interface {
	Stage(ctx context.Context, upload *StagedUpload) error
	Load(ctx context.Context, key string) (*StagedUpload, error)
	Discard(ctx context.Context, key string) error
}

type memoryItem struct {
	upload    *StagedUpload
	expiresAt time.Time
}

// MemoryStager keeps uploads in process memory until ttl elapses.
type MemoryStager struct {
	mu    sync.Mutex
	items map[string]memoryItem
	ttl   time.Duration
	now   func() time.Time
}

func NewMemoryStager(ttl time.Duration) *MemoryStager {
	return &MemoryStager{
		items: make(map[string]memoryItem),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (m *MemoryStager) Stage(_ context.Context, upload *StagedUpload) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, it := range m.items {
		if now.After(it.expiresAt) {
			delete(m.items, k)
		}
	}
	m.items[upload.Key] = memoryItem{upload: upload, expiresAt: now.Add(m.ttl)}
	return nil
}

func (m *MemoryStager) Load(_ context.Context, key string) (*StagedUpload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[key]
	if !ok || m.now().After(it.expiresAt) {
		delete(m.items, key)
		return nil, ErrStagedNotFound
	}
	return it.upload, nil
}

func (m *MemoryStager) Discard(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

// FallbackStager writes to primary and falls back to secondary when primary is unavailable.
type FallbackStager struct {
	Primary   Stager
	Secondary Stager
}

func (f *FallbackStager) Stage(ctx context.Context, upload *StagedUpload) error {
	if err := f.Primary.Stage(ctx, upload); err != nil {
		logger.Warn("Primary staging failed, using fallback", zap.String("key", upload.Key), zap.Error(err))
		return f.Secondary.Stage(ctx, upload)
	}
	return nil
}

func (f *FallbackStager) Load(ctx context.Context, key string) (*StagedUpload, error) {
	upload, err := f.Primary.Load(ctx, key)
	if err == nil {
		return upload, nil
	}
	if !errors.Is(err, ErrStagedNotFound) {
		logger.Warn("Primary staging lookup failed", zap.String("key", key), zap.Error(err))
	}
	return f.Secondary.Load(ctx, key)
}

func (f *FallbackStager) Discard(ctx context.Context, key string) error {
	errPrimary := f.Primary.Discard(ctx, key)
	errSecondary := f.Secondary.Discard(ctx, key)
	return errors.Join(errPrimary, errSecondary)
}
