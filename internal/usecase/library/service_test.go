package library

import (
	"testing"

	"wrapped-fhe-service/internal/domain"
)

type stubStore struct {
	users   map[int64]domain.User
	records map[int64][]domain.ListeningRecord
}

func newStubStore() *stubStore {
	return &stubStore{
		users:   map[int64]domain.User{1: {ID: 1, Address: "0xaa"}},
		records: make(map[int64][]domain.ListeningRecord),
	}
}

func (s *stubStore) Register(address string) (domain.User, error) {
	return domain.User{}, nil
}

func (s *stubStore) GetByAddress(address string) (domain.User, error) {
	return domain.User{}, domain.ErrNotRegistered
}

func (s *stubStore) GetByID(userID int64) (domain.User, error) {
	u, ok := s.users[userID]
	if !ok {
		return domain.User{}, domain.ErrNotRegistered
	}
	return u, nil
}

func (s *stubStore) AppendRecords(userID int64, records []domain.ListeningRecord) (int, error) {
	s.records[userID] = append(s.records[userID], records...)
	return len(records), nil
}

func (s *stubStore) ListRecords(userID int64) ([]domain.ListeningRecord, error) {
	return s.records[userID], nil
}

func (s *stubStore) CountRecords(userID int64) (int, error) {
	return len(s.records[userID]), nil
}

func makeBatch(n int) domain.RecordBatch {
	var batch domain.RecordBatch
	for i := 0; i < n; i++ {
		ct := domain.Ciphertext{byte(i)}
		batch.SongIDs = append(batch.SongIDs, ct)
		batch.ArtistIDs = append(batch.ArtistIDs, ct)
		batch.GenreIDs = append(batch.GenreIDs, ct)
		batch.PlayCounts = append(batch.PlayCounts, ct)
		batch.Durations = append(batch.Durations, ct)
		batch.Timestamps = append(batch.Timestamps, int64(1700000000+i))
	}
	return batch
}

func TestUploadAppendsInOrder(t *testing.T) {
	store := newStubStore()
	service := NewService(store, store, 0)

	appended, err := service.Upload(1, makeBatch(3))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if appended != 3 {
		t.Fatalf("ожидали 3 записи, получили %d", appended)
	}
	records := store.records[1]
	for i, rec := range records {
		if rec.Timestamp != int64(1700000000+i) {
			t.Fatalf("записи должны сохранять порядок загрузки")
		}
	}
}

func TestUploadArityMismatch(t *testing.T) {
	store := newStubStore()
	service := NewService(store, store, 0)

	batch := makeBatch(3)
	batch.Durations = batch.Durations[:2]
	if _, err := service.Upload(1, batch); err != domain.ErrArityMismatch {
		t.Fatalf("ожидали ErrArityMismatch, получили %v", err)
	}
	if len(store.records[1]) != 0 {
		t.Fatalf("при ошибке валидации не должно сохраниться ни одной записи")
	}
}

func TestUploadEmptyBatch(t *testing.T) {
	store := newStubStore()
	service := NewService(store, store, 0)

	if _, err := service.Upload(1, makeBatch(0)); err != ErrEmptyBatch {
		t.Fatalf("ожидали ErrEmptyBatch, получили %v", err)
	}
}

func TestUploadBatchTooLarge(t *testing.T) {
	store := newStubStore()
	service := NewService(store, store, 2)

	if _, err := service.Upload(1, makeBatch(3)); err != ErrBatchTooLarge {
		t.Fatalf("ожидали ErrBatchTooLarge, получили %v", err)
	}
	if len(store.records[1]) != 0 {
		t.Fatalf("превышение лимита не должно сохранять записи")
	}
}

func TestUploadUnregistered(t *testing.T) {
	store := newStubStore()
	service := NewService(store, store, 0)

	if _, err := service.Upload(42, makeBatch(1)); err != domain.ErrNotRegistered {
		t.Fatalf("ожидали ErrNotRegistered, получили %v", err)
	}
}

func TestCountUnknownUser(t *testing.T) {
	store := newStubStore()
	service := NewService(store, store, 0)

	count, err := service.Count(-1)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if count != 0 {
		t.Fatalf("для неизвестного пользователя ожидали 0, получили %d", count)
	}
}
