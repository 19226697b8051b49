package wrapped

import (
	"context"
	"testing"
	"time"

	"wrapped-fhe-service/internal/adapters/he"
	"wrapped-fhe-service/internal/domain"
)

type memStore struct {
	users     map[int64]domain.User
	records   map[int64][]domain.ListeningRecord
	summaries map[int64]domain.EncryptedSummary
	revealed  map[int64]domain.RevealedSummary
}

func newMemStore() *memStore {
	return &memStore{
		users:     make(map[int64]domain.User),
		records:   make(map[int64][]domain.ListeningRecord),
		summaries: make(map[int64]domain.EncryptedSummary),
		revealed:  make(map[int64]domain.RevealedSummary),
	}
}

func (m *memStore) Register(address string) (domain.User, error) {
	id := int64(len(m.users) + 1)
	user := domain.User{ID: id, Address: address}
	m.users[id] = user
	return user, nil
}

func (m *memStore) GetByAddress(address string) (domain.User, error) {
	for _, u := range m.users {
		if u.Address == address {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrNotRegistered
}

func (m *memStore) GetByID(userID int64) (domain.User, error) {
	u, ok := m.users[userID]
	if !ok {
		return domain.User{}, domain.ErrNotRegistered
	}
	return u, nil
}

func (m *memStore) AppendRecords(userID int64, records []domain.ListeningRecord) (int, error) {
	m.records[userID] = append(m.records[userID], records...)
	return len(records), nil
}

func (m *memStore) ListRecords(userID int64) ([]domain.ListeningRecord, error) {
	return m.records[userID], nil
}

func (m *memStore) CountRecords(userID int64) (int, error) {
	return len(m.records[userID]), nil
}

func (m *memStore) SaveEncryptedSummary(summary domain.EncryptedSummary) (int64, error) {
	prev := m.summaries[summary.UserID]
	summary.Generation = prev.Generation + 1
	m.summaries[summary.UserID] = summary
	m.revealed[summary.UserID] = domain.RevealedSummary{UserID: summary.UserID, Generation: summary.Generation}
	return summary.Generation, nil
}

func (m *memStore) GetEncryptedSummary(userID int64) (domain.EncryptedSummary, error) {
	s, ok := m.summaries[userID]
	if !ok {
		return domain.EncryptedSummary{}, domain.ErrNotGenerated
	}
	return s, nil
}

func (m *memStore) GetRevealedSummary(userID int64) (domain.RevealedSummary, error) {
	return m.revealed[userID], nil
}

func (m *memStore) MarkRevealed(userID int64, generation int64, values [5]uint64, at time.Time) error {
	current := m.revealed[userID]
	if current.Generation != generation {
		return domain.ErrStaleGeneration
	}
	if current.IsRevealed {
		return domain.ErrAlreadyRevealed
	}
	m.revealed[userID] = domain.RevealedSummary{
		UserID:             userID,
		TopSongID:          values[0],
		TopArtistID:        values[1],
		TopGenreID:         values[2],
		TotalPlayCount:     values[3],
		TotalListeningTime: values[4],
		Generation:         generation,
		IsRevealed:         true,
		RevealedAt:         &at,
	}
	return nil
}

// countingEngine считает вызовы операций поверх реального движка.
type countingEngine struct {
	inner   *he.LocalEngine
	gts     int
	selects int
	adds    int
}

func (e *countingEngine) Gt(ctx context.Context, a, b domain.Ciphertext) (domain.Ciphertext, error) {
	e.gts++
	return e.inner.Gt(ctx, a, b)
}

func (e *countingEngine) Select(ctx context.Context, cond, a, b domain.Ciphertext) (domain.Ciphertext, error) {
	e.selects++
	return e.inner.Select(ctx, cond, a, b)
}

func (e *countingEngine) Add(ctx context.Context, a, b domain.Ciphertext) (domain.Ciphertext, error) {
	e.adds++
	return e.inner.Add(ctx, a, b)
}

func (e *countingEngine) Export(ctx context.Context, ct domain.Ciphertext) ([]byte, error) {
	return e.inner.Export(ctx, ct)
}

type plainRecord struct {
	song, artist, genre, plays, duration uint64
}

func seedRecords(t *testing.T, store *memStore, engine *he.LocalEngine, userID int64, records []plainRecord) {
	t.Helper()
	enc := func(v uint64) domain.Ciphertext {
		ct, err := engine.Encrypt(v)
		if err != nil {
			t.Fatalf("не удалось зашифровать: %v", err)
		}
		return ct
	}
	for i, r := range records {
		store.records[userID] = append(store.records[userID], domain.ListeningRecord{
			ID:        int64(i + 1),
			UserID:    userID,
			SongID:    enc(r.song),
			ArtistID:  enc(r.artist),
			GenreID:   enc(r.genre),
			PlayCount: enc(r.plays),
			Duration:  enc(r.duration),
			Timestamp: int64(1700000000 + i),
		})
	}
}

func decryptSummary(t *testing.T, engine *he.LocalEngine, s domain.EncryptedSummary) (song, artist, genre, plays, duration uint64) {
	t.Helper()
	read := func(ct domain.Ciphertext) uint64 {
		v, err := engine.Value(ct)
		if err != nil {
			t.Fatalf("не удалось прочитать значение: %v", err)
		}
		return v
	}
	return read(s.TopSongID), read(s.TopArtistID), read(s.TopGenreID), read(s.TotalPlayCount), read(s.TotalListeningTime)
}

func TestReduceSingleRecord(t *testing.T) {
	store := newMemStore()
	store.users[1] = domain.User{ID: 1, Address: "0xaa"}
	engine := he.NewLocal()
	seedRecords(t, store, engine, 1, []plainRecord{
		{song: 10, artist: 20, genre: 30, plays: 3, duration: 180},
	})
	service := NewService(store, store, store, engine)

	summary, err := service.Reduce(context.Background(), 1)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	song, artist, genre, plays, duration := decryptSummary(t, engine, summary)
	if song != 10 || artist != 20 || genre != 30 {
		t.Fatalf("ожидали top 10/20/30, получили %d/%d/%d", song, artist, genre)
	}
	if plays != 3 || duration != 180 {
		t.Fatalf("ожидали итоги 3/180, получили %d/%d", plays, duration)
	}
	if summary.Generation != 1 {
		t.Fatalf("ожидали поколение 1, получили %d", summary.Generation)
	}
}

func TestReduceStrictMax(t *testing.T) {
	store := newMemStore()
	store.users[1] = domain.User{ID: 1, Address: "0xaa"}
	engine := he.NewLocal()
	seedRecords(t, store, engine, 1, []plainRecord{
		{song: 100, plays: 5, duration: 60},
		{song: 200, plays: 5, duration: 60},
		{song: 300, plays: 7, duration: 60},
	})
	service := NewService(store, store, store, engine)

	summary, err := service.Reduce(context.Background(), 1)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	song, _, _, plays, duration := decryptSummary(t, engine, summary)
	if song != 300 {
		t.Fatalf("ожидали топ-песню 300, получили %d", song)
	}
	if plays != 17 || duration != 180 {
		t.Fatalf("ожидали итоги 17/180, получили %d/%d", plays, duration)
	}
}

func TestReduceTieKeepsEarliest(t *testing.T) {
	store := newMemStore()
	store.users[1] = domain.User{ID: 1, Address: "0xaa"}
	engine := he.NewLocal()
	seedRecords(t, store, engine, 1, []plainRecord{
		{song: 100, artist: 1, genre: 11, plays: 5, duration: 30},
		{song: 200, artist: 2, genre: 22, plays: 5, duration: 40},
	})
	service := NewService(store, store, store, engine)

	summary, err := service.Reduce(context.Background(), 1)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	song, artist, genre, _, _ := decryptSummary(t, engine, summary)
	if song != 100 || artist != 1 || genre != 11 {
		t.Fatalf("при равных счётчиках побеждает ранняя запись, получили %d/%d/%d", song, artist, genre)
	}
}

func TestReduceTotalsIndependentOfBatching(t *testing.T) {
	// Итоги зависят только от множества записей, не от того, как они были
	// разбиты по загрузкам.
	counts := []uint64{1, 2, 3, 4, 5, 6}
	durations := []uint64{10, 20, 30, 40, 50, 60}

	build := func(split int) (uint64, uint64) {
		store := newMemStore()
		store.users[1] = domain.User{ID: 1, Address: "0xaa"}
		engine := he.NewLocal()
		var first, second []plainRecord
		for i := range counts {
			rec := plainRecord{song: uint64(i + 1), plays: counts[i], duration: durations[i]}
			if i < split {
				first = append(first, rec)
			} else {
				second = append(second, rec)
			}
		}
		seedRecords(t, store, engine, 1, first)
		seedRecords(t, store, engine, 1, second)
		service := NewService(store, store, store, engine)
		summary, err := service.Reduce(context.Background(), 1)
		if err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
		_, _, _, plays, duration := decryptSummary(t, engine, summary)
		return plays, duration
	}

	for _, split := range []int{0, 2, 6} {
		plays, duration := build(split)
		if plays != 21 || duration != 210 {
			t.Fatalf("split=%d: ожидали 21/210, получили %d/%d", split, plays, duration)
		}
	}
}

func TestReduceVisitsEveryRecordOnce(t *testing.T) {
	store := newMemStore()
	store.users[1] = domain.User{ID: 1, Address: "0xaa"}
	inner := he.NewLocal()
	engine := &countingEngine{inner: inner}
	seedRecords(t, store, inner, 1, []plainRecord{
		{song: 1, plays: 9, duration: 1},
		{song: 2, plays: 1, duration: 1},
		{song: 3, plays: 1, duration: 1},
		{song: 4, plays: 1, duration: 1},
	})
	service := NewService(store, store, store, engine)

	if _, err := service.Reduce(context.Background(), 1); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	// Досрочного выхода нет: даже когда максимум найден на первой записи,
	// каждая последующая даёт ровно одно сравнение, четыре select и два
	// сложения.
	if engine.gts != 3 {
		t.Fatalf("ожидали 3 сравнения, получили %d", engine.gts)
	}
	if engine.selects != 12 {
		t.Fatalf("ожидали 12 select, получили %d", engine.selects)
	}
	if engine.adds != 6 {
		t.Fatalf("ожидали 6 сложений, получили %d", engine.adds)
	}
}

func TestReduceResetsReveal(t *testing.T) {
	store := newMemStore()
	store.users[1] = domain.User{ID: 1, Address: "0xaa"}
	engine := he.NewLocal()
	seedRecords(t, store, engine, 1, []plainRecord{{song: 1, plays: 2, duration: 3}})
	service := NewService(store, store, store, engine)

	if _, err := service.Reduce(context.Background(), 1); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	now := time.Now()
	if err := store.MarkRevealed(1, 1, [5]uint64{1, 0, 0, 2, 3}, now); err != nil {
		t.Fatalf("не удалось раскрыть: %v", err)
	}

	summary, err := service.Reduce(context.Background(), 1)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if summary.Generation != 2 {
		t.Fatalf("ожидали поколение 2, получили %d", summary.Generation)
	}
	revealed, _ := store.GetRevealedSummary(1)
	if revealed.IsRevealed {
		t.Fatalf("новое поколение должно сбрасывать раскрытие")
	}
	if revealed.TotalPlayCount != 0 {
		t.Fatalf("поля раскрытого итога должны обнулиться")
	}
}

func TestReduceNoData(t *testing.T) {
	store := newMemStore()
	store.users[1] = domain.User{ID: 1, Address: "0xaa"}
	service := NewService(store, store, store, he.NewLocal())

	if _, err := service.Reduce(context.Background(), 1); err != domain.ErrNoData {
		t.Fatalf("ожидали ErrNoData, получили %v", err)
	}
}

func TestReduceUnregistered(t *testing.T) {
	store := newMemStore()
	service := NewService(store, store, store, he.NewLocal())

	if _, err := service.Reduce(context.Background(), 42); err != domain.ErrNotRegistered {
		t.Fatalf("ожидали ErrNotRegistered, получили %v", err)
	}
}

func TestGetSummaryUnknownUser(t *testing.T) {
	store := newMemStore()
	service := NewService(store, store, store, he.NewLocal())

	summary, err := service.GetSummary(999)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if summary.IsRevealed {
		t.Fatalf("неизвестный пользователь не может иметь раскрытый итог")
	}
	if summary.TopSongID != 0 || summary.TotalPlayCount != 0 {
		t.Fatalf("ожидали нулевой плейсхолдер")
	}
}
