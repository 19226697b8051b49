package library

import (
	"errors"
	"fmt"

	"wrapped-fhe-service/internal/domain"
	"wrapped-fhe-service/internal/infra/metrics"
)

// ErrBatchTooLarge возвращается при превышении лимита размера загрузки.
var ErrBatchTooLarge = errors.New("слишком большая загрузка записей")

// ErrEmptyBatch возвращается для загрузки без единой записи.
var ErrEmptyBatch = errors.New("пустая загрузка записей")

// Service принимает зашифрованные записи прослушивания.
type Service struct {
	users    domain.UserRepo
	records  domain.RecordRepo
	batchMax int
}

// NewService создаёт сервис библиотеки записей.
func NewService(users domain.UserRepo, records domain.RecordRepo, batchMax int) *Service {
	return &Service{users: users, records: records, batchMax: batchMax}
}

// Upload валидирует батч и дописывает записи в порядке следования.
// Любая ошибка валидации отклоняет загрузку целиком: ни одна запись
// не сохраняется.
func (s *Service) Upload(userID int64, batch domain.RecordBatch) (int, error) {
	if _, err := s.users.GetByID(userID); err != nil {
		if errors.Is(err, domain.ErrNotRegistered) {
			metrics.UploadRejects.WithLabelValues("not_registered").Inc()
			return 0, domain.ErrNotRegistered
		}
		return 0, fmt.Errorf("получение пользователя: %w", err)
	}

	n := batch.Len()
	if len(batch.ArtistIDs) != n || len(batch.GenreIDs) != n ||
		len(batch.PlayCounts) != n || len(batch.Durations) != n ||
		len(batch.Timestamps) != n {
		metrics.UploadRejects.WithLabelValues("arity").Inc()
		return 0, domain.ErrArityMismatch
	}
	if n == 0 {
		metrics.UploadRejects.WithLabelValues("empty").Inc()
		return 0, ErrEmptyBatch
	}
	if s.batchMax > 0 && n > s.batchMax {
		metrics.UploadRejects.WithLabelValues("too_large").Inc()
		return 0, ErrBatchTooLarge
	}

	records := make([]domain.ListeningRecord, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, domain.ListeningRecord{
			UserID:    userID,
			SongID:    batch.SongIDs[i],
			ArtistID:  batch.ArtistIDs[i],
			GenreID:   batch.GenreIDs[i],
			PlayCount: batch.PlayCounts[i],
			Duration:  batch.Durations[i],
			Timestamp: batch.Timestamps[i],
		})
	}
	appended, err := s.records.AppendRecords(userID, records)
	if err != nil {
		return 0, fmt.Errorf("сохранение записей: %w", err)
	}
	metrics.RecordsUploaded.Add(float64(appended))
	return appended, nil
}

// Count возвращает число записей; не падает для неизвестных пользователей.
func (s *Service) Count(userID int64) (int, error) {
	if userID <= 0 {
		return 0, nil
	}
	count, err := s.records.CountRecords(userID)
	if err != nil {
		return 0, fmt.Errorf("подсчёт записей: %w", err)
	}
	return count, nil
}
