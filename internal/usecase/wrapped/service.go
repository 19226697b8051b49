package wrapped

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wrapped-fhe-service/internal/domain"
	"wrapped-fhe-service/internal/infra/metrics"
)

// Service строит зашифрованный итог "wrapped" по записям пользователя.
type Service struct {
	users     domain.UserRepo
	records   domain.RecordRepo
	summaries domain.SummaryRepo
	engine    domain.HEEngine
}

// NewService создаёт сервис свёртки.
func NewService(users domain.UserRepo, records domain.RecordRepo, summaries domain.SummaryRepo, engine domain.HEEngine) *Service {
	return &Service{users: users, records: records, summaries: summaries, engine: engine}
}

// Reduce выполняет один последовательный гомоморфный проход по всем записям
// пользователя в порядке добавления и сохраняет итог как новое поколение.
//
// Сравнение строгое (>): при равных счётчиках верх остаётся за более ранней
// записью. Предикат сравнения зашифрован, поэтому досрочного выхода нет —
// корректность требует посетить каждую запись ровно один раз без
// переупорядочивания.
func (s *Service) Reduce(ctx context.Context, userID int64) (domain.EncryptedSummary, error) {
	if _, err := s.users.GetByID(userID); err != nil {
		if errors.Is(err, domain.ErrNotRegistered) {
			return domain.EncryptedSummary{}, domain.ErrNotRegistered
		}
		return domain.EncryptedSummary{}, fmt.Errorf("получение пользователя: %w", err)
	}
	records, err := s.records.ListRecords(userID)
	if err != nil {
		return domain.EncryptedSummary{}, fmt.Errorf("получение записей: %w", err)
	}
	if len(records) == 0 {
		return domain.EncryptedSummary{}, domain.ErrNoData
	}

	start := time.Now()
	summary, err := s.scan(ctx, userID, records)
	metrics.ReduceSeconds.Observe(time.Since(start).Seconds())
	metrics.ReduceRecords.Observe(float64(len(records)))
	if err != nil {
		return domain.EncryptedSummary{}, err
	}

	generation, err := s.summaries.SaveEncryptedSummary(summary)
	if err != nil {
		return domain.EncryptedSummary{}, fmt.Errorf("сохранение итога: %w", err)
	}
	summary.Generation = generation
	return summary, nil
}

func (s *Service) scan(ctx context.Context, userID int64, records []domain.ListeningRecord) (domain.EncryptedSummary, error) {
	first := records[0]
	topSong := first.SongID
	topArtist := first.ArtistID
	topGenre := first.GenreID
	maxPlays := first.PlayCount
	totalPlays := first.PlayCount
	totalTime := first.Duration

	for _, rec := range records[1:] {
		if err := ctx.Err(); err != nil {
			return domain.EncryptedSummary{}, err
		}

		isNewTop, err := s.engine.Gt(ctx, rec.PlayCount, maxPlays)
		if err != nil {
			return domain.EncryptedSummary{}, fmt.Errorf("сравнение счётчиков: %w", err)
		}

		// Обе ветви каждого select всегда вычислены: ветвиться по
		// зашифрованному предикату нельзя.
		if topSong, err = s.engine.Select(ctx, isNewTop, rec.SongID, topSong); err != nil {
			return domain.EncryptedSummary{}, fmt.Errorf("выбор песни: %w", err)
		}
		if topArtist, err = s.engine.Select(ctx, isNewTop, rec.ArtistID, topArtist); err != nil {
			return domain.EncryptedSummary{}, fmt.Errorf("выбор артиста: %w", err)
		}
		if topGenre, err = s.engine.Select(ctx, isNewTop, rec.GenreID, topGenre); err != nil {
			return domain.EncryptedSummary{}, fmt.Errorf("выбор жанра: %w", err)
		}
		if maxPlays, err = s.engine.Select(ctx, isNewTop, rec.PlayCount, maxPlays); err != nil {
			return domain.EncryptedSummary{}, fmt.Errorf("выбор максимума: %w", err)
		}

		if totalPlays, err = s.engine.Add(ctx, totalPlays, rec.PlayCount); err != nil {
			return domain.EncryptedSummary{}, fmt.Errorf("сумма прослушиваний: %w", err)
		}
		if totalTime, err = s.engine.Add(ctx, totalTime, rec.Duration); err != nil {
			return domain.EncryptedSummary{}, fmt.Errorf("сумма длительностей: %w", err)
		}
	}

	return domain.EncryptedSummary{
		UserID:             userID,
		TopSongID:          topSong,
		TopArtistID:        topArtist,
		TopGenreID:         topGenre,
		TotalPlayCount:     totalPlays,
		TotalListeningTime: totalTime,
		IsGenerated:        true,
		GeneratedAt:        time.Now().UTC(),
	}, nil
}

// GetSummary возвращает раскрытый итог как есть; для неизвестного id —
// нулевой нераскрытый плейсхолдер. Вызывающий код обязан смотреть на флаг
// IsRevealed, а не на ненулевые поля.
func (s *Service) GetSummary(userID int64) (domain.RevealedSummary, error) {
	if userID <= 0 {
		return domain.RevealedSummary{}, nil
	}
	summary, err := s.summaries.GetRevealedSummary(userID)
	if err != nil {
		return domain.RevealedSummary{}, fmt.Errorf("получение итога: %w", err)
	}
	return summary, nil
}
