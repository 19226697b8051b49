package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"wrapped-fhe-service/internal/domain"
	"wrapped-fhe-service/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.UserRepo    = (*Postgres)(nil)
	_ domain.RecordRepo  = (*Postgres)(nil)
	_ domain.SummaryRepo = (*Postgres)(nil)
	_ domain.RequestRepo = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// Register реализует domain.UserRepo.
func (p *Postgres) Register(address string) (domain.User, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var user domain.User
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO users (address)
VALUES ($1)
RETURNING id, address, created_at
`, address).Scan(&user.ID, &user.Address, &user.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "users_insert", "users", start, err)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.User{}, domain.ErrAlreadyRegistered
		}
		return domain.User{}, err
	}
	return user, nil
}

// GetByAddress возвращает пользователя по адресу.
func (p *Postgres) GetByAddress(address string) (domain.User, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var user domain.User
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, address, created_at FROM users WHERE address = $1
`, address).Scan(&user.ID, &user.Address, &user.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "users_by_address", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrNotRegistered
	}
	if err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// GetByID возвращает пользователя по id.
func (p *Postgres) GetByID(userID int64) (domain.User, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var user domain.User
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, address, created_at FROM users WHERE id = $1
`, userID).Scan(&user.ID, &user.Address, &user.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "users_by_id", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrNotRegistered
	}
	if err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// AppendRecords вставляет записи одной транзакцией в порядке следования.
func (p *Postgres) AppendRecords(userID int64, records []domain.ListeningRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "listening_records", start, err)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	for _, rec := range records {
		start = time.Now()
		_, err = tx.Exec(ctx, `
INSERT INTO listening_records (user_id, song_id, artist_id, genre_id, play_count, duration, ts)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, userID, []byte(rec.SongID), []byte(rec.ArtistID), []byte(rec.GenreID), []byte(rec.PlayCount), []byte(rec.Duration), rec.Timestamp)
		metrics.ObserveNetworkRequest("postgres", "records_insert", "listening_records", start, err)
		if err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(records), nil
}

// ListRecords возвращает записи пользователя в порядке добавления.
func (p *Postgres) ListRecords(userID int64) ([]domain.ListeningRecord, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, user_id, song_id, artist_id, genre_id, play_count, duration, ts
FROM listening_records
WHERE user_id = $1
ORDER BY id
`, userID)
	metrics.ObserveNetworkRequest("postgres", "records_list", "listening_records", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.ListeningRecord
	for rows.Next() {
		var rec domain.ListeningRecord
		var song, artist, genre, plays, duration []byte
		if err := rows.Scan(&rec.ID, &rec.UserID, &song, &artist, &genre, &plays, &duration, &rec.Timestamp); err != nil {
			return nil, err
		}
		rec.SongID = song
		rec.ArtistID = artist
		rec.GenreID = genre
		rec.PlayCount = plays
		rec.Duration = duration
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountRecords возвращает число записей; 0 для неизвестных пользователей.
func (p *Postgres) CountRecords(userID int64) (int, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var count int
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT count(*) FROM listening_records WHERE user_id = $1
`, userID).Scan(&count)
	metrics.ObserveNetworkRequest("postgres", "records_count", "listening_records", start, err)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// SaveEncryptedSummary перезаписывает зашифрованный итог, атомарно обнуляет
// раскрытый итог и помечает незавершённые заявки устаревшими.
func (p *Postgres) SaveEncryptedSummary(summary domain.EncryptedSummary) (int64, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "encrypted_summaries", start, err)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var generation int64
	start = time.Now()
	err = tx.QueryRow(ctx, `
INSERT INTO encrypted_summaries (user_id, top_song, top_artist, top_genre, total_play_count, total_listening_time, generation, is_generated, generated_at)
VALUES ($1, $2, $3, $4, $5, $6, 1, TRUE, $7)
ON CONFLICT (user_id) DO UPDATE SET
	top_song = EXCLUDED.top_song,
	top_artist = EXCLUDED.top_artist,
	top_genre = EXCLUDED.top_genre,
	total_play_count = EXCLUDED.total_play_count,
	total_listening_time = EXCLUDED.total_listening_time,
	generation = encrypted_summaries.generation + 1,
	is_generated = TRUE,
	generated_at = EXCLUDED.generated_at
RETURNING generation
`, summary.UserID, []byte(summary.TopSongID), []byte(summary.TopArtistID), []byte(summary.TopGenreID),
		[]byte(summary.TotalPlayCount), []byte(summary.TotalListeningTime), summary.GeneratedAt).Scan(&generation)
	metrics.ObserveNetworkRequest("postgres", "summary_upsert", "encrypted_summaries", start, err)
	if err != nil {
		return 0, err
	}

	start = time.Now()
	_, err = tx.Exec(ctx, `
INSERT INTO revealed_summaries (user_id, top_song, top_artist, top_genre, total_play_count, total_listening_time, generation, is_revealed, revealed_at)
VALUES ($1, 0, 0, 0, 0, 0, $2, FALSE, NULL)
ON CONFLICT (user_id) DO UPDATE SET
	top_song = 0, top_artist = 0, top_genre = 0,
	total_play_count = 0, total_listening_time = 0,
	generation = $2, is_revealed = FALSE, revealed_at = NULL
`, summary.UserID, generation)
	metrics.ObserveNetworkRequest("postgres", "revealed_reset", "revealed_summaries", start, err)
	if err != nil {
		return 0, err
	}

	start = time.Now()
	_, err = tx.Exec(ctx, `
UPDATE decryption_requests SET status = 'stale'
WHERE user_id = $1 AND status IN ('pending', 'submitted')
`, summary.UserID)
	metrics.ObserveNetworkRequest("postgres", "requests_stale", "decryption_requests", start, err)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return generation, nil
}

// GetEncryptedSummary возвращает текущий зашифрованный итог.
func (p *Postgres) GetEncryptedSummary(userID int64) (domain.EncryptedSummary, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var s domain.EncryptedSummary
	var song, artist, genre, plays, duration []byte
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT user_id, top_song, top_artist, top_genre, total_play_count, total_listening_time, generation, is_generated, generated_at
FROM encrypted_summaries WHERE user_id = $1
`, userID).Scan(&s.UserID, &song, &artist, &genre, &plays, &duration, &s.Generation, &s.IsGenerated, &s.GeneratedAt)
	metrics.ObserveNetworkRequest("postgres", "summary_get", "encrypted_summaries", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.EncryptedSummary{}, domain.ErrNotGenerated
	}
	if err != nil {
		return domain.EncryptedSummary{}, err
	}
	s.TopSongID = song
	s.TopArtistID = artist
	s.TopGenreID = genre
	s.TotalPlayCount = plays
	s.TotalListeningTime = duration
	return s, nil
}

// GetRevealedSummary возвращает раскрытый итог; нулевой для неизвестных.
func (p *Postgres) GetRevealedSummary(userID int64) (domain.RevealedSummary, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var s domain.RevealedSummary
	var song, artist, genre, plays, duration int64
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT user_id, top_song, top_artist, top_genre, total_play_count, total_listening_time, generation, is_revealed, revealed_at
FROM revealed_summaries WHERE user_id = $1
`, userID).Scan(&s.UserID, &song, &artist, &genre, &plays, &duration, &s.Generation, &s.IsRevealed, &s.RevealedAt)
	metrics.ObserveNetworkRequest("postgres", "revealed_get", "revealed_summaries", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RevealedSummary{UserID: userID}, nil
	}
	if err != nil {
		return domain.RevealedSummary{}, err
	}
	s.TopSongID = uint64(song)
	s.TopArtistID = uint64(artist)
	s.TopGenreID = uint64(genre)
	s.TotalPlayCount = uint64(plays)
	s.TotalListeningTime = uint64(duration)
	return s, nil
}

// MarkRevealed записывает расшифрованные значения текущего поколения.
func (p *Postgres) MarkRevealed(userID int64, generation int64, values [5]uint64, at time.Time) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE revealed_summaries SET
	top_song = $3, top_artist = $4, top_genre = $5,
	total_play_count = $6, total_listening_time = $7,
	is_revealed = TRUE, revealed_at = $8
WHERE user_id = $1 AND generation = $2 AND is_revealed = FALSE
`, userID, generation, int64(values[0]), int64(values[1]), int64(values[2]), int64(values[3]), int64(values[4]), at)
	metrics.ObserveNetworkRequest("postgres", "revealed_mark", "revealed_summaries", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var revealed bool
	err = p.pool.QueryRow(ctx, `
SELECT is_revealed FROM revealed_summaries WHERE user_id = $1 AND generation = $2
`, userID, generation).Scan(&revealed)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrStaleGeneration
	}
	if err != nil {
		return err
	}
	if revealed {
		return domain.ErrAlreadyRevealed
	}
	return domain.ErrStaleGeneration
}

// CreateRequest сохраняет заявку на расшифровку.
func (p *Postgres) CreateRequest(req domain.DecryptionRequest) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO decryption_requests (id, user_id, generation, status, oracle_ref, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
`, req.ID, req.UserID, req.Generation, string(req.Status), req.OracleRef, req.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "request_insert", "decryption_requests", start, err)
	return err
}

// GetRequest возвращает заявку по id.
func (p *Postgres) GetRequest(requestID string) (domain.DecryptionRequest, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var req domain.DecryptionRequest
	var status string
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, user_id, generation, status, oracle_ref, created_at, submitted_at
FROM decryption_requests WHERE id = $1
`, requestID).Scan(&req.ID, &req.UserID, &req.Generation, &status, &req.OracleRef, &req.CreatedAt, &req.SubmittedAt)
	metrics.ObserveNetworkRequest("postgres", "request_get", "decryption_requests", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DecryptionRequest{}, domain.ErrRequestNotFound
	}
	if err != nil {
		return domain.DecryptionRequest{}, err
	}
	req.Status = domain.DecryptionRequestStatus(status)
	return req, nil
}

// UpdateRequestStatus переводит заявку в новый статус.
func (p *Postgres) UpdateRequestStatus(requestID string, status domain.DecryptionRequestStatus, oracleRef string) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE decryption_requests SET
	status = $2,
	oracle_ref = COALESCE(NULLIF($3, ''), oracle_ref),
	submitted_at = CASE WHEN $2 = 'submitted' THEN now() ELSE submitted_at END
WHERE id = $1
`, requestID, string(status), oracleRef)
	metrics.ObserveNetworkRequest("postgres", "request_update", "decryption_requests", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRequestNotFound
	}
	return nil
}
