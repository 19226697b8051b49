package reveal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"wrapped-fhe-service/internal/adapters/oracle"
	"wrapped-fhe-service/internal/domain"
	"wrapped-fhe-service/internal/infra/metrics"
)

// Service реализует асинхронный протокол раскрытия итога: заявка →
// отправка оракулу → обратный вызов с подписью.
type Service struct {
	users     domain.UserRepo
	summaries domain.SummaryRepo
	requests  domain.RequestRepo
	queue     domain.RevealQueue
	engine    domain.HEEngine
	client    domain.OracleClient
	verifier  domain.ProofVerifier
	cache     domain.Cache

	callbackURL string
	log         zerolog.Logger
}

// NewService создаёт сервис раскрытия.
func NewService(
	users domain.UserRepo,
	summaries domain.SummaryRepo,
	requests domain.RequestRepo,
	queue domain.RevealQueue,
	engine domain.HEEngine,
	client domain.OracleClient,
	verifier domain.ProofVerifier,
	cache domain.Cache,
	callbackURL string,
	log zerolog.Logger,
) *Service {
	return &Service{
		users:       users,
		summaries:   summaries,
		requests:    requests,
		queue:       queue,
		engine:      engine,
		client:      client,
		verifier:    verifier,
		cache:       cache,
		callbackURL: callbackURL,
		log:         log,
	}
}

// Request создаёт заявку на расшифровку текущего поколения и ставит задачу
// отправки в очередь. Заявку можно выставлять повторно, пока поколение не
// раскрыто; каждая заявка получает свой request id.
func (s *Service) Request(ctx context.Context, userID int64) (domain.DecryptionRequest, error) {
	if _, err := s.users.GetByID(userID); err != nil {
		if errors.Is(err, domain.ErrNotRegistered) {
			return domain.DecryptionRequest{}, domain.ErrNotRegistered
		}
		return domain.DecryptionRequest{}, fmt.Errorf("получение пользователя: %w", err)
	}
	summary, err := s.summaries.GetEncryptedSummary(userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotGenerated) {
			return domain.DecryptionRequest{}, domain.ErrNotGenerated
		}
		return domain.DecryptionRequest{}, fmt.Errorf("получение итога: %w", err)
	}
	if !summary.IsGenerated {
		return domain.DecryptionRequest{}, domain.ErrNotGenerated
	}
	revealed, err := s.summaries.GetRevealedSummary(userID)
	if err != nil {
		return domain.DecryptionRequest{}, fmt.Errorf("проверка раскрытия: %w", err)
	}
	if revealed.IsRevealed {
		return domain.DecryptionRequest{}, domain.ErrAlreadyRevealed
	}

	req := domain.DecryptionRequest{
		ID:         uuid.NewString(),
		UserID:     userID,
		Generation: summary.Generation,
		Status:     domain.RequestPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.requests.CreateRequest(req); err != nil {
		return domain.DecryptionRequest{}, fmt.Errorf("создание заявки: %w", err)
	}
	job := domain.RevealJob{
		RequestID:   req.ID,
		UserID:      userID,
		Generation:  summary.Generation,
		RequestedAt: req.CreatedAt,
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return domain.DecryptionRequest{}, fmt.Errorf("постановка в очередь: %w", err)
	}
	metrics.RevealRequestsTotal.Inc()
	s.log.Info().Str("request_id", req.ID).Int64("user", userID).Int64("generation", summary.Generation).Msg("reveal: заявка поставлена в очередь")
	return req, nil
}

// Submit отправляет заявку оракулу. Вызывается диспетчером из очереди.
// Заявка устаревшего поколения помечается stale и не отправляется.
func (s *Service) Submit(ctx context.Context, job domain.RevealJob) error {
	submit := func() error { return s.submit(ctx, job) }
	if s.cache == nil {
		return submit()
	}
	// Дедупликация на случай повторной доставки задачи брокером.
	return s.cache.Once("reveal:submit:"+job.RequestID, time.Hour, submit)
}

func (s *Service) submit(ctx context.Context, job domain.RevealJob) error {
	req, err := s.requests.GetRequest(job.RequestID)
	if err != nil {
		return fmt.Errorf("получение заявки: %w", err)
	}
	if req.Status != domain.RequestPending {
		s.log.Debug().Str("request_id", req.ID).Str("status", string(req.Status)).Msg("reveal: заявка уже обработана")
		return nil
	}
	summary, err := s.summaries.GetEncryptedSummary(req.UserID)
	if err != nil {
		return fmt.Errorf("получение итога: %w", err)
	}
	if summary.Generation != req.Generation {
		if err := s.requests.UpdateRequestStatus(req.ID, domain.RequestStale, ""); err != nil {
			return fmt.Errorf("пометка заявки устаревшей: %w", err)
		}
		s.log.Info().Str("request_id", req.ID).Msg("reveal: поколение сменилось, заявка отброшена")
		return nil
	}

	// Порядок хэндлов — протокольный контракт с оракулом; он же определяет
	// позиционное соответствие значений в обратном вызове.
	fields := []domain.Ciphertext{
		summary.TopSongID,
		summary.TopArtistID,
		summary.TopGenreID,
		summary.TotalPlayCount,
		summary.TotalListeningTime,
	}
	handles := make([][]byte, 0, len(fields))
	for _, ct := range fields {
		handle, err := s.engine.Export(ctx, ct)
		if err != nil {
			return fmt.Errorf("экспорт шифротекста: %w", err)
		}
		handles = append(handles, handle)
	}

	ref, err := s.client.SubmitDecryption(ctx, req.ID, handles, s.callbackURL)
	if err != nil {
		return fmt.Errorf("отправка оракулу: %w", err)
	}
	if err := s.requests.UpdateRequestStatus(req.ID, domain.RequestSubmitted, ref); err != nil {
		return fmt.Errorf("обновление заявки: %w", err)
	}
	s.log.Info().Str("request_id", req.ID).Str("oracle_ref", ref).Msg("reveal: заявка отправлена оракулу")
	return nil
}

// HandleCallback применяет обратный вызов оракула. Порядок значений в
// payload фиксирован кодеком oracle; проверка подписи предшествует любому
// изменению состояния, и любой отказ оставляет состояние нетронутым.
func (s *Service) HandleCallback(requestID string, payload, proof []byte) error {
	req, err := s.requests.GetRequest(requestID)
	if err != nil {
		metrics.IncOracleCallback("unknown_request")
		return err
	}
	if _, err := s.users.GetByID(req.UserID); err != nil {
		metrics.IncOracleCallback("unknown_user")
		return err
	}

	values, err := oracle.DecodePayload(payload)
	if err != nil {
		metrics.IncOracleCallback("bad_payload")
		return err
	}
	if !s.verifier.VerifyProof(requestID, values, proof) {
		metrics.IncOracleCallback("invalid_proof")
		return domain.ErrInvalidProof
	}

	summary, err := s.summaries.GetEncryptedSummary(req.UserID)
	if err != nil {
		metrics.IncOracleCallback("not_generated")
		return err
	}
	if summary.Generation != req.Generation {
		// Поздний вызов по заявке уже пересчитанного поколения: не даём
		// ему применяться к новому итогу.
		metrics.IncOracleCallback("stale")
		return domain.ErrStaleGeneration
	}

	if err := s.summaries.MarkRevealed(req.UserID, req.Generation, values, time.Now().UTC()); err != nil {
		if errors.Is(err, domain.ErrAlreadyRevealed) {
			metrics.IncOracleCallback("already_revealed")
		} else {
			metrics.IncOracleCallback("error")
		}
		return err
	}
	if err := s.requests.UpdateRequestStatus(requestID, domain.RequestDone, ""); err != nil {
		s.log.Error().Err(err).Str("request_id", requestID).Msg("reveal: не удалось закрыть заявку")
	}
	metrics.IncOracleCallback("revealed")
	s.log.Info().Str("request_id", requestID).Int64("user", req.UserID).Int64("generation", req.Generation).Msg("reveal: итог раскрыт")
	return nil
}
