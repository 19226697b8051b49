package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"wrapped-fhe-service/internal/adapters/he"
	"wrapped-fhe-service/internal/adapters/oracle"
	"wrapped-fhe-service/internal/adapters/repo"
	"wrapped-fhe-service/internal/domain"
	"wrapped-fhe-service/internal/infra/cache"
	"wrapped-fhe-service/internal/infra/config"
	"wrapped-fhe-service/internal/infra/db"
	httpinfra "wrapped-fhe-service/internal/infra/http"
	applog "wrapped-fhe-service/internal/infra/log"
	"wrapped-fhe-service/internal/infra/metrics"
	"wrapped-fhe-service/internal/infra/queue"
	"wrapped-fhe-service/internal/usecase/identity"
	"wrapped-fhe-service/internal/usecase/library"
	"wrapped-fhe-service/internal/usecase/reveal"
	"wrapped-fhe-service/internal/usecase/wrapped"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, "api")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	redisCache := cache.NewRedis(redisClient)

	var revealQueue domain.RevealQueue
	if cfg.AMQPURL != "" {
		rabbit, err := queue.NewRabbitRevealQueue(cfg.AMQPURL, cfg.Queues.Reveal)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: нет подключения к AMQP")
		}
		defer rabbit.Close()
		revealQueue = rabbit
	} else {
		revealQueue = queue.NewRedisRevealQueue(redisClient, cfg.Queues.Reveal)
	}

	var engine domain.HEEngine
	if cfg.Engine.Local {
		engine = he.NewLocal()
	} else {
		engine = he.NewRemote(cfg.Engine.BaseURL, cfg.Engine.Timeout)
	}

	verifier, err := oracle.NewVerifier(cfg.Oracle.PublicKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: некорректный публичный ключ оракула")
	}
	oracleClient := oracle.NewClient(cfg.Oracle.BaseURL, cfg.Oracle.Timeout)

	identitySvc := identity.NewService(repoAdapter)
	librarySvc := library.NewService(repoAdapter, repoAdapter, cfg.Limits.UploadBatchMax)
	wrappedSvc := wrapped.NewService(repoAdapter, repoAdapter, repoAdapter, engine)
	revealSvc := reveal.NewService(
		repoAdapter, repoAdapter, repoAdapter,
		revealQueue, engine, oracleClient, verifier, redisCache,
		cfg.Oracle.CallbackURL,
		logger.With().Str("component", "reveal").Logger(),
	)

	server := httpinfra.NewServer(logger)
	registerRoutes(server.Router, cfg, logger, identitySvc, librarySvc, wrappedSvc, revealSvc)

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	go func() {
		if err := server.Start(":" + strconv.Itoa(cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("api: сервер остановлен")
		}
	}()
	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func registerRoutes(
	r chi.Router,
	cfg config.AppConfig,
	logger zerolog.Logger,
	identitySvc *identity.Service,
	librarySvc *library.Service,
	wrappedSvc *wrapped.Service,
	revealSvc *reveal.Service,
) {
	r.Post("/api/v1/register", func(w http.ResponseWriter, req *http.Request) {
		defer req.Body.Close()
		var body registerRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		user, err := identitySvc.Register(body.Address)
		switch {
		case errors.Is(err, identity.ErrAddressInvalid):
			writeError(w, http.StatusBadRequest, "invalid address")
		case errors.Is(err, domain.ErrAlreadyRegistered):
			writeError(w, http.StatusConflict, "address already registered")
		case err != nil:
			logger.Error().Err(err).Msg("api: register")
			writeError(w, http.StatusInternalServerError, "registration failed")
		default:
			writeJSON(w, map[string]any{"user_id": user.ID})
		}
	})

	r.Post("/api/v1/records", func(w http.ResponseWriter, req *http.Request) {
		defer req.Body.Close()
		var body uploadRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		batch, err := body.toBatch()
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid ciphertext encoding")
			return
		}
		appended, err := librarySvc.Upload(body.UserID, batch)
		switch {
		case errors.Is(err, domain.ErrNotRegistered):
			writeError(w, http.StatusForbidden, "user is not registered")
		case errors.Is(err, domain.ErrArityMismatch):
			writeError(w, http.StatusBadRequest, "record arrays have mismatched lengths")
		case errors.Is(err, library.ErrEmptyBatch):
			writeError(w, http.StatusBadRequest, "empty batch")
		case errors.Is(err, library.ErrBatchTooLarge):
			writeError(w, http.StatusBadRequest, "batch too large")
		case err != nil:
			logger.Error().Err(err).Msg("api: upload")
			writeError(w, http.StatusInternalServerError, "upload failed")
		default:
			writeJSON(w, map[string]any{"appended": appended})
		}
	})

	r.Post("/api/v1/summary/generate", func(w http.ResponseWriter, req *http.Request) {
		defer req.Body.Close()
		var body userRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		summary, err := wrappedSvc.Reduce(req.Context(), body.UserID)
		switch {
		case errors.Is(err, domain.ErrNotRegistered):
			writeError(w, http.StatusForbidden, "user is not registered")
		case errors.Is(err, domain.ErrNoData):
			writeError(w, http.StatusConflict, "no listening records")
		case err != nil:
			logger.Error().Err(err).Msg("api: generate summary")
			writeError(w, http.StatusInternalServerError, "summary generation failed")
		default:
			writeJSON(w, map[string]any{
				"generation":   summary.Generation,
				"generated_at": summary.GeneratedAt,
			})
		}
	})

	r.Post("/api/v1/summary/reveal", func(w http.ResponseWriter, req *http.Request) {
		defer req.Body.Close()
		var body userRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		request, err := revealSvc.Request(req.Context(), body.UserID)
		switch {
		case errors.Is(err, domain.ErrNotRegistered):
			writeError(w, http.StatusForbidden, "user is not registered")
		case errors.Is(err, domain.ErrNotGenerated):
			writeError(w, http.StatusConflict, "summary is not generated")
		case errors.Is(err, domain.ErrAlreadyRevealed):
			writeError(w, http.StatusConflict, "summary is already revealed")
		case err != nil:
			logger.Error().Err(err).Msg("api: request reveal")
			writeError(w, http.StatusInternalServerError, "reveal request failed")
		default:
			writeJSON(w, map[string]any{
				"request_id": request.ID,
				"generation": request.Generation,
			})
		}
	})

	r.Post("/api/v1/oracle/callback", func(w http.ResponseWriter, req *http.Request) {
		defer req.Body.Close()
		if cfg.Oracle.WebhookSecret != "" && req.Header.Get("X-Oracle-Secret") != cfg.Oracle.WebhookSecret {
			writeError(w, http.StatusUnauthorized, "invalid webhook secret")
			return
		}
		var body callbackRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		payload, err := base64.StdEncoding.DecodeString(body.Payload)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid payload encoding")
			return
		}
		proof, err := base64.StdEncoding.DecodeString(body.Proof)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid proof encoding")
			return
		}
		err = revealSvc.HandleCallback(body.RequestID, payload, proof)
		switch {
		case errors.Is(err, domain.ErrRequestNotFound):
			writeError(w, http.StatusNotFound, "request not found")
		case errors.Is(err, domain.ErrInvalidProof):
			writeError(w, http.StatusUnauthorized, "invalid proof")
		case errors.Is(err, domain.ErrBadPayload):
			writeError(w, http.StatusBadRequest, "malformed payload")
		case errors.Is(err, domain.ErrAlreadyRevealed):
			writeError(w, http.StatusConflict, "already revealed")
		case errors.Is(err, domain.ErrStaleGeneration):
			writeError(w, http.StatusConflict, "stale generation")
		case err != nil:
			logger.Error().Err(err).Msg("api: oracle callback")
			writeError(w, http.StatusInternalServerError, "callback failed")
		default:
			writeJSON(w, map[string]string{"status": "ok"})
		}
	})

	r.Get("/api/v1/users/{address}", func(w http.ResponseWriter, req *http.Request) {
		userID, err := identitySvc.Resolve(chi.URLParam(req, "address"))
		if errors.Is(err, identity.ErrAddressInvalid) {
			writeError(w, http.StatusBadRequest, "invalid address")
			return
		}
		if err != nil {
			logger.Error().Err(err).Msg("api: resolve address")
			writeError(w, http.StatusInternalServerError, "failed to resolve address")
			return
		}
		// userID 0 — незарегистрированный сентинел, это валидный ответ.
		writeJSON(w, map[string]any{"user_id": userID})
	})

	r.Get("/api/v1/summary/{userID}", func(w http.ResponseWriter, req *http.Request) {
		userID, _ := strconv.ParseInt(chi.URLParam(req, "userID"), 10, 64)
		summary, err := wrappedSvc.GetSummary(userID)
		if err != nil {
			logger.Error().Err(err).Msg("api: get summary")
			writeError(w, http.StatusInternalServerError, "failed to load summary")
			return
		}
		count, err := librarySvc.Count(userID)
		if err != nil {
			logger.Error().Err(err).Msg("api: count records")
			writeError(w, http.StatusInternalServerError, "failed to count records")
			return
		}
		writeJSON(w, summaryResponse{
			UserID:             userID,
			TopSongID:          summary.TopSongID,
			TopArtistID:        summary.TopArtistID,
			TopGenreID:         summary.TopGenreID,
			TotalPlayCount:     summary.TotalPlayCount,
			TotalListeningTime: summary.TotalListeningTime,
			Generation:         summary.Generation,
			IsRevealed:         summary.IsRevealed,
			RecordCount:        count,
		})
	})

	r.Get("/api/v1/records/{userID}/count", func(w http.ResponseWriter, req *http.Request) {
		userID, _ := strconv.ParseInt(chi.URLParam(req, "userID"), 10, 64)
		count, err := librarySvc.Count(userID)
		if err != nil {
			logger.Error().Err(err).Msg("api: count records")
			writeError(w, http.StatusInternalServerError, "failed to count records")
			return
		}
		writeJSON(w, map[string]any{"count": count})
	})
}

type registerRequest struct {
	Address string `json:"address"`
}

type userRequest struct {
	UserID int64 `json:"user_id"`
}

type uploadRequest struct {
	UserID     int64    `json:"user_id"`
	SongIDs    []string `json:"song_ids"`
	ArtistIDs  []string `json:"artist_ids"`
	GenreIDs   []string `json:"genre_ids"`
	PlayCounts []string `json:"play_counts"`
	Durations  []string `json:"durations"`
	Timestamps []int64  `json:"timestamps"`
}

func (r uploadRequest) toBatch() (domain.RecordBatch, error) {
	decode := func(in []string) ([]domain.Ciphertext, error) {
		out := make([]domain.Ciphertext, 0, len(in))
		for _, s := range in {
			raw, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return nil, err
			}
			out = append(out, raw)
		}
		return out, nil
	}
	var batch domain.RecordBatch
	var err error
	if batch.SongIDs, err = decode(r.SongIDs); err != nil {
		return domain.RecordBatch{}, err
	}
	if batch.ArtistIDs, err = decode(r.ArtistIDs); err != nil {
		return domain.RecordBatch{}, err
	}
	if batch.GenreIDs, err = decode(r.GenreIDs); err != nil {
		return domain.RecordBatch{}, err
	}
	if batch.PlayCounts, err = decode(r.PlayCounts); err != nil {
		return domain.RecordBatch{}, err
	}
	if batch.Durations, err = decode(r.Durations); err != nil {
		return domain.RecordBatch{}, err
	}
	batch.Timestamps = r.Timestamps
	return batch, nil
}

type callbackRequest struct {
	RequestID string `json:"request_id"`
	Payload   string `json:"payload"`
	Proof     string `json:"proof"`
}

type summaryResponse struct {
	UserID             int64  `json:"user_id"`
	TopSongID          uint64 `json:"top_song_id"`
	TopArtistID        uint64 `json:"top_artist_id"`
	TopGenreID         uint64 `json:"top_genre_id"`
	TotalPlayCount     uint64 `json:"total_play_count"`
	TotalListeningTime uint64 `json:"total_listening_time"`
	Generation         int64  `json:"generation"`
	IsRevealed         bool   `json:"is_revealed"`
	RecordCount        int    `json:"record_count"`
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg})
}
