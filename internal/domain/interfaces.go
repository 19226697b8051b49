package domain

import (
	"context"
	"time"
)

// UserRepo управляет таблицей регистрации адресов.
// Таблица монотонна: записи только добавляются, userId никогда не переназначается.
type UserRepo interface {
	// Register создаёт пользователя для адреса. Возвращает ErrAlreadyRegistered,
	// если адрес уже занят.
	Register(address string) (User, error)
	// GetByAddress возвращает ErrNotRegistered для неизвестного адреса.
	GetByAddress(address string) (User, error)
	// GetByID возвращает ErrNotRegistered для неизвестного id.
	GetByID(userID int64) (User, error)
}

// RecordRepo — append-only хранилище зашифрованных записей прослушивания.
type RecordRepo interface {
	// AppendRecords добавляет записи в порядке следования и возвращает их число.
	AppendRecords(userID int64, records []ListeningRecord) (int, error)
	// ListRecords возвращает все записи пользователя в порядке добавления.
	ListRecords(userID int64) ([]ListeningRecord, error)
	// CountRecords не падает для неизвестных пользователей, возвращая 0.
	CountRecords(userID int64) (int, error)
}

// SummaryRepo хранит зашифрованный и раскрытый итог пользователя.
type SummaryRepo interface {
	// SaveEncryptedSummary перезаписывает итог и атомарно обнуляет раскрытый
	// итог того же пользователя, возвращая номер нового поколения.
	SaveEncryptedSummary(summary EncryptedSummary) (int64, error)
	// GetEncryptedSummary возвращает ErrNotGenerated, если итог не построен.
	GetEncryptedSummary(userID int64) (EncryptedSummary, error)
	// GetRevealedSummary не падает для неизвестных пользователей,
	// возвращая нулевой нераскрытый итог.
	GetRevealedSummary(userID int64) (RevealedSummary, error)
	// MarkRevealed записывает расшифрованные значения поколения generation.
	// Возвращает ErrAlreadyRevealed при повторном раскрытии.
	MarkRevealed(userID int64, generation int64, values [5]uint64, at time.Time) error
}

// RequestRepo хранит заявки на расшифровку с привязкой к поколению.
type RequestRepo interface {
	CreateRequest(req DecryptionRequest) error
	// GetRequest возвращает ErrRequestNotFound для неизвестного id.
	GetRequest(requestID string) (DecryptionRequest, error)
	UpdateRequestStatus(requestID string, status DecryptionRequestStatus, oracleRef string) error
}

// RevealJob — задача отправки заявки оракулу.
type RevealJob struct {
	RequestID   string    `json:"request_id"`
	UserID      int64     `json:"user_id"`
	Generation  int64     `json:"generation"`
	RequestedAt time.Time `json:"requested_at"`
}

// RevealAckFunc подтверждает обработку или запрашивает повтор доставки задачи.
type RevealAckFunc func(success bool) error

// RevealQueue описывает очередь задач на отправку заявок оракулу.
type RevealQueue interface {
	Enqueue(ctx context.Context, job RevealJob) error
	Receive(ctx context.Context) (RevealJob, RevealAckFunc, error)
}

// HEEngine — внешний гомоморфный движок. Все операции работают только с
// хэндлами шифротекстов; плейнтексты на этой стороне не появляются.
type HEEngine interface {
	// Gt возвращает зашифрованный булев a > b (строгое сравнение).
	Gt(ctx context.Context, a, b Ciphertext) (Ciphertext, error)
	// Select возвращает a при истинном cond, иначе b. Обе ветви всегда
	// вычислены: ветвления по значению cond не существует.
	Select(ctx context.Context, cond, a, b Ciphertext) (Ciphertext, error)
	// Add возвращает зашифрованную сумму a + b.
	Add(ctx context.Context, a, b Ciphertext) (Ciphertext, error)
	// Export выдаёт транспортный хэндл шифротекста для передачи оракулу.
	Export(ctx context.Context, ct Ciphertext) ([]byte, error)
}

// OracleClient отправляет пакеты хэндлов сервису расшифровки.
type OracleClient interface {
	// SubmitDecryption передаёт хэндлы в фиксированном порядке и возвращает
	// ссылку оракула на принятую заявку.
	SubmitDecryption(ctx context.Context, requestID string, handles [][]byte, callbackURL string) (string, error)
}

// ProofVerifier проверяет подпись оракула над (requestID, значения).
type ProofVerifier interface {
	VerifyProof(requestID string, values [5]uint64, proof []byte) bool
}

// Cache используется для простых TTL-хранилищ и дедупликации.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}
