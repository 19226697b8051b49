package domain

import "time"

// Ciphertext — непрозрачный хэндл зашифрованного целого. Ядро никогда не
// расшифровывает его и не интерпретирует содержимое.
type Ciphertext []byte

// Clone возвращает независимую копию хэндла.
func (c Ciphertext) Clone() Ciphertext {
	if c == nil {
		return nil
	}
	out := make(Ciphertext, len(c))
	copy(out, c)
	return out
}

// User описывает зарегистрированного пользователя.
type User struct {
	ID        int64
	Address   string
	CreatedAt time.Time
}

// ListeningRecord — одно зашифрованное наблюдение прослушивания.
// Все поля, кроме Timestamp, — шифротексты.
type ListeningRecord struct {
	ID        int64
	UserID    int64
	SongID    Ciphertext
	ArtistID  Ciphertext
	GenreID   Ciphertext
	PlayCount Ciphertext
	Duration  Ciphertext
	Timestamp int64
}

// RecordBatch — шесть параллельных массивов одной загрузки.
// Валидность (равные ненулевые длины) проверяется usecase-слоем.
type RecordBatch struct {
	SongIDs    []Ciphertext
	ArtistIDs  []Ciphertext
	GenreIDs   []Ciphertext
	PlayCounts []Ciphertext
	Durations  []Ciphertext
	Timestamps []int64
}

// Len возвращает длину батча по первому массиву.
func (b RecordBatch) Len() int { return len(b.SongIDs) }

// EncryptedSummary — результат гомоморфной свёртки записей пользователя.
// Top-поля выбраны (не пересчитаны) из какой-то записи, Total-поля аддитивны.
type EncryptedSummary struct {
	UserID             int64
	TopSongID          Ciphertext
	TopArtistID        Ciphertext
	TopGenreID         Ciphertext
	TotalPlayCount     Ciphertext
	TotalListeningTime Ciphertext
	Generation         int64
	IsGenerated        bool
	GeneratedAt        time.Time
}

// RevealedSummary — расшифрованный итог. Поля обнуляются при каждой новой
// генерации; IsRevealed становится true не более одного раза на поколение.
type RevealedSummary struct {
	UserID             int64
	TopSongID          uint64
	TopArtistID        uint64
	TopGenreID         uint64
	TotalPlayCount     uint64
	TotalListeningTime uint64
	Generation         int64
	IsRevealed         bool
	RevealedAt         *time.Time
}

// DecryptionRequestStatus описывает стадию заявки на расшифровку.
type DecryptionRequestStatus string

const (
	// RequestPending — заявка создана, ещё не отправлена оракулу.
	RequestPending DecryptionRequestStatus = "pending"
	// RequestSubmitted — заявка отправлена, ждём обратный вызов.
	RequestSubmitted DecryptionRequestStatus = "submitted"
	// RequestDone — обратный вызов успешно применён.
	RequestDone DecryptionRequestStatus = "done"
	// RequestStale — поколение сменилось до завершения заявки.
	RequestStale DecryptionRequestStatus = "stale"
)

// DecryptionRequest связывает заявку на расшифровку с парой
// (пользователь, поколение). Привязка явная: обратный вызов с чужим или
// устаревшим request id отклоняется, а не применяется к новому поколению.
type DecryptionRequest struct {
	ID          string
	UserID      int64
	Generation  int64
	Status      DecryptionRequestStatus
	OracleRef   string
	CreatedAt   time.Time
	SubmittedAt *time.Time
}
