package domain

import "errors"

var (
	// ErrNotRegistered возвращается для операций от незарегистрированного принципала.
	ErrNotRegistered = errors.New("user is not registered")

	// ErrAlreadyRegistered возвращается при повторной регистрации адреса.
	ErrAlreadyRegistered = errors.New("address is already registered")

	// ErrArityMismatch возвращается, когда массивы загрузки разной длины.
	ErrArityMismatch = errors.New("record arrays have mismatched lengths")

	// ErrNoData возвращается при свёртке без единой записи.
	ErrNoData = errors.New("no listening records to reduce")

	// ErrNotGenerated возвращается, когда зашифрованный итог ещё не построен.
	ErrNotGenerated = errors.New("summary is not generated")

	// ErrAlreadyRevealed возвращается при повторном раскрытии одного поколения.
	ErrAlreadyRevealed = errors.New("summary is already revealed")

	// ErrRequestNotFound возвращается для неизвестного request id.
	ErrRequestNotFound = errors.New("decryption request not found")

	// ErrStaleGeneration возвращается, когда заявка относится к устаревшему поколению.
	ErrStaleGeneration = errors.New("decryption request belongs to a stale generation")

	// ErrInvalidProof возвращается, когда подпись оракула не проходит проверку.
	ErrInvalidProof = errors.New("oracle proof verification failed")

	// ErrBadPayload возвращается, когда полезная нагрузка оракула не декодируется
	// ровно в пять беззнаковых целых.
	ErrBadPayload = errors.New("malformed oracle payload")
)
