package he

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"wrapped-fhe-service/internal/domain"
)

// LocalEngine — движок для dev-окружения и тестов. Хэндлы непрозрачны для
// вызывающего кода, но значения лежат в памяти процесса; это не FHE,
// а симуляция его интерфейса.
type LocalEngine struct {
	mu     sync.Mutex
	values map[string]uint64
}

// NewLocal создаёт локальный движок.
func NewLocal() *LocalEngine {
	return &LocalEngine{values: make(map[string]uint64)}
}

var _ domain.HEEngine = (*LocalEngine)(nil)

const localHandleSize = 16

// ErrUnknownHandle возвращается для хэндла, не выданного этим движком.
var ErrUnknownHandle = errors.New("unknown ciphertext handle")

// Encrypt выдаёт новый хэндл на значение. В проде шифрование происходит на
// клиенте; здесь метод нужен загрузчику dev-данных и тестам.
func (e *LocalEngine) Encrypt(value uint64) (domain.Ciphertext, error) {
	buf := make([]byte, localHandleSize)
	if _, err := crand.Read(buf); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.values[hex.EncodeToString(buf)] = value
	e.mu.Unlock()
	return buf, nil
}

// Value возвращает значение за хэндлом. Используется dev-оракулом.
func (e *LocalEngine) Value(ct domain.Ciphertext) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.values[hex.EncodeToString(ct)]
	if !ok {
		return 0, ErrUnknownHandle
	}
	return v, nil
}

// Gt возвращает хэндл на 1 при a > b, иначе на 0.
func (e *LocalEngine) Gt(ctx context.Context, a, b domain.Ciphertext) (domain.Ciphertext, error) {
	av, err := e.Value(a)
	if err != nil {
		return nil, fmt.Errorf("gt lhs: %w", err)
	}
	bv, err := e.Value(b)
	if err != nil {
		return nil, fmt.Errorf("gt rhs: %w", err)
	}
	var out uint64
	if av > bv {
		out = 1
	}
	return e.Encrypt(out)
}

// Select возвращает новый хэндл на значение a при ненулевом cond, иначе b.
// Оба операнда читаются всегда, в одном и том же порядке.
func (e *LocalEngine) Select(ctx context.Context, cond, a, b domain.Ciphertext) (domain.Ciphertext, error) {
	cv, err := e.Value(cond)
	if err != nil {
		return nil, fmt.Errorf("select cond: %w", err)
	}
	av, err := e.Value(a)
	if err != nil {
		return nil, fmt.Errorf("select lhs: %w", err)
	}
	bv, err := e.Value(b)
	if err != nil {
		return nil, fmt.Errorf("select rhs: %w", err)
	}
	out := bv
	if cv != 0 {
		out = av
	}
	return e.Encrypt(out)
}

// Add возвращает хэндл на сумму a + b.
func (e *LocalEngine) Add(ctx context.Context, a, b domain.Ciphertext) (domain.Ciphertext, error) {
	av, err := e.Value(a)
	if err != nil {
		return nil, fmt.Errorf("add lhs: %w", err)
	}
	bv, err := e.Value(b)
	if err != nil {
		return nil, fmt.Errorf("add rhs: %w", err)
	}
	return e.Encrypt(av + bv)
}

// Export возвращает сам хэндл: для локального движка транспортная форма
// совпадает с внутренней.
func (e *LocalEngine) Export(ctx context.Context, ct domain.Ciphertext) ([]byte, error) {
	if _, err := e.Value(ct); err != nil {
		return nil, err
	}
	return ct.Clone(), nil
}
