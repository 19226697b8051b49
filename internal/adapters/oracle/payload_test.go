package oracle

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"testing"

	"wrapped-fhe-service/internal/domain"
)

func TestPayloadRoundTrip(t *testing.T) {
	values := [PayloadFields]uint64{1, 2, 3, 444, 55555}
	decoded, err := DecodePayload(EncodePayload(values))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if decoded != values {
		t.Fatalf("ожидали %v, получили %v", values, decoded)
	}
}

func TestPayloadOrderIsPositional(t *testing.T) {
	// Перестановка значений меняет смысл полей без какой-либо структурной
	// ошибки: кодек обязан быть общим для обеих сторон.
	a := EncodePayload([PayloadFields]uint64{1, 2, 3, 4, 5})
	b := EncodePayload([PayloadFields]uint64{2, 1, 3, 4, 5})
	if string(a) == string(b) {
		t.Fatalf("разный порядок должен давать разные пакеты")
	}
	decoded, err := DecodePayload(b)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if decoded[0] != 2 || decoded[1] != 1 {
		t.Fatalf("декодирование обязано быть позиционным: %v", decoded)
	}
}

func TestDecodePayloadWrongArity(t *testing.T) {
	for _, size := range []int{0, 8, 32, 39, 41, 48} {
		if _, err := DecodePayload(make([]byte, size)); !errors.Is(err, domain.ErrBadPayload) {
			t.Fatalf("размер %d: ожидали ErrBadPayload, получили %v", size, err)
		}
	}
}

func TestVerifyProof(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("генерация ключа: %v", err)
	}
	verifier, err := NewVerifier(base64.StdEncoding.EncodeToString(pub))
	if err != nil {
		t.Fatalf("создание верификатора: %v", err)
	}

	values := [PayloadFields]uint64{10, 20, 30, 40, 50}
	proof := Sign(priv, "req-1", values)

	if !verifier.VerifyProof("req-1", values, proof) {
		t.Fatalf("валидная подпись должна проходить")
	}
	if verifier.VerifyProof("req-2", values, proof) {
		t.Fatalf("подпись привязана к request id")
	}
	other := values
	other[4] = 51
	if verifier.VerifyProof("req-1", other, proof) {
		t.Fatalf("подпись привязана к значениям")
	}
	if verifier.VerifyProof("req-1", values, proof[:10]) {
		t.Fatalf("обрезанная подпись должна отклоняться")
	}
}

func TestNewVerifierBadKey(t *testing.T) {
	if _, err := NewVerifier("not base64!!"); err == nil {
		t.Fatalf("ожидали ошибку декодирования ключа")
	}
	if _, err := NewVerifier(base64.StdEncoding.EncodeToString([]byte("short"))); err == nil {
		t.Fatalf("ожидали ошибку длины ключа")
	}
}
