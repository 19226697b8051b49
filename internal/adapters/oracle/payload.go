package oracle

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"wrapped-fhe-service/internal/domain"
)

// Порядок полей в пакете расшифровки фиксирован и разделяется с оракулом:
// [topSong, topArtist, topGenre, totalPlayCount, totalListeningTime].
// Любая перестановка молча искажает смысл полей, поэтому кодек один на обе
// стороны протокола.
const PayloadFields = 5

const payloadSize = PayloadFields * 8

// EncodePayload сериализует пять значений в big-endian в порядке протокола.
func EncodePayload(values [PayloadFields]uint64) []byte {
	out := make([]byte, payloadSize)
	for i, v := range values {
		binary.BigEndian.PutUint64(out[i*8:], v)
	}
	return out
}

// DecodePayload разбирает полезную нагрузку обратного вызова.
// Неверная длина — фатальная ошибка протокола для этого вызова.
func DecodePayload(raw []byte) ([PayloadFields]uint64, error) {
	var values [PayloadFields]uint64
	if len(raw) != payloadSize {
		return values, fmt.Errorf("%w: payload is %d bytes, want %d", domain.ErrBadPayload, len(raw), payloadSize)
	}
	for i := range values {
		values[i] = binary.BigEndian.Uint64(raw[i*8:])
	}
	return values, nil
}

// proofDigest — то, что подписывает оракул: hash(requestID || payload).
func proofDigest(requestID string, payload []byte) []byte {
	h := sha256.New()
	h.Write([]byte(requestID))
	h.Write(payload)
	return h.Sum(nil)
}

// Ed25519Verifier проверяет подписи оракула.
type Ed25519Verifier struct {
	pub ed25519.PublicKey
}

// NewVerifier разбирает публичный ключ оракула из base64.
func NewVerifier(encodedKey string) (*Ed25519Verifier, error) {
	raw, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("decode oracle public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("oracle public key is %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}
	return &Ed25519Verifier{pub: ed25519.PublicKey(raw)}, nil
}

var _ domain.ProofVerifier = (*Ed25519Verifier)(nil)

// VerifyProof проверяет подпись над (requestID, значения в порядке протокола).
func (v *Ed25519Verifier) VerifyProof(requestID string, values [PayloadFields]uint64, proof []byte) bool {
	if len(proof) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(v.pub, proofDigest(requestID, EncodePayload(values)), proof)
}

// Sign подписывает пакет приватным ключом. Используется dev-оракулом и тестами.
func Sign(priv ed25519.PrivateKey, requestID string, values [PayloadFields]uint64) []byte {
	return ed25519.Sign(priv, proofDigest(requestID, EncodePayload(values)))
}
