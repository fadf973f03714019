package core

import (
	"BucketClear/internal/event"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

const GenesisHashSeed = "BucketClear:genesis:v1"

// EventChain links an orderbook's envelopes into a hash chain
type EventChain struct {
	prevHash [32]byte
}

// NewEventChain initializes with the orderbook's genesis hash
func NewEventChain(orderbookID string) *EventChain {
	return &EventChain{prevHash: GenesisHash(orderbookID)}
}

func GenesisHash(orderbookID string) [32]byte {
	return sha256.Sum256([]byte(GenesisHashSeed + ":" + orderbookID))
}

// ComputeHash calculates hash[N] = SHA-256(prev_hash || sequence || digest)
func (h *EventChain) ComputeHash(sequence uint64, digest []byte) [32]byte {
	hash := chainHash(h.prevHash, sequence, digest)
	h.prevHash = hash
	return hash
}

// Seal hashes the envelope payload and fills Hash/PrevHash
func (h *EventChain) Seal(env *event.Envelope) error {
	digest, err := json.Marshal(env.Payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", env.Type, err)
	}
	prev := h.prevHash
	hash := h.ComputeHash(env.Sequence, digest)
	env.PrevHash = hex.EncodeToString(prev[:])
	env.Hash = hex.EncodeToString(hash[:])
	return nil
}

// Tip returns current chain tip
func (h *EventChain) Tip() [32]byte {
	return h.prevHash
}

// VerifyChain recomputes the chain over envelopes of one orderbook, in the
// order they were published. Payloads must be the in-process values.
func VerifyChain(orderbookID string, envs []event.Envelope) error {
	prev := GenesisHash(orderbookID)
	for i := range envs {
		env := &envs[i]
		if got := hex.EncodeToString(prev[:]); env.PrevHash != got {
			return fmt.Errorf("seq %d: prev_hash %s, want %s", env.Sequence, env.PrevHash, got)
		}
		digest, err := json.Marshal(env.Payload)
		if err != nil {
			return fmt.Errorf("seq %d: %w", env.Sequence, err)
		}
		prev = chainHash(prev, env.Sequence, digest)
		if got := hex.EncodeToString(prev[:]); env.Hash != got {
			return fmt.Errorf("seq %d: hash %s, want %s", env.Sequence, env.Hash, got)
		}
	}
	return nil
}

func chainHash(prev [32]byte, sequence uint64, digest []byte) [32]byte {
	hasher := sha256.New()

	// Write prev_hash (32 bytes)
	hasher.Write(prev[:])

	// Write sequence (8 bytes LE)
	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], sequence)
	hasher.Write(seqBuf[:])

	hasher.Write(digest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	return hash
}
