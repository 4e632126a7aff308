package depositid

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/sha3"
)

const idPrefixV1 = "pool-deposit"

// New returns a collision-resistant deposit id:
//
//	id = 0x || hex(keccak256("pool-deposit" || unixMilliBE64 || rand8))
//
// The random suffix keeps ids unique across calls within the same
// millisecond.
func New(now time.Time) (string, error) {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(now.UnixMilli()))
	if _, err := rand.Read(buf[8:]); err != nil {
		return "", fmt.Errorf("depositid: read random suffix: %w", err)
	}

	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte(idPrefixV1))
	_, _ = h.Write(buf[:])

	return "0x" + hex.EncodeToString(h.Sum(nil)), nil
}
