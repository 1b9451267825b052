package utils

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

var idCounter atomic.Uint32

// GenerateID returns a 24-character hex ID in the ObjectID layout:
// 4 timestamp bytes, 5 random bytes, 3 counter bytes. IDs sort by creation
// time, which keeps session files and debug directories chronological.
func GenerateID() string {
	var raw [12]byte
	binary.BigEndian.PutUint32(raw[:4], uint32(time.Now().Unix()))
	_, _ = rand.Read(raw[4:9])
	n := idCounter.Add(1)
	raw[9], raw[10], raw[11] = byte(n>>16), byte(n>>8), byte(n)
	return hex.EncodeToString(raw[:])
}

// GenerateTimestampPrefix returns the current Unix time as 8 hex characters
// plus a trailing underscore, e.g. "68ac2f00_". Attachment files named with
// the prefix can later be aged with IsOlderThan.
func GenerateTimestampPrefix() string {
	var ts [4]byte
	binary.BigEndian.PutUint32(ts[:], uint32(time.Now().Unix()))
	return hex.EncodeToString(ts[:]) + "_"
}

// GetTimeFromID recovers the creation time from any string whose first 8
// characters are a hex timestamp laid down by GenerateID or
// GenerateTimestampPrefix.
func GetTimeFromID(id string) (time.Time, error) {
	if len(id) < 8 {
		return time.Time{}, fmt.Errorf("id too short: %d", len(id))
	}
	raw, err := hex.DecodeString(id[:8])
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(binary.BigEndian.Uint32(raw)), 0), nil
}

// IsOlderThan reports whether the ID's embedded timestamp lies more than d
// in the past. Strings without a readable timestamp are never old.
func IsOlderThan(id string, d time.Duration) bool {
	born, err := GetTimeFromID(id)
	if err != nil {
		return false
	}
	return time.Since(born) > d
}
