package security

import (
	"crypto/rand"
)

// WipeBytes overwrites data with random bytes and then zeros.
func WipeBytes(data []byte) {
	if len(data) == 0 {
		return
	}
	_, _ = rand.Read(data)
	for i := range data {
		data[i] = 0
	}
}
