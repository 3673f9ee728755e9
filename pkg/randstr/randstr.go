package randstr

import "math/rand"

const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// New generates a random sequence of URL-safe characters.
func New(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return string(b)
}
