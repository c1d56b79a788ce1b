package id

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Generator creates opaque run identifiers. Every scheduled or manual
// pipeline execution gets one, and it travels through logs, the run log
// table, and ops webhook payloads.
type Generator interface {
	NewID() (string, error)
}

// RandomGenerator produces ids with a second-resolution timestamp prefix
// and a random suffix, so run ids sort roughly by start time while staying
// collision-free across concurrent jobs.
type RandomGenerator struct{}

func NewRandomGenerator() *RandomGenerator {
	return &RandomGenerator{}
}

func (g *RandomGenerator) NewID() (string, error) {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}

	return fmt.Sprintf("%08x-%s", time.Now().Unix(), hex.EncodeToString(buf)), nil
}
