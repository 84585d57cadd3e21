package db

import "fmt"

const replIDPrime uint64 = 2147483647

// makeReplicationID derives the 20 hex-char replication id from the boot
// time millisecond clock. Deterministic: the same seed always yields the
// same id.
func makeReplicationID(seed uint64) string {
	p1 := seed * replIDPrime
	p2 := p1 + replIDPrime
	id := fmt.Sprintf("%016x%016x", p1, p2)
	return id[:20]
}
