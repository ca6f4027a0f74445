package flags

import "hash/fnv"

// Bucket deterministically maps (userID, flagName) to [0,100). The same
// inputs always land in the same bucket, so raising a flag's percentage only
// adds users at the boundary and never reshuffles users already included.
//
// The hash is FNV-1a 32-bit over "<flagName>:<userID>" reduced mod 100 —
// cheap, stable across restarts, and reproducible from other services that
// need to predict bucket assignment.
func Bucket(userID, flagName string) int {
	h := fnv.New32a()
	h.Write([]byte(flagName))
	h.Write([]byte{':'})
	h.Write([]byte(userID))
	return int(h.Sum32() % 100)
}
