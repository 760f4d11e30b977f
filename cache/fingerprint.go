package cache

import (
	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// fingerprint hashes the msgpack encoding of v. The second result is false
// when v cannot be encoded, in which case callers treat it as changed.
func fingerprint(v any) (uint64, bool) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return 0, false
	}
	return xxhash.Sum64(data), true
}
