// Package memory implements the flat, byte addressable store that backs every
// segment of the emulated x86 system.
//
// All multi-byte accesses are little-endian. Access outside the store is a
// host error (ErrRange), never an emulated CPU exception: segment limit
// checks happen in the cpu package before an access reaches memory.
package memory
