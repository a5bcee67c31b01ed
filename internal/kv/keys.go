// Package kv implements the ordered key/value index that owns the
// alias/hash/filename graph described by the image repository's data model.
package kv

// Bucket names — the three keyspaces the spec requires. Each maps onto one
// top-level bbolt bucket, created once on first open.
const (
	BucketDefault  = "default"
	BucketAlias    = "alias"
	BucketFilename = "filename"
)

// Separator bytes partition the hash-prefixed ranges inside BucketDefault.
const (
	sepAlias   byte = 0x00
	sepVariant byte = 0x02
)

// AliasRowKey builds the "hash ‖ 0x00 ‖ aliasId" row key that enumerates
// aliases bound to hash.
func AliasRowKey(hash []byte, aliasID uint64) []byte {
	k := make([]byte, 0, len(hash)+1+8)
	k = append(k, hash...)
	k = append(k, sepAlias)
	k = appendUint64(k, aliasID)
	return k
}

// AliasRowBounds returns the [lower, upper) range that enumerates every
// alias row for hash via an ordered forward scan.
func AliasRowBounds(hash []byte) (lower, upper []byte) {
	lower = append(append([]byte{}, hash...), sepAlias)
	upper = append(append([]byte{}, hash...), sepAlias+1)
	return lower, upper
}

// VariantRowKey builds the "hash ‖ 0x02 ‖ pathString" row key that
// registers a materialized variant of hash.
func VariantRowKey(hash []byte, path string) []byte {
	k := make([]byte, 0, len(hash)+1+len(path))
	k = append(k, hash...)
	k = append(k, sepVariant)
	k = append(k, path...)
	return k
}

// VariantRowBounds returns the [lower, upper) range that enumerates every
// variant row for hash via an ordered forward scan.
func VariantRowBounds(hash []byte) (lower, upper []byte) {
	lower = append(append([]byte{}, hash...), sepVariant)
	upper = append(append([]byte{}, hash...), sepVariant+1)
	return lower, upper
}

// AliasIDKey builds the "<alias>/id" row key.
func AliasIDKey(alias string) []byte {
	return []byte(alias + "/id")
}

// AliasDeleteKey builds the "<alias>/delete" row key.
func AliasDeleteKey(alias string) []byte {
	return []byte(alias + "/delete")
}

func appendUint64(b []byte, v uint64) []byte {
	return append(b,
		byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}
