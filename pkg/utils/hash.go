package utils

import (
	"crypto/md5"
	"fmt"
	"strings"
)

func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

// HashParts hashes the parts joined by "|". Equal parts always give equal
// hashes, which makes it usable for idempotent identifiers.
func HashParts(parts ...string) string {
	return HashString(strings.Join(parts, "|"))
}
