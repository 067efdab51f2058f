package helpers

import (
	"encoding/hex"
	"strings"
)

func MustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// HexUpper is what remote consumers expect for keys, raw frames and signatures.
func HexUpper(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}
