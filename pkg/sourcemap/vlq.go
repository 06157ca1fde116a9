package sourcemap

import (
	"errors"
	"strings"
)

const base64_chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

var base64_index [256]int8

func init() {
	for i := range base64_index {
		base64_index[i] = -1
	}
	for i := 0; i < len(base64_chars); i++ {
		base64_index[base64_chars[i]] = int8(i)
	}
}

var ErrInvalidVLQ = errors.New("sourcemap: invalid vlq")

// EncodeVLQ appends the base64 VLQ form of value to sb.
func EncodeVLQ(sb *strings.Builder, value int) {
	vlq := value << 1
	if value < 0 {
		vlq = (-value << 1) | 1
	}
	for {
		digit := vlq & 31
		vlq >>= 5
		if vlq != 0 {
			digit |= 32
		}
		sb.WriteByte(base64_chars[digit])
		if vlq == 0 {
			return
		}
	}
}

// DecodeVLQ reads one value from the start of s and returns it together with
// the number of bytes consumed.
func DecodeVLQ(s string) (int, int, error) {
	var (
		result int
		shift  uint
	)
	for i := 0; i < len(s); i++ {
		digit := base64_index[s[i]]
		if digit < 0 {
			return 0, 0, ErrInvalidVLQ
		}
		result += int(digit&31) << shift
		shift += 5
		if digit&32 == 0 {
			if result&1 != 0 {
				return -(result >> 1), i + 1, nil
			}
			return result >> 1, i + 1, nil
		}
		if shift > 60 {
			return 0, 0, ErrInvalidVLQ
		}
	}
	return 0, 0, ErrInvalidVLQ
}
