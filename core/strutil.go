package core

// Number formatting for debug output without fmt, which TinyGo builds
// poorly and which allocates through reflection

// utoa formats n in decimal
func utoa(n uint32) string {
	var buf [10]byte
	i := len(buf)
	for {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
		if n == 0 {
			return string(buf[i:])
		}
	}
}

// hex8 formats a byte as two lowercase hex digits
func hex8(b uint8) string {
	const digits = "0123456789abcdef"
	return string([]byte{digits[b>>4], digits[b&0x0F]})
}
