package invite

// The join code is 5 random digits plus 1 checksum digit. The checksum
// is a Luhn-style weighted sum: walking from the rightmost base digit,
// digits at even distance from the end are doubled and products above 9
// fold by digit sum; the check digit is (10 - sum mod 10) mod 10.
//
// Single-digit mutations are caught with high but not guaranteed
// probability (doubled positions fold 5<->1 style collisions). That
// blind spot is inherited as-is; the 6-digit length is a fixed external
// contract, so the scheme cannot be strengthened by adding digits.

// ChecksumDigit computes the check digit for a 5-digit base string.
// The base must contain only ASCII digits.
func ChecksumDigit(base string) int {
	sum := 0
	for i := 0; i < len(base); i++ {
		digit := int(base[len(base)-1-i] - '0')
		// FUNCTIONAL DISCOVERY: distance-from-end counting, not position,
		// so the weighting is stable regardless of base length
		if i%2 == 0 {
			digit *= 2
			if digit > 9 {
				digit = digit/10 + digit%10
			}
		}
		sum += digit
	}
	return (10 - sum%10) % 10
}

// ValidateChecksum reports whether a full 6-digit code carries the
// correct check digit. Assumes the format was already checked.
func ValidateChecksum(code string) bool {
	base, check := code[:len(code)-1], code[len(code)-1]
	return ChecksumDigit(base) == int(check-'0')
}

// isAllDigits reports whether s is non-empty ASCII digits only.
func isAllDigits(s string) bool {
	if len(s) == 0 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
