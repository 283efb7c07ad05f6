package invite

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestChecksumDigit_KnownVectors(t *testing.T) {
	cases := []struct {
		base  string
		check int
	}{
		{"00000", 0},
		{"12345", 5},
		{"11111", 2},
		{"99999", 5},
	}

	for _, tc := range cases {
		if got := ChecksumDigit(tc.base); got != tc.check {
			t.Errorf("ChecksumDigit(%q) = %d, want %d", tc.base, got, tc.check)
		}
	}
}

func TestValidateChecksum(t *testing.T) {
	if !ValidateChecksum("123455") {
		t.Error("123455 should carry a valid check digit")
	}
	if ValidateChecksum("123456") {
		t.Error("123456 should fail the checksum")
	}
	if ValidateChecksum("123450") {
		t.Error("Wrong check digit should fail")
	}
}

// Every generated code validates; any single-digit substitution breaks
// validation (the folding map is injective, so substitutions are always
// caught — transpositions are the documented blind spot).
func TestChecksum_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("generated codes always validate", prop.ForAll(
		func(n int) bool {
			base := fmt.Sprintf("%05d", n)
			code := fmt.Sprintf("%s%d", base, ChecksumDigit(base))
			return ValidateChecksum(code)
		},
		gen.IntRange(0, 99999),
	))

	properties.Property("single-digit substitution fails validation", prop.ForAll(
		func(n, pos, delta int) bool {
			base := fmt.Sprintf("%05d", n)
			code := fmt.Sprintf("%s%d", base, ChecksumDigit(base))

			// Replace the digit at pos with a different digit
			old := int(code[pos] - '0')
			mutated := (old + delta) % 10
			bytes := []byte(code)
			bytes[pos] = byte('0' + mutated)

			return !ValidateChecksum(string(bytes))
		},
		gen.IntRange(0, 99999),
		gen.IntRange(0, 5),
		gen.IntRange(1, 9),
	))

	properties.TestingRun(t)
}

func TestIsAllDigits(t *testing.T) {
	if !isAllDigits("123456") {
		t.Error("123456 is all digits")
	}
	if isAllDigits("12a456") || isAllDigits("") || isAllDigits("12 45") {
		t.Error("Non-digit strings should be rejected")
	}
}
