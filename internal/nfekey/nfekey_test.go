package nfekey

import (
	"errors"
	"strings"
	"testing"
)

// base43 is a structurally valid key prefix: UF=35 (SP), year=25, month=01,
// CNPJ block, model=55, series=001, number=000123456, mode=1, numeric code.
const base43 = "35" + "25" + "01" + "12345678000199" + "55" + "001" + "000123456" + "1" + "12345678"

func validKey(t *testing.T, first43 string) string {
	t.Helper()
	dv, err := CheckDigit(first43)
	if err != nil {
		t.Fatalf("CheckDigit(%q) returned error: %v", first43, err)
	}
	return first43 + string(dv)
}

func TestCheckDigitRoundTrip(t *testing.T) {
	prefixes := []string{
		base43,
		"11" + "24" + "12" + "00000000000191" + "57" + "123" + "999999999" + "9" + "00000001",
		"53" + "23" + "06" + "99999999999999" + "55" + "000" + "000000001" + "5" + "87654321",
	}

	for _, prefix := range prefixes {
		key := validKey(t, prefix)
		if len(key) != KeyLength {
			t.Fatalf("expected %d digits, got %d", KeyLength, len(key))
		}
		if err := Validate(key); err != nil {
			t.Fatalf("expected %q to validate, got %v", key, err)
		}
	}
}

func TestValidateDetectsFlippedDigit(t *testing.T) {
	key := validKey(t, base43)

	// Flip digits inside the numeric code block (positions 35-42) so only the
	// checksum rule is affected, not the structural rules.
	for pos := 35; pos <= 42; pos++ {
		flipped := []byte(key)
		flipped[pos] = '0' + (flipped[pos]-'0'+1)%10

		err := Validate(string(flipped))
		if err == nil {
			t.Fatalf("expected flipped key at position %d to fail validation", pos)
		}
		var checksumErr *ChecksumError
		if !errors.As(err, &checksumErr) {
			t.Fatalf("expected ChecksumError at position %d, got %v", pos, err)
		}
	}
}

func TestValidateLengthGate(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		count int
	}{
		{name: "43 digits", key: base43, count: 43},
		{name: "45 digits", key: base43 + "12", count: 45},
		{name: "empty", key: "", count: 0},
		{name: "letters only", key: "abc", count: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.key)
			var lengthErr *WrongLengthError
			if !errors.As(err, &lengthErr) {
				t.Fatalf("expected WrongLengthError, got %v", err)
			}
			if lengthErr.Count != tt.count {
				t.Fatalf("expected count %d, got %d", tt.count, lengthErr.Count)
			}
		})
	}
}

func TestValidateStructuralRules(t *testing.T) {
	replaceAt := func(key string, pos int, value string) string {
		return key[:pos] + value + key[pos+len(value):]
	}
	base := validKey(t, base43)

	tests := []struct {
		name string
		key  string
		want error
	}{
		{name: "invalid UF", key: replaceAt(base, 0, "00"), want: &InvalidUFError{}},
		{name: "invalid month zero", key: replaceAt(base, 4, "00"), want: &InvalidMonthError{}},
		{name: "invalid month thirteen", key: replaceAt(base, 4, "13"), want: &InvalidMonthError{}},
		{name: "invalid model", key: replaceAt(base, 20, "56"), want: &InvalidModelError{}},
		{name: "invalid issuance mode", key: replaceAt(base, 34, "0"), want: &InvalidIssuanceModeError{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.key)
			if err == nil {
				t.Fatalf("expected validation failure")
			}
			switch tt.want.(type) {
			case *InvalidUFError:
				var e *InvalidUFError
				if !errors.As(err, &e) {
					t.Fatalf("expected InvalidUFError, got %v", err)
				}
			case *InvalidMonthError:
				var e *InvalidMonthError
				if !errors.As(err, &e) {
					t.Fatalf("expected InvalidMonthError, got %v", err)
				}
			case *InvalidModelError:
				var e *InvalidModelError
				if !errors.As(err, &e) {
					t.Fatalf("expected InvalidModelError, got %v", err)
				}
			case *InvalidIssuanceModeError:
				var e *InvalidIssuanceModeError
				if !errors.As(err, &e) {
					t.Fatalf("expected InvalidIssuanceModeError, got %v", err)
				}
			}
		})
	}
}

func TestNormalizeStripsNonDigits(t *testing.T) {
	key := validKey(t, base43)
	spaced := strings.Join(strings.Split(key, ""), " ")
	decorated := "chave: " + spaced + "."

	if got := Normalize(decorated); got != key {
		t.Fatalf("expected normalized key %q, got %q", key, got)
	}
	if err := Validate(decorated); err != nil {
		t.Fatalf("expected decorated key to validate, got %v", err)
	}
}

func TestParseExtractsFields(t *testing.T) {
	key := validKey(t, base43)

	info, err := Parse(key)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if info.UF != "SP" || info.UFCode != "35" {
		t.Fatalf("unexpected UF: %+v", info)
	}
	if info.Year != "2025" || info.Month != "01" {
		t.Fatalf("unexpected period: %+v", info)
	}
	if info.CNPJ != "12345678000199" {
		t.Fatalf("unexpected CNPJ: %+v", info)
	}
	if info.Model != "NFe" || info.ModelCode != "55" {
		t.Fatalf("unexpected model: %+v", info)
	}
	if info.Series != "001" || info.Number != "000123456" {
		t.Fatalf("unexpected series/number: %+v", info)
	}
	if info.IssuanceMode != "1" || info.NumericCode != "12345678" {
		t.Fatalf("unexpected mode/code: %+v", info)
	}
	if info.CheckDigit != string(key[43]) {
		t.Fatalf("unexpected check digit: %+v", info)
	}
}

func TestCheckDigitRejectsBadInput(t *testing.T) {
	if _, err := CheckDigit("123"); err == nil {
		t.Fatal("expected error for short input")
	}
	if _, err := CheckDigit(strings.Repeat("x", 43)); err == nil {
		t.Fatal("expected error for non-digit input")
	}
}
