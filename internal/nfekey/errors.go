package nfekey

import "fmt"

// WrongLengthError reports a key whose digit count is not 44.
type WrongLengthError struct {
	Count int
}

func (e *WrongLengthError) Error() string {
	return fmt.Sprintf("access key must have %d digits, got %d", KeyLength, e.Count)
}

// InvalidUFError reports a key whose leading state code is not a valid IBGE code.
type InvalidUFError struct {
	Code string
}

func (e *InvalidUFError) Error() string {
	return fmt.Sprintf("invalid UF code %q", e.Code)
}

// InvalidMonthError reports an out-of-range month field.
type InvalidMonthError struct {
	Value string
}

func (e *InvalidMonthError) Error() string {
	return fmt.Sprintf("invalid month %q, must be 01-12", e.Value)
}

// InvalidCNPJError reports a malformed issuer identifier block.
type InvalidCNPJError struct {
	Value string
}

func (e *InvalidCNPJError) Error() string {
	return fmt.Sprintf("invalid issuer CNPJ block %q", e.Value)
}

// InvalidModelError reports a document model outside {55, 57}.
type InvalidModelError struct {
	Value string
}

func (e *InvalidModelError) Error() string {
	return fmt.Sprintf("invalid document model %q, must be 55 (NFe) or 57 (CTe)", e.Value)
}

// InvalidIssuanceModeError reports an issuance mode outside 1-9.
type InvalidIssuanceModeError struct {
	Value string
}

func (e *InvalidIssuanceModeError) Error() string {
	return fmt.Sprintf("invalid issuance mode %q, must be 1-9", e.Value)
}

// ChecksumError reports a mismatched check digit.
type ChecksumError struct {
	Expected byte
	Actual   byte
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("check digit mismatch: expected %d, got %d", e.Expected, e.Actual)
}
