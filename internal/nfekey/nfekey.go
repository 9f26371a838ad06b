/**
 * @description
 * This package validates NFe/CTe access keys: the 44-digit identifier printed
 * on Brazilian fiscal documents. Validation checks the structural fields
 * encoded in the key (issuing state, month, issuer CNPJ block, document model,
 * issuance mode) and the final modulo-11 check digit.
 *
 * Key layout (0-based positions within the 44 digits):
 * - 0-1:   UF (IBGE state code)
 * - 2-3:   year (two digits)
 * - 4-5:   month (01-12)
 * - 6-19:  issuer CNPJ (14 digits)
 * - 20-21: document model (55=NFe, 57=CTe)
 * - 22-24: series
 * - 25-33: document number
 * - 34:    issuance mode (1-9)
 * - 35-42: numeric code
 * - 43:    check digit
 */
package nfekey

import (
	"fmt"
	"strings"
)

// KeyLength is the exact digit count of a valid access key.
const KeyLength = 44

// ufNames maps valid IBGE state codes to their two-letter abbreviations.
var ufNames = map[string]string{
	"11": "RO", "12": "AC", "13": "AM", "14": "RR", "15": "PA",
	"16": "AP", "17": "TO", "21": "MA", "22": "PI", "23": "CE",
	"24": "RN", "25": "PB", "26": "PE", "27": "AL", "28": "SE",
	"29": "BA", "31": "MG", "32": "ES", "33": "RJ", "35": "SP",
	"41": "PR", "42": "SC", "43": "RS", "50": "MS", "51": "MT",
	"52": "GO", "53": "DF",
}

// validModels are the accepted fiscal document models: 55=NFe, 57=CTe.
var validModels = map[string]string{"55": "NFe", "57": "CTe"}

// Normalize strips every non-digit character from a candidate key.
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Validate normalizes raw and checks it against the access key structure,
// returning the first failing rule as a typed error. A nil return means the
// key is structurally valid and its check digit matches.
func Validate(raw string) error {
	key := Normalize(raw)

	if len(key) != KeyLength {
		return &WrongLengthError{Count: len(key)}
	}

	uf := key[0:2]
	if _, ok := ufNames[uf]; !ok {
		return &InvalidUFError{Code: uf}
	}

	month := parseTwoDigits(key[4:6])
	if month < 1 || month > 12 {
		return &InvalidMonthError{Value: key[4:6]}
	}

	// Positions 6-19 hold the issuer CNPJ. Normalize already guarantees the
	// block is all digits; the explicit check keeps the structural rule visible.
	if !allDigits(key[6:20]) {
		return &InvalidCNPJError{Value: key[6:20]}
	}

	model := key[20:22]
	if _, ok := validModels[model]; !ok {
		return &InvalidModelError{Value: model}
	}

	mode := key[34] - '0'
	if mode < 1 || mode > 9 {
		return &InvalidIssuanceModeError{Value: string(key[34])}
	}

	expected, err := CheckDigit(key[0:43])
	if err != nil {
		return err
	}
	if key[43] != expected {
		return &ChecksumError{Expected: expected - '0', Actual: key[43] - '0'}
	}

	return nil
}

// CheckDigit computes the modulo-11 check digit over the first 43 digits of
// an access key. Weights cycle 2..9 starting from the rightmost digit; the
// digit is 0 when the remainder is 0 or 1, otherwise 11 minus the remainder.
func CheckDigit(first43 string) (byte, error) {
	if len(first43) != KeyLength-1 {
		return 0, fmt.Errorf("check digit requires %d digits, got %d", KeyLength-1, len(first43))
	}
	if !allDigits(first43) {
		return 0, fmt.Errorf("check digit input must be all digits")
	}

	sum := 0
	weight := 2
	for i := len(first43) - 1; i >= 0; i-- {
		sum += int(first43[i]-'0') * weight
		weight++
		if weight > 9 {
			weight = 2
		}
	}

	remainder := sum % 11
	dv := 0
	if remainder >= 2 {
		dv = 11 - remainder
	}
	return byte('0' + dv), nil
}

// KeyInfo is the decoded form of a valid access key.
type KeyInfo struct {
	UF           string `json:"uf"`
	UFCode       string `json:"uf_code"`
	Year         string `json:"year"`
	Month        string `json:"month"`
	CNPJ         string `json:"cnpj"`
	Model        string `json:"model"`
	ModelCode    string `json:"model_code"`
	Series       string `json:"series"`
	Number       string `json:"number"`
	IssuanceMode string `json:"issuance_mode"`
	NumericCode  string `json:"numeric_code"`
	CheckDigit   string `json:"check_digit"`
}

// Parse validates raw and extracts the fields encoded in the key.
func Parse(raw string) (KeyInfo, error) {
	if err := Validate(raw); err != nil {
		return KeyInfo{}, err
	}
	key := Normalize(raw)
	return KeyInfo{
		UF:           ufNames[key[0:2]],
		UFCode:       key[0:2],
		Year:         "20" + key[2:4],
		Month:        key[4:6],
		CNPJ:         key[6:20],
		Model:        validModels[key[20:22]],
		ModelCode:    key[20:22],
		Series:       key[22:25],
		Number:       key[25:34],
		IssuanceMode: string(key[34]),
		NumericCode:  key[35:43],
		CheckDigit:   string(key[43]),
	}, nil
}

func parseTwoDigits(s string) int {
	if len(s) != 2 || !allDigits(s) {
		return -1
	}
	return int(s[0]-'0')*10 + int(s[1]-'0')
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
