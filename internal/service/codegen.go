package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const (
	DefaultCodeLength = 8
	MaxBulkCodes      = 100000
	// Bulk generation gives up after count*bulkAttemptFactor draws.
	bulkAttemptFactor = 10
)

// Character classes. The safe variants drop 0, 1, I and O; lowercase l is
// removed separately when the class is lowercased.
const (
	AlphabetSafeAlphanumeric = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	AlphabetSafeLetters      = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	AlphabetAlphanumeric     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	AlphabetLetters          = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// CodeOptions configures generation and validation. The zero value is the
// standard format: 8 uppercase characters, digits included, ambiguous
// characters excluded.
type CodeOptions struct {
	Length         int    `json:"length,omitempty"`
	Alphabet       string `json:"alphabet,omitempty"`
	Prefix         string `json:"prefix,omitempty"`
	Suffix         string `json:"suffix,omitempty"`
	Lowercase      bool   `json:"lowercase,omitempty"`
	LettersOnly    bool   `json:"lettersOnly,omitempty"`
	AllowAmbiguous bool   `json:"allowAmbiguous,omitempty"`
}

func (o CodeOptions) length() int {
	if o.Length <= 0 {
		return DefaultCodeLength
	}
	return o.Length
}

var (
	PresetStandard    = CodeOptions{Length: 8}
	PresetShort       = CodeOptions{Length: 6}
	PresetSecure      = CodeOptions{Length: 12}
	PresetLettersOnly = CodeOptions{Length: 8, LettersOnly: true}
	PresetCampaign    = CodeOptions{Length: 8, Prefix: "H2"}
)

// Presets returns the built-in formats keyed by name.
func Presets() map[string]CodeOptions {
	return map[string]CodeOptions{
		"STANDARD":     PresetStandard,
		"SHORT":        PresetShort,
		"SECURE":       PresetSecure,
		"LETTERS_ONLY": PresetLettersOnly,
		"CAMPAIGN":     PresetCampaign,
	}
}

// BuildAlphabet derives the character set for opts. An explicit alphabet is
// used verbatim.
func BuildAlphabet(opts CodeOptions) string {
	if opts.Alphabet != "" {
		return opts.Alphabet
	}
	var alphabet string
	switch {
	case !opts.AllowAmbiguous && !opts.LettersOnly:
		alphabet = AlphabetSafeAlphanumeric
	case !opts.AllowAmbiguous && opts.LettersOnly:
		alphabet = AlphabetSafeLetters
	case opts.AllowAmbiguous && !opts.LettersOnly:
		alphabet = AlphabetAlphanumeric
	default:
		alphabet = AlphabetLetters
	}
	if opts.Lowercase {
		alphabet = strings.ToLower(alphabet)
		if !opts.AllowAmbiguous {
			alphabet = strings.ReplaceAll(alphabet, "l", "")
		}
	}
	return alphabet
}

func randomCore(alphabet string, length int) (string, error) {
	if alphabet == "" {
		return "", fmt.Errorf("%w: empty alphabet", ErrInvalidArgument)
	}
	chars := []rune(alphabet)
	max := big.NewInt(int64(len(chars)))
	out := make([]rune, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate random number for code: %w", err)
		}
		out[i] = chars[n.Int64()]
	}
	return string(out), nil
}

// GenerateRedemptionCode draws a single code: prefix + core + suffix.
func GenerateRedemptionCode(opts CodeOptions) (string, error) {
	core, err := randomCore(BuildAlphabet(opts), opts.length())
	if err != nil {
		return "", err
	}
	return opts.Prefix + core + opts.Suffix, nil
}

// BulkResult is either a full result (Generated == Requested) or a partial one.
// Callers must check Partial before assuming every requested code exists.
type BulkResult struct {
	Codes              []string  `json:"codes"`
	Requested          int       `json:"requested"`
	Generated          int       `json:"generated"`
	Alphabet           string    `json:"alphabet"`
	Length             int       `json:"length"`
	Prefix             string    `json:"prefix"`
	Suffix             string    `json:"suffix"`
	GeneratedAt        time.Time `json:"generatedAt"`
	UniquenessVerified bool      `json:"uniquenessVerified"`
}

func (r *BulkResult) Partial() bool { return r.Generated < r.Requested }

func (r *BulkResult) Shortfall() int { return r.Requested - r.Generated }

// GenerateBulkCodes produces up to count distinct codes. It stops after
// count*10 draws and returns whatever it has; that shortfall is logged, not
// returned as an error.
func GenerateBulkCodes(count int, opts CodeOptions) (*BulkResult, error) {
	if count <= 0 || count > MaxBulkCodes {
		return nil, fmt.Errorf("%w: count must be between 1 and %d, got %d", ErrInvalidArgument, MaxBulkCodes, count)
	}
	alphabet := BuildAlphabet(opts)
	length := opts.length()

	codes := make([]string, 0, count)
	seen := make(map[string]struct{}, count)
	maxAttempts := count * bulkAttemptFactor

	for attempts := 0; len(codes) < count && attempts < maxAttempts; attempts++ {
		core, err := randomCore(alphabet, length)
		if err != nil {
			return nil, err
		}
		code := opts.Prefix + core + opts.Suffix
		if _, exists := seen[code]; exists {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}

	result := &BulkResult{
		Codes:              codes,
		Requested:          count,
		Generated:          len(codes),
		Alphabet:           alphabet,
		Length:             length,
		Prefix:             opts.Prefix,
		Suffix:             opts.Suffix,
		GeneratedAt:        time.Now(),
		UniquenessVerified: true,
	}
	if result.Partial() {
		zap.L().Warn("bulk code generation fell short",
			zap.Int("requested", count),
			zap.Int("generated", result.Generated),
			zap.Int("alphabet_size", len([]rune(alphabet))),
			zap.Int("length", length),
		)
	}
	return result, nil
}

// NewBatchID returns a sortable identifier for a generation batch.
func NewBatchID() string {
	return "BATCH_" + ulid.Make().String()
}

type CodeFormat struct {
	ExpectedLength int    `json:"expectedLength"`
	Prefix         string `json:"prefix"`
	Suffix         string `json:"suffix"`
	Alphabet       string `json:"alphabet"`
}

type ValidationResult struct {
	IsValid bool       `json:"isValid"`
	Errors  []string   `json:"errors"`
	Format  CodeFormat `json:"format"`
}

// ValidateCodeFormat checks length, prefix, suffix and alphabet membership.
// Only the first invalid character is reported.
func ValidateCodeFormat(code string, opts CodeOptions) ValidationResult {
	alphabet := BuildAlphabet(opts)
	format := CodeFormat{
		ExpectedLength: opts.length() + len([]rune(opts.Prefix)) + len([]rune(opts.Suffix)),
		Prefix:         opts.Prefix,
		Suffix:         opts.Suffix,
		Alphabet:       alphabet,
	}
	if code == "" {
		return ValidationResult{Errors: []string{"code must be a non-empty string"}, Format: format}
	}

	errs := []string{}
	if n := len([]rune(code)); n != format.ExpectedLength {
		errs = append(errs, fmt.Sprintf("code length must be %d, got %d", format.ExpectedLength, n))
	}

	core := code
	if opts.Prefix != "" {
		if strings.HasPrefix(core, opts.Prefix) {
			core = strings.TrimPrefix(core, opts.Prefix)
		} else {
			errs = append(errs, fmt.Sprintf("code must start with prefix %q", opts.Prefix))
		}
	}
	if opts.Suffix != "" {
		if strings.HasSuffix(core, opts.Suffix) {
			core = strings.TrimSuffix(core, opts.Suffix)
		} else {
			errs = append(errs, fmt.Sprintf("code must end with suffix %q", opts.Suffix))
		}
	}

	for _, ch := range core {
		if !strings.ContainsRune(alphabet, ch) {
			errs = append(errs, fmt.Sprintf("code contains invalid characters: %q", ch))
			break
		}
	}

	return ValidationResult{IsValid: len(errs) == 0, Errors: errs, Format: format}
}

type UniquenessResult struct {
	IsUnique    bool     `json:"isUnique"`
	Duplicates  []string `json:"duplicates"`
	UniqueCount int      `json:"uniqueCount"`
}

// VerifyUniqueness reports each duplicated code once, in first-repeat order.
func VerifyUniqueness(codes []string) UniquenessResult {
	seen := make(map[string]struct{}, len(codes))
	dupSet := make(map[string]struct{})
	duplicates := []string{}
	for _, code := range codes {
		if _, ok := seen[code]; !ok {
			seen[code] = struct{}{}
			continue
		}
		if _, reported := dupSet[code]; reported {
			continue
		}
		dupSet[code] = struct{}{}
		duplicates = append(duplicates, code)
	}
	return UniquenessResult{
		IsUnique:    len(duplicates) == 0,
		Duplicates:  duplicates,
		UniqueCount: len(seen),
	}
}
