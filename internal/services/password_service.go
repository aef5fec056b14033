package services

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode"

	"celestra-auth/internal/config"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters, fixed process-wide. Changing them invalidates no
// stored hash: Verify re-derives with the same fixed set.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 2
	saltLength   = 16
	keyLength    = 32
)

const (
	RuleMinLength = "min_length"
	RuleMaxLength = "max_length"
	RuleUppercase = "uppercase"
	RuleLowercase = "lowercase"
	RuleDigit     = "digit"
	RuleSpecial   = "special"
)

// PasswordService is the credential guard: it hashes and verifies
// passwords and evaluates the configured complexity rules. It holds no
// storage; history enforcement lives with the callers that own the
// password_history table.
type PasswordService struct {
	policy *config.SecurityPolicy
}

func NewPasswordService(policy *config.SecurityPolicy) *PasswordService {
	return &PasswordService{policy: policy}
}

// Hash derives an argon2id key under a fresh random salt and returns
// base64(salt):base64(key). Two calls with the same password never
// produce the same string; equality is only meaningful through Verify.
// A salt-generation failure is a deployment defect and is returned as a
// hard error.
func (s *PasswordService) Hash(password string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate password salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, keyLength)

	return base64.RawStdEncoding.EncodeToString(salt) + ":" + base64.RawStdEncoding.EncodeToString(key), nil
}

// Verify reports whether password matches the stored salt:digest hash.
// A malformed stored hash verifies false rather than erroring: from the
// caller's view it is simply not a match.
func (s *PasswordService) Verify(password, storedHash string) bool {
	parts := strings.SplitN(storedHash, ":", 2)
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, uint32(len(expected)))

	return subtle.ConstantTimeCompare(key, expected) == 1
}

// ValidateComplexity evaluates every enabled rule independently and
// returns the per-rule outcome. The password is acceptable iff every
// entry is true.
func (s *PasswordService) ValidateComplexity(password string) map[string]bool {
	results := make(map[string]bool)

	results[RuleMinLength] = len(password) >= s.policy.PasswordMinLength
	results[RuleMaxLength] = len(password) <= s.policy.PasswordMaxLength

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
		if strings.ContainsRune(s.policy.PasswordSpecialChars, r) {
			hasSpecial = true
		}
	}

	if s.policy.PasswordRequireUppercase {
		results[RuleUppercase] = hasUpper
	}
	if s.policy.PasswordRequireLowercase {
		results[RuleLowercase] = hasLower
	}
	if s.policy.PasswordRequireDigit {
		results[RuleDigit] = hasDigit
	}
	if s.policy.PasswordRequireSpecial {
		results[RuleSpecial] = hasSpecial
	}

	return results
}

func (s *PasswordService) IsComplexityValid(password string) bool {
	for _, passed := range s.ValidateComplexity(password) {
		if !passed {
			return false
		}
	}
	return true
}

// StrengthScore is advisory only: it informs the caller's UI and is
// never used to reject a password. Weighted blend of length, character
// class variety, and non-trivial ordering, clamped to [0,100].
func (s *PasswordService) StrengthScore(password string) int {
	if password == "" {
		return 0
	}

	// Length: up to 40 points, saturating at 20 characters.
	lengthScore := len(password) * 2
	if lengthScore > 40 {
		lengthScore = 40
	}

	// Character class variety: 10 points per class present.
	var hasUpper, hasLower, hasDigit, hasOther bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasOther = true
		}
	}
	varietyScore := 0
	for _, present := range []bool{hasUpper, hasLower, hasDigit, hasOther} {
		if present {
			varietyScore += 10
		}
	}

	// Ordering: start from 20 and penalize runs of repeated or strictly
	// sequential characters ("aaaa", "abcd", "4321").
	orderingScore := 20
	runes := []rune(password)
	for i := 2; i < len(runes); i++ {
		repeated := runes[i] == runes[i-1] && runes[i-1] == runes[i-2]
		ascending := runes[i] == runes[i-1]+1 && runes[i-1] == runes[i-2]+1
		descending := runes[i] == runes[i-1]-1 && runes[i-1] == runes[i-2]-1
		if repeated || ascending || descending {
			orderingScore -= 4
		}
	}
	if orderingScore < 0 {
		orderingScore = 0
	}

	score := lengthScore + varietyScore + orderingScore
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}
