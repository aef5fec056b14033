package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHashVerifyRoundTrip(t *testing.T) {
	svc := NewPasswordService(testPolicy())

	hash, err := svc.Hash("Correct-Horse7")
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	assert.True(t, svc.Verify("Correct-Horse7", hash))
	assert.False(t, svc.Verify("Correct-Horse8", hash))
	assert.False(t, svc.Verify("", hash))
}

func TestPasswordHashUsesFreshSalt(t *testing.T) {
	svc := NewPasswordService(testPolicy())

	first, err := svc.Hash("Correct-Horse7")
	require.NoError(t, err)
	second, err := svc.Hash("Correct-Horse7")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.True(t, svc.Verify("Correct-Horse7", first))
	assert.True(t, svc.Verify("Correct-Horse7", second))
}

func TestVerifyMalformedHash(t *testing.T) {
	svc := NewPasswordService(testPolicy())

	assert.False(t, svc.Verify("anything", ""))
	assert.False(t, svc.Verify("anything", "no-separator"))
	assert.False(t, svc.Verify("anything", "!!!:???"))
}

func TestValidateComplexityPerRule(t *testing.T) {
	svc := NewPasswordService(testPolicy())

	rules := svc.ValidateComplexity("Abc1!xyz")
	assert.True(t, rules[RuleMinLength])
	assert.True(t, rules[RuleMaxLength])
	assert.True(t, rules[RuleUppercase])
	assert.True(t, rules[RuleLowercase])
	assert.True(t, rules[RuleDigit])
	assert.True(t, rules[RuleSpecial])
	assert.True(t, svc.IsComplexityValid("Abc1!xyz"))

	rules = svc.ValidateComplexity("abc1!xyz")
	assert.False(t, rules[RuleUppercase])
	assert.True(t, rules[RuleLowercase])
	assert.False(t, svc.IsComplexityValid("abc1!xyz"))

	rules = svc.ValidateComplexity("Ab1!")
	assert.False(t, rules[RuleMinLength])
}

func TestValidateComplexityDisabledRulesAbsent(t *testing.T) {
	policy := testPolicy()
	policy.PasswordRequireSpecial = false
	policy.PasswordRequireDigit = false
	svc := NewPasswordService(policy)

	rules := svc.ValidateComplexity("Abcdefgh")
	_, hasSpecial := rules[RuleSpecial]
	_, hasDigit := rules[RuleDigit]
	assert.False(t, hasSpecial)
	assert.False(t, hasDigit)
	assert.True(t, svc.IsComplexityValid("Abcdefgh"))
}

func TestStrengthScore(t *testing.T) {
	svc := NewPasswordService(testPolicy())

	assert.Equal(t, 0, svc.StrengthScore(""))

	weak := svc.StrengthScore("aaaaaaaa")
	strong := svc.StrengthScore("xK9!mQ2@vL7#pR4$")
	assert.Greater(t, strong, weak)
	assert.LessOrEqual(t, strong, 100)
	assert.GreaterOrEqual(t, weak, 0)

	// Sequential runs score below a shuffled string of the same length
	// and classes.
	sequential := svc.StrengthScore("abcdefgh1A!")
	shuffled := svc.StrengthScore("hd1b!aAfgce")
	assert.Less(t, sequential, shuffled)
}
