package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func violatedRules(violations []PolicyViolation) []PasswordRule {
	rules := make([]PasswordRule, 0, len(violations))
	for _, v := range violations {
		rules = append(rules, v.Rule)
	}
	return rules
}

func TestPasswordPolicyValidate(t *testing.T) {
	policy := DefaultPasswordPolicy()

	tests := []struct {
		name     string
		password string
		want     []PasswordRule
	}{
		{name: "strong", password: "Passw0rd!", want: nil},
		{name: "short", password: "Pa0!", want: []PasswordRule{RuleMinLength}},
		{name: "no upper", password: "passw0rd!", want: []PasswordRule{RuleUppercase}},
		{name: "no lower", password: "PASSW0RD!", want: []PasswordRule{RuleLowercase}},
		{name: "no digit", password: "Password!", want: []PasswordRule{RuleDigit}},
		{name: "no symbol", password: "Passw0rdx", want: []PasswordRule{RuleSymbol}},
		{name: "empty", password: "", want: []PasswordRule{RuleMinLength, RuleUppercase, RuleLowercase, RuleDigit, RuleSymbol}},
		{name: "too long", password: "Aa1!" + strings.Repeat("x", 70), want: []PasswordRule{RuleMaxLength}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := policy.Validate(tt.password)
			if tt.want == nil {
				require.Empty(t, got)
				return
			}
			require.Equal(t, tt.want, violatedRules(got))
		})
	}
}

func TestPasswordPolicyMessages(t *testing.T) {
	violations := DefaultPasswordPolicy().Validate("abc")
	require.Equal(t, "Password must be at least 8 characters long", violations[0].Message)
	require.Equal(t, "Password must contain at least one uppercase letter", violations[1].Message)
}

func TestPasswordPolicyToggles(t *testing.T) {
	policy := PasswordPolicy{MinLength: 4}
	require.Empty(t, policy.Validate("abcd"))

	policy.RequireSymbol = true
	policy.Symbols = "#"
	require.Equal(t, []PasswordRule{RuleSymbol}, violatedRules(policy.Validate("abcd!")))
	require.Empty(t, policy.Validate("abcd#"))
}

func TestPasswordPolicyHashAndVerify(t *testing.T) {
	policy := DefaultPasswordPolicy()
	policy.Cost = bcrypt.MinCost

	digest, err := policy.Hash("Passw0rd!")
	require.NoError(t, err)

	cost, err := bcrypt.Cost([]byte(digest))
	require.NoError(t, err)
	require.Equal(t, bcrypt.MinCost, cost)

	require.True(t, policy.Verify("Passw0rd!", digest))
	require.False(t, policy.Verify("Passw0rd?", digest))
	require.False(t, policy.Verify("Passw0rd!", "not-a-digest"))
	require.False(t, policy.Verify("Passw0rd!", ""))

	other, err := policy.Hash("Passw0rd!")
	require.NoError(t, err)
	require.NotEqual(t, digest, other)
}

func TestPasswordPolicyHashRejectsOverlongInput(t *testing.T) {
	policy := DefaultPasswordPolicy()
	policy.Cost = bcrypt.MinCost

	_, err := policy.Hash(strings.Repeat("a", 73))
	require.ErrorIs(t, err, bcrypt.ErrPasswordTooLong)
}

func TestPasswordPolicyExpiresAt(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.Equal(t, now.AddDate(0, 0, 90), DefaultPasswordPolicy().ExpiresAt(now))
	require.Equal(t, now.AddDate(0, 0, 30), PasswordPolicy{ExpiryDays: 30}.ExpiresAt(now))
}
