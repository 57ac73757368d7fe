package auth

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/santaserver/santaserver/pkg/crypto"
)

// DefaultSymbols is the punctuation set that satisfies the symbol rule.
const DefaultSymbols = `!@#$%^&*()_+-=[]{}|;:,.<>?`

// maxPasswordBytes is the longest input bcrypt accepts.
const maxPasswordBytes = 72

// PasswordRule identifies one strength requirement.
type PasswordRule string

const (
	RuleMinLength PasswordRule = "min_length"
	RuleMaxLength PasswordRule = "max_length"
	RuleUppercase PasswordRule = "uppercase"
	RuleLowercase PasswordRule = "lowercase"
	RuleDigit     PasswordRule = "digit"
	RuleSymbol    PasswordRule = "symbol"
)

// PolicyViolation is one unmet rule with a message suitable for end users.
type PolicyViolation struct {
	Rule    PasswordRule `json:"rule"`
	Message string       `json:"message"`
}

// PasswordPolicy validates, hashes and verifies passwords.
type PasswordPolicy struct {
	MinLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireDigit     bool
	RequireSymbol    bool
	Symbols          string
	Cost             int
	ExpiryDays       int
}

// DefaultPasswordPolicy returns the stock rules: length 8, all character classes,
// bcrypt cost 12 and a 90 day expiry.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:        8,
		RequireUppercase: true,
		RequireLowercase: true,
		RequireDigit:     true,
		RequireSymbol:    true,
		Symbols:          DefaultSymbols,
		Cost:             12,
		ExpiryDays:       90,
	}
}

// Validate returns every rule the password breaks, or nil when it passes.
func (p PasswordPolicy) Validate(password string) []PolicyViolation {
	var violations []PolicyViolation

	if p.MinLength > 0 && len([]rune(password)) < p.MinLength {
		violations = append(violations, PolicyViolation{
			Rule:    RuleMinLength,
			Message: fmt.Sprintf("Password must be at least %d characters long", p.MinLength),
		})
	}
	if len(password) > maxPasswordBytes {
		violations = append(violations, PolicyViolation{
			Rule:    RuleMaxLength,
			Message: fmt.Sprintf("Password must be at most %d bytes long", maxPasswordBytes),
		})
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	symbols := p.symbols()
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
		if strings.ContainsRune(symbols, r) {
			hasSymbol = true
		}
	}

	if p.RequireUppercase && !hasUpper {
		violations = append(violations, PolicyViolation{Rule: RuleUppercase, Message: "Password must contain at least one uppercase letter"})
	}
	if p.RequireLowercase && !hasLower {
		violations = append(violations, PolicyViolation{Rule: RuleLowercase, Message: "Password must contain at least one lowercase letter"})
	}
	if p.RequireDigit && !hasDigit {
		violations = append(violations, PolicyViolation{Rule: RuleDigit, Message: "Password must contain at least one number"})
	}
	if p.RequireSymbol && !hasSymbol {
		violations = append(violations, PolicyViolation{Rule: RuleSymbol, Message: "Password must contain at least one special character"})
	}

	return violations
}

// Hash returns a salted bcrypt digest at the configured cost.
func (p PasswordPolicy) Hash(password string) (string, error) {
	if len(password) > maxPasswordBytes {
		return "", fmt.Errorf("password policy: %w", bcrypt.ErrPasswordTooLong)
	}
	digest, err := crypto.HashPassword(password, p.Cost)
	if err != nil {
		return "", fmt.Errorf("password policy: hash: %w", err)
	}
	return digest, nil
}

// Verify reports whether password matches digest. Malformed digests return false.
func (p PasswordPolicy) Verify(password, digest string) bool {
	if digest == "" {
		return false
	}
	return crypto.VerifyPassword(digest, password)
}

// ExpiresAt returns the password expiry for a password set at now.
func (p PasswordPolicy) ExpiresAt(now time.Time) time.Time {
	days := p.ExpiryDays
	if days <= 0 {
		days = DefaultPasswordPolicy().ExpiryDays
	}
	return now.AddDate(0, 0, days)
}

func (p PasswordPolicy) symbols() string {
	if p.Symbols == "" {
		return DefaultSymbols
	}
	return p.Symbols
}
