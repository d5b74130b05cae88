package forms

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/matthewbaird/atelier/pkg/client"
)

// ValidatorSpec names a validator to run against a field, with positional
// arguments. Async validators hit the network and run after all sync
// validators for the field.
type ValidatorSpec struct {
	Name  string `json:"name"`
	Args  []any  `json:"args,omitempty"`
	Async bool   `json:"async,omitempty"`
}

// Validator checks a field value locally.
type Validator func(value any, args []any) []string

// AsyncValidator checks a field value against the server. Errors from the
// transport (including cancellation) suppress the validator's messages
// rather than failing the field.
type AsyncValidator func(ctx context.Context, c *client.Client, value any, args []any) ([]string, error)

var (
	validatorMu     sync.RWMutex
	validators      = map[string]Validator{}
	asyncValidators = map[string]AsyncValidator{}
)

// RegisterValidator installs or replaces a named sync validator.
func RegisterValidator(name string, fn Validator) {
	validatorMu.Lock()
	defer validatorMu.Unlock()
	validators[name] = fn
}

// RegisterAsyncValidator installs or replaces a named async validator.
func RegisterAsyncValidator(name string, fn AsyncValidator) {
	validatorMu.Lock()
	defer validatorMu.Unlock()
	asyncValidators[name] = fn
}

func lookupValidator(name string) Validator {
	validatorMu.RLock()
	defer validatorMu.RUnlock()
	return validators[name]
}

func lookupAsyncValidator(name string) AsyncValidator {
	validatorMu.RLock()
	defer validatorMu.RUnlock()
	return asyncValidators[name]
}

// KnownValidator reports whether name resolves to a registered sync or
// async validator. Schema linting uses this to catch typos before a form
// ever runs.
func KnownValidator(name string) bool {
	validatorMu.RLock()
	defer validatorMu.RUnlock()
	_, sync := validators[name]
	_, async := asyncValidators[name]
	return sync || async
}

func init() {
	RegisterValidator("required", validateRequired)
	RegisterValidator("email", validateEmail)
	RegisterValidator("minLength", validateMinLength)
	RegisterValidator("maxLength", validateMaxLength)
	RegisterValidator("numeric", validateNumeric)
}

func stringValue(value any) (string, bool) {
	s, ok := value.(string)
	return s, ok
}

func intArg(args []any, i int) (int, bool) {
	if i >= len(args) {
		return 0, false
	}
	switch v := args[i].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	}
	return 0, false
}

func validateRequired(value any, _ []any) []string {
	switch v := value.(type) {
	case nil:
		return []string{"This field may not be blank."}
	case string:
		if strings.TrimSpace(v) == "" {
			return []string{"This field may not be blank."}
		}
	case []any:
		if len(v) == 0 {
			return []string{"This field may not be blank."}
		}
	}
	return nil
}

func validateEmail(value any, _ []any) []string {
	s, ok := stringValue(value)
	if !ok || s == "" {
		return nil
	}
	at := strings.Index(s, "@")
	if at <= 0 || at == len(s)-1 {
		return []string{"Emails must contain an @ in the middle."}
	}
	if strings.Count(s, "@") > 1 {
		return []string{"Emails cannot have more than one @."}
	}
	domain := s[at+1:]
	if !strings.Contains(domain, ".") {
		return []string{"Emails must include a domain."}
	}
	if strings.ContainsAny(s, " \t") {
		return []string{"Emails cannot contain spaces."}
	}
	return nil
}

func validateMinLength(value any, args []any) []string {
	s, ok := stringValue(value)
	if !ok {
		return nil
	}
	min, ok := intArg(args, 0)
	if !ok {
		return nil
	}
	if len([]rune(s)) < min {
		return []string{fmt.Sprintf("Must be at least %d characters long.", min)}
	}
	return nil
}

func validateMaxLength(value any, args []any) []string {
	s, ok := stringValue(value)
	if !ok {
		return nil
	}
	max, ok := intArg(args, 0)
	if !ok {
		return nil
	}
	if len([]rune(s)) > max {
		return []string{fmt.Sprintf("Must be no longer than %d characters.", max)}
	}
	return nil
}

func validateNumeric(value any, _ []any) []string {
	s, ok := stringValue(value)
	if !ok || s == "" {
		return nil
	}
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return []string{"Must be a number."}
	}
	return nil
}
