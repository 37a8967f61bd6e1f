package user

import (
	"regexp"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property-based coverage for handle validation: any string accepted by
// ValidateHandle matches the documented pattern and length range, and any
// generated valid handle is accepted.
func TestHandleValidationProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	validShape := regexp.MustCompile(`^[a-z][a-z0-9]+$`)

	properties.Property("accepted handles match pattern and length", prop.ForAll(
		func(s string) bool {
			if ValidateHandle(s) != nil {
				return true
			}
			return validShape.MatchString(s) && len(s) >= 3 && len(s) < 16
		},
		gen.AnyString(),
	))

	properties.Property("generated valid handles are accepted", prop.ForAll(
		func(first rune, rest []rune) bool {
			handle := string(first) + string(rest)
			if len(handle) < 3 || len(handle) >= 16 {
				return true
			}
			return ValidateHandle(handle) == nil
		},
		gen.RuneRange('a', 'z'),
		gen.SliceOfN(10, gen.OneGenOf(gen.RuneRange('a', 'z'), gen.RuneRange('0', '9'))),
	))

	properties.TestingRun(t)
}
