package taxid

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Reference identifiers with correct checksums.
var (
	validLegal        = []string{"7707083893", "7736050003"}
	validEntrepreneur = []string{"500100732259"}
)

func TestValidate_KnownValid(t *testing.T) {
	t.Parallel()

	for _, inn := range append(append([]string{}, validLegal...), validEntrepreneur...) {
		assert.NoError(t, Validate(inn), "inn %s", inn)
		assert.True(t, IsValid(inn), "inn %s", inn)
	}
}

// Every single-digit perturbation of a valid identifier must be rejected:
// the checksum has to be sensitive to each position.
func TestValidate_SingleDigitPerturbations(t *testing.T) {
	t.Parallel()

	for _, inn := range []string{"7707083893", "500100732259"} {
		for pos := 0; pos < len(inn); pos++ {
			for d := byte('0'); d <= '9'; d++ {
				if inn[pos] == d {
					continue
				}
				mutated := inn[:pos] + string(d) + inn[pos+1:]
				err := Validate(mutated)
				require.Error(t, err, "perturbation %s of %s accepted", mutated, inn)

				var ite *InvalidTaxIDError
				require.True(t, errors.As(err, &ite))
				assert.Equal(t, ReasonChecksum, ite.Reason)
			}
		}
	}
}

func TestValidate_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		input  string
		reason string
	}{
		{"empty", "", ReasonEmpty},
		{"letters", "77070838AB", ReasonNotDigit},
		{"embedded space", "7707 083893", ReasonNotDigit},
		{"too short", "770708389", ReasonLength},
		{"eleven digits", "77070838931", ReasonLength},
		{"too long", "5001007322590", ReasonLength},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := Validate(tt.input)
			require.Error(t, err)

			var ite *InvalidTaxIDError
			require.True(t, errors.As(err, &ite))
			assert.Equal(t, tt.reason, ite.Reason)
		})
	}
}
