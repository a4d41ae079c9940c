package corralerr

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil error exits clean", nil, 0},
		{"input not found", fmt.Errorf("open chunk: %w", ErrInputNotFound), 3},
		{"timeout", fmt.Errorf("run: %w", ErrTimeout), 4},
		{"correction invalid", fmt.Errorf("apply: %w", ErrCorrectionInvalid), 2},
		{"unmapped kind defaults to generic failure", ErrInferenceError, 5},
		{"wholly unrelated error defaults to generic failure", fmt.Errorf("boom"), 5},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, ExitCode(tc.err))
		})
	}
}
