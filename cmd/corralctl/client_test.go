package main

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCodeForError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil error exits clean", nil, 0},
		{"404 maps to input-not-found", &apiError{StatusCode: http.StatusNotFound}, 3},
		{"400 maps to correction-invalid", &apiError{StatusCode: http.StatusBadRequest}, 2},
		{"408 maps to timeout", &apiError{StatusCode: http.StatusRequestTimeout}, 4},
		{"504 maps to timeout", &apiError{StatusCode: http.StatusGatewayTimeout}, 4},
		{"500 defaults to generic failure", &apiError{StatusCode: http.StatusInternalServerError}, 5},
		{"non-apiError defaults to generic failure", fmt.Errorf("network unreachable"), 5},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, exitCodeForError(tc.err))
		})
	}
}

func TestAPIError_Error(t *testing.T) {
	t.Parallel()
	err := &apiError{StatusCode: 404, Message: "chunk not found"}
	assert.Equal(t, "server returned 404: chunk not found", err.Error())
}
