package language

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input    string
		expected Language
		hasError bool
	}{
		{"javascript", JavaScript, false},
		{"JavaScript", JavaScript, false},
		{"js", JavaScript, false},
		{" TypeScript ", TypeScript, false},
		{"Python", Python, false},
		{"py", Python, false},
		{"Java", Java, false},
		{"C++", CPP, false},
		{"cpp", CPP, false},
		{"cobol", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, err := Parse(tt.input)
			if tt.hasError {
				require.ErrorIs(t, err, ErrUnknownLanguage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "JavaScript", JavaScript.DisplayName())
	assert.Equal(t, "C++", CPP.DisplayName())
	assert.Equal(t, "rust", Language("rust").DisplayName())

	for _, l := range All {
		parsed, err := Parse(l.DisplayName())
		require.NoError(t, err)
		assert.Equal(t, l, parsed)
	}
}

func TestCommentPrefix(t *testing.T) {
	assert.Equal(t, "#", Python.CommentPrefix())
	assert.Equal(t, "//", JavaScript.CommentPrefix())
	assert.Equal(t, "//", CPP.CommentPrefix())
}
