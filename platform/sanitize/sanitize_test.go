package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestText(t *testing.T) {
	cases := map[string]string{
		"<b>hello</b> world":             "hello world",
		"&lt;script&gt;alert(1)&lt;/script&gt;": "alert(1)",
		"line1\r\n\n\n\nline2\x00":       "line1\n\nline2",
		"  padded  ":                     "padded",
	}
	for in, want := range cases {
		assert.Equal(t, want, Text(in), in)
	}
}

func TestLine(t *testing.T) {
	assert.Equal(t, "Room 4 second floor", Line("Room 4\n  second   floor"))
}
