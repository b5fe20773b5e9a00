package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain ascii", in: "test@x.com", want: "test@x.com"},
		{name: "accent", in: "café", want: "cafe"},
		{name: "czech diacritics", in: "Ručně nakreslí, dokončí", want: "Rucne nakresli, dokonci"},
		{name: "precomposed and combining", in: "é é", want: "e e"},
		{name: "emoji dropped", in: "ok 👍", want: "ok "},
		{name: "control chars dropped", in: "a\tb\nc\x7f", want: "abc"},
		{name: "cjk dropped", in: "日本abc", want: "abc"},
		{name: "empty", in: "", want: ""},
		{name: "full printable range", in: " ~", want: " ~"},
		{name: "longer than transform buffer", in: strings.Repeat("é", 5000), want: strings.Repeat("e", 5000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Text(tt.in))
		})
	}
}

func TestTextIdempotent(t *testing.T) {
	inputs := []string{
		"café crème brûlée",
		"Žluťoučký kůň úpěl ďábelské ódy",
		"mixed ascii and ñ and ß and ☃",
		strings.Repeat("á", 2000),
	}

	for _, in := range inputs {
		once := Text(in)
		assert.Equal(t, once, Text(once), "input %q", in)
	}
}

func TestTextOnlyPrintableASCII(t *testing.T) {
	var b strings.Builder
	for r := rune(0); r < 0x3000; r++ {
		b.WriteRune(r)
	}

	out := Text(b.String())
	for i := 0; i < len(out); i++ {
		c := out[i]
		assert.True(t, c >= 0x20 && c <= 0x7e, "byte %#x at %d", c, i)
	}
}
