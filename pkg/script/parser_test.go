package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_TabSeparatedFields(t *testing.T) {
	steps := Parse("navigate\thttps://example.test\nsetcookie\thttps://example.test\tfoo=bar\nsleep\t2")

	require.Len(t, steps, 3)
	assert.Equal(t, KindNavigate, steps[0].Kind)
	assert.Equal(t, "https://example.test", steps[0].Target)
	assert.Equal(t, KindSetCookie, steps[1].Kind)
	assert.Equal(t, "foo=bar", steps[1].Value)
	assert.Equal(t, KindSleep, steps[2].Kind)
}

func TestParse_SkipsBlankAndCommentLines(t *testing.T) {
	steps := Parse("\n// warm-up scenario\nnavigate\thttps://example.test\n\n")

	require.Len(t, steps, 1)
	assert.Equal(t, KindNavigate, steps[0].Kind)
}

func TestParse_CommandsAreCaseInsensitive(t *testing.T) {
	steps := Parse("Navigate\thttps://example.test\nSetHeader\tX-Test: 1")

	require.Len(t, steps, 2)
	assert.Equal(t, KindNavigate, steps[0].Kind)
	assert.Equal(t, KindSetHeader, steps[1].Kind)
}

func TestParse_Aliases(t *testing.T) {
	tests := []struct {
		command string
		kind    Kind
	}{
		{"addheader", KindSetHeader},
		{"setdnsname", KindSetDNS},
		{"execandwait", KindExec},
		{"clickandwait", KindClick},
		{"blockdomains", KindBlock},
	}
	for _, tt := range tests {
		steps := Parse(tt.command + "\tx")
		require.Len(t, steps, 1, tt.command)
		assert.Equal(t, tt.kind, steps[0].Kind, tt.command)
	}
}

func TestParse_UnknownCommandIsNotAParseError(t *testing.T) {
	steps := Parse("navigate\thttps://example.test\nfirefoxpref\tsome.pref\ttrue\nsleep\t1")

	require.Len(t, steps, 3, "unrecognized lines must round-trip as steps")
	assert.Equal(t, KindUnknown, steps[1].Kind)
	assert.Equal(t, "firefoxpref", steps[1].Command)
	assert.Equal(t, "some.pref", steps[1].Target)
}

func TestNavigateScript(t *testing.T) {
	steps := NavigateScript("https://example.test")

	require.Len(t, steps, 1)
	assert.Equal(t, KindNavigate, steps[0].Kind)
	assert.Equal(t, "https://example.test", steps[0].Target)
}
