package flarum

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeExtractsReplyAndStripsMentions(t *testing.T) {
	t.Parallel()

	s := NewSanitizer()
	html := `<span class="PostMention PostMention--deleted">@ghost</span> hello ` +
		`<a class="PostMention" data-id="42">@bob</a> world`

	replyTo, markdown := s.Sanitize(html)

	require.EqualValues(t, 42, replyTo)
	require.Contains(t, markdown, "hello")
	require.Contains(t, markdown, "world")
	require.NotContains(t, markdown, "@bob")
	require.NotContains(t, markdown, "@ghost")
}

func TestSanitizeFirstMentionWins(t *testing.T) {
	t.Parallel()

	s := NewSanitizer()
	html := `<p><a class="PostMention" data-id="7">@a</a> and ` +
		`<a class="PostMention" data-id="8">@b</a></p>`

	replyTo, _ := s.Sanitize(html)
	require.EqualValues(t, 7, replyTo)
}

func TestSanitizeNoMention(t *testing.T) {
	t.Parallel()

	s := NewSanitizer()
	replyTo, markdown := s.Sanitize("<p>plain text</p>")

	require.Zero(t, replyTo)
	require.Equal(t, "plain text", markdown)
}

func TestSanitizeSkipsNonNumericDataID(t *testing.T) {
	t.Parallel()

	s := NewSanitizer()
	html := `<a class="PostMention" data-id="bogus">@x</a>` +
		`<a class="PostMention" data-id="13">@y</a>`

	replyTo, _ := s.Sanitize(html)
	require.EqualValues(t, 13, replyTo)
}

func TestSanitizeConvertsMarkup(t *testing.T) {
	t.Parallel()

	s := NewSanitizer()
	_, markdown := s.Sanitize("<p>some <strong>bold</strong> text</p>")

	require.Equal(t, "some **bold** text", markdown)
}

func TestSanitizeTrimsWhitespace(t *testing.T) {
	t.Parallel()

	s := NewSanitizer()
	_, markdown := s.Sanitize("<p>  padded  </p>")

	require.Equal(t, "padded", markdown)
}
