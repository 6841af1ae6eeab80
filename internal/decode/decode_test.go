package decode

import (
	"testing"

	"github.com/stretchr/testify/require"

	"graphmemory/internal/apperr"
)

func TestDecodeMarkdownPassthrough(t *testing.T) {
	text, err := Decode("notes.md", []byte("# Title\n\nbody text"), "")
	require.NoError(t, err)
	require.Equal(t, "# Title\n\nbody text", text)
}

func TestDecodeTextRejectsInvalidUTF8(t *testing.T) {
	_, err := Decode("notes.txt", []byte{0xff, 0xfe, 0xfd}, "")
	require.Error(t, err)
	ae, ok := apperr.Of(err)
	require.True(t, ok)
	require.Equal(t, apperr.InvalidArgument, ae.Kind)
}

func TestDecodeHTMLToMarkdown(t *testing.T) {
	text, err := Decode("page.html", []byte("<h1>Hello</h1><p>World</p>"), "")
	require.NoError(t, err)
	require.Contains(t, text, "Hello")
	require.Contains(t, text, "World")
}

func TestDecodeCSVRendersTable(t *testing.T) {
	text, err := Decode("data.csv", []byte("name,type\nAlice,Person\nAcme,Org\n"), "")
	require.NoError(t, err)
	require.Contains(t, text, "| name | type |")
	require.Contains(t, text, "| Alice | Person |")
}

func TestDecodeRejectsUnsupportedFormat(t *testing.T) {
	_, err := Decode("report.pdf", []byte("%PDF-1.4"), "")
	require.Error(t, err)
	ae, ok := apperr.Of(err)
	require.True(t, ok)
	require.Equal(t, apperr.InvalidArgument, ae.Kind)
}

func TestDecodeByContentTypeWhenExtensionUnknown(t *testing.T) {
	text, err := Decode("upload", []byte("plain body"), "text/plain; charset=utf-8")
	require.NoError(t, err)
	require.Equal(t, "plain body", text)
}
