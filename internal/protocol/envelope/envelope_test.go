package envelope

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x00},
		{0xff, 0xfe, 0xfd},
		[]byte("ver=1\r\ncmd=query\r\n"),
		[]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
	}

	for _, c := range cases {
		enc := Encode(c)
		assert.NotContains(t, enc, "=", "encoder must never pad")

		dec, err := Decode(enc)
		require.NoError(t, err)
		assert.Equal(t, c, dec)
	}
}

func TestDecodeAcceptsPadded(t *testing.T) {
	// "f" encodes to "Zg==" in padded base64url
	dec, err := Decode("Zg==")
	require.NoError(t, err)
	assert.Equal(t, []byte("f"), dec)

	dec, err = Decode("Zg")
	require.NoError(t, err)
	assert.Equal(t, []byte("f"), dec)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode("not!!legal??base64")
	assert.Error(t, err)
}

func TestParseBlock(t *testing.T) {
	fields, err := ParseBlock([]byte("ver=1\r\ncmd=query\r\nidk=abc=def\r\n"))
	require.NoError(t, err)

	assert.Equal(t, "1", fields["ver"])
	assert.Equal(t, "query", fields["cmd"])
	// value keeps everything after the first '='
	assert.Equal(t, "abc=def", fields["idk"])
}

func TestParseBlockSkipsBlankLines(t *testing.T) {
	fields, err := ParseBlock([]byte("ver=1\r\n\r\ncmd=ident\r\n"))
	require.NoError(t, err)
	assert.Len(t, fields, 2)
}

func TestParseBlockRejectsLineWithoutEquals(t *testing.T) {
	_, err := ParseBlock([]byte("ver=1\r\nbogusline\r\n"))
	assert.Error(t, err)
}

func TestEncodeBlockOrderAndTermination(t *testing.T) {
	out := EncodeBlock([][2]string{{"ver", "1"}, {"nut", "abc"}, {"tif", "0"}})

	assert.Equal(t, "ver=1\r\nnut=abc\r\ntif=0\r\n", string(out))
	assert.True(t, strings.HasSuffix(string(out), "\r\n"))
}

func TestBlockRoundTrip(t *testing.T) {
	pairs := [][2]string{{"ver", "1"}, {"nut", "R3JlYXQ"}, {"qry", "/sqrl?nut=R3JlYXQ"}}
	fields, err := ParseBlock(EncodeBlock(pairs))
	require.NoError(t, err)

	for _, p := range pairs {
		assert.Equal(t, p[1], fields[p[0]])
	}
}
