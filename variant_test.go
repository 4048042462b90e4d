package video_fetcher

import (
	"testing"

	assert_ "github.com/stretchr/testify/assert"
)

func TestVariant(t *testing.T) {
	assert := assert_.New(t)

	v := VideoVariant(720)
	assert.False(v.IsAudio())
	assert.Equal("720p", v.Suffix())
	assert.Equal("quality:720", v.Token())
	assert.Equal("", v.Category())

	a := AudioVariant()
	assert.True(a.IsAudio())
	assert.Equal("audio", a.Suffix())
	assert.Equal("mp3", a.Token())
	assert.Equal("mp3", a.Category())
}

func TestParseVariant(t *testing.T) {
	assert := assert_.New(t)

	for _, v := range []Variant{VideoVariant(144), VideoVariant(1080), AudioVariant()} {
		parsed, err := ParseVariant(v.Token())
		assert.NoError(err)
		assert.Equal(v, parsed)
	}

	for _, token := range []string{"", "audio", "quality:", "quality:0", "quality:-1", "quality:abc", "720"} {
		_, err := ParseVariant(token)
		assert.ErrorIs(err, ErrInvalidVariant, token)
	}
}
