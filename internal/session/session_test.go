package session

import (
	"sync"
	"testing"

	assert_ "github.com/stretchr/testify/assert"

	"github.com/alanbriolat/video-fetcher"
)

func TestStore(t *testing.T) {
	assert := assert_.New(t)
	s := New()
	_, ok := s.Get(1)
	assert.False(ok)

	s.Put(1, Entry{URL: "https://a"})
	s.Put(1, Entry{URL: "https://b"})
	s.Put(2, Entry{URL: "https://c"})
	entry, ok := s.Get(1)
	assert.True(ok)
	assert.Equal("https://b", entry.URL)
	assert.Equal(2, s.Len())

	assert.True(s.Clear(1))
	assert.False(s.Clear(1))
	_, ok = s.Get(1)
	assert.False(ok)
	assert.Equal(1, s.Len())
}

func TestEntry_Offers(t *testing.T) {
	assert := assert_.New(t)
	e := Entry{Info: video_fetcher.SourceInfo{Heights: []int{360, 720}}}
	assert.True(e.Offers(video_fetcher.VideoVariant(720)))
	assert.False(e.Offers(video_fetcher.VideoVariant(1080)))
	assert.True(e.Offers(video_fetcher.AudioVariant()))
	assert.True(Entry{}.Offers(video_fetcher.AudioVariant()))
}

func TestStore_Concurrent(t *testing.T) {
	assert := assert_.New(t)
	s := New()
	wg := sync.WaitGroup{}
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Put(int64(i%10), Entry{URL: "u"})
			s.Get(int64(i % 10))
			if i%3 == 0 {
				s.Clear(int64(i % 10))
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(s.Len(), 10)
}
