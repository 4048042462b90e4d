package providers

import (
	_ "github.com/alanbriolat/video-fetcher/provider/raw"
	_ "github.com/alanbriolat/video-fetcher/provider/youtube"
	_ "github.com/alanbriolat/video-fetcher/provider/ytdlp"
)
