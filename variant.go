package video_fetcher

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidVariant = errors.New("invalid variant")

type VariantKind int

const (
	VariantVideo VariantKind = iota
	VariantAudio
)

const (
	qualityTokenPrefix = "quality:"
	audioToken         = "mp3"
	audioCategory      = "mp3"
)

// A Variant describes a derived artifact: either video scaled to Height, or an audio-only extract.
type Variant struct {
	Kind   VariantKind
	Height int
}

func VideoVariant(height int) Variant {
	return Variant{Kind: VariantVideo, Height: height}
}

func AudioVariant() Variant {
	return Variant{Kind: VariantAudio}
}

func (v Variant) IsAudio() bool {
	return v.Kind == VariantAudio
}

// Suffix is the part of the cache filename that identifies the variant.
func (v Variant) Suffix() string {
	if v.IsAudio() {
		return "audio"
	}
	return fmt.Sprintf("%dp", v.Height)
}

// Token is the callback payload used for this variant in chat keyboards.
func (v Variant) Token() string {
	if v.IsAudio() {
		return audioToken
	}
	return qualityTokenPrefix + strconv.Itoa(v.Height)
}

// Category is the extra usage counter incremented when this variant is delivered, or "" for none.
func (v Variant) Category() string {
	if v.IsAudio() {
		return audioCategory
	}
	return ""
}

func (v Variant) String() string {
	return v.Suffix()
}

// ParseVariant is the inverse of Variant.Token.
func ParseVariant(token string) (Variant, error) {
	if token == audioToken {
		return AudioVariant(), nil
	}
	if !strings.HasPrefix(token, qualityTokenPrefix) {
		return Variant{}, fmt.Errorf("%w: %q", ErrInvalidVariant, token)
	}
	height, err := strconv.Atoi(strings.TrimPrefix(token, qualityTokenPrefix))
	if err != nil || height <= 0 {
		return Variant{}, fmt.Errorf("%w: %q", ErrInvalidVariant, token)
	}
	return VideoVariant(height), nil
}
