package transfer

import (
	"strconv"
	"strings"

	"github.com/grafov/m3u8"
)

// selectVariant picks the highest-quality variant from a master playlist:
// resolution area first, then average bandwidth, then peak bandwidth.
// I-frame-only variants lose to every regular variant.
func selectVariant(variants []*m3u8.Variant) (*m3u8.Variant, error) {
	var best *m3u8.Variant

	for _, v := range variants {
		if v == nil {
			continue
		}

		if best == nil || betterVariant(v, best) {
			best = v
		}
	}

	if best == nil {
		return nil, ErrNoVariants
	}

	if best.Iframe {
		return nil, ErrOnlyIframeVariants
	}

	return best, nil
}

// betterVariant reports whether a should be preferred over b.
func betterVariant(a, b *m3u8.Variant) bool {
	if a.Iframe != b.Iframe {
		return !a.Iframe
	}

	areaA, areaB := resolutionArea(a.Resolution), resolutionArea(b.Resolution)
	if areaA != areaB {
		return areaA > areaB
	}

	if a.AverageBandwidth != 0 && b.AverageBandwidth != 0 && a.AverageBandwidth != b.AverageBandwidth {
		return a.AverageBandwidth > b.AverageBandwidth
	}

	return a.Bandwidth > b.Bandwidth
}

// resolutionArea parses a "WxH" resolution attribute into a pixel count.
// Missing or malformed resolutions compare as zero.
func resolutionArea(res string) int64 {
	w, h, ok := strings.Cut(res, "x")
	if !ok {
		return 0
	}

	width, err := strconv.ParseInt(w, 10, 64)
	if err != nil {
		return 0
	}

	height, err := strconv.ParseInt(h, 10, 64)
	if err != nil {
		return 0
	}

	return width * height
}
