// Package media holds the domain values shared by the extraction adapter, the
// progress reporter and the job runner.
package media

import (
	"fmt"
	"strings"
)

// Quality is the requested output tier.
type Quality string

const (
	Quality360p  Quality = "360p"
	Quality480p  Quality = "480p"
	Quality720p  Quality = "720p"
	Quality1080p Quality = "1080p"
	// QualityAudio requests audio-only extraction. The "mp3" spelling is what
	// existing user_data.json files store.
	QualityAudio Quality = "mp3"
)

// Qualities lists every tier in display order.
var Qualities = []Quality{Quality360p, Quality480p, Quality720p, Quality1080p, QualityAudio}

// ParseQuality accepts the canonical names plus a few loose spellings
// ("720", "audio", "AudioOnly").
func ParseQuality(s string) (Quality, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "360p", "360":
		return Quality360p, nil
	case "480p", "480":
		return Quality480p, nil
	case "720p", "720":
		return Quality720p, nil
	case "1080p", "1080":
		return Quality1080p, nil
	case "mp3", "audio", "audioonly", "audio_only":
		return QualityAudio, nil
	}
	return "", fmt.Errorf("unknown quality %q", s)
}

// Valid reports whether q is one of the canonical tiers.
func (q Quality) Valid() bool {
	for _, v := range Qualities {
		if v == q {
			return true
		}
	}
	return false
}

func (q Quality) IsAudio() bool { return q == QualityAudio }

// Height returns the vertical resolution cap, 0 for audio.
func (q Quality) Height() int {
	switch q {
	case Quality360p:
		return 360
	case Quality480p:
		return 480
	case Quality720p:
		return 720
	case Quality1080p:
		return 1080
	}
	return 0
}

func (q Quality) Label() string {
	if q.IsAudio() {
		return "MP3"
	}
	return string(q)
}

// Selection is the immutable per-job extractor configuration derived from a Quality.
type Selection struct {
	Quality Quality
	// Format is a yt-dlp format-selection expression.
	Format string
	// Container is the expected output extension (mp4 or mp3).
	Container string
	AudioOnly bool
	// AudioCodec/AudioBitrate apply to audio-only extraction.
	AudioCodec   string
	AudioBitrate string
}

// Select builds the Selection for q. Video tiers cap the height, prefer an
// mp4+m4a pair and fall back to the best single file; audio picks the best
// audio stream and converts it to mp3.
func Select(q Quality) Selection {
	if q.IsAudio() {
		return Selection{
			Quality:      q,
			Format:       "bestaudio/best",
			Container:    "mp3",
			AudioOnly:    true,
			AudioCodec:   "mp3",
			AudioBitrate: "192",
		}
	}
	h := q.Height()
	if h == 0 {
		h = Quality720p.Height()
	}
	return Selection{
		Quality: q,
		Format: fmt.Sprintf(
			"bestvideo[height<=%d][ext=mp4]+bestaudio[ext=m4a]/best[height<=%d][ext=mp4]/best",
			h, h,
		),
		Container: "mp4",
	}
}
