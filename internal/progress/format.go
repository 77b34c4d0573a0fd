package progress

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"teleube/internal/media"
)

const (
	placeholder   = "N/A"
	CompletedText = "✅ Download completed! Processing..."
)

// Percent computes the completion percentage of ev, clamped to [0, 100].
// Known totals win over the provider's percent string.
func Percent(ev media.ProgressEvent) (float64, bool) {
	if ev.TotalBytes != nil && *ev.TotalBytes > 0 {
		return clamp(float64(ev.DownloadedBytes) / float64(*ev.TotalBytes) * 100), true
	}
	return parsePercent(ev.PercentStr)
}

// parsePercent reads strings like " 42.1%", including yt-dlp's colored form
// ("\x1b[0;94m 42.1%\x1b[0m").
func parsePercent(s string) (float64, bool) {
	s = strings.TrimSpace(stripANSI(s))
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) {
		return 0, false
	}
	return clamp(v), true
}

// stripANSI drops CSI escape sequences (ESC '[' params final-byte).
func stripANSI(s string) string {
	if !strings.Contains(s, "\x1b") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\x1b' {
			if i+1 < len(s) && s[i+1] == '[' {
				i += 2
				for i < len(s) && (s[i] < 0x40 || s[i] > 0x7e) {
					i++
				}
			}
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func orPlaceholder(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return placeholder
	}
	return s
}

// FormatDownloading renders the in-flight status text.
func FormatDownloading(pct float64, known bool, speed, eta string) string {
	p := placeholder
	if known {
		p = fmt.Sprintf("%.1f%%", pct)
	}
	return "⬇️ Downloading: " + p + "\n" +
		"⚡️ Speed: " + orPlaceholder(speed) + "\n" +
		"⏱ ETA: " + orPlaceholder(eta)
}
