package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"teleube/internal/job"
	"teleube/internal/media"
	"teleube/internal/orchestrator"
	"teleube/internal/storage"
	kit "teleube/internal/transport"
	"teleube/pkg/tgui"
)

const (
	textChecking      = "🔍 Checking video..."
	textUploading     = "📤 Uploading to Telegram..."
	textDone          = "✅ Download completed! Check your chat for the video."
	textNoStats       = "No statistics available yet!"
	textAdminOnly     = "⛔️ This command is only for administrators."
	textNothingCancel = "No active download to cancel."
	textCancelling    = "🛑 Cancelling your download..."
	textPickQuality   = "Select your preferred video quality:"
	textBusy          = "⏳ Shutting down, try again later."
)

func usageText(cmd string) string {
	return "Please provide a YouTube URL!\nExample: " + tgui.Code("/"+cmd+" https://youtube.com/watch?v=...").String()
}

func unknownQualityText(raw string) string {
	names := make([]string, 0, len(media.Qualities))
	for _, q := range media.Qualities {
		names = append(names, string(q))
	}
	return fmt.Sprintf("❌ Unknown quality %q. Use one of: %s", raw, strings.Join(names, ", "))
}

func qualitySetText(q media.Quality) string {
	return fmt.Sprintf("✅ Quality preference set to %s!", q)
}

func welcomeText(name string) string {
	if strings.TrimSpace(name) == "" {
		name = "there"
	}
	return "👋 Hello " + tgui.Esc(name).String() + "!\n\n" +
		"Welcome to TeleuBe - Your YouTube Download Assistant! 🎉\n\n" +
		"I can help you:\n" +
		"📥 Download YouTube videos\n" +
		"🎵 Convert videos to MP3\n" +
		"🎮 Choose video quality\n\n" +
		"Try these commands:\n" +
		"/help - Show all commands\n" +
		"/download [URL] - Download a video\n" +
		"/mp3 [URL] - Get audio only\n" +
		"/quality - Set preferred quality"
}

func helpText(maxFileSize int64) string {
	return "🤖 " + tgui.B("Available Commands:").String() + "\n\n" +
		"📥 " + tgui.B("Download Commands:").String() + "\n" +
		"/download [URL] [quality] - Download YouTube video\n" +
		"/mp3 [URL] - Convert video to MP3\n" +
		"/quality - Set preferred quality\n" +
		"/cancel - Cancel current download\n\n" +
		"ℹ️ " + tgui.B("Info Commands:").String() + "\n" +
		"/help - Show this help message\n" +
		"/stats - View your download statistics\n\n" +
		"⚠️ " + tgui.B("Note:").String() + "\n" +
		"- Maximum file size: " + humanize.IBytes(uint64(max(maxFileSize, 0))) + "\n" +
		"- One download at a time\n" +
		"- Be patient during conversion"
}

const (
	mib = 1024 * 1024
	gib = 1024 * 1024 * 1024
)

func statsText(u storage.UserRecord) string {
	var b strings.Builder
	b.WriteString("📊 " + tgui.B("Your Statistics:").String() + "\n\n")
	fmt.Fprintf(&b, "📥 Total Downloads: %s\n", humanize.Comma(u.Downloads))
	fmt.Fprintf(&b, "💾 Total Data: %.2f MB\n", float64(u.TotalSize)/mib)
	fmt.Fprintf(&b, "⚙️ Preferred Quality: %s\n", u.PreferredQuality)
	fmt.Fprintf(&b, "📅 Member Since: %s\n", u.JoinedDate.Format("2006-01-02"))
	if u.LastDownload != nil {
		fmt.Fprintf(&b, "🕒 Last Download: %s", u.LastDownload.Format("2006-01-02"))
	}
	return b.String()
}

func adminText(s orchestrator.AdminStats) string {
	return tgui.Lines(
		"👑 "+tgui.B("Admin Statistics:"),
		"",
		tgui.Esc("👥 Total Users: "+humanize.Comma(int64(s.TotalUsers))),
		tgui.Esc("📥 Total Downloads: "+humanize.Comma(s.TotalDownloads)),
		tgui.Esc(fmt.Sprintf("💾 Total Data: %.2f GB", float64(s.TotalBytes)/gib)),
		tgui.Esc("🖥 Active Downloads: "+humanize.Comma(int64(s.ActiveJobs))),
	).String()
}

// outcomeText renders the failure text for k against the configured limits.
func outcomeText(k job.Kind, lim job.Limits) string {
	switch {
	case k == job.TooLong && lim.MaxDuration > 0:
		return "❌ Video is too long (max " + durationText(lim.MaxDuration) + ")."
	case k == job.FileTooLarge && lim.MaxFileSize > 0:
		return "❌ File size exceeds Telegram's limit (" + sizeText(lim.MaxFileSize) + ").\nTry a lower quality or use /mp3 for audio only."
	}
	return k.Message()
}

func durationText(d time.Duration) string {
	if d%time.Minute != 0 {
		return d.String()
	}
	if m := int(d / time.Minute); m != 1 {
		return fmt.Sprintf("%d minutes", m)
	}
	return "1 minute"
}

// sizeText keeps the "50MB" spelling for whole mebibytes.
func sizeText(n int64) string {
	if n%mib == 0 {
		return fmt.Sprintf("%dMB", n/mib)
	}
	return humanize.IBytes(uint64(n))
}

func videoCaption(title, url string) string {
	return fmt.Sprintf("🎥 %s\n🔗 %s", title, url)
}

func qualityKeyboard() kit.Keyboard {
	btn := func(q media.Quality) kit.Button {
		return kit.Button{Text: q.Label(), Data: tgui.Data("quality", "set", string(q))}
	}
	return kit.Keyboard{
		{btn(media.Quality360p), btn(media.Quality480p), btn(media.Quality720p)},
		{btn(media.Quality1080p), btn(media.QualityAudio)},
	}
}

var htmlOpts = &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
