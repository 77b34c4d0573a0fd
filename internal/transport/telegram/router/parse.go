package router

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

var ridSeq atomic.Uint64

// newReqID returns a short correlation id: base36 time, sequence and two random chars.
func newReqID() string {
	n := ridSeq.Add(1)
	const alpha = "abcdefghijklmnopqrstuvwxyz0123456789"
	suffix := []byte{alpha[rand.IntN(len(alpha))], alpha[rand.IntN(len(alpha))]}
	return strconv.FormatInt(time.Now().UnixNano(), 36) + "-" + strconv.FormatUint(n, 36) + string(suffix)
}

// parseCommand extracts the lowercased command word (without the leading
// slash or "@botname" suffix) and its arguments.
func parseCommand(text string) (word string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return "", nil, false
	}
	word = strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	if word == "" {
		return "", nil, false
	}
	return strings.ToLower(word), parts[1:], true
}

// tokenizeCommandLine splits command text into tokens while supporting quotes.
//
//	/download "https://youtu.be/x?a=1 b" 480p
func tokenizeCommandLine(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar byte
		esc   bool
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case esc:
			buf.WriteByte(ch)
			esc = false
		case ch == '\\':
			esc = true
		case inQ:
			if ch == qChar {
				inQ = false
			} else {
				buf.WriteByte(ch)
			}
		case ch == '"' || ch == '\'':
			inQ = true
			qChar = ch
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			flush()
		default:
			buf.WriteByte(ch)
		}
	}
	flush()
	return out
}
