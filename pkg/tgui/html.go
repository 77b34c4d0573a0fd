package tgui

import (
	"html"
	"strings"
)

// H is HTML that is safe to pass to Telegram when ParseMode="HTML".
// Values of type H are treated as already escaped.
type H string

func (h H) String() string { return string(h) }

// Esc escapes text for Telegram HTML parse mode.
func Esc(s string) H { return H(html.EscapeString(s)) }

func wrap(tag string, inner H) H { return H("<" + tag + ">" + inner.String() + "</" + tag + ">") }

func B(s string) H    { return wrap("b", Esc(s)) }
func Code(s string) H { return wrap("code", Esc(s)) }

// Lines joins safe HTML parts with newlines.
func Lines(parts ...H) H {
	ss := make([]string, len(parts))
	for i, p := range parts {
		ss[i] = p.String()
	}
	return H(strings.Join(ss, "\n"))
}
