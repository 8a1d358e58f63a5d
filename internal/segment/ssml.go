package segment

import (
	"strings"
)

// sentenceBreak separates sentences inside a chunk. The synthesizer treats
// it as a hint; engines without SSML support fall back to plain text.
const sentenceBreak = `<break time="0.3s"/>`

// BuildSSML wraps each sentence in <s> elements joined by short breaks,
// inside a single <speak> root.
func BuildSSML(sentences []string) string {
	var b strings.Builder
	b.WriteString("<speak>")
	for i, sent := range sentences {
		if i > 0 {
			b.WriteString(sentenceBreak)
		}
		b.WriteString("<s>")
		b.WriteString(escapeSSML(sent))
		b.WriteString("</s>")
	}
	b.WriteString("</speak>")
	return b.String()
}

var ssmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

func escapeSSML(s string) string {
	return ssmlEscaper.Replace(s)
}
