package mentor

import (
	"regexp"
	"strings"
)

// Output markers delimiting the document a reply wants persisted.
const (
	OutputOpen  = "[[OUTPUT]]"
	OutputClose = "[[/OUTPUT]]"
)

var outputBlock = regexp.MustCompile(`(?s)` + regexp.QuoteMeta(OutputOpen) + `(.*?)` + regexp.QuoteMeta(OutputClose))

// Parse extracts the first output block from text.
//
// When a block is found, output is its trimmed content and remaining is text
// with every block removed, then trimmed. Only the first block's content is
// returned even if several are stripped. Without a block, remaining is text
// unchanged and found is false.
func Parse(text string) (output, remaining string, found bool) {
	m := outputBlock.FindStringSubmatch(text)
	if m == nil {
		return "", text, false
	}
	output = strings.TrimSpace(m[1])
	remaining = strings.TrimSpace(outputBlock.ReplaceAllString(text, ""))
	return output, remaining, true
}
