// Package crisis spots messages that need the crisis response before any
// model call.
package crisis

import "strings"

// DefaultKeywords is the built-in list of crisis phrases, lowercase.
var DefaultKeywords = []string{
	"суицид",
	"покончить с собой",
	"не хочу жить",
	"хочу умереть",
	"убить себя",
	"покончу с собой",
	"наложить на себя руки",
	"самоубийств",
	"порезать себя",
	"режу себя",
	"нет смысла жить",
	"лучше бы меня не было",
	"suicide",
	"kill myself",
	"end my life",
	"want to die",
	"self-harm",
	"hurt myself",
}

// Detector does a case-insensitive substring scan over a fixed keyword list.
type Detector struct {
	keywords []string
}

// NewDetector returns a detector for keywords; nil selects DefaultKeywords.
func NewDetector(keywords []string) *Detector {
	if keywords == nil {
		keywords = DefaultKeywords
	}
	d := &Detector{keywords: make([]string, 0, len(keywords))}
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			d.keywords = append(d.keywords, kw)
		}
	}
	return d
}

// Detect returns the first keyword contained in text.
func (d *Detector) Detect(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, kw := range d.keywords {
		if strings.Contains(lower, kw) {
			return kw, true
		}
	}
	return "", false
}
