package classify

import (
	"context"
	"strings"
)

// Keyword is a dependency-free classifier for the common cases. Guest
// replies are short and formulaic in practice ("iya hadir", "maaf tidak
// bisa"), so a keyword pass resolves most of them without a model call.
//
// Match order matters: declines are checked before accepts because a
// decline usually quotes an accept word ("tidak bisa datang").
type Keyword struct{}

func NewKeyword() *Keyword { return &Keyword{} }

var declinePhrases = []string{
	"tidak bisa",
	"tidak dapat",
	"gak bisa",
	"ga bisa",
	"nggak bisa",
	"berhalangan",
	"tidak hadir",
	"can't make it",
	"cannot come",
	"won't be able",
}

var declineWords = []string{"maaf", "sorry"}

var questionPhrases = []string{
	"jam berapa",
	"di mana",
	"what time",
	"dress code",
	"boleh bawa",
}

var questionWords = []string{"kapan", "dimana", "alamat", "lokasi", "where", "when"}

var acceptPhrases = []string{
	"insya allah",
	"insyaallah",
	"akan hadir",
	"akan datang",
	"bisa hadir",
	"bisa datang",
	"will come",
	"see you",
}

var acceptWords = []string{"hadir", "datang", "iya", "ya", "oke", "ok", "siap", "yes", "sip", "mantap"}

func (k *Keyword) Classify(_ context.Context, text string) (Intent, error) {
	norm := strings.ToLower(strings.TrimSpace(text))
	if norm == "" {
		return IntentUnknown, nil
	}
	words := tokenize(norm)

	switch {
	case matches(norm, words, declinePhrases, declineWords):
		return IntentDeclined, nil
	case strings.Contains(norm, "?") || matches(norm, words, questionPhrases, questionWords):
		return IntentQuestion, nil
	case matches(norm, words, acceptPhrases, acceptWords):
		return IntentAccepted, nil
	}
	return IntentUnknown, nil
}

// matches checks multi-word phrases by substring and single keywords by
// whole word, so "ya" does not fire inside "saya".
func matches(norm string, words map[string]bool, phrases, singles []string) bool {
	for _, p := range phrases {
		if strings.Contains(norm, p) {
			return true
		}
	}
	for _, w := range singles {
		if words[w] {
			return true
		}
	}
	return false
}

func tokenize(norm string) map[string]bool {
	out := map[string]bool{}
	for _, f := range strings.Fields(norm) {
		f = strings.Trim(f, ".,!?;:()\"'")
		if f != "" {
			out[f] = true
		}
	}
	return out
}
