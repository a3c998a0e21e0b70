// Package classify turns free-form guest replies into RSVP intents.
//
// Two implementations exist: a keyword matcher that works offline and a
// model-backed classifier for replies the keywords cannot read. The RSVP
// service composes them, keywords first.
package classify

import "context"

// Intent is the classified meaning of one guest reply.
type Intent string

const (
	IntentAccepted Intent = "accepted"
	IntentDeclined Intent = "declined"
	IntentQuestion Intent = "question"
	IntentUnknown  Intent = "unknown"
)

type Classifier interface {
	Classify(ctx context.Context, text string) (Intent, error)
}
