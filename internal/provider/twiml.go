package provider

import (
	"fmt"

	"github.com/twilio/twilio-go/twiml"
)

// AnswerCall builds the TwiML document returned to Twilio for an inbound
// call: speak greeting, then play the audio at audioURL (skipped if empty).
func AnswerCall(greeting, audioURL string) (string, error) {
	elems := []twiml.Element{&twiml.VoiceSay{Message: greeting}}
	if audioURL != "" {
		elems = append(elems, &twiml.VoicePlay{Url: audioURL})
	}

	doc, err := twiml.Voice(elems)
	if err != nil {
		return "", fmt.Errorf("build twiml: %w", err)
	}
	return doc, nil
}
