package twilio

import (
	"strconv"

	"github.com/twilio/twilio-go/twiml"
)

// SpeechOptions controls how text is spoken and how speech is gathered
type SpeechOptions struct {
	Voice         string
	Language      string
	SpeechModel   string
	GatherTimeout int
	SpeechTimeout int
	ListenPrompt  string
	NoInputText   string
}

// SayAndGather speaks text, listens for speech that is posted to actionURL,
// and falls back to a goodbye and hangup if the gather exits without redirect
func SayAndGather(text, actionURL string, opts SpeechOptions) (string, error) {
	gather := &twiml.VoiceGather{
		Input:         "speech",
		Action:        actionURL,
		Method:        "POST",
		Timeout:       strconv.Itoa(opts.GatherTimeout),
		SpeechTimeout: strconv.Itoa(opts.SpeechTimeout),
		SpeechModel:   opts.SpeechModel,
		Language:      opts.Language,
		OptionalAttributes: map[string]string{
			"actionOnEmptyResult": "true",
		},
	}
	if opts.ListenPrompt != "" {
		gather.InnerElements = []twiml.Element{say(opts.ListenPrompt, opts)}
	}

	return twiml.Voice([]twiml.Element{
		say(text, opts),
		gather,
		say(opts.NoInputText, opts),
		&twiml.VoiceHangup{},
	})
}

// SayAndHangup speaks text and ends the call
func SayAndHangup(text string, opts SpeechOptions) (string, error) {
	return twiml.Voice([]twiml.Element{
		say(text, opts),
		&twiml.VoiceHangup{},
	})
}

func say(text string, opts SpeechOptions) *twiml.VoiceSay {
	return &twiml.VoiceSay{
		Message:  text,
		Voice:    opts.Voice,
		Language: opts.Language,
	}
}
