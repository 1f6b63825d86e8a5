package interview

import (
	"strconv"
	"strings"

	"github.com/ashureev/interview-room/internal/shared"
)

// Voice describes one synthesizer voice.
type Voice struct {
	Name    string `json:"name"`
	Lang    string `json:"lang"`
	Default bool   `json:"default,omitempty"`
}

// Utterance is a request to speak text with a resolved voice.
type Utterance struct {
	ID    string  `json:"id"`
	Text  string  `json:"text"`
	Voice string  `json:"voice,omitempty"`
	Lang  string  `json:"lang"`
	Rate  float64 `json:"rate"`
	Pitch float64 `json:"pitch"`
}

// Synthesizer is a text-to-speech device. Start and end of each utterance
// are reported back through the controller by utterance ID.
type Synthesizer interface {
	Supported() bool
	Voices() []Voice
	Speak(u Utterance) error
	Cancel() error
	Pause() error
	Resume() error
}

// VoiceMatcher selects acceptable voices.
type VoiceMatcher func(Voice) bool

// VoicePolicy is an ordered list of matchers; the first matcher with any
// matching voice wins.
type VoicePolicy []VoiceMatcher

// Select returns the chosen voice. When no matcher applies the first
// available voice is used; ok is false only when voices is empty.
func (p VoicePolicy) Select(voices []Voice) (Voice, bool) {
	for _, match := range p {
		for _, v := range voices {
			if match(v) {
				return v, true
			}
		}
	}
	if len(voices) > 0 {
		return voices[0], true
	}
	return Voice{}, false
}

// DefaultVoicePolicy prefers the named voices in lang's language, then an
// exact language tag match, then any voice sharing the primary language.
func DefaultVoicePolicy(lang string, preferred []string) VoicePolicy {
	tag := normalizeLang(lang)
	primary := tag
	if i := strings.IndexByte(primary, '-'); i > 0 {
		primary = primary[:i]
	}

	policy := make(VoicePolicy, 0, len(preferred)+2)
	for _, name := range preferred {
		policy = append(policy, func(v Voice) bool {
			return strings.Contains(v.Name, name) && strings.Contains(normalizeLang(v.Lang), primary)
		})
	}
	policy = append(policy,
		func(v Voice) bool { return normalizeLang(v.Lang) == tag },
		func(v Voice) bool { return strings.HasPrefix(normalizeLang(v.Lang), primary) },
	)
	return policy
}

func normalizeLang(lang string) string {
	return strings.ToLower(strings.ReplaceAll(lang, "_", "-"))
}

// SpeechOutput drives one synthesizer with at most one utterance in flight.
// Queued, playing and paused utterances all count as speaking.
type SpeechOutput struct {
	synth   Synthesizer
	policy  VoicePolicy
	lang    string
	rate    float64
	pitch   float64
	voices  []Voice
	seq     int
	current string
	active  bool
	paused  bool
}

// OutputOptions tunes synthesized speech.
type OutputOptions struct {
	Lang   string
	Rate   float64
	Pitch  float64
	Policy VoicePolicy
}

// NewSpeechOutput wraps synth. A nil synth means text-only mode.
func NewSpeechOutput(synth Synthesizer, opts OutputOptions) *SpeechOutput {
	if opts.Rate == 0 {
		opts.Rate = 1
	}
	if opts.Pitch == 0 {
		opts.Pitch = 1
	}
	if opts.Policy == nil {
		opts.Policy = DefaultVoicePolicy(opts.Lang, nil)
	}
	return &SpeechOutput{
		synth:  synth,
		policy: opts.Policy,
		lang:   opts.Lang,
		rate:   opts.Rate,
		pitch:  opts.Pitch,
	}
}

// Supported reports whether speech synthesis is available.
func (o *SpeechOutput) Supported() bool {
	return o.synth != nil && o.synth.Supported()
}

// Speaking reports whether an utterance is queued, playing or paused.
func (o *SpeechOutput) Speaking() bool { return o.active }

// Paused reports whether the current utterance is paused.
func (o *SpeechOutput) Paused() bool { return o.paused }

// SetVoices records the voice list reported by the device. Voices load
// asynchronously, so selection happens per utterance.
func (o *SpeechOutput) SetVoices(voices []Voice) {
	o.voices = append([]Voice(nil), voices...)
}

func (o *SpeechOutput) availableVoices() []Voice {
	if o.voices != nil {
		return o.voices
	}
	if o.synth != nil {
		return o.synth.Voices()
	}
	return nil
}

// Speak cancels any current utterance and speaks text. Empty text is a
// no-op. It returns the new utterance ID.
func (o *SpeechOutput) Speak(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	if !o.Supported() {
		return "", shared.CapabilityUnavailable("speech synthesis is not supported")
	}
	if o.active {
		_ = o.synth.Cancel()
	}

	o.seq++
	u := Utterance{
		ID:    "utt-" + strconv.Itoa(o.seq),
		Text:  text,
		Lang:  o.lang,
		Rate:  o.rate,
		Pitch: o.pitch,
	}
	if v, ok := o.policy.Select(o.availableVoices()); ok {
		u.Voice = v.Name
	}
	if err := o.synth.Speak(u); err != nil {
		o.clear()
		return "", shared.NewError(shared.KindCapabilityUnavailable, "speak", err)
	}
	o.current = u.ID
	o.active = true
	o.paused = false
	return u.ID, nil
}

// HandleStart acknowledges the device starting utterance id. Events for
// superseded utterances are ignored.
func (o *SpeechOutput) HandleStart(id string) bool {
	if id == "" || id != o.current {
		return false
	}
	o.active = true
	return true
}

// HandleEnd records that utterance id finished. It reports whether the end
// applied to the current utterance.
func (o *SpeechOutput) HandleEnd(id string) bool {
	if id == "" || id != o.current {
		return false
	}
	o.clear()
	return true
}

// Pause pauses the current utterance.
func (o *SpeechOutput) Pause() {
	if !o.active || o.paused {
		return
	}
	if err := o.synth.Pause(); err == nil {
		o.paused = true
	}
}

// Resume continues a paused utterance.
func (o *SpeechOutput) Resume() {
	if !o.paused {
		return
	}
	if err := o.synth.Resume(); err == nil {
		o.paused = false
	}
}

// Stop cancels the current utterance.
func (o *SpeechOutput) Stop() {
	if o.active && o.synth != nil {
		_ = o.synth.Cancel()
	}
	o.clear()
}

func (o *SpeechOutput) clear() {
	o.current = ""
	o.active = false
	o.paused = false
}
