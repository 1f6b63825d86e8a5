package interview

import (
	"testing"

	"github.com/ashureev/interview-room/internal/shared"
)

func TestVoicePolicySelect(t *testing.T) {
	t.Parallel()
	voices := []Voice{
		{Name: "Daniel", Lang: "en-GB"},
		{Name: "Thomas", Lang: "fr-FR"},
		{Name: "Samantha", Lang: "en-US"},
		{Name: "Google US English", Lang: "en-US"},
		{Name: "Microsoft Aria Online", Lang: "en_US"},
	}

	tests := []struct {
		name      string
		lang      string
		preferred []string
		voices    []Voice
		want      string
	}{
		{"preferred name wins", "en-US", []string{"Aria", "Google"}, voices, "Microsoft Aria Online"},
		{"preferred order respected", "en-US", []string{"Google", "Aria"}, voices, "Google US English"},
		{"exact tag", "en-US", nil, voices, "Samantha"},
		{"primary language", "en-AU", nil, voices, "Daniel"},
		{"preferred name must match language", "fr-FR", []string{"Samantha"}, voices, "Thomas"},
		{"fallback to first", "de-DE", nil, voices, "Daniel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v, ok := DefaultVoicePolicy(tt.lang, tt.preferred).Select(tt.voices)
			if !ok || v.Name != tt.want {
				t.Fatalf("Select() = %q, %v; want %q", v.Name, ok, tt.want)
			}
		})
	}

	if _, ok := DefaultVoicePolicy("en-US", nil).Select(nil); ok {
		t.Fatal("expected no voice from an empty list")
	}
}

func TestSpeechOutputSpeak(t *testing.T) {
	t.Parallel()
	synth := &fakeSynth{}
	out := NewSpeechOutput(synth, OutputOptions{Lang: "en-US", Rate: 0.95})
	out.SetVoices([]Voice{{Name: "Samantha", Lang: "en-US"}})

	if id, err := out.Speak("   "); err != nil || id != "" || out.Speaking() {
		t.Fatalf("blank Speak() = %q, %v", id, err)
	}

	first, err := out.Speak("Hello")
	if err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	u := synth.last()
	if u.Voice != "Samantha" || u.Rate != 0.95 || u.Pitch != 1 || u.Lang != "en-US" {
		t.Fatalf("unexpected utterance %+v", u)
	}

	second, _ := out.Speak("Again")
	if first == second {
		t.Fatal("expected distinct utterance ids")
	}
	if synth.cancels != 1 {
		t.Fatalf("expected the first utterance cancelled, got %d cancels", synth.cancels)
	}
	if out.HandleEnd(first) || !out.Speaking() {
		t.Fatal("stale end must be ignored")
	}

	out.Pause()
	if !out.Paused() || !out.Speaking() {
		t.Fatal("paused speech still counts as speaking")
	}
	out.Resume()
	if out.Paused() {
		t.Fatal("expected resume")
	}
	if !out.HandleEnd(second) || out.Speaking() {
		t.Fatal("expected current end to clear speaking")
	}
}

func TestSpeechOutputUnsupported(t *testing.T) {
	t.Parallel()
	out := NewSpeechOutput(nil, OutputOptions{})
	if _, err := out.Speak("hi"); shared.KindOf(err) != shared.KindCapabilityUnavailable {
		t.Fatalf("expected capability error, got %v", err)
	}
	out.Stop()
	out.Pause()
	if out.Speaking() {
		t.Fatal("nothing should be speaking")
	}
}
