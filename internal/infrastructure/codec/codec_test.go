package codec

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"micstream/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testFormat = domain.AudioFormat{SampleRate: 44100, Channels: 1, BitDepth: 16}

func TestFloatToPCM16_ClampsAndScalesAsymmetrically(t *testing.T) {
	in := []float32{-2, -1, -0.5, 0, 0.5, 1, 1.5}
	got := FloatToPCM16(in, nil)

	assert.Equal(t, []int16{-32768, -32768, -16384, 0, 16384, 32767, 32767}, got)
}

func TestFramer_FrameLayout(t *testing.T) {
	framer := NewFramer(testFormat, 4)

	raw, err := framer.Frame([]float32{0, 1, -1, 0})
	require.NoError(t, err)

	var frame struct {
		Headers map[string]string `json:"headers"`
		Payload string            `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(raw, &frame))

	assert.Equal(t, "event", frame.Headers[":message-type"])
	assert.Equal(t, "AudioEvent", frame.Headers[":event-type"])
	assert.Equal(t, "audio/pcm;rate=44100;channels=1", frame.Headers[":content-type"])

	data, err := base64.StdEncoding.DecodeString(frame.Payload)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00, 0xff, 0x7f, 0x00, 0x80, 0x00, 0x00}, data)
}

func TestFramerDecoder_RoundTrip(t *testing.T) {
	want := []int16{-32768, -32767, -12345, -1, 0, 1, 4999, 12345, 32766, 32767}

	framer := NewFramer(testFormat, len(want))
	raw, err := framer.Frame(PCM16ToFloat(want))
	require.NoError(t, err)

	decoder := NewDecoder(testFormat, nil, nil)
	audio, err := decoder.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, want, audio.Samples)
	assert.Equal(t, 44100, audio.SampleRate)
	assert.Equal(t, 1, audio.Channels)
	assert.Equal(t, 16, audio.BitDepth)
}

type countingObserver struct {
	outcomes map[string]int
}

func (o *countingObserver) RecordFrame(outcome string) {
	o.outcomes[outcome]++
}

func TestDecoder_Decode(t *testing.T) {
	defaults := domain.AudioFormat{SampleRate: 16000, Channels: 2, BitDepth: 16}

	tests := []struct {
		name     string
		raw      string
		outcome  string
		samples  []int16
		rate     int
		channels int
	}{
		{
			name:    "not json",
			raw:     "{not json",
			outcome: OutcomeMalformed,
		},
		{
			name:    "other event",
			raw:     `{"headers":{":event-type":"Ping"},"payload":"AAA="}`,
			outcome: OutcomeIgnored,
		},
		{
			name:    "audio without payload",
			raw:     `{"headers":{":event-type":"AudioEvent",":content-type":"audio/pcm;rate=8000;channels=1"}}`,
			outcome: OutcomeMalformed,
		},
		{
			name:    "invalid base64",
			raw:     `{"headers":{":event-type":"AudioEvent"},"payload":"***"}`,
			outcome: OutcomeMalformed,
		},
		{
			name:     "explicit format",
			raw:      `{"headers":{":event-type":"AudioEvent",":content-type":"audio/pcm;rate=8000;channels=1"},"payload":"AQD//w=="}`,
			outcome:  OutcomeAudio,
			samples:  []int16{1, -1},
			rate:     8000,
			channels: 1,
		},
		{
			name:     "defaults when descriptor is missing",
			raw:      `{"headers":{":event-type":"AudioEvent"},"payload":"AQA="}`,
			outcome:  OutcomeAudio,
			samples:  []int16{1},
			rate:     16000,
			channels: 2,
		},
		{
			name:     "odd trailing byte dropped",
			raw:      `{"headers":{":event-type":"AudioEvent",":content-type":"audio/pcm;rate=22050"},"payload":"AQACAAM="}`,
			outcome:  OutcomeAudio,
			samples:  []int16{1, 2},
			rate:     22050,
			channels: 2,
		},
		{
			name:     "empty payload",
			raw:      `{"headers":{":event-type":"AudioEvent"},"payload":""}`,
			outcome:  OutcomeAudio,
			samples:  []int16{},
			rate:     16000,
			channels: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			observer := &countingObserver{outcomes: map[string]int{}}
			decoder := NewDecoder(defaults, observer, nil)

			audio := decoder.Decode([]byte(tt.raw))
			assert.Equal(t, 1, observer.outcomes[tt.outcome])

			if tt.outcome != OutcomeAudio {
				assert.Nil(t, audio)
				return
			}
			require.NotNil(t, audio)
			assert.Equal(t, tt.samples, audio.Samples)
			assert.Equal(t, tt.rate, audio.SampleRate)
			assert.Equal(t, tt.channels, audio.Channels)
		})
	}
}

func TestDecoder_ParseErrors(t *testing.T) {
	decoder := NewDecoder(testFormat, nil, nil)

	_, err := decoder.Parse([]byte("nope"))
	assert.ErrorIs(t, err, domain.ErrMalformedFrame)

	_, err = decoder.Parse([]byte(`{"headers":{}}`))
	assert.ErrorIs(t, err, ErrNotAudio)
}
