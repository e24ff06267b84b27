package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlayerDropsKilledEpochs(t *testing.T) {
	p := &player{}
	p.start(1)
	p.enqueue(1, []byte{1, 2})
	p.enqueue(2, []byte{9})
	assert.Equal(t, 2, p.pending())

	p.kill(1)
	assert.Equal(t, 0, p.pending())
	p.enqueue(1, []byte{3})
	assert.Equal(t, 0, p.pending())

	p.start(2)
	p.enqueue(2, []byte{4, 5, 6})
	out := make([]byte, 5)
	assert.True(t, p.fill(out))
	assert.Equal(t, []byte{4, 5, 6, 0, 0}, out)
	assert.False(t, p.fill(out))
	assert.Equal(t, []byte{0, 0, 0, 0, 0}, out)
}

func TestClientHandlesProtocol(t *testing.T) {
	var out bytes.Buffer
	c := &client{player: &player{}, out: &out}

	msgs := []string{
		`{"type":"session","payload":{"id":"abc","resumed":true}}`,
		`{"type":"turn_reset","turnId":1}`,
		`{"type":"tts_start","turnId":1,"ttsId":1}`,
		`{"type":"tts_audio_full","turnId":1,"ttsId":1,"payload":{"audio":"AQI="}}`,
		`{"type":"tts_audio","turnId":1,"ttsId":1,"audio":"Aw=="}`,
		`{"type":"transcript_update","turnId":1,"payload":{"role":"assistant","text":"Hi."}}`,
		`{"type":"metrics_update","turnId":1,"stt":10,"llm":20,"ttft":30,"e2e":40}`,
		`{"type":"fallback_trigger","payload":{"from":"deepgram","to":"assemblyai"}}`,
	}
	for _, m := range msgs {
		require.NoError(t, c.handle([]byte(m)))
	}

	assert.Equal(t, "abc", c.session)
	assert.Equal(t, 3, c.player.pending())
	text := out.String()
	assert.Contains(t, text, "resumed session abc")
	assert.Contains(t, text, "[assistant] Hi.")
	assert.Contains(t, text, "stt=10ms llm=20ms ttft=30ms e2e=40ms")
	assert.Contains(t, text, "from deepgram to assemblyai")

	require.NoError(t, c.handle([]byte(`{"type":"tts_kill","turnId":1,"ttsId":1}`)))
	assert.Equal(t, 0, c.player.pending())
	assert.Error(t, c.handle([]byte(`nope`)))
}
