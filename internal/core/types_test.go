// Package core_test tests the core domain types.
package core_test

import (
	"testing"

	"github.com/book-expert/podcast-service/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVoice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    core.Voice
		wantErr bool
	}{
		{name: "exact", input: "alloy", want: core.VoiceAlloy},
		{name: "mixed case and spaces", input: "  Nova ", want: core.VoiceNova},
		{name: "empty", input: "", wantErr: true},
		{name: "unknown", input: "baritone", wantErr: true},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			voice, err := core.ParseVoice(testCase.input)
			if testCase.wantErr {
				require.ErrorIs(t, err, core.ErrUnsupportedVoice)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, testCase.want, voice)
		})
	}
}

func TestVoices_ReturnsCopy(t *testing.T) {
	t.Parallel()

	voices := core.Voices()
	require.Len(t, voices, 6)

	voices[0] = "mutated"

	assert.Equal(t, core.VoiceAlloy, core.Voices()[0])
	assert.False(t, core.Voice("mutated").Valid())
}
