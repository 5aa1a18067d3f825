package voices_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lizhe2004/openai-xunjie-tts/internal/voices"
)

func newTestMapper(t *testing.T) *voices.Mapper {
	t.Helper()

	log, err := logger.New(t.TempDir(), "voices-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return voices.NewMapper(log)
}

func writeMappings(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "voice_mappings.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestResolve_PlainVoice(t *testing.T) {
	t.Parallel()

	m := newTestMapper(t)

	spec := m.Resolve("siqi")

	assert.Equal(t, "siqi", spec.Voice)
	assert.False(t, spec.Rate.Set)
	assert.False(t, spec.Pitch.Set)
	assert.False(t, spec.Volume.Set)
	assert.False(t, spec.Archive)
}

func TestResolve_Adjustments(t *testing.T) {
	t.Parallel()

	m := newTestMapper(t)

	tests := []struct {
		name   string
		input  string
		voice  string
		rate   int
		pitch  int
		volume int
		set    [3]bool
	}{
		{
			name: "rate only", input: "siqi-4",
			voice: "siqi", rate: 4, set: [3]bool{true, false, false},
		},
		{
			name: "rate and pitch", input: "siqi-4-6",
			voice: "siqi", rate: 4, pitch: 6, set: [3]bool{true, true, false},
		},
		{
			name: "rate pitch volume", input: "siqi-4-5-7",
			voice: "siqi", rate: 4, pitch: 5, volume: 7,
			set: [3]bool{true, true, true},
		},
		{
			name: "zero is valid", input: "siqi-0",
			voice: "siqi", rate: 0, set: [3]bool{true, false, false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			spec := m.Resolve(tt.input)

			assert.Equal(t, tt.voice, spec.Voice)
			assert.Equal(t, tt.set[0], spec.Rate.Set)
			assert.Equal(t, tt.set[1], spec.Pitch.Set)
			assert.Equal(t, tt.set[2], spec.Volume.Set)

			if tt.set[0] {
				assert.Equal(t, tt.rate, spec.Rate.Value)
			}

			if tt.set[1] {
				assert.Equal(t, tt.pitch, spec.Pitch.Value)
			}

			if tt.set[2] {
				assert.Equal(t, tt.volume, spec.Volume.Value)
			}
		})
	}
}

func TestResolve_OutOfRangeAdjustmentIgnored(t *testing.T) {
	t.Parallel()

	m := newTestMapper(t)

	spec := m.Resolve("siqi-42")

	assert.Equal(t, "siqi", spec.Voice)
	assert.False(t, spec.Rate.Set, "out-of-range rate must be ignored, not clamped")
}

func TestResolve_ArchiveSuffix(t *testing.T) {
	t.Parallel()

	m := newTestMapper(t)

	spec := m.Resolve("siqi+s")

	assert.Equal(t, "siqi", spec.Voice)
	assert.True(t, spec.Archive)
}

func TestResolve_AliasMapping(t *testing.T) {
	t.Parallel()

	m := newTestMapper(t)
	path := writeMappings(t, `{"custom": "siqi-5-5-5", "alloy": "aiting"}`)
	m.LoadFile(path)

	spec := m.Resolve("custom")

	assert.Equal(t, "siqi", spec.Voice)
	assert.Equal(t, 5, spec.Rate.OrDefault(0))
	assert.Equal(t, 5, spec.Pitch.OrDefault(0))
	assert.Equal(t, 5, spec.Volume.OrDefault(0))

	spec = m.Resolve("alloy")
	assert.Equal(t, "aiting", spec.Voice)
}

func TestResolve_ArchiveSuffixBeforeAlias(t *testing.T) {
	t.Parallel()

	m := newTestMapper(t)
	path := writeMappings(t, `{"custom": "siqi-5"}`)
	m.LoadFile(path)

	spec := m.Resolve("custom+s")

	assert.Equal(t, "siqi", spec.Voice)
	assert.True(t, spec.Archive)
	assert.Equal(t, 5, spec.Rate.OrDefault(0))
}

func TestLoadFile_MissingFile(t *testing.T) {
	t.Parallel()

	m := newTestMapper(t)
	m.LoadFile(filepath.Join(t.TempDir(), "does-not-exist.json"))

	spec := m.Resolve("siqi")

	assert.Equal(t, "siqi", spec.Voice)
	assert.Empty(t, m.Entries())
}

func TestLoadFile_InvalidJSON(t *testing.T) {
	t.Parallel()

	m := newTestMapper(t)
	m.LoadFile(writeMappings(t, `{not json`))

	assert.Empty(t, m.Entries())
}

func TestEntries_Sorted(t *testing.T) {
	t.Parallel()

	m := newTestMapper(t)
	m.LoadFile(writeMappings(t, `{"b": "two", "a": "one", "c": "three"}`))

	entries := m.Entries()

	require.Len(t, entries, 3)
	assert.Equal(t, "a", entries[0].Name)
	assert.Equal(t, "b", entries[1].Name)
	assert.Equal(t, "c", entries[2].Name)
}

func TestOrDefault(t *testing.T) {
	t.Parallel()

	m := newTestMapper(t)

	spec := m.Resolve("siqi")

	assert.Equal(t, 4, spec.Rate.OrDefault(4))

	spec = m.Resolve("siqi-8")
	assert.Equal(t, 8, spec.Rate.OrDefault(4))
}
