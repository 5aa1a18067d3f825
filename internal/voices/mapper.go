// Package voices resolves requested voice names into upstream voice
// specifications.
//
// A request voice goes through three stages: the archive suffix "+s" is
// stripped, the name is looked up in the voice mappings table, and the result
// is parsed against the voice string grammar
//
//	name[-rate][-pitch][-volume]
//
// where each numeric adjustment is on the upstream 0..10 scale. Adjustments
// outside that range are ignored, not clamped.
package voices

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/book-expert/logger"
)

// Voice string grammar.
const (
	voiceStringPattern = `^([a-zA-Z0-9_]+)(?:-(\d+))?(?:-(\d+))?(?:-(\d+))?$`
	archiveSuffix      = "+s"
	maxAdjustment      = 10
)

// Adjustment holds one optional numeric voice adjustment.
type Adjustment struct {
	Value int
	Set   bool
}

// Spec is a fully parsed voice specification.
type Spec struct {
	Voice   string
	Rate    Adjustment
	Pitch   Adjustment
	Volume  Adjustment
	Archive bool
}

// Entry describes one mapping table entry for the voice listing endpoints.
type Entry struct {
	Name   string `json:"name"`
	Target string `json:"target"`
}

// Mapper resolves voice names using an alias table loaded from
// voice_mappings.json.
type Mapper struct {
	pattern  *regexp.Regexp
	mappings map[string]string
	log      *logger.Logger
}

// NewMapper creates a Mapper with an empty alias table.
func NewMapper(log *logger.Logger) *Mapper {
	return &Mapper{
		pattern:  regexp.MustCompile(voiceStringPattern),
		mappings: map[string]string{},
		log:      log,
	}
}

// LoadFile loads the alias table from a JSON file mapping alias to voice
// string. A missing or malformed file degrades to an empty table; the service
// keeps running with pass-through voice names.
func (m *Mapper) LoadFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		m.log.Warn("Voice mappings file %s not found, using no mappings: %v", path, err)

		return
	}

	var mappings map[string]string

	err = json.Unmarshal(data, &mappings)
	if err != nil {
		m.log.Error("Invalid JSON in voice mappings file %s, using no mappings: %v", path, err)

		return
	}

	m.mappings = mappings
	m.log.Info("Loaded %d voice mappings from %s", len(mappings), path)
}

// Resolve turns a requested voice name into a Spec. Unknown names pass
// through unchanged so that upstream voices can be addressed directly.
func (m *Mapper) Resolve(requested string) Spec {
	name := requested

	spec := Spec{
		Voice:   "",
		Rate:    Adjustment{Value: 0, Set: false},
		Pitch:   Adjustment{Value: 0, Set: false},
		Volume:  Adjustment{Value: 0, Set: false},
		Archive: false,
	}

	if strings.HasSuffix(name, archiveSuffix) {
		spec.Archive = true
		name = strings.TrimSuffix(name, archiveSuffix)
	}

	if mapped, ok := m.mappings[name]; ok {
		name = mapped
	}

	match := m.pattern.FindStringSubmatch(name)
	if match == nil {
		m.log.Warn("Invalid voice string format: %s", name)

		spec.Voice = name

		return spec
	}

	spec.Voice = match[1]
	spec.Rate = m.parseAdjustment("rate", name, match[2])
	spec.Pitch = m.parseAdjustment("pitch", name, match[3])
	spec.Volume = m.parseAdjustment("volume", name, match[4])

	return spec
}

// Entries returns the alias table sorted by alias name.
func (m *Mapper) Entries() []Entry {
	entries := make([]Entry, 0, len(m.mappings))

	for name, target := range m.mappings {
		entries = append(entries, Entry{Name: name, Target: target})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})

	return entries
}

func (m *Mapper) parseAdjustment(kind, voice, raw string) Adjustment {
	if raw == "" {
		return Adjustment{Value: 0, Set: false}
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		// The grammar only matches digits, so this is unreachable in
		// practice; kept for symmetry with the explicit bounds check.
		return Adjustment{Value: 0, Set: false}
	}

	if value > maxAdjustment {
		m.log.Warn(
			"%s adjustment %d outside of bounds for %s, ignoring",
			kind, value, voice,
		)

		return Adjustment{Value: 0, Set: false}
	}

	return Adjustment{Value: value, Set: true}
}

// OrDefault returns the adjustment value when set, otherwise the fallback.
func (a Adjustment) OrDefault(fallback int) int {
	if a.Set {
		return a.Value
	}

	return fallback
}

// String renders the adjustment for diagnostics.
func (a Adjustment) String() string {
	if !a.Set {
		return "unset"
	}

	return fmt.Sprintf("%d", a.Value)
}
