package align

import (
	"fmt"
	"sort"
	"strings"
)

// Turn is one diarized stretch of speech, in seconds on the segment timeline.
type Turn struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

func (t Turn) Duration() float64 {
	return t.End - t.Start
}

// Block is a run of text attributed to one speaker.
type Block struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Align spreads the transcript's words over the turns in proportion to each
// turn's share of the timeline. Consecutive turns by the same speaker are
// merged into one block. Words left over from rounding down are dropped.
func Align(turns []Turn, transcript string) []Block {
	if len(turns) == 0 {
		return nil
	}

	ordered := make([]Turn, len(turns))
	copy(ordered, turns)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Start < ordered[j].Start })

	words := strings.Fields(transcript)
	total := timeline(ordered)

	var (
		blocks  []Block
		speaker = ordered[0].Speaker
		parts   []string
		cursor  int
	)
	flush := func() {
		blocks = append(blocks, Block{Speaker: speaker, Text: strings.Join(parts, " ")})
		parts = nil
	}

	for _, turn := range ordered {
		n := wordShare(len(words), turn.Duration(), total)
		if rest := len(words) - cursor; n > rest {
			n = rest
		}

		if turn.Speaker != speaker {
			flush()
			speaker = turn.Speaker
		}
		if n > 0 {
			parts = append(parts, strings.Join(words[cursor:cursor+n], " "))
			cursor += n
		}
	}
	flush()
	return blocks
}

// timeline is the span from the earliest start to the latest end.
func timeline(turns []Turn) float64 {
	lo, hi := turns[0].Start, turns[0].End
	for _, t := range turns[1:] {
		if t.Start < lo {
			lo = t.Start
		}
		if t.End > hi {
			hi = t.End
		}
	}
	return hi - lo
}

func wordShare(words int, dur, total float64) int {
	if total <= 0 || dur <= 0 {
		return 0
	}
	return int(float64(words) * (dur / total))
}

// HasText reports whether any block carries words.
func HasText(blocks []Block) bool {
	for _, b := range blocks {
		if strings.TrimSpace(b.Text) != "" {
			return true
		}
	}
	return false
}

// Format renders blocks as "Speaker N: text" paragraphs separated by a
// blank line, numbering speakers by first appearance.
func Format(blocks []Block) string {
	numbers := make(map[string]int)
	paragraphs := make([]string, 0, len(blocks))
	for _, b := range blocks {
		n, ok := numbers[b.Speaker]
		if !ok {
			n = len(numbers) + 1
			numbers[b.Speaker] = n
		}
		paragraphs = append(paragraphs, fmt.Sprintf("Speaker %d: %s", n, b.Text))
	}
	return strings.Join(paragraphs, "\n\n")
}
