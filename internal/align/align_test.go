package align

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlignSingleTurnKeepsWholeTranscript(t *testing.T) {
	text := "all rise the court is now in session"
	blocks := Align([]Turn{{Start: 0.3, End: 117.9, Speaker: "SPEAKER_00"}}, text)
	require.Len(t, blocks, 1)
	assert.Equal(t, Block{Speaker: "SPEAKER_00", Text: text}, blocks[0])
}

func TestAlignCollapsesSpeakerRuns(t *testing.T) {
	turns := []Turn{
		{Start: 0, End: 1, Speaker: "A"},
		{Start: 1, End: 2, Speaker: "A"},
		{Start: 2, End: 3, Speaker: "B"},
		{Start: 3, End: 4, Speaker: "A"},
	}
	blocks := Align(turns, "w1 w2 w3 w4 w5 w6 w7 w8")
	assert.Equal(t, []Block{
		{Speaker: "A", Text: "w1 w2 w3 w4"},
		{Speaker: "B", Text: "w5 w6"},
		{Speaker: "A", Text: "w7 w8"},
	}, blocks)
}

func TestAlignSortsTurnsChronologically(t *testing.T) {
	turns := []Turn{
		{Start: 5, End: 10, Speaker: "B"},
		{Start: 0, End: 5, Speaker: "A"},
	}
	blocks := Align(turns, "one two three four")
	assert.Equal(t, []Block{
		{Speaker: "A", Text: "one two"},
		{Speaker: "B", Text: "three four"},
	}, blocks)
}

func TestAlignDropsRoundingRemainder(t *testing.T) {
	turns := []Turn{
		{Start: 0, End: 1, Speaker: "A"},
		{Start: 1, End: 2, Speaker: "B"},
		{Start: 2, End: 3, Speaker: "C"},
	}
	// 4 words over three equal turns: floor(4/3) = 1 each, one word left over
	blocks := Align(turns, "a b c d")
	assert.Equal(t, []Block{
		{Speaker: "A", Text: "a"},
		{Speaker: "B", Text: "b"},
		{Speaker: "C", Text: "c"},
	}, blocks)
}

func TestAlignZeroTimeline(t *testing.T) {
	turns := []Turn{
		{Start: 4, End: 4, Speaker: "A"},
		{Start: 4, End: 4, Speaker: "B"},
	}
	blocks := Align(turns, "some words here")
	assert.Equal(t, []Block{{Speaker: "A"}, {Speaker: "B"}}, blocks)
	assert.False(t, HasText(blocks))
}

func TestAlignZeroShareTurnStillSplitsSpeakers(t *testing.T) {
	turns := []Turn{
		{Start: 0, End: 9, Speaker: "A"},
		{Start: 9, End: 9.5, Speaker: "B"},
		{Start: 9.5, End: 10, Speaker: "A"},
	}
	blocks := Align(turns, "a b c d e f g h i j")
	require.Len(t, blocks, 3)
	assert.Equal(t, "a b c d e f g h i", blocks[0].Text)
	assert.Equal(t, "", blocks[1].Text)
	assert.Equal(t, "B", blocks[1].Speaker)
	assert.Equal(t, "", blocks[2].Text)
}

func TestAlignCursorNeverOverruns(t *testing.T) {
	// overlapping turns can claim more than the timeline
	turns := []Turn{
		{Start: 0, End: 10, Speaker: "A"},
		{Start: 0, End: 10, Speaker: "B"},
	}
	blocks := Align(turns, "x y z")
	assert.Equal(t, []Block{
		{Speaker: "A", Text: "x y z"},
		{Speaker: "B", Text: ""},
	}, blocks)
}

func TestAlignEmptyInputs(t *testing.T) {
	assert.Nil(t, Align(nil, "words"))
	blocks := Align([]Turn{{Start: 0, End: 1, Speaker: "A"}}, "   ")
	assert.Equal(t, []Block{{Speaker: "A"}}, blocks)
}

func TestFormatRenumbersByFirstAppearance(t *testing.T) {
	out := Format([]Block{
		{Speaker: "SPEAKER_03", Text: "Call the first witness."},
		{Speaker: "SPEAKER_01", Text: "The prosecution calls Jane Roe."},
		{Speaker: "SPEAKER_03", Text: "Proceed."},
	})
	assert.Equal(t, "Speaker 1: Call the first witness.\n\nSpeaker 2: The prosecution calls Jane Roe.\n\nSpeaker 1: Proceed.", out)
}

func TestFormatEmpty(t *testing.T) {
	assert.Equal(t, "", Format(nil))
}
