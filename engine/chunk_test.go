package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSectionSizeClampsToBounds(t *testing.T) {
	require.Equal(t, int64(minSectionSize), SectionSize(100, 4))
	require.Equal(t, int64(maxSectionSize), SectionSize(1<<40, 1))
}

func TestSectionSizeSpreadsOverFanout(t *testing.T) {
	size := int64(40 << 20)
	got := SectionSize(size, 4)
	require.Equal(t, int64(10<<20), got)
}

func TestPlanCoversWholeFileExactly(t *testing.T) {
	size := int64(10<<20 + 1)
	ranges := Plan(size, 4<<20)
	require.Len(t, ranges, 3)
	require.Equal(t, Range{Start: 0, End: 4<<20 - 1}, ranges[0])
	require.Equal(t, Range{Start: 4 << 20, End: 8<<20 - 1}, ranges[1])
	require.Equal(t, Range{Start: 8 << 20, End: size - 1}, ranges[2])

	var total int64
	for _, r := range ranges {
		total += r.Len()
	}
	require.Equal(t, size, total)
}

func TestPlanEmptyFile(t *testing.T) {
	ranges := Plan(0, 4<<20)
	require.Empty(t, ranges)
}

func TestPlanExactMultiple(t *testing.T) {
	size := int64(8 << 20)
	ranges := Plan(size, 4<<20)
	require.Len(t, ranges, 2)
	require.Equal(t, int64(4<<20), ranges[0].Len())
	require.Equal(t, int64(4<<20), ranges[1].Len())
}
