package persistence

import (
	"sort"

	"github.com/annel0/regionkeeper/internal/snapshot"
	"github.com/annel0/regionkeeper/internal/vec"
)

// GroupPairs собирает отличия двухблочных структур в вертикальные группы.
// Отличие присоединяется к группе, где уже есть его сосед снизу или сверху,
// иначе начинает новую группу. Внутри группы отличия упорядочены по Y
// по возрастанию, поэтому основание записывается раньше верхней части.
// Группы идут в порядке появления первого отличия.
func GroupPairs(diffs []snapshot.Diff) [][]snapshot.Diff {
	var groups [][]snapshot.Diff
	byPos := make(map[vec.Vec3]int, len(diffs))

	for _, d := range diffs {
		gi, ok := byPos[d.Pos.Down()]
		if !ok {
			gi, ok = byPos[d.Pos.Up()]
		}
		if !ok {
			gi = len(groups)
			groups = append(groups, nil)
		}
		groups[gi] = append(groups[gi], d)
		byPos[d.Pos] = gi
	}

	for _, g := range groups {
		sort.SliceStable(g, func(i, j int) bool { return g[i].Pos.Y < g[j].Pos.Y })
	}
	return groups
}
