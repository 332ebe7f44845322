package world

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"math"

	"flowcraft.ai/internal/sim/fraction"
)

// stateDigest hashes everything that determines future ticks: placed blocks, each machine's engine
// and volumes, and the level's cells when it persists them, all in position order. Fractions are
// hashed by their raw fields.
func (w *World) stateDigest(nowTick uint64) string {
	h := sha256.New()
	var tmp [8]byte

	writeU64(h, tmp, nowTick)

	blocks := w.reg.PlacedBlocks()
	writeU64(h, tmp, uint64(len(blocks)))
	for _, pos := range blocks {
		id, _ := w.reg.Placed(pos)
		writeI64(h, tmp, int64(pos.X))
		writeI64(h, tmp, int64(pos.Y))
		writeI64(h, tmp, int64(pos.Z))
		writeString(h, tmp, id)
	}

	positions := w.machinePositions()
	writeU64(h, tmp, uint64(len(positions)))
	for _, pos := range positions {
		m := w.machines[pos]
		writeI64(h, tmp, int64(pos.X))
		writeI64(h, tmp, int64(pos.Y))
		writeI64(h, tmp, int64(pos.Z))
		writeString(h, tmp, m.Type)
		writeString(h, tmp, m.Tier.Name)
		writeU64(h, tmp, math.Float64bits(m.Engine.Progress()))
		writeI64(h, tmp, int64(m.Engine.Limit()))
		for _, v := range m.State().Volumes {
			writeString(h, tmp, string(v.Kind))
			writeFraction(h, tmp, v.Amount)
			writeFraction(h, tmp, v.Capacity)
		}
	}

	if ls, ok := w.level.(LevelState); ok {
		cells := ls.Cells()
		writeU64(h, tmp, uint64(len(cells)))
		for _, c := range cells {
			writeI64(h, tmp, int64(c.Pos[0]))
			writeI64(h, tmp, int64(c.Pos[1]))
			writeI64(h, tmp, int64(c.Pos[2]))
			writeString(h, tmp, c.Kind)
			writeString(h, tmp, c.Role)
			writeString(h, tmp, c.Fluid)
			writePair(h, tmp, c.Rate)
			writeString(h, tmp, c.Volume.Kind)
			writePair(h, tmp, c.Volume.Amount)
			writePair(h, tmp, c.Volume.Capacity)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeU64(h hash.Hash, tmp [8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	_, _ = h.Write(tmp[:])
}

func writeI64(h hash.Hash, tmp [8]byte, v int64) { writeU64(h, tmp, uint64(v)) }

func writeString(h hash.Hash, tmp [8]byte, s string) {
	writeU64(h, tmp, uint64(len(s)))
	_, _ = h.Write([]byte(s))
}

func writeFraction(h hash.Hash, tmp [8]byte, f fraction.Fraction) {
	p := f.Stored()
	writePair(h, tmp, [2]int64{p.Numerator, p.Denominator})
}

func writePair(h hash.Hash, tmp [8]byte, p [2]int64) {
	writeI64(h, tmp, p[0])
	writeI64(h, tmp, p[1])
}
