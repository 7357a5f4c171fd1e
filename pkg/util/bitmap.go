package util

import "math/bits"

// Bitmap is a growable bit set. Bits beyond the current size read as unset.
type Bitmap struct {
	Bits []uint8
}

func (bm *Bitmap) Data() []uint8 {
	return bm.Bits
}

func GetEntryIndex(idx uint64) (uint64, uint64) {
	return idx / 8, idx % 8
}

func EntryIsSet(e uint8, pos uint64) bool {
	return e&(1<<pos) != 0
}

func EntryCount(cnt int) int {
	return (cnt + 7) / 8
}

func (bm *Bitmap) Resize(count int) {
	ncnt := EntryCount(count)
	if ncnt <= len(bm.Bits) {
		return
	}
	newData := make([]uint8, ncnt)
	copy(newData, bm.Bits)
	bm.Bits = newData
}

func (bm *Bitmap) IsSet(idx uint64) bool {
	eIdx, pos := GetEntryIndex(idx)
	if eIdx >= uint64(len(bm.Bits)) {
		return false
	}
	return EntryIsSet(bm.Bits[eIdx], pos)
}

func (bm *Bitmap) Set(idx uint64, v bool) {
	eIdx, pos := GetEntryIndex(idx)
	if eIdx >= uint64(len(bm.Bits)) {
		if !v {
			return
		}
		bm.Resize(int(idx + 1))
	}
	if v {
		bm.Bits[eIdx] |= 1 << pos
	} else {
		bm.Bits[eIdx] &= ^(1 << pos)
	}
}

// Count returns the number of set bits.
func (bm *Bitmap) Count() int {
	cnt := 0
	for _, e := range bm.Bits {
		cnt += bits.OnesCount8(e)
	}
	return cnt
}

func (bm *Bitmap) Reset() {
	bm.Bits = nil
}

func (bm *Bitmap) SizeInBytes() int {
	return len(bm.Bits)
}
