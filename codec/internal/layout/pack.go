package layout

import (
	"sort"

	"github.com/wippyai/pipebind/codec/internal/abi"
)

// HeaderSize is the inline struct header {packedSize u32, version u32}.
const HeaderSize = 8

// Field describes one field to be placed.
type Field struct {
	Size       uint32
	Align      uint32
	MinVersion uint32
	IsBool     bool
}

// Placement is a field's position relative to the end of the struct header.
type Placement struct {
	Offset uint32
	Bit    uint8
}

// Version is the packed size of a struct as seen at a given version.
type Version struct {
	Version    uint32
	PackedSize uint32
}

type slot struct {
	offset   uint32
	size     uint32
	boolBits uint8
	isBool   bool
}

// Pack assigns offsets to fields and computes per-version packed sizes.
func Pack(fields []Field) ([]Placement, []Version) {
	places := make([]Placement, len(fields))
	var slots []slot

	for i, f := range fields {
		if f.IsBool {
			if idx := openBoolSlot(slots); idx >= 0 {
				places[i] = Placement{Offset: slots[idx].offset, Bit: slots[idx].boolBits}
				slots[idx].boolBits++
				continue
			}
		}

		size, align := f.Size, f.Align
		if f.IsBool {
			size, align = 1, 1
		}
		if align == 0 {
			align = 1
		}

		offset := findHole(slots, size, align)
		places[i] = Placement{Offset: offset}
		s := slot{offset: offset, size: size, isBool: f.IsBool}
		if f.IsBool {
			s.boolBits = 1
		}
		slots = insertSorted(slots, s)
	}

	return places, versions(fields, places)
}

// openBoolSlot returns the last bool byte that still has free bits.
func openBoolSlot(slots []slot) int {
	last := -1
	for i, s := range slots {
		if s.isBool && s.boolBits < 8 {
			last = i
		}
	}
	return last
}

func findHole(slots []slot, size, align uint32) uint32 {
	end := uint32(0)
	for _, s := range slots {
		candidate := abi.AlignTo(end, align)
		if candidate+size <= s.offset {
			return candidate
		}
		if s.offset+s.size > end {
			end = s.offset + s.size
		}
	}
	return abi.AlignTo(end, align)
}

func insertSorted(slots []slot, s slot) []slot {
	idx := sort.Search(len(slots), func(i int) bool { return slots[i].offset > s.offset })
	slots = append(slots, slot{})
	copy(slots[idx+1:], slots[idx:])
	slots[idx] = s
	return slots
}

func versions(fields []Field, places []Placement) []Version {
	seen := map[uint32]bool{0: true}
	list := []uint32{0}
	for _, f := range fields {
		if !seen[f.MinVersion] {
			seen[f.MinVersion] = true
			list = append(list, f.MinVersion)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })

	out := make([]Version, 0, len(list))
	for _, v := range list {
		end := uint32(0)
		for i, f := range fields {
			if f.MinVersion > v {
				continue
			}
			size := f.Size
			if f.IsBool {
				size = 1
			}
			if e := places[i].Offset + size; e > end {
				end = e
			}
		}
		out = append(out, Version{Version: v, PackedSize: HeaderSize + abi.Align8(end)})
	}
	return out
}
