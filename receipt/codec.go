package receipt

import (
	"encoding/binary"
	"fmt"

	"github.com/zephyon/custody/types"
)

// Persisted binary layout, all integers little-endian:
//
//	direction   1 byte
//	asset kind  1 byte
//	amount      8 bytes
//	seedCounter 8 bytes
//	--- optional extension block ---
//	flags       1 byte
//	reference   32 bytes (zero-filled if absent)
//	memoLen     1 byte
//	memo        64 bytes fixed buffer, first memoLen significant
const (
	baseLen = 1 + 1 + 8 + 8
	extLen  = 1 + ReferenceLen + 1 + MemoMax
)

// MarshalBinary encodes the receipt's persisted layout.
func (r *Receipt) MarshalBinary() ([]byte, error) {
	size := baseLen
	if r.Ext != nil {
		size += extLen
	}

	buf := make([]byte, size)
	buf[0] = byte(r.Direction)
	buf[1] = byte(r.AssetKind)
	binary.LittleEndian.PutUint64(buf[2:10], r.Amount.Uint64())
	binary.LittleEndian.PutUint64(buf[10:18], r.SeedCounter)

	if r.Ext != nil {
		if r.Ext.MemoLen > MemoMax {
			return nil, fmt.Errorf("receipt: memo length %d exceeds %d", r.Ext.MemoLen, MemoMax)
		}

		ext := buf[baseLen:]
		ext[0] = r.Ext.Flags
		copy(ext[1:1+ReferenceLen], r.Ext.Reference[:])
		ext[1+ReferenceLen] = r.Ext.MemoLen
		copy(ext[2+ReferenceLen:], r.Ext.Memo[:])
	}

	return buf, nil
}

// UnmarshalBinary decodes the persisted layout into the receipt's wire
// fields. Identity fields (address, participants, timestamps) are not part
// of the layout and are left untouched.
func (r *Receipt) UnmarshalBinary(data []byte) error {
	if len(data) != baseLen && len(data) != baseLen+extLen {
		return fmt.Errorf("receipt: invalid encoded length %d", len(data))
	}

	r.Direction = Direction(data[0])
	r.AssetKind = AssetKind(data[1])
	r.Amount = types.Amount(binary.LittleEndian.Uint64(data[2:10]))
	r.SeedCounter = binary.LittleEndian.Uint64(data[10:18])
	r.Ext = nil

	if len(data) == baseLen+extLen {
		ext := &Extension{}
		raw := data[baseLen:]
		ext.Flags = raw[0]
		copy(ext.Reference[:], raw[1:1+ReferenceLen])
		ext.MemoLen = raw[1+ReferenceLen]
		if ext.MemoLen > MemoMax {
			return fmt.Errorf("receipt: memo length %d exceeds %d", ext.MemoLen, MemoMax)
		}
		copy(ext.Memo[:], raw[2+ReferenceLen:])
		r.Ext = ext
	}

	return nil
}
