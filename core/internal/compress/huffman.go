package compress

import (
	"errors"
	"fmt"
)

const (
	huffItemCount = 0x203
	huffEnd       = 0x100
	huffNewByte   = 0x101

	nilItem  int32 = -1
	listHead int32 = 0
)

var errHuffmanTreeFull = errors.New("huffman: item pool exhausted")

// weightTables seed the adaptive tree for compression types 0, 1 and 2.
var weightTables = [...][0x102]uint8{
	{
		0x0A, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x02,
		0x00, 0x00,
	},
	{
		0x54, 0x16, 0x16, 0x0D, 0x0C, 0x08, 0x06, 0x05, 0x06, 0x05, 0x06, 0x03, 0x04, 0x04, 0x03, 0x05,
		0x0E, 0x0B, 0x14, 0x13, 0x13, 0x09, 0x0B, 0x06, 0x05, 0x04, 0x03, 0x02, 0x03, 0x02, 0x02, 0x02,
		0x0D, 0x07, 0x09, 0x06, 0x06, 0x04, 0x03, 0x02, 0x04, 0x03, 0x03, 0x03, 0x03, 0x03, 0x02, 0x02,
		0x09, 0x06, 0x04, 0x04, 0x04, 0x04, 0x03, 0x02, 0x03, 0x02, 0x02, 0x02, 0x02, 0x03, 0x02, 0x04,
		0x08, 0x03, 0x04, 0x07, 0x09, 0x05, 0x03, 0x03, 0x03, 0x03, 0x02, 0x02, 0x02, 0x03, 0x02, 0x02,
		0x03, 0x02, 0x02, 0x02, 0x02, 0x02, 0x02, 0x02, 0x02, 0x01, 0x01, 0x01, 0x02, 0x01, 0x02, 0x02,
		0x06, 0x0A, 0x08, 0x08, 0x06, 0x07, 0x04, 0x03, 0x04, 0x04, 0x02, 0x02, 0x04, 0x02, 0x03, 0x03,
		0x04, 0x03, 0x07, 0x07, 0x09, 0x06, 0x04, 0x03, 0x03, 0x02, 0x01, 0x02, 0x02, 0x02, 0x02, 0x02,
		0x0A, 0x02, 0x02, 0x03, 0x02, 0x02, 0x01, 0x01, 0x02, 0x02, 0x02, 0x06, 0x03, 0x05, 0x02, 0x03,
		0x02, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x02, 0x03, 0x01, 0x01, 0x01,
		0x02, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x02, 0x04, 0x04, 0x04, 0x07, 0x09, 0x08, 0x0C, 0x02,
		0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x02, 0x01, 0x01, 0x03,
		0x04, 0x01, 0x02, 0x04, 0x05, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x02, 0x01, 0x01, 0x01,
		0x04, 0x01, 0x01, 0x01, 0x01, 0x01, 0x02, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01,
		0x02, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x03, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01,
		0x02, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x02, 0x02, 0x01, 0x01, 0x02, 0x02, 0x02, 0x06, 0x4B,
		0x00, 0x00,
	},
	{
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x03, 0x27, 0x00, 0x00, 0x23, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0xFF, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x02, 0x02, 0x01, 0x01, 0x06, 0x0E, 0x10, 0x04,
		0x06, 0x08, 0x05, 0x04, 0x04, 0x03, 0x03, 0x02, 0x02, 0x03, 0x03, 0x01, 0x01, 0x02, 0x01, 0x01,
		0x01, 0x04, 0x02, 0x04, 0x02, 0x02, 0x02, 0x01, 0x01, 0x04, 0x01, 0x01, 0x02, 0x03, 0x03, 0x02,
		0x03, 0x01, 0x03, 0x06, 0x04, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x02, 0x01, 0x02, 0x01, 0x01,
		0x01, 0x29, 0x07, 0x16, 0x12, 0x40, 0x0A, 0x0A, 0x11, 0x25, 0x01, 0x03, 0x17, 0x10, 0x26, 0x2A,
		0x10, 0x01, 0x23, 0x23, 0x2F, 0x10, 0x06, 0x07, 0x02, 0x09, 0x01, 0x01, 0x01, 0x01, 0x01, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00,
	},
}

// huffItem is a node of the adaptive tree. Nodes are also members of a
// doubly linked list kept in descending weight order; the higher-weight child
// of a node is always the list predecessor of its lower-weight child.
type huffItem struct {
	next, prev      int32
	value           uint32
	weight          uint32
	parent, childLo int32
}

// huffTree is the adaptive Huffman tree. Slot 0 of items is the list head.
type huffTree struct {
	items  [huffItemCount + 1]huffItem
	used   int32
	byByte [0x102]int32
	path   []uint32
}

func (t *huffTree) first() int32 { return t.items[listHead].next }
func (t *huffTree) last() int32  { return t.items[listHead].prev }

func (t *huffTree) unlink(i int32) {
	it := &t.items[i]
	if it.next == nilItem {
		return
	}
	t.items[it.prev].next = it.next
	t.items[it.next].prev = it.prev
	it.next, it.prev = nilItem, nilItem
}

func (t *huffTree) linkAfter(pos, i int32) {
	next := t.items[pos].next
	t.items[i].next = next
	t.items[i].prev = pos
	t.items[next].prev = i
	t.items[pos].next = i
}

func (t *huffTree) linkBefore(pos, i int32) {
	prev := t.items[pos].prev
	t.items[i].next = pos
	t.items[i].prev = prev
	t.items[prev].next = i
	t.items[pos].prev = i
}

func (t *huffTree) moveAfter(i, pos int32) {
	t.unlink(i)
	t.linkAfter(pos, i)
}

func (t *huffTree) moveBefore(i, pos int32) {
	t.unlink(i)
	t.linkBefore(pos, i)
}

// higherOrEqual walks backwards from i and returns the first item whose
// weight is at least w, or the list head.
func (t *huffTree) higherOrEqual(i int32, w uint32) int32 {
	for i != listHead {
		if t.items[i].weight >= w {
			return i
		}
		i = t.items[i].prev
	}
	return listHead
}

// newItem takes the next pool slot and links it at the front (front=true)
// or the back of the list.
func (t *huffTree) newItem(value, weight uint32, front bool) int32 {
	if t.used >= huffItemCount {
		return nilItem
	}
	t.used++
	i := t.used
	t.items[i] = huffItem{next: nilItem, prev: nilItem, value: value, weight: weight, parent: nilItem, childLo: nilItem}
	if front {
		t.linkAfter(listHead, i)
	} else {
		t.linkBefore(listHead, i)
	}
	return i
}

func (t *huffTree) fixupPos(i int32, maxWeight uint32) uint32 {
	w := t.items[i].weight
	if w >= maxWeight {
		return w
	}
	higher := t.higherOrEqual(t.last(), w)
	t.moveAfter(i, higher)
	return maxWeight
}

func (t *huffTree) build(kind uint32) error {
	if int(kind&0x0F) >= len(weightTables) {
		return fmt.Errorf("huffman: unsupported table type %d", kind)
	}
	weights := &weightTables[kind&0x0F]

	t.used = 0
	t.items[listHead] = huffItem{next: listHead, prev: listHead, parent: nilItem, childLo: nilItem}
	for i := range t.byByte {
		t.byByte[i] = nilItem
	}

	var maxWeight uint32
	for b := range 0x100 {
		if weights[b] == 0 {
			continue
		}
		it := t.newItem(uint32(b), uint32(weights[b]), true) //nolint:gosec // b < 0x100
		t.byByte[b] = it
		maxWeight = t.fixupPos(it, maxWeight)
	}
	t.byByte[huffEnd] = t.newItem(huffEnd, 1, false)
	t.byByte[huffNewByte] = t.newItem(huffNewByte, 1, false)

	lo := t.last()
	for lo != listHead {
		hi := t.items[lo].prev
		if hi == listHead {
			break
		}
		parent := t.newItem(0, t.items[hi].weight+t.items[lo].weight, true)
		if parent == nilItem {
			return errHuffmanTreeFull
		}
		t.items[lo].parent = parent
		t.items[hi].parent = parent
		t.items[parent].childLo = lo
		maxWeight = t.fixupPos(parent, maxWeight)
		lo = t.items[hi].prev
	}
	return nil
}

// incWeights bumps the weight of i and every ancestor, swapping nodes so the
// list stays sorted by weight.
func (t *huffTree) incWeights(i int32) {
	for ; i != nilItem; i = t.items[i].parent {
		t.items[i].weight++

		higher := t.higherOrEqual(t.items[i].prev, t.items[i].weight)
		childHi := t.items[higher].next
		if childHi == i {
			continue
		}
		if t.items[childHi].parent == nilItem || t.items[i].parent == nilItem {
			continue
		}

		t.moveBefore(childHi, i)
		t.moveAfter(i, higher)

		childLo := t.items[t.items[childHi].parent].childLo
		parent := t.items[i].parent
		if t.items[parent].childLo == i {
			t.items[parent].childLo = childHi
		}
		if childLo == childHi {
			t.items[t.items[childHi].parent].childLo = i
		}
		parent = t.items[i].parent
		t.items[i].parent = t.items[childHi].parent
		t.items[childHi].parent = parent
	}
}

// insertBranch splits the lowest-weight leaf into the old value and a new
// zero-weight value.
func (t *huffTree) insertBranch(oldValue, newValue uint32) bool {
	last := t.last()
	hi := t.newItem(oldValue, t.items[last].weight, false)
	if hi == nilItem {
		return false
	}
	t.items[hi].parent = last
	t.byByte[oldValue] = hi

	lo := t.newItem(newValue, 0, false)
	if lo == nilItem {
		return false
	}
	t.items[lo].parent = last
	t.items[last].childLo = lo
	t.byByte[newValue] = lo

	t.incWeights(lo)
	return true
}

func (t *huffTree) encode(w *bitWriter, i int32) {
	t.path = t.path[:0]
	for parent := t.items[i].parent; parent != nilItem; parent = t.items[i].parent {
		var bit uint32
		if t.items[parent].childLo != i {
			bit = 1
		}
		t.path = append(t.path, bit)
		i = parent
	}
	for k := len(t.path) - 1; k >= 0; k-- {
		w.putBit(t.path[k])
	}
}

func (t *huffTree) decode(r *bitReader) (uint32, error) {
	i := t.first()
	for t.items[i].childLo != nilItem {
		bit, err := r.bit()
		if err != nil {
			return 0, err
		}
		lo := t.items[i].childLo
		if bit == 1 {
			i = t.items[lo].prev
		} else {
			i = lo
		}
	}
	return t.items[i].value, nil
}

// huffmanCompress encodes data with the adaptive tree seeded from table
// kind. The stream starts with the table type byte.
func huffmanCompress(data []byte, kind uint32) ([]byte, error) {
	t := new(huffTree)
	if err := t.build(kind); err != nil {
		return nil, err
	}
	adaptive := kind == 0

	w := &bitWriter{out: make([]byte, 0, len(data)/2+8)}
	w.putBits(kind, 8)
	for _, b := range data {
		v := uint32(b)
		if t.byByte[v] == nilItem {
			t.encode(w, t.byByte[huffNewByte])
			w.putBits(v, 8)
			if !t.insertBranch(t.items[t.last()].value, v) {
				return nil, errHuffmanTreeFull
			}
			t.incWeights(t.byByte[v])
			continue
		}
		t.encode(w, t.byByte[v])
		if adaptive {
			t.incWeights(t.byByte[v])
		}
	}
	t.encode(w, t.byByte[huffEnd])
	return w.bytes(), nil
}

func huffmanDecompress(data []byte, outSize int) ([]byte, error) {
	if outSize == 0 {
		return []byte{}, nil
	}
	r := newBitReader(data)
	kind, err := r.bits(8)
	if err != nil {
		return nil, err
	}
	t := new(huffTree)
	if err := t.build(kind); err != nil {
		return nil, err
	}
	adaptive := kind == 0

	out := make([]byte, 0, outSize)
	for {
		v, err := t.decode(r)
		if err != nil {
			return nil, err
		}
		if v == huffEnd {
			break
		}
		if v == huffNewByte {
			if v, err = r.bits(8); err != nil {
				return nil, err
			}
			if !t.insertBranch(t.items[t.last()].value, v) {
				return nil, errHuffmanTreeFull
			}
			if !adaptive {
				t.incWeights(t.byByte[v])
			}
		}
		out = append(out, byte(v))
		if len(out) >= outSize {
			break
		}
		if adaptive {
			t.incWeights(t.byByte[v])
		}
	}
	return out, nil
}
