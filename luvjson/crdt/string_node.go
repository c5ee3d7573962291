package crdt

import (
	"encoding/json"
	"strings"

	"reactivecrdt/luvjson/common"
)

// RGAChar is a single rune of an RGA string.
type RGAChar struct {
	ID      common.LogicalTimestamp
	Rune    rune
	Deleted bool
}

// RGAStringNode represents a Replicated Growable Array string node.
type RGAStringNode struct {
	nodeBase
	chars []*RGAChar
}

// NewRGAStringNode creates a new RGA string node.
func NewRGAStringNode(id common.LogicalTimestamp) *RGAStringNode {
	n := &RGAStringNode{chars: make([]*RGAChar, 0)}
	n.init(n, id)
	return n
}

// Type returns the type of the node.
func (n *RGAStringNode) Type() common.NodeType {
	return common.NodeTypeStr
}

// Value returns the value of the node.
func (n *RGAStringNode) Value() any {
	return n.value()
}

// String returns the current text.
func (n *RGAStringNode) String() string {
	n.reportAccess()
	return n.value()
}

// Length returns the number of visible runes.
func (n *RGAStringNode) Length() int {
	n.reportAccess()
	return n.length()
}

func (n *RGAStringNode) length() int {
	count := 0
	for _, c := range n.chars {
		if !c.Deleted {
			count++
		}
	}
	return count
}

func (n *RGAStringNode) value() string {
	var sb strings.Builder
	for _, c := range n.chars {
		if !c.Deleted {
			sb.WriteRune(c.Rune)
		}
	}
	return sb.String()
}

// Insert inserts text before the visible rune index.
func (n *RGAStringNode) Insert(index int, text string) error {
	if length := n.length(); index < 0 || index > length {
		return common.ErrIndexOutOfRange{Index: index, Length: length}
	}
	if text == "" {
		return nil
	}

	if n.doc == nil {
		pos := len(n.chars)
		if c := n.visibleAt(index); c != nil {
			pos = n.position(c)
		}
		inserted := make([]*RGAChar, 0, len(text))
		for _, r := range text {
			inserted = append(inserted, &RGAChar{Rune: r})
		}
		n.chars = append(n.chars[:pos], append(inserted, n.chars[pos:]...)...)
		n.changed()
		return nil
	}

	return n.doc.transact(func() error {
		ref := common.NilID
		if index > 0 {
			ref = n.visibleAt(index - 1).ID
		}
		runes := []rune(text)
		id := n.doc.tick(uint64(len(runes)))
		n.InsertAfter(ref, id, text)
		n.doc.record(Op{
			Type:   common.OperationTypeIns,
			ID:     id,
			Target: n.id,
			Ref:    ref,
			Text:   text,
		})
		n.changed()
		return nil
	})
}

// Delete removes length runes starting at index.
func (n *RGAStringNode) Delete(index, length int) error {
	size := n.length()
	if index < 0 || length < 0 || index+length > size {
		return common.ErrIndexOutOfRange{Index: index + length, Length: size}
	}
	if length == 0 {
		return nil
	}

	if n.doc == nil {
		for i := 0; i < length; i++ {
			c := n.visibleAt(index)
			pos := n.position(c)
			n.chars = append(n.chars[:pos], n.chars[pos+1:]...)
		}
		n.changed()
		return nil
	}

	return n.doc.transact(func() error {
		ids := make([]common.LogicalTimestamp, 0, length)
		for i := 0; i < length; i++ {
			ids = append(ids, n.visibleAt(index+i).ID)
		}
		for _, id := range ids {
			n.DeleteChar(id)
		}
		n.doc.record(Op{
			Type:   common.OperationTypeDel,
			ID:     n.doc.tick(1),
			Target: n.id,
			IDs:    ids,
		})
		n.changed()
		return nil
	})
}

// InsertAfter integrates text after refID. The runes take consecutive
// counters starting at id.
func (n *RGAStringNode) InsertAfter(refID, id common.LogicalTimestamp, text string) bool {
	prev := refID
	k := uint64(0)
	for _, r := range text {
		charID := id.Increment(k)
		k++
		if n.indexOf(charID) >= 0 {
			prev = charID
			continue
		}

		pos := -1
		if !prev.IsZero() {
			if pos = n.indexOf(prev); pos < 0 {
				return false
			}
		}
		i := pos + 1
		for i < len(n.chars) && n.chars[i].ID.Compare(charID) > 0 {
			i++
		}
		n.chars = append(n.chars, nil)
		copy(n.chars[i+1:], n.chars[i:])
		n.chars[i] = &RGAChar{ID: charID, Rune: r}
		prev = charID
	}
	return true
}

// DeleteChar marks a rune as deleted.
func (n *RGAStringNode) DeleteChar(id common.LogicalTimestamp) bool {
	pos := n.indexOf(id)
	if pos < 0 || n.chars[pos].Deleted {
		return false
	}
	n.chars[pos].Deleted = true
	return true
}

func (n *RGAStringNode) visibleAt(index int) *RGAChar {
	visibleIndex := 0
	for _, c := range n.chars {
		if c.Deleted {
			continue
		}
		if visibleIndex == index {
			return c
		}
		visibleIndex++
	}
	return nil
}

func (n *RGAStringNode) position(c *RGAChar) int {
	for i, existing := range n.chars {
		if existing == c {
			return i
		}
	}
	return -1
}

func (n *RGAStringNode) indexOf(id common.LogicalTimestamp) int {
	for i, c := range n.chars {
		if c.ID == id {
			return i
		}
	}
	return -1
}

type jsonChar struct {
	ID      common.LogicalTimestamp `json:"id"`
	Rune    string                  `json:"ch"`
	Deleted bool                    `json:"deleted,omitempty"`
}

type jsonString struct {
	Type  string                  `json:"type"`
	ID    common.LogicalTimestamp `json:"id"`
	Name  string                  `json:"name,omitempty"`
	Chars []jsonChar              `json:"chars"`
}

// MarshalJSON returns a JSON representation of the node.
func (n *RGAStringNode) MarshalJSON() ([]byte, error) {
	node := jsonString{
		Type:  string(n.Type()),
		ID:    n.id,
		Name:  rootName(n),
		Chars: make([]jsonChar, len(n.chars)),
	}
	for i, c := range n.chars {
		node.Chars[i] = jsonChar{ID: c.ID, Rune: string(c.Rune), Deleted: c.Deleted}
	}
	return json.Marshal(node)
}
