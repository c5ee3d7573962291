package crdt

import (
	"encoding/json"

	"github.com/pkg/errors"

	"reactivecrdt/luvjson/common"
)

type jsonDocument struct {
	SessionID common.SessionID  `json:"sid"`
	Clock     uint64            `json:"clock"`
	Vector    map[string]uint64 `json:"vector"`
	Root      json.RawMessage   `json:"root"`
}

// MarshalJSON encodes the full document state, tombstones included.
func (d *Document) MarshalJSON() ([]byte, error) {
	root, err := json.Marshal(d.root)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal root")
	}
	return json.Marshal(jsonDocument{
		SessionID: d.localSessionID,
		Clock:     d.clock,
		Vector:    d.vector,
		Root:      root,
	})
}

// UnmarshalJSON replaces the document state with a snapshot. The local
// session id is kept unless the document has none.
func (d *Document) UnmarshalJSON(data []byte) error {
	var snapshot jsonDocument
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return errors.Wrap(err, "failed to unmarshal document")
	}

	restored := NewDocument(d.localSessionID)
	if restored.localSessionID == common.NilSessionID {
		restored.localSessionID = snapshot.SessionID
	}

	root, err := restored.decodeNode(snapshot.Root)
	if err != nil {
		return errors.Wrap(err, "failed to decode root")
	}
	obj, ok := root.(*LWWObjectNode)
	if !ok || obj.id != common.RootID {
		return common.ErrInvalidOperation{Message: "snapshot root is not the root object"}
	}
	restored.root = obj
	restored.index[common.RootID] = obj
	restored.clock = snapshot.Clock
	for sid, counter := range snapshot.Vector {
		restored.vector[sid] = counter
	}

	d.root = restored.root
	d.index = restored.index
	d.clock = restored.clock
	d.vector = restored.vector
	d.localSessionID = restored.localSessionID
	for _, node := range d.index {
		node.base().doc = d
	}
	return nil
}

// NewDocumentFromSnapshot creates a document from a snapshot produced by
// MarshalJSON, using sessionID for new local operations.
func NewDocumentFromSnapshot(data []byte, sessionID common.SessionID) (*Document, error) {
	doc := NewDocument(sessionID)
	if err := doc.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return doc, nil
}

type jsonNodeHeader struct {
	Type common.NodeType        `json:"type"`
	ID   common.LogicalTimestamp `json:"id"`
	Name string                  `json:"name,omitempty"`
}

type jsonNodeBody struct {
	Value    any                  `json:"value"`
	Boxed    bool                 `json:"boxed"`
	Elements []jsonElement        `json:"elements"`
	Fields   map[string]jsonField `json:"fields"`
	Chars    []jsonChar           `json:"chars"`
}

func (d *Document) decodeNode(data json.RawMessage) (Node, error) {
	var header jsonNodeHeader
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, err
	}
	var body jsonNodeBody
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, err
	}

	node, err := d.createNode(Op{
		Type:     common.OperationTypeNew,
		ID:       header.ID,
		NodeType: header.Type,
		Value:    body.Value,
		Boxed:    body.Boxed,
	})
	if err != nil {
		return nil, err
	}
	node.base().name = header.Name

	switch n := node.(type) {
	case *RGAArrayNode:
		for _, elem := range body.Elements {
			child, err := d.decodeNode(elem.Value)
			if err != nil {
				return nil, err
			}
			child.base().parent = n
			n.elements = append(n.elements, &RGAElement{ID: elem.ID, Value: child, Deleted: elem.Deleted})
		}
	case *LWWObjectNode:
		for key, field := range body.Fields {
			f := &LWWObjectField{Timestamp: field.Timestamp, Deleted: field.Deleted}
			if !field.Deleted {
				child, err := d.decodeNode(field.Value)
				if err != nil {
					return nil, errors.Wrapf(err, "field %s", key)
				}
				child.base().parent = n
				f.Value = child
			}
			n.fields[key] = f
		}
	case *RGAStringNode:
		for _, c := range body.Chars {
			r := []rune(c.Rune)
			if len(r) != 1 {
				return nil, common.ErrInvalidOperation{Message: "invalid text character"}
			}
			n.chars = append(n.chars, &RGAChar{ID: c.ID, Rune: r[0], Deleted: c.Deleted})
		}
	}
	return node, nil
}
