// Package streamid keeps item ids consistent across a Responses stream.
// The upstream reports a different id for an item in its added and done
// events, which breaks clients that correlate the two.
package streamid

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	eventItemAdded = "response.output_item.added"
	eventItemDone  = "response.output_item.done"

	suffixLength = 16
)

var errInvalidEvent = errors.New("decode stream event: invalid JSON")

// Tracker remembers the canonical item id per output index for one stream.
// It is not safe for concurrent use.
type Tracker struct {
	ids map[int]string

	// NewSuffix generates the random part of synthesized ids.
	NewSuffix func() string
}

func NewTracker() *Tracker {
	return &Tracker{
		ids:       make(map[int]string),
		NewSuffix: randomSuffix,
	}
}

// Fix rewrites the ids in one event payload. The event name falls back to
// the payload's "type" field when the SSE event line was absent. Only the
// id values are patched; the rest of the payload is kept byte for byte.
func (t *Tracker) Fix(event string, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	if !gjson.ValidBytes(data) {
		return nil, errInvalidEvent
	}
	if event == "" {
		event = gjson.GetBytes(data, "type").String()
	}

	rawIndex := gjson.GetBytes(data, "output_index")
	if !rawIndex.Exists() {
		return data, nil
	}
	if rawIndex.Type != gjson.Number {
		return nil, fmt.Errorf("decode output_index: %s is not a number", rawIndex.Raw)
	}
	outputIndex := int(rawIndex.Int())

	switch event {
	case eventItemAdded:
		return t.itemAdded(data, outputIndex)
	case eventItemDone:
		return t.itemDone(data, outputIndex)
	}

	id, ok := t.ids[outputIndex]
	if !ok {
		return data, nil
	}
	return sjson.SetBytes(data, "item_id", id)
}

func (t *Tracker) itemAdded(data []byte, outputIndex int) ([]byte, error) {
	id := gjson.GetBytes(data, "item.id").String()
	if id != "" {
		t.ids[outputIndex] = id
		return data, nil
	}

	id = fmt.Sprintf("oi_%d_%s", outputIndex, t.NewSuffix())
	t.ids[outputIndex] = id
	return setItemID(data, id)
}

func (t *Tracker) itemDone(data []byte, outputIndex int) ([]byte, error) {
	id, ok := t.ids[outputIndex]
	if !ok {
		return data, nil
	}
	return setItemID(data, id)
}

// setItemID sets item.id, creating the item when it is missing or null.
func setItemID(data []byte, id string) ([]byte, error) {
	if !gjson.GetBytes(data, "item").IsObject() {
		return sjson.SetBytes(data, "item", map[string]string{"id": id})
	}
	return sjson.SetBytes(data, "item.id", id)
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:suffixLength]
}
