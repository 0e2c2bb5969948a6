package localsync

import (
	"encoding/json"

	"github.com/trackboard/trackboard/internal/store"
)

func nowUTC() string {
	return store.NowTimestamp()
}

// itemFromFields builds an Item from a flat field map via the Item codec so
// envelope keys land in the envelope.
func itemFromFields(fields map[string]any) store.Item {
	payload, err := json.Marshal(fields)
	if err != nil {
		return store.Item{Fields: map[string]any{}}
	}
	var item store.Item
	if err := json.Unmarshal(payload, &item); err != nil {
		return store.Item{Fields: map[string]any{}}
	}
	return item
}

// itemPayload flattens an Item back to the field map the API accepts.
func itemPayload(item store.Item) map[string]any {
	payload, err := json.Marshal(item)
	if err != nil {
		return map[string]any{}
	}
	var flat map[string]any
	if err := json.Unmarshal(payload, &flat); err != nil {
		return map[string]any{}
	}
	return flat
}

// patchItem shallow-merges patch over the item's fields, preserving the
// envelope.
func patchItem(existing store.Item, patch map[string]any) store.Item {
	merged := existing
	merged.Fields = make(map[string]any, len(existing.Fields)+len(patch))
	for k, v := range existing.Fields {
		merged.Fields[k] = v
	}
	for k, v := range patch {
		switch k {
		case "id", "createdAt", "updatedAt":
			continue
		}
		merged.Fields[k] = v
	}
	return merged
}
