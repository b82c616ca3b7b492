package entities

import "fmt"

// DraftRefType is the reference type used for forward references to drafts.
const DraftRefType = "Draft"

// JSON keys of a reference. These are written to the database and cannot
// change without migrating stored change-sets.
const (
	RefTypeKey = "type"
	RefIDKey   = "id"
)

// Ref points at a persisted record or, when Type is DraftRefType, at a
// pending draft in the same transaction.
type Ref struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// IsDraft reports whether the reference is a forward reference to a draft.
func (r Ref) IsDraft() bool {
	return r.Type == DraftRefType
}

func (r Ref) String() string {
	return r.Type + ":" + r.ID
}

// RefFromValue converts a change value into a reference. It accepts Ref,
// *Ref and the map produced by decoding a JSON object. A nil value yields a
// nil reference.
func RefFromValue(v any) (*Ref, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case Ref:
		return &val, nil
	case *Ref:
		return val, nil
	case map[string]any:
		typ, _ := val[RefTypeKey].(string)
		if typ == "" {
			return nil, fmt.Errorf("%w: reference without type", ErrInvalidArgument)
		}
		id := IDString(val[RefIDKey])
		if id == "" {
			return nil, fmt.Errorf("%w: reference without id", ErrInvalidArgument)
		}
		return &Ref{Type: typ, ID: id}, nil
	default:
		return nil, fmt.Errorf("%w: %T is not a reference", ErrInvalidArgument, v)
	}
}

// RefsEqual compares two possibly nil references.
func RefsEqual(a, b *Ref) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// IDString renders an identifier column value as a string. Store drivers
// hand back ids as strings, []byte or integers depending on the schema.
func IDString(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case []byte:
		return string(id)
	case float64:
		return fmt.Sprintf("%.0f", id)
	default:
		return fmt.Sprint(id)
	}
}
