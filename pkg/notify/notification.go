package notify

import (
	"time"

	"github.com/openfroyo/mgmtcore/pkg/model"
)

// Notification types emitted by the standard operations.
const (
	TypeAttributeValueChanged = "ATTRIBUTE_VALUE_CHANGED"
	TypeResourceAdded         = "RESOURCE_ADDED"
	TypeResourceRemoved       = "RESOURCE_REMOVED"
)

// Keys of the ATTRIBUTE_VALUE_CHANGED payload.
const (
	DataName                = "name"
	DataOldValue            = "old-value"
	DataNewValue            = "new-value"
	DataTriggeringOperation = "triggering-operation"
)

// Notification is an event emitted for a resource. It is built once per
// emission and shared by every receiving handler, which must not modify it.
//
// The JSON form is the external wire shape:
//
//	{"resource":[{"server":"s1"}],"type":"...","message":"...","timestamp":1700000000000,"data":{...}}
type Notification struct {
	// Resource is the address of the emitting resource.
	Resource model.Address `json:"resource"`

	// Type identifies the kind of event.
	Type string `json:"type"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// Timestamp is the emission time in milliseconds since the Unix epoch.
	Timestamp int64 `json:"timestamp"`

	// Data is the event payload.
	Data any `json:"data"`
}

// New builds a notification stamped with at. The payload is deep-copied.
func New(resource model.Address, typ, message string, data any, at time.Time) *Notification {
	return &Notification{
		Resource:  resource,
		Type:      typ,
		Message:   message,
		Timestamp: at.UnixMilli(),
		Data:      model.DeepCopy(data),
	}
}

// Time returns the emission time.
func (n *Notification) Time() time.Time {
	return time.UnixMilli(n.Timestamp)
}

// DataMap returns the payload as a map, or nil if it is not one.
func (n *Notification) DataMap() map[string]any {
	m, _ := n.Data.(map[string]any)
	return m
}
