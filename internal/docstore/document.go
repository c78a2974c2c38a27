package docstore

import (
	"strings"
	"time"

	firestore "google.golang.org/api/firestore/v1"
)

// Document is a stored record: its resource name and its fields.
type Document struct {
	Name       string
	Fields     Fields
	CreateTime time.Time
	UpdateTime time.Time
}

// ID is the last segment of the resource name.
func (d Document) ID() string {
	if i := strings.LastIndex(d.Name, "/"); i >= 0 {
		return d.Name[i+1:]
	}
	return d.Name
}

func fromWireDocument(d *firestore.Document) Document {
	doc := Document{Name: d.Name, Fields: make(Fields, len(d.Fields))}
	for name, v := range d.Fields {
		doc.Fields[name] = fromWire(v)
	}
	doc.CreateTime, _ = time.Parse(time.RFC3339Nano, d.CreateTime)
	doc.UpdateTime, _ = time.Parse(time.RFC3339Nano, d.UpdateTime)
	return doc
}
