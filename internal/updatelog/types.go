package updatelog

import "time"

// Kind identifies which sort of component an automatic update touched.
type Kind string

const (
	KindCore        Kind = "core"
	KindPlugin      Kind = "plugin"
	KindTheme       Kind = "theme"
	KindTranslation Kind = "translation"
)

// Recordable reports whether updates of this kind belong in the log.
// Translation updates are never recorded.
func (k Kind) Recordable() bool {
	switch k {
	case KindCore, KindPlugin, KindTheme:
		return true
	}
	return false
}

// Event is a single completed automatic update.
//
// Every field is always encoded, empty strings included, so each record in
// the persisted document has the same shape.
type Event struct {
	OccurredAt  time.Time `json:"date"`
	Kind        Kind      `json:"type"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	VersionFrom string    `json:"version_from"`
	VersionTo   string    `json:"version_to"`
	URL         string    `json:"url"`
}

// Equal reports whether e and o describe the same update.
func (e Event) Equal(o Event) bool {
	return e.OccurredAt.Equal(o.OccurredAt) &&
		e.Kind == o.Kind &&
		e.Name == o.Name &&
		e.DisplayName == o.DisplayName &&
		e.VersionFrom == o.VersionFrom &&
		e.VersionTo == o.VersionTo &&
		e.URL == o.URL
}

// document is the on-disk envelope.
type document struct {
	Updated *[]Event `json:"updated"`
}
