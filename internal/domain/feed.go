package domain

// Property names of the approval feed that the pipeline relies on.
const (
	PropDocumentType   = "SAPObjectNodeRepresentation"
	PropDocumentNumber = "SAPBusinessObjectNodeKey1"
	PropEmail          = "EmailAddress"
	PropFirstName      = "FirstName"
	PropLastName       = "LastName"
)

// FeedRecord is one pending approval item decoded from a feed entry.
//
// The typed fields are the ones the digest needs. Properties keeps every
// non-empty property of the entry (keyed by local element name), including
// unknown ones, for previews.
type FeedRecord struct {
	DocumentType   string
	DocumentNumber string
	Email          string
	FirstName      string
	LastName       string

	Properties map[string]string
}

// RecordFromProperties builds a FeedRecord from a flattened property map.
func RecordFromProperties(props map[string]string) FeedRecord {
	return FeedRecord{
		DocumentType:   props[PropDocumentType],
		DocumentNumber: props[PropDocumentNumber],
		Email:          props[PropEmail],
		FirstName:      props[PropFirstName],
		LastName:       props[PropLastName],
		Properties:     props,
	}
}

// Dispatchable reports whether the record can be routed to a recipient.
func (r FeedRecord) Dispatchable() bool { return r.Email != "" }
