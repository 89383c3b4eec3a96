package domain

// DocumentGroup is every pending document of one type for one recipient.
type DocumentGroup struct {
	// Type is the raw document type tag.
	Type        string
	DisplayName string
	// Numbers are the raw document numbers, sorted.
	Numbers []string
	// Display holds the formatted numbers, index-aligned with Numbers.
	Display []string
}

func (g DocumentGroup) Count() int { return len(g.Numbers) }

// Digest is the rendered email for one recipient.
type Digest struct {
	Recipient    string
	ApproverName string
	Subject      string
	HTMLBody     string
	Total        int
	Groups       []DocumentGroup
}
