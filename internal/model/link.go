package model

// Link is a directed edge between two domains: some page of the origin
// domain links to some page of the target domain.
type Link struct {
	// FromID is the onions id of the origin domain.
	FromID int64 `json:"from"`

	// ToID is the onions id of the target domain.
	ToID int64 `json:"to"`
}

// IsSelfLoop reports whether the edge points back at its origin.
// Self-loops carry no information for the cross-domain graph and are
// never persisted.
func (l Link) IsSelfLoop() bool {
	return l.FromID == l.ToID
}

// Graph is the read-only view consumed by graph renderers: online, scanned
// domains and the links between them.
type Graph struct {
	Domains []Domain `json:"domains"`
	Links   []Link   `json:"links"`
}
