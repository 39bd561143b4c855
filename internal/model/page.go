package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// UntitledPage is stored as the title of a fetched page whose markup has no
// usable <title> element.
const UntitledPage = "none"

// Page represents a page of a known domain.
// A page is recorded either because it was fetched (Title and Hash set) or
// because a fetched page linked to it (Title empty, Fetched false).
type Page struct {
	// ID is the numeric identity assigned by the store.
	ID int64 `json:"id"`

	// DomainID references the owning onions row.
	DomainID int64 `json:"domain_id"`

	// Domain is the canonical authority of the page. It is used to resolve
	// DomainID when the page is persisted.
	Domain string `json:"domain"`

	// Path is the URL path relative to the domain (e.g. "/wiki/Main_Page").
	Path string `json:"url"`

	// Title is the text of the first <title> element.
	Title string `json:"title,omitempty"`

	// Hash is the SHA-256 hash of the body, used for change detection.
	Hash string `json:"hash,omitempty"`

	// LastScan is when the page was fetched.
	LastScan time.Time `json:"last_scan"`

	// Fetched is true when the page body was retrieved in this crawl.
	Fetched bool `json:"fetched"`

	// Body is the decoded response body. It is never persisted.
	Body []byte `json:"-"`
}

// ComputeHash calculates and sets the SHA-256 hash of the page body.
func (p *Page) ComputeHash() {
	if len(p.Body) == 0 {
		p.Hash = ""
		return
	}

	hash := sha256.Sum256(p.Body)
	p.Hash = hex.EncodeToString(hash[:])
}

// TitleOrDefault returns the title, or UntitledPage when it is empty.
func (p *Page) TitleOrDefault() string {
	if p.Title == "" {
		return UntitledPage
	}
	return p.Title
}
