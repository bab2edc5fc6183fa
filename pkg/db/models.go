package db

import "time"

// Document groups the texts imported from one source.
type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	SourceURL string    `json:"source_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Text is one passage of a document, written in a single language.
type Text struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Title      string    `json:"title,omitempty"`
	Content    string    `json:"content"`
	Language   string    `json:"language"`
	Position   int       `json:"position"`
	CreatedAt  time.Time `json:"created_at"`
}

// Word is a lexicon entry. Word is the surface form matched against texts.
type Word struct {
	ID           string    `json:"id"`
	Word         string    `json:"word"`
	Romanization string    `json:"romanization,omitempty"`
	Language     string    `json:"language"`
	CreatedAt    time.Time `json:"created_at"`
}
