package lexicon

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// File is the on-disk lexicon format: an object with a default language and a
// list of words. A bare JSON array of words is accepted as well.
type File struct {
	Language string  `json:"language"`
	Words    []Entry `json:"words"`
}

// LoadFile reads a lexicon JSON file. Entries without their own language
// inherit the file's language, then fallbackLanguage.
func LoadFile(path, fallbackLanguage string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f, fallbackLanguage)
}

// Load decodes a lexicon from r. See LoadFile.
func Load(r io.ReadSeeker, fallbackLanguage string) ([]Entry, error) {
	var file File
	// Try parsing as full object wrapper first { "words": [...] }
	dec := json.NewDecoder(r)
	if err := dec.Decode(&file); err == nil {
		return fill(file.Words, file.Language, fallbackLanguage)
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	var entries []Entry
	dec = json.NewDecoder(r)
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to parse lexicon as object or array: %w", err)
	}
	return fill(entries, "", fallbackLanguage)
}

func fill(entries []Entry, fileLanguage, fallbackLanguage string) ([]Entry, error) {
	out := make([]Entry, 0, len(entries))
	for i, e := range entries {
		e.Surface = strings.TrimSpace(e.Surface)
		e.Romanization = strings.TrimSpace(e.Romanization)
		if e.Surface == "" {
			continue
		}
		if e.Language == "" {
			e.Language = fileLanguage
		}
		if e.Language == "" {
			e.Language = fallbackLanguage
		}
		if e.Language == "" {
			return nil, fmt.Errorf("lexicon entry %d (%q) has no language", i, e.Surface)
		}
		out = append(out, e)
	}
	return out, nil
}
