// Package store keeps the text of the documents an editor has open and
// mirrors it into a SharedFS so open buffers win over what is on disk.
package store

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/juan-carlos/juancarlos/types"
	lsp "go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

var ErrNotOpen = errors.New("document is not open")

// Change is a single content change. A nil Range replaces the whole text.
type Change struct {
	Range *lsp.Range `json:"range,omitempty"`
	Text  string     `json:"text"`
}

// Document is a point-in-time copy of an open document.
type Document struct {
	URI        uri.URI
	LanguageID string
	Version    int32
	Text       string
}

type entry struct {
	languageID string
	version    int32
	text       *types.Rope
}

func (e *entry) snapshot(u uri.URI) Document {
	return Document{
		URI:        u,
		LanguageID: e.languageID,
		Version:    e.version,
		Text:       e.text.String(),
	}
}

type DocumentStore struct {
	mu        sync.RWMutex
	documents map[uri.URI]*entry
	fs        *SharedFS
}

func NewDocumentStore(sfs *SharedFS) *DocumentStore {
	if sfs == nil {
		sfs = NewSharedFS()
	}

	return &DocumentStore{
		documents: map[uri.URI]*entry{},
		fs:        sfs,
	}
}

func (s *DocumentStore) FS() *SharedFS {
	return s.fs
}

// Filename returns the local path of a file URI. ok is false for any other
// scheme.
func Filename(u uri.URI) (name string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			name, ok = "", false
		}
	}()
	return u.Filename(), true
}

func (s *DocumentStore) mirror(u uri.URI, text string) error {
	name, ok := Filename(u)
	if !ok {
		return nil
	}
	return s.fs.WriteFile(name, []byte(text))
}

// Open registers a document, replacing any previous content under the same
// URI.
func (s *DocumentStore) Open(u uri.URI, languageID string, version int32, text string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := &entry{
		languageID: languageID,
		version:    version,
		text:       types.NewRope(text),
	}
	s.documents[u] = e

	return e.snapshot(u), errors.Wrap(s.mirror(u, text), "mirroring document")
}

// Change applies content changes in order. Range columns are UTF-16 code
// units, as editors send them. If any change fails the document is left as
// it was before the call.
func (s *DocumentStore) Change(u uri.URI, version int32, changes []Change) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.documents[u]
	if !ok {
		return Document{}, errors.Wrapf(ErrNotOpen, "%s", u)
	}

	text := types.NewRope(e.text.String())
	for i, change := range changes {
		if change.Range == nil {
			text = types.NewRope(change.Text)
			continue
		}

		start, err := text.OffsetFromUTF16Position(change.Range.Start)
		if err != nil {
			return e.snapshot(u), errors.Wrapf(err, "change %d start", i)
		}

		end, err := text.OffsetFromUTF16Position(change.Range.End)
		if err != nil {
			return e.snapshot(u), errors.Wrapf(err, "change %d end", i)
		}

		if err := text.Replace(start, end, change.Text); err != nil {
			return e.snapshot(u), errors.Wrapf(err, "change %d", i)
		}
	}

	e.text = text
	e.version = version
	return e.snapshot(u), errors.Wrap(s.mirror(u, text.String()), "mirroring document")
}

// Close forgets a document. It reports whether the document was open.
func (s *DocumentStore) Close(u uri.URI) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[u]; !ok {
		return false
	}

	delete(s.documents, u)
	if name, ok := Filename(u); ok {
		_ = s.fs.Remove(name)
	}
	return true
}

func (s *DocumentStore) Get(u uri.URI) (Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.documents[u]
	if !ok {
		return Document{}, false
	}
	return e.snapshot(u), true
}

// List returns every open document ordered by URI.
func (s *DocumentStore) List() []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]Document, 0, len(s.documents))
	for u, e := range s.documents {
		docs = append(docs, e.snapshot(u))
	}

	sort.Slice(docs, func(i, j int) bool {
		return docs[i].URI < docs[j].URI
	})
	return docs
}

func (s *DocumentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.documents)
}
