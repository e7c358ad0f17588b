// Package mailboxtest provides an in-memory mailbox.Mailbox for tests.
package mailboxtest

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/daviddao/mailtriage/internal/mailbox"
	"github.com/daviddao/mailtriage/internal/types"
)

// Fake records every mutation it receives. Search results are registered
// per query prefix with On; the longest registered prefix of a query wins.
type Fake struct {
	mu sync.Mutex

	threads map[string]types.Thread
	results map[string][]string

	// SearchErr fails searches whose query starts with the key.
	SearchErr map[string]error
	// FailThread makes every mutation on the thread id fail.
	FailThread map[string]error
	// DraftErr fails CreateDraft.
	DraftErr error

	Searches []string
	Labels   map[string][]string
	Starred  map[string]int
	Read     map[string]bool
	Archived map[string]bool
	Trashed  map[string]bool
	Drafts   []mailbox.Draft
}

var _ mailbox.Mailbox = (*Fake)(nil)

// New creates an empty fake mailbox.
func New() *Fake {
	return &Fake{
		threads:    make(map[string]types.Thread),
		results:    make(map[string][]string),
		SearchErr:  make(map[string]error),
		FailThread: make(map[string]error),
		Labels:     make(map[string][]string),
		Starred:    make(map[string]int),
		Read:       make(map[string]bool),
		Archived:   make(map[string]bool),
		Trashed:    make(map[string]bool),
	}
}

// On registers threads as the result of any search starting with prefix.
func (f *Fake) On(prefix string, threads ...types.Thread) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range threads {
		f.threads[t.ID] = t
		f.results[prefix] = append(f.results[prefix], t.ID)
	}
}

// SearchCount returns how many searches have been issued.
func (f *Fake) SearchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Searches)
}

// HasLabel reports whether label was applied to the thread.
func (f *Fake) HasLabel(threadID, label string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Contains(f.Labels[threadID], label)
}

func (f *Fake) Search(_ context.Context, query string, limit int) ([]types.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Searches = append(f.Searches, query)

	for prefix, err := range f.SearchErr {
		if strings.HasPrefix(query, prefix) {
			return nil, err
		}
	}

	best := ""
	found := false
	for prefix := range f.results {
		if strings.HasPrefix(query, prefix) && (!found || len(prefix) > len(best)) {
			best, found = prefix, true
		}
	}
	if !found {
		return nil, nil
	}

	var out []types.Thread
	for _, id := range f.results[best] {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, f.threads[id])
	}
	return out, nil
}

func (f *Fake) AddLabel(_ context.Context, threadID, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.FailThread[threadID]; err != nil {
		return err
	}
	if !slices.Contains(f.Labels[threadID], label) {
		f.Labels[threadID] = append(f.Labels[threadID], label)
	}
	return nil
}

func (f *Fake) MarkRead(_ context.Context, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.FailThread[threadID]; err != nil {
		return err
	}
	f.Read[threadID] = true
	return nil
}

func (f *Fake) Archive(_ context.Context, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.FailThread[threadID]; err != nil {
		return err
	}
	f.Archived[threadID] = true
	return nil
}

func (f *Fake) Trash(_ context.Context, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.FailThread[threadID]; err != nil {
		return err
	}
	f.Trashed[threadID] = true
	return nil
}

func (f *Fake) Star(_ context.Context, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.threads {
		for _, m := range t.Messages {
			if m.ID == messageID {
				if err := f.FailThread[t.ID]; err != nil {
					return err
				}
			}
		}
	}
	f.Starred[messageID]++
	return nil
}

func (f *Fake) CreateDraft(_ context.Context, d mailbox.Draft) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DraftErr != nil {
		return "", f.DraftErr
	}
	if err := f.FailThread[d.ThreadID]; err != nil {
		return "", err
	}
	f.Drafts = append(f.Drafts, d)
	return fmt.Sprintf("draft_%d", len(f.Drafts)), nil
}
