// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jeranaias/chatlink/internal/model"
	"github.com/jeranaias/chatlink/internal/util"
)

// ErrSessionNotFound is returned when an archived session does not exist.
var ErrSessionNotFound = errors.New("archived session not found")

// DefaultMaxArchived is the default archive size limit.
const DefaultMaxArchived = 50

// SessionMeta describes an archived session for listing.
type SessionMeta struct {
	ID           string     `json:"id"`
	Lang         model.Lang `json:"lang,omitempty"`
	CreatedAt    int64      `json:"createdAt"`
	UpdatedAt    int64      `json:"updatedAt"`
	MessageCount int        `json:"messageCount"`
	Preview      string     `json:"preview"` // First user message truncated
}

// =============================================================================
// ARCHIVE
// =============================================================================

// Archive keeps ended sessions as <dir>/<id>.json.
type Archive struct {
	// Dir is the archive directory.
	Dir string

	// MaxSessions limits stored sessions (0 = unlimited). Oldest go first.
	MaxSessions int
}

// NewArchive creates an archive in dir.
func NewArchive(dir string) (*Archive, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	return &Archive{Dir: dir, MaxSessions: DefaultMaxArchived}, nil
}

// Worth reports whether sess has anything the user wrote. Sessions holding
// only the welcome message are not archived.
func Worth(sess *model.Session) bool {
	if sess == nil {
		return false
	}
	for _, m := range sess.Messages {
		if m.Role == model.RoleUser {
			return true
		}
	}
	return false
}

// Put archives a session, replacing an earlier copy with the same ID.
func (a *Archive) Put(sess *model.Session) error {
	if sess == nil || sess.ID == "" {
		return errors.New("cannot archive session without ID")
	}
	if err := checkKey(sess.ID); err != nil {
		return err
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	if err := util.AtomicWriteFile(a.filePath(sess.ID), data, 0600); err != nil {
		return err
	}

	if a.MaxSessions > 0 {
		a.enforceLimit()
	}
	return nil
}

// Get loads an archived session.
func (a *Archive) Get(id string) (*model.Session, error) {
	if err := checkKey(id); err != nil {
		return nil, ErrSessionNotFound
	}
	data, err := os.ReadFile(a.filePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	var sess model.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("corrupt archive entry %s: %w", id, err)
	}
	sess.Normalize()
	return &sess, nil
}

// Delete removes an archived session.
func (a *Archive) Delete(id string) error {
	if err := checkKey(id); err != nil {
		return ErrSessionNotFound
	}
	err := os.Remove(a.filePath(id))
	if os.IsNotExist(err) {
		return ErrSessionNotFound
	}
	return err
}

// List returns archived sessions, most recent first. Corrupt files are
// skipped.
func (a *Archive) List() ([]SessionMeta, error) {
	entries, err := os.ReadDir(a.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []SessionMeta{}, nil
		}
		return nil, err
	}

	metas := make([]SessionMeta, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		sess, err := a.Get(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		metas = append(metas, metaOf(sess))
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt > metas[j].UpdatedAt
	})
	return metas, nil
}

// Search returns archived sessions whose messages contain query,
// case-insensitively, most recent first.
func (a *Archive) Search(query string) ([]SessionMeta, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return a.List()
	}

	metas, err := a.List()
	if err != nil {
		return nil, err
	}

	var results []SessionMeta
	for _, meta := range metas {
		sess, err := a.Get(meta.ID)
		if err != nil {
			continue
		}
		for _, m := range sess.Messages {
			if strings.Contains(strings.ToLower(m.Content), query) {
				results = append(results, meta)
				break
			}
		}
	}
	return results, nil
}

func (a *Archive) enforceLimit() {
	metas, err := a.List()
	if err != nil || len(metas) <= a.MaxSessions {
		return
	}
	// List is newest first; drop the tail.
	for _, meta := range metas[a.MaxSessions:] {
		a.Delete(meta.ID)
	}
}

func (a *Archive) filePath(id string) string {
	return filepath.Join(a.Dir, id+".json")
}

func metaOf(sess *model.Session) SessionMeta {
	meta := SessionMeta{
		ID:           sess.ID,
		CreatedAt:    sess.CreatedAt,
		UpdatedAt:    sess.UpdatedAt,
		MessageCount: len(sess.Messages),
	}
	if sess.HasLang() {
		meta.Lang = *sess.Lang
	}
	for _, m := range sess.Messages {
		if m.Role == model.RoleUser {
			meta.Preview = util.TruncateRunes(util.SingleLine(m.Content), 80)
			break
		}
	}
	return meta
}
