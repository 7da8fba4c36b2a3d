// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// Lang is a conversation language supported by the assistant backend.
type Lang string

const (
	LangRO Lang = "ro"
	LangEN Lang = "en"
	LangHU Lang = "hu"
)

// SupportedLangs lists the languages in preference order.
var SupportedLangs = []Lang{LangRO, LangEN, LangHU}

var langMatcher = language.NewMatcher([]language.Tag{
	language.Romanian,
	language.English,
	language.Hungarian,
})

// ParseLang normalises a BCP-47 tag ("en-US", "ro_RO", "HU") to a supported
// Lang. Tags that do not match a supported language exactly by base are
// rejected rather than silently mapped to a fallback.
func ParseLang(s string) (Lang, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, "_", "-"))
	if s == "" {
		return "", fmt.Errorf("empty language tag")
	}
	tag, err := language.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid language tag %q: %w", s, err)
	}

	_, idx, conf := langMatcher.Match(tag)
	if conf < language.High {
		return "", fmt.Errorf("unsupported language %q", s)
	}
	return SupportedLangs[idx], nil
}

// String returns the language code.
func (l Lang) String() string {
	return string(l)
}
