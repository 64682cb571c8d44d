package model

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxTitleLen = 200
	MaxBodyLen  = 20000
	MaxTags     = 5
	MaxTagLen   = 32
)

// NormalizeTags lowercases and trims tags, dropping blanks and duplicates.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

// ValidateThread checks thread fields against the posting limits. Tags are
// expected to be normalized already.
func ValidateThread(title, body string, tags []string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return errors.New("title required")
	}
	if utf8.RuneCountInString(title) > MaxTitleLen {
		return fmt.Errorf("title must be at most %d characters", MaxTitleLen)
	}
	if utf8.RuneCountInString(body) > MaxBodyLen {
		return fmt.Errorf("body must be at most %d characters", MaxBodyLen)
	}
	if len(tags) > MaxTags {
		return fmt.Errorf("at most %d tags", MaxTags)
	}
	for _, tag := range tags {
		if len(tag) > MaxTagLen {
			return fmt.Errorf("tag %q is longer than %d characters", tag, MaxTagLen)
		}
	}
	return nil
}
