/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package eventsource

import (
	"fmt"
	"strconv"
	"strings"
)

// Level is an ordered verbosity filter. Lower values are more severe.
type Level uint8

const (
	LogAlways     Level = 0
	Critical      Level = 1
	Error         Level = 2
	Warning       Level = 3
	Informational Level = 4
	Verbose       Level = 5
)

var levelNames = []string{"LogAlways", "Critical", "Error", "Warning", "Informational", "Verbose"}

func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return fmt.Sprintf("Level(%d)", uint8(l))
}

// ParseLevel accepts a level name (case-insensitive) or its numeric value.
func ParseLevel(s string) (Level, error) {
	s = strings.TrimSpace(s)
	for i, name := range levelNames {
		if strings.EqualFold(s, name) {
			return Level(i), nil
		}
	}

	n, parseErr := strconv.ParseUint(s, 10, 8)
	if parseErr != nil || n > uint64(Verbose) {
		return LogAlways, fmt.Errorf("invalid event level '%s': must be one of %s or a number between 0 and %d", s, strings.Join(levelNames, ", "), Verbose)
	}
	return Level(n), nil
}

// Keywords is a 64-bit set of event categories. Zero means "all categories".
type Keywords uint64

const AllKeywords Keywords = 0

func (k Keywords) String() string {
	return fmt.Sprintf("0x%X", uint64(k))
}

// ParseKeywords accepts a hexadecimal (0x prefix) or decimal keyword mask.
// An empty string means all keywords.
func ParseKeywords(s string) (Keywords, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return AllKeywords, nil
	}

	var n uint64
	var parseErr error
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		n, parseErr = strconv.ParseUint(s[2:], 16, 64)
	} else {
		n, parseErr = strconv.ParseUint(s, 10, 64)
	}
	if parseErr != nil {
		return AllKeywords, fmt.Errorf("invalid event keywords '%s': %w", s, parseErr)
	}
	return Keywords(n), nil
}

// eventFilter is the level and keyword mask a subscriber enabled for a source.
type eventFilter struct {
	level    Level
	keywords Keywords
}

func (f eventFilter) matches(level Level, keywords Keywords) bool {
	levelOk := f.level == LogAlways || level <= f.level
	keywordsOk := f.keywords == AllKeywords || keywords == AllKeywords || f.keywords&keywords != 0
	return levelOk && keywordsOk
}
