package ephemeris

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// ErrNoElements is returned when no element set matches a selector.
var ErrNoElements = errors.New("no matching element set")

// ElementSet is one named two-line element set.
type ElementSet struct {
	NORADID int
	Name    string
	Epoch   time.Time
	Line1   string
	Line2   string
}

// ParseElementSets reads the 3-line NORAD format (name, line 1, line 2).
// Malformed entries are skipped with a warning.
func ParseElementSets(r io.Reader, logger *slog.Logger) ([]ElementSet, error) {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading element sets: %w", err)
	}

	var sets []ElementSet
	for i := 0; i+2 < len(lines); {
		name, line1, line2 := lines[i], lines[i+1], lines[i+2]

		if !strings.HasPrefix(line1, "1 ") || !strings.HasPrefix(line2, "2 ") {
			logger.Warn("skipping malformed element set", "line_index", i, "name", name)
			i++
			continue
		}
		if len(line1) < 32 {
			logger.Warn("skipping element set with short line1", "name", name)
			i += 3
			continue
		}

		noradStr := strings.TrimSpace(line1[2:7])
		noradID, err := strconv.Atoi(noradStr)
		if err != nil {
			logger.Warn("skipping element set with invalid NORAD ID", "norad_str", noradStr, "name", name)
			i += 3
			continue
		}

		epochStr := strings.TrimSpace(line1[18:32])
		epoch, err := parseEpoch(epochStr)
		if err != nil {
			logger.Warn("skipping element set with invalid epoch", "epoch_str", epochStr, "name", name, "error", err)
			i += 3
			continue
		}

		sets = append(sets, ElementSet{
			NORADID: noradID,
			Name:    strings.TrimSpace(name),
			Epoch:   epoch,
			Line1:   line1,
			Line2:   line2,
		})
		i += 3
	}

	return sets, nil
}

// SelectElementSet picks the set whose NORAD ID or name (case-insensitive)
// equals key. When several match, the one with the epoch closest to at wins.
func SelectElementSet(sets []ElementSet, key string, at time.Time) (ElementSet, error) {
	key = strings.TrimSpace(key)
	id, idErr := strconv.Atoi(key)

	var best ElementSet
	bestGap := time.Duration(-1)
	for _, s := range sets {
		if !(idErr == nil && s.NORADID == id) && !strings.EqualFold(s.Name, key) {
			continue
		}
		gap := at.Sub(s.Epoch)
		if gap < 0 {
			gap = -gap
		}
		if bestGap < 0 || gap < bestGap {
			best, bestGap = s, gap
		}
	}
	if bestGap < 0 {
		return ElementSet{}, fmt.Errorf("%w for %q", ErrNoElements, key)
	}
	return best, nil
}

// parseEpoch converts a YYDDD.DDDDDDDD epoch to time.Time.
// Years 57-99 are 1900s, 00-56 are 2000s.
func parseEpoch(s string) (time.Time, error) {
	if len(s) < 5 {
		return time.Time{}, fmt.Errorf("epoch string too short: %q", s)
	}

	year, err := strconv.Atoi(s[:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch year %q: %w", s[:2], err)
	}
	if year >= 57 {
		year += 1900
	} else {
		year += 2000
	}

	dayOfYear, err := strconv.ParseFloat(s[2:], 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch day %q: %w", s[2:], err)
	}

	// Day 1 is Jan 1.
	t := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	return t.Add(time.Duration((dayOfYear - 1) * float64(24*time.Hour))), nil
}
