package raster

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

// Large exports are split by the platform into numbered parts sharing the
// requested file-name prefix, e.g. P00000_1.tif, P00000_2.tif or
// P0000000000-0000000000.tif for a prefix P.
var partRe = regexp.MustCompile(`^(.+?)\d{4,}[-_]\d+\.tif$`)

// PartPattern returns the pattern matching the split parts of stem
func PartPattern(stem string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`^%s\d{4,}[-_]\d+\.tif$`, regexp.QuoteMeta(stem)))
}

// IsPartOf returns whether name is a split part of stem
func IsPartOf(name, stem string) bool {
	return PartPattern(stem).MatchString(name)
}

// GroupParts returns the names that are split parts of stem, sorted
func GroupParts(names []string, stem string) []string {
	re := PartPattern(stem)
	var parts []string
	for _, n := range names {
		if re.MatchString(n) {
			parts = append(parts, n)
		}
	}
	sort.Strings(parts)
	return parts
}

// FindPartGroups scans a directory for multipart artifact groups and
// returns them keyed by their shared stem. A file already merged (an exact
// <stem>.tif exists) is not reported.
func FindPartGroups(dir string) (map[string][]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("FindPartGroups: %w", err)
	}
	groups := map[string][]string{}
	merged := map[string]bool{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if m := partRe.FindStringSubmatch(name); m != nil {
			groups[m[1]] = append(groups[m[1]], name)
		} else if strings.HasSuffix(name, ".tif") {
			merged[strings.TrimSuffix(name, ".tif")] = true
		}
	}
	for stem := range groups {
		if merged[stem] {
			delete(groups, stem)
			continue
		}
		sort.Strings(groups[stem])
	}
	return groups, nil
}
