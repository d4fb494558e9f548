package learning

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ternarybob/graben/internal/models"
)

var (
	digitRunRe   = regexp.MustCompile(`\d+`)
	fourDigitRe  = regexp.MustCompile(`\b(20[0-3][0-9])\b`)
	twoDigitRe   = regexp.MustCompile(`[/_-](\d{2})[/_.-]`)
	monthPathRe  = regexp.MustCompile(`/(0[1-9]|1[0-2])/`)
	yearSegmentRe = regexp.MustCompile(`^20[0-3][0-9]$`)
)

const digitSentinel = "\x00N\x00"

// synthesizeURLPatterns groups URLs by normalized structure (digit runs
// replaced by a sentinel, compared component-wise) and builds a template for
// each group of two or more, marking divergent segments as typed variable slots.
func synthesizeURLPatterns(siteKey string, urls []string) []*models.Pattern {
	groups := make(map[string][]string)
	for _, raw := range urls {
		key := normalizeStructure(raw)
		if key == "" {
			continue
		}
		groups[key] = append(groups[key], raw)
	}

	var patterns []*models.Pattern
	for _, members := range groups {
		if len(members) < 2 {
			// A single URL with a recognizable year still yields a template:
			// it is the seed reverse crawls reconstruct from.
			if len(members) == 1 && fourDigitRe.MatchString(members[0]) {
				if p := templateFromSingle(siteKey, members[0]); p != nil {
					patterns = append(patterns, p)
				}
			}
			continue
		}
		if p := templateFromGroup(siteKey, members); p != nil {
			patterns = append(patterns, p)
		}
	}
	return patterns
}

// normalizeStructure replaces digit runs with a sentinel so structurally
// identical URLs collapse to one key.
func normalizeStructure(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Host + digitRunRe.ReplaceAllString(u.Path, digitSentinel)
}

// templateFromGroup builds a template from >= 2 structurally equal URLs:
// shared segments stay literal, divergent segments become typed slots.
func templateFromGroup(siteKey string, members []string) *models.Pattern {
	first, err := url.Parse(members[0])
	if err != nil {
		return nil
	}
	firstSegs := strings.Split(strings.Trim(first.Path, "/"), "/")

	segValues := make([][]string, len(firstSegs))
	for i := range segValues {
		segValues[i] = []string{firstSegs[i]}
	}

	for _, raw := range members[1:] {
		u, err := url.Parse(raw)
		if err != nil {
			return nil
		}
		segs := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(segs) != len(firstSegs) {
			return nil
		}
		for i, seg := range segs {
			segValues[i] = append(segValues[i], seg)
		}
	}

	var variables []models.PatternVariable
	templateSegs := make([]string, len(firstSegs))
	for i, values := range segValues {
		if allEqual(values) {
			templateSegs[i] = values[0]
			continue
		}
		kind := inferVariableKind(values)
		name := fmt.Sprintf("var%d", len(variables)+1)
		if kind == models.VariableYear {
			name = "year"
		} else if kind == models.VariableMonth {
			name = "month"
		}
		variables = append(variables, models.PatternVariable{
			Name:     name,
			Kind:     kind,
			Position: i,
			Examples: uniqueStrings(values),
		})
		templateSegs[i] = "{" + name + "}"
	}

	return &models.Pattern{
		SiteKey:  siteKey,
		Kind:     models.PatternKindURL,
		Template: first.Scheme + "://" + first.Host + "/" + strings.Join(templateSegs, "/"),
		Variables: variables,
		Metadata: map[string]string{
			"member_count": strconv.Itoa(len(members)),
		},
	}
}

// templateFromSingle lifts one year-bearing URL into a template with a single
// {year} slot.
func templateFromSingle(siteKey, raw string) *models.Pattern {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil
	}

	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	var variables []models.PatternVariable
	replaced := false
	for i, seg := range segs {
		if !replaced && yearSegmentRe.MatchString(seg) {
			variables = append(variables, models.PatternVariable{
				Name:     "year",
				Kind:     models.VariableYear,
				Position: i,
				Examples: []string{seg},
			})
			segs[i] = "{year}"
			replaced = true
			continue
		}
		// Years embedded in filenames: netzentgelte-2024.pdf
		if !replaced && fourDigitRe.MatchString(seg) {
			year := fourDigitRe.FindString(seg)
			variables = append(variables, models.PatternVariable{
				Name:     "year",
				Kind:     models.VariableYear,
				Position: i,
				Examples: []string{year},
			})
			segs[i] = strings.Replace(seg, year, "{year}", 1)
			replaced = true
		}
	}
	if !replaced {
		return nil
	}

	return &models.Pattern{
		SiteKey:   siteKey,
		Kind:      models.PatternKindURL,
		Template:  u.Scheme + "://" + u.Host + "/" + strings.Join(segs, "/"),
		Variables: variables,
		Metadata:  map[string]string{"member_count": "1"},
	}
}

// SubstituteYear renders a pattern template for a specific year.
// Returns false when the template has no year slot.
func SubstituteYear(p *models.Pattern, year int) (string, bool) {
	if !strings.Contains(p.Template, "{year}") {
		return "", false
	}
	return strings.ReplaceAll(p.Template, "{year}", strconv.Itoa(year)), true
}

// synthesizeTemporalPatterns applies the fixed regex suite across all URLs
// and keeps kinds with non-zero match frequency, the highest-confidence
// representative per kind.
func synthesizeTemporalPatterns(siteKey string, urls []string) []*models.TemporalPattern {
	type suiteEntry struct {
		kind   models.TemporalPatternKind
		re     *regexp.Regexp
		format string
	}
	suite := []suiteEntry{
		{models.TemporalYear, fourDigitRe, "%d"},
		{models.TemporalVersion, twoDigitRe, "%02d"},
		{models.TemporalMonth, monthPathRe, "%02d"},
	}

	var result []*models.TemporalPattern
	for _, entry := range suite {
		var examples []string
		matches := 0
		for _, u := range urls {
			if m := entry.re.FindString(u); m != "" {
				matches++
				if len(examples) < 5 {
					examples = append(examples, m)
				}
			}
		}
		if matches == 0 {
			continue
		}
		result = append(result, &models.TemporalPattern{
			SiteKey:        siteKey,
			Kind:           entry.kind,
			Regex:          entry.re.String(),
			Format:         entry.format,
			ExampleMatches: examples,
			MatchCount:     matches,
			Confidence:     float64(matches) / float64(len(urls)),
		})
	}

	// Deduplicate by kind keeping the highest-confidence representative
	byKind := make(map[models.TemporalPatternKind]*models.TemporalPattern)
	for _, tp := range result {
		if best, ok := byKind[tp.Kind]; !ok || tp.Confidence > best.Confidence {
			byKind[tp.Kind] = tp
		}
	}
	deduped := make([]*models.TemporalPattern, 0, len(byKind))
	for _, tp := range byKind {
		deduped = append(deduped, tp)
	}
	sort.Slice(deduped, func(i, j int) bool { return deduped[i].Kind < deduped[j].Kind })
	return deduped
}

// synthesizeArchiveStructures groups URLs by host, computes the longest
// common path prefix, enumerates distinct ancestor directories and classifies
// temporal organization from year/month segments.
func synthesizeArchiveStructures(siteKey string, urls []string) []*models.ArchiveStructure {
	byHost := make(map[string][]*url.URL)
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			continue
		}
		byHost[u.Host] = append(byHost[u.Host], u)
	}

	var result []*models.ArchiveStructure
	for host, members := range byHost {
		paths := make([]string, len(members))
		for i, u := range members {
			paths[i] = u.Path
		}

		dirSet := make(map[string]bool)
		filenameSet := make(map[string]bool)
		for _, p := range paths {
			dir, file := splitPath(p)
			if dir != "" {
				dirSet[dir] = true
			}
			if file != "" {
				filenameSet[digitRunRe.ReplaceAllString(file, "{n}")] = true
			}
		}

		result = append(result, &models.ArchiveStructure{
			SiteKey:          siteKey,
			Host:             host,
			CommonPrefix:     commonPathPrefix(paths),
			DirectoryPaths:   sortedKeys(dirSet),
			FilenamePatterns: sortedKeys(filenameSet),
			Organization:     classifyOrganization(paths),
		})
	}
	return result
}

func classifyOrganization(paths []string) models.TemporalOrganization {
	hasYearSeg, hasMonthSeg := false, false
	for _, p := range paths {
		for _, seg := range strings.Split(strings.Trim(p, "/"), "/") {
			if yearSegmentRe.MatchString(seg) {
				hasYearSeg = true
			}
			if monthPathRe.MatchString("/" + seg + "/") {
				hasMonthSeg = true
			}
		}
	}
	switch {
	case hasYearSeg && hasMonthSeg:
		return models.OrgByYearMonth
	case hasYearSeg:
		return models.OrgByYear
	default:
		return models.OrgNone
	}
}

func commonPathPrefix(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	prefix := strings.Split(strings.Trim(paths[0], "/"), "/")
	for _, p := range paths[1:] {
		segs := strings.Split(strings.Trim(p, "/"), "/")
		n := 0
		for n < len(prefix) && n < len(segs) && prefix[n] == segs[n] {
			n++
		}
		prefix = prefix[:n]
		if len(prefix) == 0 {
			return "/"
		}
	}
	return "/" + strings.Join(prefix, "/")
}

func splitPath(p string) (dir, file string) {
	idx := strings.LastIndex(p, "/")
	if idx < 0 {
		return "", p
	}
	return p[:idx], p[idx+1:]
}

func inferVariableKind(values []string) models.VariableKind {
	allYears, allMonths := true, true
	for _, v := range values {
		n, err := strconv.Atoi(v)
		if err != nil {
			return models.VariableOpaque
		}
		if !(len(v) == 4 && n >= 2000 && n <= 2030) {
			allYears = false
		}
		if !(len(v) == 2 && n >= 1 && n <= 12) {
			allMonths = false
		}
	}
	switch {
	case allYears:
		return models.VariableYear
	case allMonths:
		return models.VariableMonth
	default:
		return models.VariableOpaque
	}
}

func allEqual(values []string) bool {
	for _, v := range values[1:] {
		if v != values[0] {
			return false
		}
	}
	return true
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]bool)
	var result []string
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			result = append(result, v)
		}
	}
	return result
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
