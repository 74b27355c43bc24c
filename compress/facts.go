package compress

import (
	"regexp"
	"strings"

	"github.com/samber/lo"
)

var (
	urlRe     = regexp.MustCompile(`https?://[^\s<>"{}|\\^` + "`" + `\[\]]+`)
	fileRe    = regexp.MustCompile(`(?i)\b[\w./-]+\.(go|py|txt|md|json|yaml|yml|toml|cfg|ini|sh|bash|js|ts|html|css|sql|mod|sum)\b`)
	versionRe = regexp.MustCompile(`(?i)\b(?:python|go|node|v\.?|version|ver\.?)\s*(\d+\.\d+(?:\.\d+)?)\b`)
	dateRe    = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	identRe   = regexp.MustCompile(`\b[0-9a-f]{7,40}\b`)
)

// ExtractFacts pulls the durable bits out of an observation: URLs, file
// paths, version numbers, dates and hex identifiers. When nothing matches
// it falls back to the first 150 characters so a fact is never empty for
// non-trivial input.
func ExtractFacts(text string) string {
	var facts []string

	if urls := lo.Uniq(urlRe.FindAllString(text, -1)); len(urls) > 0 {
		facts = append(facts, "urls: "+strings.Join(firstN(urls, 3), ", "))
	}
	if files := lo.Uniq(fileRe.FindAllString(text, -1)); len(files) > 0 {
		facts = append(facts, "files: "+strings.Join(firstN(files, 3), ", "))
	}

	var versions []string
	for _, m := range versionRe.FindAllStringSubmatch(text, -1) {
		versions = append(versions, m[1])
	}
	if versions = lo.Uniq(versions); len(versions) > 0 {
		facts = append(facts, "versions: "+strings.Join(firstN(versions, 2), ", "))
	}

	if dates := lo.Uniq(dateRe.FindAllString(text, -1)); len(dates) > 0 {
		facts = append(facts, "dates: "+strings.Join(firstN(dates, 2), ", "))
	}
	if ids := lo.Uniq(identRe.FindAllString(text, -1)); len(ids) > 0 {
		facts = append(facts, "ids: "+strings.Join(firstN(ids, 2), ", "))
	}

	if len(facts) == 0 {
		clean := strings.TrimSpace(strings.TrimPrefix(text, "Observation:"))
		if len(clean) > 150 {
			clean = clean[:150]
		}
		return strings.TrimSpace(clean)
	}

	return strings.Join(facts, " | ")
}

// FactImportance scores a fact for L3 insertion. Concrete artifacts (URLs,
// files, versions) rank above free text.
func FactImportance(fact string) float64 {
	importance := 0.4
	if strings.Contains(fact, "urls: ") {
		importance += 0.2
	}
	if strings.Contains(fact, "files: ") {
		importance += 0.1
	}
	if strings.Contains(fact, "versions: ") || strings.Contains(fact, "dates: ") {
		importance += 0.1
	}
	if importance > 1 {
		importance = 1
	}
	return importance
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
