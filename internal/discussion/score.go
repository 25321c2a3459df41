package discussion

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// DefaultScore is used when a critique carries no recognizable score for a participant.
const DefaultScore = 5

const scoreNumber = `(\d+(?:\.\d+)?)`

// namedScorePatterns are tried in order; %s is the quoted participant name.
var namedScorePatterns = []string{
	`(?i)%s\s*[:：]\s*` + scoreNumber + `\s*/\s*10`,
	`(?i)%s\s*[:：]\s*` + scoreNumber + `\s*分`,
	`(?i)%s[^\n]*?` + scoreNumber + `\s*/\s*10`,
	`(?i)%s[^\n]*?` + scoreNumber + `\s*分`,
}

var overallScorePattern = regexp.MustCompile(`(?i)(?:overall|score|总分|评分)\s*[:：]?\s*` + scoreNumber + `\s*(?:/\s*10|分)`)

// ExtractScore finds the score the critique gives to name. others are the names of the
// remaining evaluated participants and bound name's section for the overall patterns.
func ExtractScore(critique, name string, others []string) int {
	if name == "" {
		return DefaultScore
	}
	quoted := regexp.QuoteMeta(name)
	for _, p := range namedScorePatterns {
		re := regexp.MustCompile(strings.Replace(p, "%s", quoted, 1))
		if m := re.FindStringSubmatch(critique); m != nil {
			if score, ok := parseScore(m[1]); ok {
				return score
			}
		}
	}

	section := sectionFor(critique, name, others)
	if m := overallScorePattern.FindStringSubmatch(section); m != nil {
		if score, ok := parseScore(m[1]); ok {
			return score
		}
	}
	return DefaultScore
}

// sectionFor returns the part of critique that talks about name: from its first mention
// up to the next mention of another participant. When name is never mentioned and it is
// the only participant under review, the whole critique is its section.
func sectionFor(critique, name string, others []string) string {
	lower := strings.ToLower(critique)
	start := strings.Index(lower, strings.ToLower(name))
	if start < 0 {
		if len(others) == 0 {
			return critique
		}
		return ""
	}
	end := len(critique)
	for _, o := range others {
		if o == "" {
			continue
		}
		if i := strings.Index(lower[start+len(name):], strings.ToLower(o)); i >= 0 && start+len(name)+i < end {
			end = start + len(name) + i
		}
	}
	return critique[start:end]
}

func parseScore(s string) (int, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	score := int(math.Round(f))
	if score < 1 {
		score = 1
	}
	if score > 10 {
		score = 10
	}
	return score, true
}
