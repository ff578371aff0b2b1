package reportparse

import (
	"regexp"
	"strconv"
	"strings"
)

var sectionHeading = regexp.MustCompile(`(?im)^[ \t]*SECTION[ \t]+([1-6])\b[^\n]*$`)

// splitSections cuts text at "SECTION n" headings. The heading line itself
// is not part of the body. Repeated headings (page headers) append.
func splitSections(text string) map[int]string {
	locs := sectionHeading.FindAllStringSubmatchIndex(text, -1)
	sections := make(map[int]string, len(locs))
	for i, loc := range locs {
		n, _ := strconv.Atoi(text[loc[2]:loc[3]])
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := strings.TrimSpace(text[loc[1]:end])
		if body == "" {
			if _, ok := sections[n]; !ok {
				sections[n] = ""
			}
			continue
		}
		if prev := sections[n]; prev != "" {
			body = prev + "\n" + body
		}
		sections[n] = body
	}
	return sections
}
