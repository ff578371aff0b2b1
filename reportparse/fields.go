package reportparse

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Fields are the structured values mapped from a complete report.
// Vocabulary fields hold canonical v1 values.
type Fields struct {
	IncidentDate string     `json:"incident_date,omitempty"` // YYYY-MM-DD
	IncidentAt   *time.Time `json:"incident_at,omitempty"`
	VehicleYear  *int       `json:"vehicle_year,omitempty"`
	VehicleMake  string     `json:"vehicle_make,omitempty"`
	VehicleModel string     `json:"vehicle_model,omitempty"`
	Address      string     `json:"address,omitempty"`
	City         string     `json:"city,omitempty"`
	County       string     `json:"county,omitempty"`
	Intersection string     `json:"intersection,omitempty"`
	Severity     string     `json:"severity,omitempty"`
	DamageAreas  []string   `json:"damage_areas,omitempty"`
	Casualties   *int       `json:"casualties,omitempty"`
	AVMode       string     `json:"av_mode,omitempty"`
	Weather      string     `json:"weather,omitempty"`
	Narrative    string     `json:"narrative,omitempty"`
}

type fieldID int

const (
	fDate fieldID = iota
	fTime
	fVehicleYear
	fMake
	fModel
	fAddress
	fCity
	fCounty
	fIntersection
	fSeverity
	fAreas
	fCasualties
	fMode
	fWeather
)

var fieldLabels = map[string]fieldID{
	"date of accident":   fDate,
	"date of collision":  fDate,
	"accident date":      fDate,
	"date":               fDate,
	"time of accident":   fTime,
	"time of collision":  fTime,
	"accident time":      fTime,
	"time":               fTime,
	"vehicle year":       fVehicleYear,
	"year":               fVehicleYear,
	"vehicle make":       fMake,
	"make":               fMake,
	"vehicle model":      fModel,
	"model":              fModel,
	"address/location":   fAddress,
	"location address":   fAddress,
	"street address":     fAddress,
	"address":            fAddress,
	"location":           fAddress,
	"city":               fCity,
	"county":             fCounty,
	"intersection type":  fIntersection,
	"intersection":       fIntersection,
	"traffic control":    fIntersection,
	"damage severity":    fSeverity,
	"severity":           fSeverity,
	"damage":             fSeverity,
	"damaged areas":      fAreas,
	"damaged area":       fAreas,
	"area of damage":     fAreas,
	"areas damaged":      fAreas,
	"number injured":     fCasualties,
	"number of injured":  fCasualties,
	"injured":            fCasualties,
	"injuries":           fCasualties,
	"vehicle mode":       fMode,
	"driving mode":       fMode,
	"av mode":            fMode,
	"mode":               fMode,
	"weather conditions": fWeather,
	"weather":            fWeather,
}

// labelPattern matches any known label followed by a colon. Longer labels
// come first so "Vehicle Make" wins over "Make" at the same offset.
var labelPattern = func() *regexp.Regexp {
	labels := make([]string, 0, len(fieldLabels))
	for l := range fieldLabels {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool {
		if len(labels[i]) != len(labels[j]) {
			return len(labels[i]) > len(labels[j])
		}
		return labels[i] < labels[j]
	})
	alts := make([]string, len(labels))
	for i, l := range labels {
		alts[i] = strings.ReplaceAll(regexp.QuoteMeta(l), " ", `\s+`)
	}
	return regexp.MustCompile(`(?i)\b(` + strings.Join(alts, "|") + `)\s*:`)
}()

// Sections searched for labeled values, in order. Section 5 is narrative.
var labelSections = []int{2, 1, 3, 4, 6}

// labeledValues collects the first value seen for every field. A line may
// carry several labels; a label with nothing after it takes the next line
// when that line has no label of its own.
func labeledValues(sections map[int]string) map[fieldID]string {
	vals := make(map[fieldID]string)
	for _, n := range labelSections {
		lines := strings.Split(sections[n], "\n")
		for i, line := range lines {
			locs := labelPattern.FindAllStringSubmatchIndex(line, -1)
			for j, loc := range locs {
				id := fieldLabels[strings.Join(strings.Fields(strings.ToLower(line[loc[2]:loc[3]])), " ")]
				end := len(line)
				if j+1 < len(locs) {
					end = locs[j+1][0]
				}
				v := strings.Trim(line[loc[1]:end], " \t,;")
				if v == "" && len(locs) == 1 && i+1 < len(lines) && !labelPattern.MatchString(lines[i+1]) {
					v = strings.TrimSpace(lines[i+1])
				}
				if _, seen := vals[id]; !seen && v != "" {
					vals[id] = v
				}
			}
		}
	}
	return vals
}

func mapFields(sections map[int]string, loc *time.Location) *Fields {
	vals := labeledValues(sections)
	f := &Fields{
		VehicleMake:  vals[fMake],
		VehicleModel: vals[fModel],
		Address:      vals[fAddress],
		City:         vals[fCity],
		County:       vals[fCounty],
		Intersection: Intersection(vals[fIntersection]),
		Severity:     Severity(vals[fSeverity]),
		DamageAreas:  damageAreas(vals[fAreas]),
		Casualties:   casualties(vals[fCasualties]),
		AVMode:       AVMode(vals[fMode]),
		Weather:      Weather(vals[fWeather]),
		Narrative:    strings.Join(strings.Fields(sections[5]), " "),
		VehicleYear:  vehicleYear(vals[fVehicleYear]),
	}
	if d, ok := parseDate(vals[fDate], loc); ok {
		f.IncidentDate = d.Format("2006-01-02")
		at := d
		if h, m, ok := parseClock(vals[fTime]); ok {
			at = time.Date(d.Year(), d.Month(), d.Day(), h, m, 0, 0, loc)
		}
		f.IncidentAt = &at
	}
	return f
}

var dateLayouts = []string{
	"1/2/2006",
	"1-2-2006",
	"2006-01-02",
	"1/2/06",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"2 January 2006",
}

// parseDate accepts the numeric and spelled-out forms seen on OL 316.
func parseDate(s string, loc *time.Location) (time.Time, bool) {
	s = strings.Join(strings.Fields(strings.ReplaceAll(s, ".", "")), " ")
	s = strings.Replace(s, "Sept ", "Sep ", 1)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	// A date followed by other text, e.g. "03/14/2024 (Thursday)".
	if f := strings.Fields(s); len(f) > 1 {
		for _, layout := range dateLayouts[:4] {
			if t, err := time.ParseInLocation(layout, f[0], loc); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

var clockLayouts = []string{"15:04", "15:04:05", "3:04 PM", "3:04PM", "3 PM", "3PM", "1504"}

// parseClock returns hour and minute from "14:05", "2:05 PM", "2:05 p.m.".
func parseClock(s string) (int, int, bool) {
	s = strings.ToUpper(strings.Join(strings.Fields(strings.ReplaceAll(s, ".", "")), " "))
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Hour(), t.Minute(), true
		}
	}
	return 0, 0, false
}

var yearPattern = regexp.MustCompile(`\b(19[89]\d|20\d\d)\b`)

func vehicleYear(s string) *int {
	m := yearPattern.FindString(s)
	if m == "" {
		return nil
	}
	y, _ := strconv.Atoi(m)
	return &y
}

var (
	leadingInt   = regexp.MustCompile(`^\d+`)
	countWords   = map[string]int{"none": 0, "no": 0, "zero": 0, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10}
	areaSplitter = regexp.MustCompile(`\s*(?:[,;/&+]|\band\b)\s*`)
	areaAliases  = map[string]string{
		"left-front":  "front-left",
		"right-front": "front-right",
		"left-rear":   "rear-left",
		"right-rear":  "rear-right",
		"back":        "rear",
	}
)

// casualties reads "0", "2 (minor)", "None", "two". Unknown text is nil.
func casualties(s string) *int {
	s = strings.ToLower(strings.TrimSpace(s))
	if m := leadingInt.FindString(s); m != "" {
		n, err := strconv.Atoi(m)
		if err != nil {
			return nil
		}
		return &n
	}
	if f := strings.Fields(s); len(f) > 0 {
		if n, ok := countWords[strings.Trim(f[0], ".,;")]; ok {
			return &n
		}
	}
	return nil
}

// damageAreas splits a list like "Front Left, rear and roof" into
// lower-case, hyphen-joined, de-duplicated names.
func damageAreas(s string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, part := range areaSplitter.Split(strings.ToLower(s), -1) {
		name := strings.Join(strings.Fields(part), "-")
		if name == "" {
			continue
		}
		if a, ok := areaAliases[name]; ok {
			name = a
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}
