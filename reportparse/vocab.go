package reportparse

import (
	"strings"
	"unicode"
)

// VocabularyVersion tags every record mapped with the vocabularies below.
const VocabularyVersion = "v1"

// Unclassified is the value of any non-empty text no rule recognizes.
const Unclassified = "unclassified"

type vocabRule struct {
	value    string
	keywords []string
}

// First matching rule wins, so rules are ordered from most to least specific.
var (
	severityVocab = []vocabRule{
		{"total-loss", []string{"total loss", "totaled", "totalled", "total"}},
		{"severe", []string{"severe", "major", "heavy", "extensive", "disabling"}},
		{"moderate", []string{"moderate", "medium", "functional"}},
		{"minor", []string{"minor", "light", "minimal", "slight", "scratch", "scratches", "scuff", "scuffs"}},
		{"none", []string{"none", "no damage", "undamaged"}},
	}
	intersectionVocab = []vocabRule{
		{"signalized", []string{"signalized", "signal", "signals", "traffic light", "traffic lights", "traffic signal", "signal controlled"}},
		{"stop-sign", []string{"stop sign", "stop signs", "all way stop", "4 way stop", "four way stop", "stop"}},
		{"roundabout", []string{"roundabout", "traffic circle", "rotary"}},
		{"highway", []string{"highway", "freeway", "interstate", "expressway", "on ramp", "off ramp"}},
		{"uncontrolled", []string{"uncontrolled", "no control", "no traffic control", "none", "midblock", "mid block", "no intersection", "not an intersection"}},
	}
	avModeVocab = []vocabRule{
		{"conventional", []string{"conventional", "manual", "manually", "disengaged", "conventional mode"}},
		{"autonomous", []string{"autonomous", "autonomously", "self driving", "automated", "av mode", "driverless"}},
	}
	weatherVocab = []vocabRule{
		{"snow", []string{"snow", "snowing", "snowy", "sleet", "hail", "ice", "icy"}},
		{"rain", []string{"rain", "raining", "rainy", "drizzle", "showers", "storm", "stormy"}},
		{"fog", []string{"fog", "foggy", "mist", "misty", "haze", "hazy", "smoke"}},
		{"wind", []string{"wind", "windy", "gusty"}},
		{"cloudy", []string{"cloudy", "overcast", "clouds", "partly cloudy"}},
		{"clear", []string{"clear", "sunny", "fair"}},
	}
)

// Severity maps free text to none, minor, moderate, severe or total-loss.
func Severity(s string) string { return classify(s, severityVocab) }

// Intersection maps free text to signalized, stop-sign, roundabout,
// uncontrolled or highway.
func Intersection(s string) string { return classify(s, intersectionVocab) }

// AVMode maps free text to autonomous or conventional.
func AVMode(s string) string { return classify(s, avModeVocab) }

// Weather maps free text to clear, cloudy, rain, fog, snow or wind.
func Weather(s string) string { return classify(s, weatherVocab) }

// classify returns "" for blank input and Unclassified when no rule matches.
func classify(s string, rules []vocabRule) string {
	words := wordString(s)
	if words == "  " {
		return ""
	}
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(words, " "+kw+" ") {
				return r.value
			}
		}
	}
	return Unclassified
}

// wordString lower-cases s and replaces every run of non-alphanumerics with
// one space, padded on both ends so phrases match on word boundaries.
func wordString(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return " " + strings.Join(fields, " ") + " "
}
