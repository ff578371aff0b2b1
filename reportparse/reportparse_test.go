package reportparse_test

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/avreports/reportparse"
)

const fullReport = `STATE OF CALIFORNIA
REPORT OF TRAFFIC COLLISION INVOLVING AN AUTONOMOUS VEHICLE (OL 316)
SECTION 1 - MANUFACTURER'S INFORMATION
Manufacturer Name: Zenith Autonomy Inc.
SECTION 2 - ACCIDENT INFORMATION
Date of Accident: 03/14/2024 Time of Accident: 2:35 PM
Vehicle Year: 2023 Make: Jaguar Model: I-PACE
Address/Location: Market St & 5th St
City: San Francisco County: San Francisco
Intersection: Traffic signal
Damage: Major
Damaged Area: Front Left, rear and roof
Number Injured: 1
SECTION 3 - OTHER PARTY'S INFORMATION
Vehicle Year: 2015 Make: Toyota Model: Camry
SECTION 4 - CONDITIONS
Mode: Autonomous Mode
Weather:
Raining
SECTION 5 - ACCIDENT DETAILS - DESCRIPTION
A Zenith AV traveling northbound
was struck from behind   at low speed.
SECTION 6 - SIGNATURE
Name: J. Doe`

func TestParseText_Complete(t *testing.T) {
	// WHAT: A well-formed report maps every labeled field.
	// WHY: This is the happy path every downstream query depends on.
	res := reportparse.ParseText(fullReport)
	if res.Completeness != reportparse.Complete {
		t.Fatalf("completeness = %s (%v)", res.Completeness, res.Err)
	}
	if res.FailureClass != reportparse.FailNone || res.Err != nil {
		t.Fatalf("failure = %q / %v", res.FailureClass, res.Err)
	}
	f := res.Fields
	if f == nil {
		t.Fatal("nil fields")
	}

	if f.IncidentDate != "2024-03-14" {
		t.Errorf("incident date = %q", f.IncidentDate)
	}
	want := time.Date(2024, 3, 14, 14, 35, 0, 0, time.UTC)
	if f.IncidentAt == nil || !f.IncidentAt.Equal(want) {
		t.Errorf("incident at = %v, want %v", f.IncidentAt, want)
	}
	if f.VehicleYear == nil || *f.VehicleYear != 2023 {
		t.Errorf("vehicle year = %v, want 2023 (section 2 wins)", f.VehicleYear)
	}
	checks := map[string][2]string{
		"make":         {f.VehicleMake, "Jaguar"},
		"model":        {f.VehicleModel, "I-PACE"},
		"address":      {f.Address, "Market St & 5th St"},
		"city":         {f.City, "San Francisco"},
		"county":       {f.County, "San Francisco"},
		"intersection": {f.Intersection, "signalized"},
		"severity":     {f.Severity, "severe"},
		"av mode":      {f.AVMode, "autonomous"},
		"weather":      {f.Weather, "rain"},
		"narrative":    {f.Narrative, "A Zenith AV traveling northbound was struck from behind at low speed."},
	}
	for name, c := range checks {
		if c[0] != c[1] {
			t.Errorf("%s = %q, want %q", name, c[0], c[1])
		}
	}
	if !reflect.DeepEqual(f.DamageAreas, []string{"front-left", "rear", "roof"}) {
		t.Errorf("damage areas = %v", f.DamageAreas)
	}
	if f.Casualties == nil || *f.Casualties != 1 {
		t.Errorf("casualties = %v, want 1", f.Casualties)
	}
	if len(res.Sections) != 6 {
		t.Errorf("sections = %d, want 6", len(res.Sections))
	}
}

func TestParseText_MissingSections(t *testing.T) {
	// WHAT: A report without the description section is partial.
	// WHY: Raw text is kept for review; no fields are trusted.
	text := strings.Split(fullReport, "SECTION 5")[0]
	res := reportparse.ParseText(text)
	if res.Completeness != reportparse.Partial || res.FailureClass != reportparse.FailMissingSections {
		t.Fatalf("got %s/%s, want partial/missing_sections", res.Completeness, res.FailureClass)
	}
	if res.Fields != nil {
		t.Error("fields must be nil on partial parse")
	}
	if res.RawText == "" {
		t.Error("raw text must be kept")
	}
	if res.Err == nil || !strings.Contains(res.Err.Error(), "5") {
		t.Errorf("err = %v, want mention of section 5", res.Err)
	}
}

func TestParseText_Empty(t *testing.T) {
	res := reportparse.ParseText("  \n\t ")
	if res.Completeness != reportparse.Partial || res.FailureClass != reportparse.FailEmptyText || !res.Unusable() {
		t.Fatalf("got %s/%s, want partial/empty_text", res.Completeness, res.FailureClass)
	}
}

func TestParseText_RepeatedHeadings(t *testing.T) {
	// WHAT: A section heading repeated on a second page appends its body.
	// WHY: Long descriptions continue under a page header.
	text := "SECTION 2\nCity: Austin\nSECTION 5\nFirst part.\nSECTION 5 (continued)\nSecond part."
	res := reportparse.ParseText(text)
	if res.Completeness != reportparse.Complete {
		t.Fatalf("completeness = %s", res.Completeness)
	}
	if res.Fields.Narrative != "First part. Second part." {
		t.Errorf("narrative = %q", res.Fields.Narrative)
	}
}

func TestParser_WithLocation(t *testing.T) {
	pst := time.FixedZone("PST", -8*3600)
	p := reportparse.New(reportparse.WithLocation(pst))
	res := p.ParseText("SECTION 2\nDate of Accident: January 5, 2024\nTime of Accident: 07:10\nSECTION 5\nx")
	if res.Fields == nil || res.Fields.IncidentAt == nil {
		t.Fatalf("no incident time: %+v", res)
	}
	want := time.Date(2024, 1, 5, 15, 10, 0, 0, time.UTC)
	if !res.Fields.IncidentAt.Equal(want) {
		t.Errorf("incident at = %v, want %v", res.Fields.IncidentAt.UTC(), want)
	}
}

func TestVocabulary(t *testing.T) {
	// WHAT: Free text maps onto the v1 vocabularies; unknown text is unclassified.
	// WHY: Aggregations group by these values.
	tests := []struct {
		fn   func(string) string
		in   string
		want string
	}{
		{reportparse.Severity, "Major", "severe"},
		{reportparse.Severity, "vehicle was totaled", "total-loss"},
		{reportparse.Severity, "Total Loss", "total-loss"},
		{reportparse.Severity, "minor scratches", "minor"},
		{reportparse.Severity, "Moderate", "moderate"},
		{reportparse.Severity, "None", "none"},
		{reportparse.Severity, "purple", "unclassified"},
		{reportparse.Severity, "", ""},
		{reportparse.Intersection, "Signalized intersection", "signalized"},
		{reportparse.Intersection, "4-way stop", "stop-sign"},
		{reportparse.Intersection, "Stop sign", "stop-sign"},
		{reportparse.Intersection, "traffic circle", "roundabout"},
		{reportparse.Intersection, "US-101 freeway", "highway"},
		{reportparse.Intersection, "uncontrolled", "uncontrolled"},
		{reportparse.Intersection, "parking lot", "unclassified"},
		{reportparse.AVMode, "Autonomous Mode", "autonomous"},
		{reportparse.AVMode, "Conventional Mode", "conventional"},
		{reportparse.AVMode, "manually disengaged", "conventional"},
		{reportparse.AVMode, "unknown", "unclassified"},
		{reportparse.Weather, "Clear", "clear"},
		{reportparse.Weather, "Overcast", "cloudy"},
		{reportparse.Weather, "light drizzle", "rain"},
		{reportparse.Weather, "Fog", "fog"},
		{reportparse.Weather, "Snowing", "snow"},
		{reportparse.Weather, "Windy", "wind"},
		{reportparse.Weather, "terrain", "unclassified"},
	}
	for _, tt := range tests {
		if got := tt.fn(tt.in); got != tt.want {
			t.Errorf("%q → %q, want %q", tt.in, got, tt.want)
		}
	}
}
