// Package noteparse pulls structured hints out of AI-generated report
// text: vitals, candidate differential diagnoses, procedure details, and
// a visit-type classification. Everything here is a best-effort heuristic
// over free text; callers treat absent values as "not found", never as an
// error.
package noteparse

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Visit types produced by ClassifyVisitType.
const (
	VisitWellness     = "wellness"
	VisitIllness      = "illness"
	VisitProcedure    = "procedure"
	VisitEmergency    = "emergency"
	VisitRecheck      = "recheck"
	VisitUnclassified = "unclassified"
)

// Vitals holds normalized measurements extracted from report text.
// Temperature is Fahrenheit, weight is kilograms. Zero means not found.
type Vitals struct {
	TemperatureF    float64
	HeartRate       int
	RespiratoryRate int
	WeightKg        float64
}

// IsZero reports whether nothing was extracted.
func (v Vitals) IsZero() bool {
	return v.TemperatureF == 0 && v.HeartRate == 0 && v.RespiratoryRate == 0 && v.WeightKg == 0
}

// Summary renders the extracted vitals in the shorthand used in consult
// vitals fields. Empty when nothing was extracted.
func (v Vitals) Summary() string {
	var parts []string
	if v.TemperatureF > 0 {
		parts = append(parts, fmt.Sprintf("T %.1fF", v.TemperatureF))
	}
	if v.HeartRate > 0 {
		parts = append(parts, fmt.Sprintf("HR %d", v.HeartRate))
	}
	if v.RespiratoryRate > 0 {
		parts = append(parts, fmt.Sprintf("RR %d", v.RespiratoryRate))
	}
	if v.WeightKg > 0 {
		parts = append(parts, fmt.Sprintf("Wt %.1f kg", v.WeightKg))
	}
	return strings.Join(parts, ", ")
}

// Procedure holds details extracted from a procedure report.
type Procedure struct {
	Name       string
	Anesthesia string
}

// SOAP holds the four note sections split out of a full SOAP report.
type SOAP struct {
	Subjective string
	Objective  string
	Assessment string
	Plan       string
}

var (
	tempRe   = regexp.MustCompile(`(?i)\btemp(?:erature)?\.?\s*[:=]?\s*(\d{2,3}(?:\.\d+)?)\s*(?:°\s*)?([cf])?\b`)
	hrRe     = regexp.MustCompile(`(?i)\b(?:heart\s*rate|hr|pulse)\.?\s*[:=]?\s*(\d{2,3})\b`)
	rrRe     = regexp.MustCompile(`(?i)\b(?:respiratory\s*rate|respiration|resp\.?|rr)\s*[:=]?\s*(\d{1,3})\b`)
	weightRe = regexp.MustCompile(`(?i)\b(?:weight|wt)\.?\s*[:=]?\s*(\d{1,3}(?:\.\d+)?)\s*(kg|kgs|kilograms?|lb|lbs|pounds?)?\b`)
)

// ExtractVitals scans report text for temperature, heart rate,
// respiratory rate, and weight. Celsius converts to Fahrenheit, pounds
// to kilograms. An unlabeled temperature under 50 is assumed Celsius.
func ExtractVitals(text string) Vitals {
	var v Vitals

	if m := tempRe.FindStringSubmatch(text); m != nil {
		val, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			unit := strings.ToLower(m[2])
			if unit == "c" || (unit == "" && val < 50) {
				val = val*9/5 + 32
			}
			v.TemperatureF = round1(val)
		}
	}
	if m := hrRe.FindStringSubmatch(text); m != nil {
		v.HeartRate, _ = strconv.Atoi(m[1])
	}
	if m := rrRe.FindStringSubmatch(text); m != nil {
		v.RespiratoryRate, _ = strconv.Atoi(m[1])
	}
	if m := weightRe.FindStringSubmatch(text); m != nil {
		val, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			unit := strings.ToLower(m[2])
			if strings.HasPrefix(unit, "lb") || strings.HasPrefix(unit, "pound") {
				val *= 0.45359237
			}
			v.WeightKg = round1(val)
		}
	}
	return v
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}

var (
	differentialHeadingRe = regexp.MustCompile(`(?i)^(?:possible\s+|top\s+)?differentials?(?:\s+diagnos(?:es|is))?\s*:?\s*$`)
	listItemRe            = regexp.MustCompile(`^(?:\d+[.)]\s*|[-*•]\s+)(.+)$`)
)

// ExtractDifferentials returns the candidate diagnosis names listed under
// a differentials heading, in the order written. Items keep only the name
// part, dropping rationale after "-", ":" or parentheses.
func ExtractDifferentials(text string) []string {
	var out []string
	inList := false

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if !inList {
			if differentialHeadingRe.MatchString(trimmed) {
				inList = true
			}
			continue
		}
		if trimmed == "" {
			if len(out) > 0 {
				break
			}
			// Blank between heading and first item.
			continue
		}
		m := listItemRe.FindStringSubmatch(trimmed)
		if m == nil {
			break
		}
		if name := cleanDifferential(m[1]); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func cleanDifferential(item string) string {
	item = strings.Trim(item, "*_ \t")
	for _, sep := range []string{" - ", ": ", " ("} {
		if idx := strings.Index(item, sep); idx > 0 {
			item = item[:idx]
		}
	}
	return strings.TrimRight(strings.TrimSpace(item), ".")
}

var (
	procedureNameRe = regexp.MustCompile(`(?im)^\s*procedure(?:\s+(?:performed|name))?\s*[:=]\s*(.+)$`)
	anesthesiaRe    = regexp.MustCompile(`(?im)^\s*(?:anesthesia|anesthetic)(?:\s+(?:used|protocol|type))?\s*[:=]\s*(.+)$`)
)

// ExtractProcedure pulls the procedure name and anesthesia mention out of
// a procedure report.
func ExtractProcedure(text string) Procedure {
	var p Procedure

	if m := procedureNameRe.FindStringSubmatch(text); m != nil {
		p.Name = strings.TrimSpace(m[1])
	}
	if m := anesthesiaRe.FindStringSubmatch(text); m != nil {
		p.Anesthesia = strings.TrimSpace(m[1])
		return p
	}
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "general anesthesia"):
		p.Anesthesia = "general"
	case strings.Contains(lower, "local anesthesia"):
		p.Anesthesia = "local"
	case strings.Contains(lower, "sedation"):
		p.Anesthesia = "sedation"
	}
	return p
}

// visitKeywords is ordered so classification is deterministic.
var visitKeywords = []struct {
	visitType string
	pattern   *regexp.Regexp
}{
	{VisitWellness, regexp.MustCompile(`(?i)\b(?:wellness|annual|vaccin(?:e|es|ation|ations)|booster|preventive|preventative|check-?up|deworm(?:ing)?|heartworm)\b`)},
	{VisitIllness, regexp.MustCompile(`(?i)\b(?:vomit(?:ing|ed)?|diarrhea|lethargy|lethargic|anorexia|inappetence|sick|illness|infection|fever|cough(?:ing)?|sneez(?:e|ing)|pruritus|limping|pain)\b`)},
	{VisitProcedure, regexp.MustCompile(`(?i)\b(?:procedure|surgery|surgical|dental|extraction|spay|neuter|castration|biopsy|anesthesia|anesthetic|sutures?)\b`)},
	{VisitEmergency, regexp.MustCompile(`(?i)\b(?:emergency|urgent|trauma|collapsed?|seizures?|toxicity|poison(?:ing|ed)?|hit by car|bloat|gdv|dyspnea|hemorrhage)\b`)},
	{VisitRecheck, regexp.MustCompile(`(?i)\b(?:recheck|re-?evaluation|follow-?up|follow up|progress exam|suture removal)\b`)},
}

// ClassifyVisitType scores keyword hits per visit category and returns
// the category with the most hits. A tie at the top or zero hits overall
// returns VisitUnclassified.
func ClassifyVisitType(text string) string {
	if strings.TrimSpace(text) == "" {
		return VisitUnclassified
	}

	best := ""
	bestScore := 0
	tied := false
	for _, vk := range visitKeywords {
		score := len(vk.pattern.FindAllStringIndex(text, -1))
		switch {
		case score > bestScore:
			best = vk.visitType
			bestScore = score
			tied = false
		case score == bestScore && score > 0:
			tied = true
		}
	}
	if bestScore == 0 || tied {
		return VisitUnclassified
	}
	return best
}

var soapHeadingRe = regexp.MustCompile(`(?im)^\s*(subjective|objective|assessment|plan|s|o|a|p)\s*:\s*`)

// SplitSOAP splits a full SOAP report into its sections by heading lines,
// accepting "Subjective:" or the single-letter "S:" forms. The second
// return is false when no heading was found, in which case callers keep
// the text whole. The first occurrence of a heading wins.
func SplitSOAP(text string) (SOAP, bool) {
	matches := soapHeadingRe.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return SOAP{}, false
	}

	var s SOAP
	for i, m := range matches {
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		section := strings.TrimSpace(text[m[1]:end])
		switch strings.ToLower(text[m[2]:m[3]]) {
		case "subjective", "s":
			if s.Subjective == "" {
				s.Subjective = section
			}
		case "objective", "o":
			if s.Objective == "" {
				s.Objective = section
			}
		case "assessment", "a":
			if s.Assessment == "" {
				s.Assessment = section
			}
		case "plan", "p":
			if s.Plan == "" {
				s.Plan = section
			}
		}
	}
	return s, true
}
