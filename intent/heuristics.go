package intent

import (
	"regexp"
	"strings"
)

// Pattern tables for the heuristic pass. Ordering matters: the first
// matching intent pattern wins, so the more specific classes come first.
var (
	constitutionalRe = regexp.MustCompile(`(?i)\bconstitut|declaration of rights|bill of rights|\bsupreme law\b|\bsection\s+\d+\s+of the constitution`)
	caseLawRe        = regexp.MustCompile(`(?i)\bcase law\b|\bprecedent|\bjudgment|\bjudgement|\bcourt held\b|\bruled\b|\bZWSC\b|\bZWHC\b|\bSC\s?\d+/\d+|\bv\.?\s+[A-Z]\w+`)
	proceduralRe     = regexp.MustCompile(`(?i)\bhow do i\b|\bhow to\b|\bprocedure|\bprocess for\b|\bsteps?\b|\bfile\b|\blodge\b|\bapply for\b|\bregister\b|\bappeal\b|\bform\b`)
	rightsRe         = regexp.MustCompile(`(?i)\bmy rights?\b|\brights? of\b|\bentitle|\bfreedom of\b|\bcan (they|my employer|the police|he|she)\b|\bis it legal\b|\ballowed to\b`)
	statutoryRe      = regexp.MustCompile(`(?i)\bact\b|\bchapter\s+\d+:\d+|\bstatutory instrument\b|\bSI\s+\d+|\bsection\s+\d+|\bregulation|\bminimum wage\b|\blabour\b|\bcriminal law\b|\bcompanies\b`)
	summarizationRe  = regexp.MustCompile(`(?i)\bsummari[sz]e\b|\bsummary of\b|\boverview of\b|\bexplain the\b.*\b(act|case|judgment)\b|\bwhat does\b.*\bsay\b`)
	conversationalRe = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|thanks?|thank you|good (morning|afternoon|evening)|how are you|who are you|what can you do)\b`)
)

// professionalRe captures practitioner vocabulary that flips user_type.
var professionalRe = regexp.MustCompile(`(?i)\bultra vires\b|\bratio decidendi\b|\bobiter\b|\bstare decisis\b|\blocus standi\b|\bmy client\b|\bour client\b|\bin re\b|\binter partes\b|\bprima facie\b|\bsubsidiary legislation\b|\bjurisprudence\b|\bcause of action\b|\bjusticiab`)

// citationRe counts explicit legal citations, a strong complexity signal.
var citationRe = regexp.MustCompile(`(?i)\bsection\s+\d+|\bchapter\s+\d+:\d+|\bSI\s+\d+/\d+|\bSC\s?\d+/\d+|\bHH\s?\d+/\d+`)

// comparatorRe flags multi-part analytical questions.
var comparatorRe = regexp.MustCompile(`(?i)\bcompare\b|\bversus\b|\bconflict\b|\breconcile\b|\bdistinguish\b|\binteract|\btension between\b|\bboth\b.*\band\b`)

// classifyHeuristic labels a query without any model call. Confidence
// reflects how decisive the pattern evidence was.
func classifyHeuristic(query string) *Classification {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return &Classification{
			Intent:     IntentConversational,
			Complexity: ComplexitySimple,
			UserType:   UserTypeCitizen,
			Confidence: 1.0,
		}
	}

	c := &Classification{UserType: UserTypeCitizen}

	switch {
	case conversationalRe.MatchString(trimmed) && !statutoryRe.MatchString(trimmed):
		c.Intent = IntentConversational
		c.Confidence = 0.95
	case summarizationRe.MatchString(trimmed):
		c.Intent = IntentSummarization
		c.Confidence = 0.85
	case constitutionalRe.MatchString(trimmed):
		c.Intent = IntentConstitutional
		c.Confidence = 0.9
	case caseLawRe.MatchString(trimmed):
		c.Intent = IntentCaseLaw
		c.Confidence = 0.85
	case proceduralRe.MatchString(trimmed):
		c.Intent = IntentProcedural
		c.Confidence = 0.85
	case rightsRe.MatchString(trimmed):
		c.Intent = IntentRights
		c.Confidence = 0.85
	case statutoryRe.MatchString(trimmed):
		c.Intent = IntentStatutory
		c.Confidence = 0.85
	default:
		// No decisive pattern. Default to statutory with low confidence
		// so the LLM fallback gets a chance to refine.
		c.Intent = IntentStatutory
		c.Confidence = 0.5
	}

	// Citing precise authority ("section 50", "chapter 5:04") is
	// practitioner behavior even without Latin vocabulary.
	if professionalRe.MatchString(trimmed) || citationRe.MatchString(trimmed) {
		c.UserType = UserTypeProfessional
	}

	c.Complexity = scoreComplexity(trimmed, c.UserType)
	c.LegalAreas = detectAreas(trimmed)
	c.ReasoningFramework = frameworkFor(c.Intent)
	return c
}

// scoreComplexity tiers the query by length, citation density, and
// analytical structure.
func scoreComplexity(query, userType string) string {
	words := len(strings.Fields(query))
	citations := len(citationRe.FindAllString(query, -1))
	comparative := comparatorRe.MatchString(query)
	professional := userType == UserTypeProfessional

	score := 0
	switch {
	case words > 40:
		score += 3
	case words > 20:
		score += 2
	case words > 10:
		score += 1
	}
	if citations >= 2 {
		score += 2
	} else if citations == 1 {
		score += 1
	}
	if comparative {
		score += 2
	}
	if professional {
		score += 1
	}

	switch {
	case score >= 6:
		return ComplexityExpert
	case score >= 4:
		return ComplexityComplex
	case score >= 2:
		return ComplexityModerate
	default:
		return ComplexitySimple
	}
}

// areaMarkers maps legal areas to vocabulary. Scanned in a fixed order so
// LegalAreas output is deterministic.
var areaMarkers = []struct {
	area string
	re   *regexp.Regexp
}{
	{"labour", regexp.MustCompile(`(?i)\blabour\b|\bemploy|\bdismissal\b|\bretrench|\bwage|\bworkplace\b|\btrade union\b`)},
	{"constitutional", regexp.MustCompile(`(?i)\bconstitut|\bdeclaration of rights\b|\bfundamental rights?\b`)},
	{"criminal", regexp.MustCompile(`(?i)\bcriminal\b|\barrest|\bbail\b|\bprosecut|\btheft\b|\bassault\b|\bpolice\b`)},
	{"family", regexp.MustCompile(`(?i)\bmarriage\b|\bdivorce\b|\bcustody\b|\bmaintenance\b|\binheritance\b|\bestate\b`)},
	{"company", regexp.MustCompile(`(?i)\bcompany\b|\bcompanies\b|\bdirector|\bshareholder|\binsolven|\bPBC\b`)},
	{"land", regexp.MustCompile(`(?i)\bland\b|\bproperty\b|\blease\b|\beviction\b|\btitle deed|\btenant\b|\blandlord\b`)},
	{"tax", regexp.MustCompile(`(?i)\btax\b|\bZIMRA\b|\bVAT\b|\bcustoms\b|\bduty\b|\blevy\b`)},
}

func detectAreas(query string) []string {
	var areas []string
	for _, m := range areaMarkers {
		if m.re.MatchString(query) {
			areas = append(areas, m.area)
		}
	}
	return areas
}

// frameworkFor picks the reasoning framework synthesis will be prompted
// with for each intent class.
func frameworkFor(intent string) string {
	switch intent {
	case IntentConstitutional:
		return "constitutional analysis"
	case IntentCaseLaw:
		return "precedent analysis"
	case IntentProcedural:
		return "procedural guidance"
	case IntentRights:
		return "rights analysis"
	case IntentSummarization:
		return "document summary"
	case IntentConversational:
		return "conversational"
	default:
		return "statutory interpretation"
	}
}
