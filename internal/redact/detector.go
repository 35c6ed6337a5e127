package redact

import (
	"context"
	"regexp"
)

// Built-in entity class names. These mirror the classes a hosted DLP
// service reports so a project's info-type toggles work with either
// detector.
const (
	EntityEmailAddress     = "EMAIL_ADDRESS"
	EntityPhoneNumber      = "PHONE_NUMBER"
	EntityCreditCardNumber = "CREDIT_CARD_NUMBER"
	EntityIPAddress        = "IP_ADDRESS"
	EntityIBANCode         = "IBAN_CODE"
)

type pattern struct {
	infoType   string
	re         *regexp.Regexp
	likelihood Likelihood
}

// RegexDetector is the built-in local detector. It trades recall for
// zero external dependencies: matches are pattern-based and each class
// carries a fixed likelihood reflecting how ambiguous the pattern is.
type RegexDetector struct {
	patterns []pattern
}

// NewRegexDetector creates the built-in detector.
func NewRegexDetector() *RegexDetector {
	return &RegexDetector{patterns: []pattern{
		{
			infoType:   EntityEmailAddress,
			re:         regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
			likelihood: LikelihoodVeryLikely,
		},
		{
			infoType:   EntityIPAddress,
			re:         regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
			likelihood: LikelihoodLikely,
		},
		{
			infoType:   EntityCreditCardNumber,
			re:         regexp.MustCompile(`\b(?:\d[ \-]?){13,16}\b`),
			likelihood: LikelihoodLikely,
		},
		{
			infoType:   EntityIBANCode,
			re:         regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`),
			likelihood: LikelihoodLikely,
		},
		{
			// International or US formats with enough digits to not be a
			// plain number; ambiguous, so only POSSIBLE.
			infoType:   EntityPhoneNumber,
			re:         regexp.MustCompile(`\+?\d{1,3}[ \-.]?\(?\d{2,4}\)?[ \-.]?\d{3,4}[ \-.]?\d{3,4}`),
			likelihood: LikelihoodPossible,
		},
	}}
}

// Scan finds entities of every class; the Redactor applies the
// info-type and likelihood filters from the project config.
func (d *RegexDetector) Scan(_ context.Context, text string, _ Config) ([]Entity, error) {
	var entities []Entity
	for _, p := range d.patterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			entities = append(entities, Entity{
				Type:       p.infoType,
				Start:      loc[0],
				End:        loc[1],
				Likelihood: p.likelihood,
			})
		}
	}
	return entities, nil
}

var _ Detector = (*RegexDetector)(nil)
