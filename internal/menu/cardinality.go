package menu

import (
	"fmt"
	"regexp"
	"strconv"

	"orderbot/internal/driver"
)

// Cardinality is the selection-count rule of a modifier group.
type Cardinality struct {
	Min int
	// Max is nil when any number of options may be chosen.
	Max *int
}

// UnparsedInstructionError reports instruction text that matched no known
// phrasing.
type UnparsedInstructionError struct {
	Text string
}

func (e *UnparsedInstructionError) Error() string {
	return fmt.Sprintf("unparsed cardinality instruction %q", e.Text)
}

var (
	requiredPrefix  = regexp.MustCompile(`(?i)^required\W*`)
	asManyAsYouLike = regexp.MustCompile(`(?i)^select as many as you like$`)
	onlyOne         = regexp.MustCompile(`(?i)^select only one$`)
	upTo            = regexp.MustCompile(`(?i)^(?:select|please choose) up to (\d+)$`)
	exactly         = regexp.MustCompile(`(?i)^please choose (\d+)$`)
)

// ParseInstruction maps a group's instruction text to its cardinality:
//
//	""                              -> (0, unbounded)
//	"Select as many as you like"    -> (0, unbounded)
//	"Select only one"               -> (1, 1), also with a "Required" prefix
//	"Select up to N"                -> (0, N)
//	"Please choose N"               -> (N, N)
//	"Please choose up to N"         -> (0, N)
//
// Anything else returns an *UnparsedInstructionError.
func ParseInstruction(text string) (Cardinality, error) {
	text = driver.NormalizeSpace(text)
	if text == "" {
		return Cardinality{}, nil
	}

	body := text
	if loc := requiredPrefix.FindStringIndex(body); loc != nil && loc[1] < len(body) {
		body = body[loc[1]:]
	}

	switch {
	case asManyAsYouLike.MatchString(body):
		return Cardinality{}, nil
	case onlyOne.MatchString(body):
		return Cardinality{Min: 1, Max: intPtr(1)}, nil
	}
	if m := upTo.FindStringSubmatch(body); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			return Cardinality{Min: 0, Max: intPtr(n)}, nil
		}
	}
	if m := exactly.FindStringSubmatch(body); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			return Cardinality{Min: n, Max: intPtr(n)}, nil
		}
	}
	return Cardinality{}, &UnparsedInstructionError{Text: text}
}

// Apply copies the rule onto g.
func (c Cardinality) Apply(g *ModifierGroup) {
	g.MinSelections = c.Min
	g.MaxSelections = c.Max
}

func intPtr(n int) *int { return &n }
