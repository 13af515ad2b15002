// Package mechanic implements outcome matching for the four wager
// mechanics. It is a pure package: Classify reads nothing but its
// arguments and writes nothing, so every settlement path decides
// win/loss through exactly one rule.
//
// A malformed prediction classifies as a loss, never an error — the
// stake is money already collected and must resolve to a terminal,
// explainable state.
package mechanic

import (
	"strconv"
	"strings"

	"github.com/drawbet/settlement-engine/internal/model"
)

// Position markers for the positional-digit mechanic. The loose form
// (a bare digit with no marker) matches either position.
const (
	PositionFirst  = "first"
	PositionSecond = "second"
)

// Classify decides win/loss for one wager against the market's closing
// result. The closing result is expected to be a 2-digit string; anything
// else loses every mechanic.
func Classify(m model.Mechanic, prediction, closing string) model.Outcome {
	if !isTwoDigits(closing) {
		return model.OutcomeLoss
	}

	switch m {
	case model.MechanicExactPair:
		return classifyExactPair(prediction, closing)
	case model.MechanicPositional:
		return classifyPositional(prediction, closing)
	case model.MechanicCrossing:
		return classifyCrossing(prediction, closing)
	case model.MechanicParity:
		return classifyParity(prediction, closing)
	default:
		return model.OutcomeLoss
	}
}

// classifyExactPair wins iff the prediction equals the closing result
// exactly. "42" beats "42", never "24".
func classifyExactPair(prediction, closing string) model.Outcome {
	if isTwoDigits(prediction) && prediction == closing {
		return model.OutcomeWin
	}
	return model.OutcomeLoss
}

// classifyPositional checks one digit against one position of the
// closing result. Encodings: "first:7", "second:7", or a bare "7"
// (back-compatible loose form, matched against either position).
func classifyPositional(prediction, closing string) model.Outcome {
	pos, digit, ok := parsePositional(prediction)
	if !ok {
		return model.OutcomeLoss
	}

	switch pos {
	case PositionFirst:
		if closing[0] == digit {
			return model.OutcomeWin
		}
	case PositionSecond:
		if closing[1] == digit {
			return model.OutcomeWin
		}
	default: // loose form
		if closing[0] == digit || closing[1] == digit {
			return model.OutcomeWin
		}
	}
	return model.OutcomeLoss
}

// classifyCrossing generates every ordered pair of two distinct digits
// from the predicted set and wins iff the closing result equals one of
// them. The pair set already contains both orders of every combination,
// so no reversed-result fallback is applied. A one-digit set generates
// no pairs and always loses; a closing result with a repeated digit
// ("11") can never be generated.
func classifyCrossing(prediction, closing string) model.Outcome {
	set, ok := ParseDigitSet(prediction)
	if !ok {
		return model.OutcomeLoss
	}
	for _, pair := range CrossingPairs(set) {
		if pair == closing {
			return model.OutcomeWin
		}
	}
	return model.OutcomeLoss
}

// classifyParity wins iff the closing result's numeric parity matches
// the predicted "odd"/"even".
func classifyParity(prediction, closing string) model.Outcome {
	choice, ok := ParityChoice(prediction)
	if !ok {
		return model.OutcomeLoss
	}

	n, err := strconv.Atoi(closing)
	if err != nil {
		return model.OutcomeLoss
	}

	if (n%2 == 0) == (choice == "even") {
		return model.OutcomeWin
	}
	return model.OutcomeLoss
}

// parsePositional splits a positional-digit prediction into its marker
// and digit. The marker is empty for the loose form.
func parsePositional(prediction string) (pos string, digit byte, ok bool) {
	marker, digitPart, found := strings.Cut(prediction, ":")
	if !found {
		digitPart = prediction
		marker = ""
	} else if marker != PositionFirst && marker != PositionSecond {
		return "", 0, false
	}

	if len(digitPart) != 1 || !isDigit(digitPart[0]) {
		return "", 0, false
	}
	return marker, digitPart[0], true
}

// ParseDigitSet parses the canonical crossing prediction encoding: a
// comma-separated list of distinct single digits ("1,2,3"). Duplicate
// digits, empty elements, and non-digit characters reject the whole
// prediction.
func ParseDigitSet(prediction string) ([]byte, bool) {
	if prediction == "" {
		return nil, false
	}

	parts := strings.Split(prediction, ",")
	seen := [10]bool{}
	set := make([]byte, 0, len(parts))

	for _, p := range parts {
		if len(p) != 1 || !isDigit(p[0]) {
			return nil, false
		}
		d := p[0] - '0'
		if seen[d] {
			return nil, false
		}
		seen[d] = true
		set = append(set, p[0])
	}
	return set, true
}

// CrossingPairs returns every ordered pair of two distinct digits drawn
// from the set, as 2-character strings. A set of n digits yields
// n*(n-1) pairs.
func CrossingPairs(set []byte) []string {
	pairs := make([]string, 0, len(set)*(len(set)-1))
	for _, a := range set {
		for _, b := range set {
			if a == b {
				continue
			}
			pairs = append(pairs, string([]byte{a, b}))
		}
	}
	return pairs
}

// ParityChoice normalizes a parity prediction to "odd" or "even".
// Used by exposure aggregation to group wagers on the same choice.
func ParityChoice(prediction string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(prediction)) {
	case "odd":
		return "odd", true
	case "even":
		return "even", true
	}
	return "", false
}

// ValidPrediction reports whether a prediction parses under its
// mechanic's canonical encoding. The placement path uses this to reject
// garbage up front; settlement never relies on it.
func ValidPrediction(m model.Mechanic, prediction string) bool {
	switch m {
	case model.MechanicExactPair:
		return isTwoDigits(prediction)
	case model.MechanicPositional:
		_, _, ok := parsePositional(prediction)
		return ok
	case model.MechanicCrossing:
		_, ok := ParseDigitSet(prediction)
		return ok
	case model.MechanicParity:
		_, ok := ParityChoice(prediction)
		return ok
	}
	return false
}

func isTwoDigits(s string) bool {
	return len(s) == 2 && isDigit(s[0]) && isDigit(s[1])
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
