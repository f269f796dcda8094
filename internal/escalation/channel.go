package escalation

import "github.com/tullo/moddash/internal/models"

// fuzzyPrefixLen is how many leading characters two channel ids must share
// to be considered the same channel when no exact match exists.
const fuzzyPrefixLen = 15

// MatchKind classifies a channel lookup.
type MatchKind string

const (
	MatchExact    MatchKind = "exact"
	MatchFuzzy    MatchKind = "fuzzy"
	MatchNotFound MatchKind = "notFound"
)

// Resolution is the outcome of ResolveChannel. Channel is set for exact and
// fuzzy matches.
type Resolution struct {
	Kind    MatchKind
	Channel *models.Channel
	// Candidates counts prefix matches; more than one means the fuzzy match
	// was ambiguous and therefore rejected.
	Candidates int
}

// ResolveChannel looks id up in channels: first exactly, then by comparing
// the first 15 characters. A fuzzy match requires exactly one candidate.
func ResolveChannel(id string, channels []models.Channel) Resolution {
	for i := range channels {
		if channels[i].ID == id {
			ch := channels[i]
			return Resolution{Kind: MatchExact, Channel: &ch, Candidates: 1}
		}
	}

	want := idPrefix(id)
	var match *models.Channel
	candidates := 0
	for i := range channels {
		if idPrefix(channels[i].ID) == want {
			candidates++
			ch := channels[i]
			match = &ch
		}
	}
	if candidates == 1 && want != "" {
		return Resolution{Kind: MatchFuzzy, Channel: match, Candidates: 1}
	}
	return Resolution{Kind: MatchNotFound, Candidates: candidates}
}

func idPrefix(id string) string {
	if len(id) > fuzzyPrefixLen {
		return id[:fuzzyPrefixLen]
	}
	return id
}
