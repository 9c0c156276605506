package services

import (
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"cardshift/backend/internal/pipefy"
)

// filterMembers narrows the member list by a fuzzy query over name and
// email. An empty query returns everyone sorted by name; otherwise results
// are ranked best match first.
func filterMembers(members []pipefy.Member, query string) []pipefy.Member {
	query = strings.TrimSpace(query)
	if query == "" {
		out := make([]pipefy.Member, len(members))
		copy(out, members)
		sort.Slice(out, func(i, j int) bool {
			return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
		})
		return out
	}

	type scored struct {
		member pipefy.Member
		rank   int
	}
	var matches []scored
	for _, m := range members {
		rank := fuzzy.RankMatchNormalizedFold(query, m.Name)
		if emailRank := fuzzy.RankMatchNormalizedFold(query, m.Email); emailRank >= 0 && (rank < 0 || emailRank < rank) {
			rank = emailRank
		}
		if rank < 0 {
			continue
		}
		matches = append(matches, scored{member: m, rank: rank})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].rank < matches[j].rank })

	out := make([]pipefy.Member, 0, len(matches))
	for _, s := range matches {
		out = append(out, s.member)
	}
	return out
}
