package engine

import (
	"maps"
	"slices"
)

const DefaultInnings = "1st Innings"

func NewState(teamA, teamB Team, rules map[string]any) State {
	if rules == nil {
		rules = map[string]any{}
	}
	s := State{
		TeamA:    teamA,
		TeamB:    teamB,
		Status:   StatusLive,
		Rules:    cloneRules(rules),
		Comments: []Comment{},
		Score: Score{
			CurrentInnings: DefaultInnings,
			RecentBalls:    []string{},
		},
	}
	s.TeamA.Players = append([]Player{}, teamA.Players...)
	s.TeamB.Players = append([]Player{}, teamB.Players...)
	return s
}

// Clone deep-copies s so the copy shares no slices or maps with it.
func Clone(s State) State {
	c := s
	c.TeamA.Players = slices.Clone(s.TeamA.Players)
	c.TeamB.Players = slices.Clone(s.TeamB.Players)
	c.Score.RecentBalls = slices.Clone(s.Score.RecentBalls)
	c.Comments = slices.Clone(s.Comments)
	c.Rules = cloneRules(s.Rules)
	return c
}

// cloneRules copies the top level only; rule values are treated as opaque.
func cloneRules(r map[string]any) map[string]any {
	if r == nil {
		return nil
	}
	return maps.Clone(r)
}
