package engine

import (
	"strings"
	"time"

	"github.com/DoyleJ11/live-score-backend/internal/apperr"
)

// MaxRecentBalls bounds the rolling log of ball outcomes kept in the score.
const MaxRecentBalls = 12

type Status string

const (
	StatusLive      Status = "LIVE"
	StatusCompleted Status = "COMPLETED"
)

type Player struct {
	Name string `json:"name"`
}

type Team struct {
	Name    string   `json:"name"`
	Players []Player `json:"players"`
}

type Batting struct {
	Striker    string `json:"striker"`
	NonStriker string `json:"nonStriker"`
}

type Bowling struct {
	Bowler string `json:"bowler"`
}

type Score struct {
	Runs           int      `json:"runs"`
	Wickets        int      `json:"wickets"`
	Overs          float64  `json:"overs"`
	CurrentInnings string   `json:"currentInnings"`
	Batting        Batting  `json:"batting"`
	Bowling        Bowling  `json:"bowling"`
	RecentBalls    []string `json:"recentBalls"`
}

type Comment struct {
	ID        string    `json:"id"`
	User      string    `json:"user"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type State struct {
	TeamA    Team           `json:"teamA"`
	TeamB    Team           `json:"teamB"`
	Score    Score          `json:"score"`
	Status   Status         `json:"status"`
	Rules    map[string]any `json:"rules"`
	Comments []Comment      `json:"comments"`
	Version  int            `json:"version"`
}

// ScoreDelta carries the score fields an update replaces. Nil means
// "leave untouched".
type ScoreDelta struct {
	Runs           *int      `json:"runs,omitempty"`
	Wickets        *int      `json:"wickets,omitempty"`
	Overs          *float64  `json:"overs,omitempty"`
	CurrentInnings *string   `json:"currentInnings,omitempty"`
	Batting        *Batting  `json:"batting,omitempty"`
	Bowling        *Bowling  `json:"bowling,omitempty"`
	RecentBalls    *[]string `json:"recentBalls,omitempty"`
}

// Delta is a partial update submitted by the umpire. Every provided field
// fully replaces its counterpart; this is last-write-wins, not arithmetic.
type Delta struct {
	Score       *ScoreDelta    `json:"score,omitempty"`
	Batting     *Batting       `json:"batting,omitempty"`
	Bowling     *Bowling       `json:"bowling,omitempty"`
	RecentBalls *[]string      `json:"recentBalls,omitempty"`
	Rules       map[string]any `json:"rules,omitempty"`
}

func (d Delta) Empty() bool {
	if d.Batting != nil || d.Bowling != nil || d.RecentBalls != nil || d.Rules != nil {
		return false
	}
	if d.Score == nil {
		return true
	}
	s := d.Score
	return s.Runs == nil && s.Wickets == nil && s.Overs == nil && s.CurrentInnings == nil &&
		s.Batting == nil && s.Bowling == nil && s.RecentBalls == nil
}

type CommandType string

const (
	CmdUpdateScore CommandType = "UpdateScore"
	CmdAddComment  CommandType = "AddComment"
	CmdEndMatch    CommandType = "EndMatch"
)

type Command struct {
	Type    CommandType
	Delta   Delta
	Comment Comment
}

type EventType string

const (
	EvtScoreUpdated EventType = "score_updated"
	EvtCommentAdded EventType = "new_comment"
	EvtMatchEnded   EventType = "match_ended"
)

type Event struct {
	Type    EventType
	Comment *Comment
}

// Apply validates cmd against s and returns the resulting events and state.
// s is never modified; on error the returned state is s unchanged.
func Apply(s State, cmd Command) ([]Event, State, error) {
	if s.Status == StatusCompleted {
		return nil, s, apperr.ErrSessionEnded
	}

	switch cmd.Type {
	case CmdUpdateScore:
		if cmd.Delta.Empty() {
			return nil, s, apperr.MissingField("data")
		}
		newState := Clone(s)
		merge(&newState, cmd.Delta)
		return []Event{{Type: EvtScoreUpdated}}, newState, nil

	case CmdAddComment:
		c := cmd.Comment
		c.Message = strings.TrimSpace(c.Message)
		if c.Message == "" {
			return nil, s, apperr.MissingField("message")
		}
		if c.User == "" {
			return nil, s, apperr.MissingField("user")
		}
		newState := Clone(s)
		newState.Comments = append(newState.Comments, c)
		return []Event{{Type: EvtCommentAdded, Comment: &c}}, newState, nil

	case CmdEndMatch:
		newState := Clone(s)
		newState.Status = StatusCompleted
		return []Event{{Type: EvtMatchEnded}}, newState, nil

	default:
		return nil, s, apperr.New(apperr.CodeMissingField, "unsupported command "+string(cmd.Type))
	}
}

func merge(s *State, d Delta) {
	if sd := d.Score; sd != nil {
		if sd.Runs != nil {
			s.Score.Runs = *sd.Runs
		}
		if sd.Wickets != nil {
			s.Score.Wickets = *sd.Wickets
		}
		if sd.Overs != nil {
			s.Score.Overs = *sd.Overs
		}
		if sd.CurrentInnings != nil {
			s.Score.CurrentInnings = *sd.CurrentInnings
		}
		if sd.Batting != nil {
			s.Score.Batting = *sd.Batting
		}
		if sd.Bowling != nil {
			s.Score.Bowling = *sd.Bowling
		}
		if sd.RecentBalls != nil {
			s.Score.RecentBalls = trimBalls(*sd.RecentBalls)
		}
	}
	// Top-level fields win over their nested counterparts.
	if d.Batting != nil {
		s.Score.Batting = *d.Batting
	}
	if d.Bowling != nil {
		s.Score.Bowling = *d.Bowling
	}
	if d.RecentBalls != nil {
		s.Score.RecentBalls = trimBalls(*d.RecentBalls)
	}
	if d.Rules != nil {
		s.Rules = cloneRules(d.Rules)
	}
}

func trimBalls(balls []string) []string {
	if len(balls) > MaxRecentBalls {
		balls = balls[len(balls)-MaxRecentBalls:]
	}
	out := make([]string, len(balls))
	copy(out, balls)
	return out
}
