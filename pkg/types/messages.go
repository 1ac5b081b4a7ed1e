// Package types holds the JSON messages exchanged with scoring clients over
// the WebSocket transport.
//
// Client -> Server
//
//	umpire_action:
//	  matchId: string
//	  action:  "UPDATE_SCORE"
//	  data:    { score?: {...}, batting?: {...}, bowling?: {...}, recentBalls?: string[], rules?: {...} }
//	send_comment:
//	  matchId: string
//	  message: string
//	end_match:
//	  matchId: string
//
// Server -> Client
//
//	state_snapshot:   full match state, sent once on connect
//	joined_as_umpire: { matchId }
//	score_updated:    full match state after a mutation
//	new_comment:      { id, user, message, timestamp }
//	match_ended:      { matchId }, always the last event before close
//	error:            { code, message }, sent only to the offending socket
package types

import (
	"encoding/json"

	"github.com/DoyleJ11/live-score-backend/internal/engine"
)

const (
	MsgUmpireAction = "umpire_action"
	MsgSendComment  = "send_comment"
	MsgEndMatch     = "end_match"

	ActionUpdateScore = "UPDATE_SCORE"
)

const (
	EvtStateSnapshot  = "state_snapshot"
	EvtJoinedAsUmpire = "joined_as_umpire"
	EvtScoreUpdated   = string(engine.EvtScoreUpdated)
	EvtNewComment     = string(engine.EvtCommentAdded)
	EvtMatchEnded     = string(engine.EvtMatchEnded)
	EvtError          = "error"
)

type ClientMessage struct {
	Type    string          `json:"type"`
	MatchID string          `json:"matchId,omitempty"`
	Action  string          `json:"action,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

type ServerMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type MatchRef struct {
	MatchID string `json:"matchId"`
}

// MatchView is the public projection of a match.
type MatchView struct {
	MatchID  string           `json:"matchId"`
	TeamA    engine.Team      `json:"teamA"`
	TeamB    engine.Team      `json:"teamB"`
	Score    engine.Score     `json:"score"`
	Status   engine.Status    `json:"status"`
	Rules    map[string]any   `json:"rules"`
	Comments []engine.Comment `json:"comments,omitempty"`
	Version  int              `json:"version"`
	Viewers  int              `json:"viewers"`
}

func NewMatchView(matchID string, s engine.State, viewers int) MatchView {
	return MatchView{
		MatchID:  matchID,
		TeamA:    s.TeamA,
		TeamB:    s.TeamB,
		Score:    s.Score,
		Status:   s.Status,
		Rules:    s.Rules,
		Comments: s.Comments,
		Version:  s.Version,
		Viewers:  viewers,
	}
}
