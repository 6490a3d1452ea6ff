package strategy

import (
	"github.com/mwhitfield/spreadscan/internal/chain"
)

// LegSide marks whether a leg is sold or bought.
type LegSide string

const (
	// SideShort is a sold leg: priced at the bid under the conservative cross.
	SideShort LegSide = "short"
	// SideLong is a bought leg: priced at the ask under the conservative cross.
	SideLong LegSide = "long"
)

// Leg roles shared across strategies. Rejection codes reference these names.
const (
	RoleShortLeg  = "short_leg"
	RoleLongLeg   = "long_leg"
	RolePutShort  = "put_short"
	RolePutLong   = "put_long"
	RoleCallShort = "call_short"
	RoleCallLong  = "call_long"
	RoleNearShort = "near_short"
	RoleFarLong   = "far_long"
	RoleLowerWing = "lower_wing"
	RoleBody      = "body"
	RoleUpperWing = "upper_wing"
)

// Leg is one selected contract within a candidate.
type Leg struct {
	Role     string
	Side     LegSide
	Quantity int // contracts per structure; 2 for a butterfly body
	Contract *chain.OptionContract
	Snapshot *chain.Snapshot // the snapshot the leg came from; calendars span two
}

// Candidate is the ephemeral output of BuildCandidates: a bag of selected
// legs plus its originating snapshot. Enrich consumes it and it is discarded.
type Candidate struct {
	StrategyID string
	Snapshot   *chain.Snapshot
	Legs       []Leg
}

// TieBreak is one named secondary comparison key.
type TieBreak struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// TieBreaks is the strategy-declared ordered tuple of secondary keys, each
// compared descending, used only when rank scores tie.
type TieBreaks []TieBreak

// Trade is the flat enriched record flowing through evaluate and score.
// Metric pointers are nil when the figure is genuinely unknowable (calendar
// POP/EV) or was coerced from a non-finite intermediate; they are never
// silently zeroed. Once scored and returned, the record is treated as
// immutable output.
type Trade struct {
	Key            TradeKey `json:"key"`
	Underlying     string   `json:"underlying"`
	Expiration     string   `json:"expiration"`
	NearExpiration string   `json:"near_expiration,omitempty"` // calendar only
	NearATMIV      *float64 `json:"near_atm_iv,omitempty"`     // calendar only
	FarATMIV       *float64 `json:"far_atm_iv,omitempty"`      // calendar only
	StrategyID     string   `json:"strategy_id"`
	DTE            int      `json:"dte"`
	Spot           float64  `json:"spot"` // underlying price at scan time

	ShortStrikes []float64 `json:"short_strikes"`
	LongStrikes  []float64 `json:"long_strikes"`

	Credit *float64 `json:"credit,omitempty"` // net credit per share
	Debit  *float64 `json:"debit,omitempty"`  // net debit per share
	Width  float64  `json:"width"`

	MaxProfit    *float64  `json:"max_profit,omitempty"`
	MaxLoss      *float64  `json:"max_loss,omitempty"`
	BreakEvens   []float64 `json:"break_evens,omitempty"`
	POP          *float64  `json:"pop,omitempty"`
	EV           *float64  `json:"ev,omitempty"`
	Kelly        *float64  `json:"kelly,omitempty"`
	ReturnOnRisk *float64  `json:"return_on_risk,omitempty"`

	Liquidity    float64  `json:"liquidity"`
	IVRVRatio    *float64 `json:"iv_rv_ratio,omitempty"`
	BidAskPct    float64  `json:"bid_ask_pct"`
	OpenInterest int64    `json:"open_interest"` // weakest leg
	Volume       int64    `json:"volume"`        // weakest leg

	QuoteRejection string `json:"quote_rejection,omitempty"`

	Accepted  bool      `json:"accepted"`
	Reasons   []string  `json:"reasons,omitempty"`
	RankScore float64   `json:"rank_score"`
	TieBreaks TieBreaks `json:"tie_breaks,omitempty"`
}

// Priceable reports whether the trade survived quote validation and can
// proceed to evaluation.
func (t *Trade) Priceable() bool {
	return t.QuoteRejection == ""
}
