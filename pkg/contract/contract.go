// Package contract implements the consequence side of a contract's
// lifecycle: the status state machine, the consequence expression grammar
// and the planning of reputation ledger updates. Everything here is pure.
// Locking, retries and the actual commit against a document set are the
// engine's job.
package contract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/idp-org/idp-go/pkg/document"
	"github.com/idp-org/idp-go/pkg/verdict"
)

// MaxStatements caps how many statements a single consequence expression
// may carry. Expressions beyond the cap are rejected as malformed.
const MaxStatements = 64

// Statement is one compiled consequence statement: adjust the named score
// of the party at PartyIndex by Change.
type Statement struct {
	PartyIndex int
	PartyID    string
	Score      string
	Change     int64
}

// ParseError reports the offending statement when an expression fails to
// compile.
type ParseError struct {
	Statement string
	Reason    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("statement %q: %s", e.Statement, e.Reason)
}

// statementRE captures party index, score name, sign and amount of a
// single statement, e.g. "parties[0].reputation.dev_score +5".
var statementRE = regexp.MustCompile(`^parties\[([0-9]+)\]\.reputation\.([A-Za-z_][A-Za-z0-9_]*)\s+([+-])([0-9]+)$`)

// Compile parses a semicolon-separated consequence expression against the
// contract's party list. Empty statements are skipped, so trailing
// semicolons are harmless. The first malformed statement aborts the whole
// compilation; a consequence is applied in full or not at all.
func Compile(expr string, parties []string) ([]Statement, error) {
	raw := strings.Split(expr, ";")
	var stmts []Statement
	for _, part := range raw {
		text := strings.TrimSpace(part)
		if text == "" {
			continue
		}
		if len(stmts) >= MaxStatements {
			return nil, &ParseError{Statement: text, Reason: fmt.Sprintf("more than %d statements", MaxStatements)}
		}
		m := statementRE.FindStringSubmatch(text)
		if m == nil {
			return nil, &ParseError{Statement: text, Reason: "does not match parties[<i>].reputation.<score> <sign><amount>"}
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, &ParseError{Statement: text, Reason: "party index: " + err.Error()}
		}
		if idx >= len(parties) {
			return nil, &ParseError{Statement: text, Reason: fmt.Sprintf("party index %d out of range (%d parties)", idx, len(parties))}
		}
		amount, err := strconv.ParseInt(m[4], 10, 64)
		if err != nil {
			return nil, &ParseError{Statement: text, Reason: "amount: " + err.Error()}
		}
		if amount == 0 {
			return nil, &ParseError{Statement: text, Reason: "amount must be positive"}
		}
		change := amount
		if m[3] == "-" {
			change = -amount
		}
		stmts = append(stmts, Statement{
			PartyIndex: idx,
			PartyID:    parties[idx],
			Score:      m[2],
			Change:     change,
		})
	}
	return stmts, nil
}

// ExpressionFor returns the consequence expression bound to the target
// status. Transitions without a bound expression (opening a dispute)
// return the empty string.
func ExpressionFor(c *document.Consequence, target document.ContractStatus) string {
	switch target {
	case document.ContractCompleted:
		return c.OnSuccess
	case document.ContractFailed:
		return c.OnFailure
	default:
		return ""
	}
}

// CheckTransition decides whether a contract may move from current to
// target. Completed and failed are terminal: re-requesting the terminal
// state a contract is already in reports AlreadyApplied so that redelivered
// requests stay idempotent, while every other edge out of a terminal state
// is an InvalidTransition.
func CheckTransition(current, target document.ContractStatus) verdict.Verdict {
	if current == target && (current == document.ContractCompleted || current == document.ContractFailed) {
		return verdict.Invalidf(verdict.ReasonAlreadyApplied,
			"contract is already %s", current)
	}
	switch current {
	case document.ContractActive:
		switch target {
		case document.ContractCompleted, document.ContractFailed, document.ContractInDispute:
			return verdict.OK()
		}
	case document.ContractInDispute:
		switch target {
		case document.ContractCompleted, document.ContractFailed:
			return verdict.OK()
		}
	}
	return verdict.Invalidf(verdict.ReasonInvalidTransition,
		"cannot move contract from %s to %s", current, target)
}

// Delta is one planned ledger append: Change to the Score of PartyID,
// recorded under Event.
type Delta struct {
	PartyID string `json:"party_id"`
	Score   string `json:"score"`
	Change  int64  `json:"change"`
	Event   string `json:"event"`
}

// ScoreValue reports the resulting value of one touched score.
type ScoreValue struct {
	PartyID string `json:"party_id"`
	Score   string `json:"score"`
	Value   int64  `json:"value"`
}

// Outcome reports one applied transition: the edge taken, the ledger
// appends and the values the touched scores ended up at.
type Outcome struct {
	ContractID string                  `json:"contract_id"`
	From       document.ContractStatus `json:"from"`
	To         document.ContractStatus `json:"to"`
	Applied    []Delta                 `json:"applied"`
	Scores     []ScoreValue            `json:"scores,omitempty"`
}

// Plan validates the requested transition and compiles the consequence
// expression bound to it, returning the ledger deltas a commit would
// apply. Plan never mutates anything; a failed plan leaves no trace.
func Plan(c *document.Contract, target document.ContractStatus) ([]Delta, verdict.Verdict) {
	if tv := CheckTransition(c.Status, target); !tv.Valid {
		return nil, tv
	}
	stmts, err := Compile(ExpressionFor(&c.Consequence, target), c.Parties)
	if err != nil {
		return nil, verdict.Invalidf(verdict.ReasonMalformedConsequence, "%v", err)
	}
	event := c.ContractID + " " + string(target)
	deltas := make([]Delta, 0, len(stmts))
	for _, s := range stmts {
		deltas = append(deltas, Delta{
			PartyID: s.PartyID,
			Score:   s.Score,
			Change:  s.Change,
			Event:   event,
		})
	}
	return deltas, verdict.OK()
}

// ApplyDelta appends the delta to the named score of the document,
// creating the score at zero if absent, and recomputes the running value
// as the sum of the full history.
func ApplyDelta(doc *document.Document, d Delta, now time.Time) {
	score := doc.EnsureScore(d.Score)
	score.History = append(score.History, document.ReputationEvent{
		Event:     d.Event,
		Change:    d.Change,
		Timestamp: now,
	})
	var sum int64
	for _, ev := range score.History {
		sum += ev.Change
	}
	score.Value = sum
}

// LintDocument compiles every consequence expression carried by the
// document's contracts and reports the ones that fail, so malformed
// expressions can be caught at rest instead of at transition time.
func LintDocument(d *document.Document) []document.Violation {
	var out []document.Violation
	for i := range d.Contracts {
		c := &d.Contracts[i]
		for _, side := range []struct {
			field string
			expr  string
		}{
			{"on_success", c.Consequence.OnSuccess},
			{"on_failure", c.Consequence.OnFailure},
		} {
			if _, err := Compile(side.expr, c.Parties); err != nil {
				out = append(out, document.Violation{
					Path:    fmt.Sprintf("$.contracts[%d].consequence.%s", i, side.field),
					Message: err.Error(),
				})
			}
		}
	}
	return out
}
