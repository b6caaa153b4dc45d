package gateway

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/journi-app/journi-go/pkg/wire"
)

// SessionView is the engine-visible, read-only session state.
type SessionView struct {
	ID    string
	State wire.SessionState
}

// Emitter streams one bot turn back to the session's clients.
type Emitter interface {
	Typing(active bool)
	Thinking(step wire.ThinkingStep)
	Chunk(content string)
	Complete(content string, patch wire.SessionPatch)
}

// Engine produces one bot turn per incoming user message. Turns are
// serialized per session by the caller.
type Engine interface {
	Reply(ctx context.Context, sess SessionView, userID, content string, out Emitter) error
}

// scriptRule is one YAML-configured reply rule.
type scriptRule struct {
	// Match is a case-insensitive substring of the user message; empty
	// matches everything.
	Match string       `yaml:"match"`
	Steps []scriptStep `yaml:"steps"`
	Reply string       `yaml:"reply"`
	Patch *scriptPatch `yaml:"patch"`
}

type scriptStep struct {
	Tool   string         `yaml:"tool"`
	Args   map[string]any `yaml:"args"`
	Result string         `yaml:"result"`
}

type scriptPatch struct {
	Expenses     []scriptExpense `yaml:"expenses"`
	Participants []string        `yaml:"participants"`
}

type scriptExpense struct {
	ID          string   `yaml:"id"`
	Amount      float64  `yaml:"amount"`
	Currency    string   `yaml:"currency"`
	Description string   `yaml:"description"`
	PaidBy      string   `yaml:"paid_by"`
	SplitAmong  []string `yaml:"split_among"`
}

type scriptFile struct {
	Rules     []scriptRule `yaml:"rules"`
	Fallback  string       `yaml:"fallback"`
	ChunkSize int          `yaml:"chunk_size"`
}

// ScriptedEngine replies deterministically from substring-matched rules. It
// is the default engine of the dev gateway and the engine used by tests.
type ScriptedEngine struct {
	rules     []scriptRule
	fallback  string
	chunkSize int
}

var _ Engine = &ScriptedEngine{}

// NewScriptedEngine returns an engine with built-in expense-register and
// debt-query rules, no script file required.
func NewScriptedEngine() *ScriptedEngine {
	return &ScriptedEngine{
		fallback:  "Puedo registrar gastos y calcular deudas. Cuéntame qué gastaron.",
		chunkSize: 12,
	}
}

// LoadScript builds an engine from a YAML scenario file.
func LoadScript(path string) (*ScriptedEngine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read scenario script")
	}
	var file scriptFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "parse scenario script")
	}
	eng := NewScriptedEngine()
	eng.rules = file.Rules
	if file.Fallback != "" {
		eng.fallback = file.Fallback
	}
	if file.ChunkSize > 0 {
		eng.chunkSize = file.ChunkSize
	}
	return eng, nil
}

var amountRe = regexp.MustCompile(`\d+(?:[.,]\d+)?`)

func (e *ScriptedEngine) Reply(ctx context.Context, sess SessionView, userID, content string, out Emitter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	out.Typing(true)

	if rule := e.matchRule(content); rule != nil {
		e.replyFromRule(sess, userID, rule, out)
		return nil
	}
	if reply, patch, ok := e.builtinExpense(sess, userID, content, out); ok {
		e.stream(out, reply)
		out.Complete(reply, patch)
		return nil
	}
	e.stream(out, e.fallback)
	out.Complete(e.fallback, wire.SessionPatch{})
	return nil
}

func (e *ScriptedEngine) matchRule(content string) *scriptRule {
	lowered := strings.ToLower(content)
	for i := range e.rules {
		if strings.Contains(lowered, strings.ToLower(e.rules[i].Match)) {
			return &e.rules[i]
		}
	}
	return nil
}

func (e *ScriptedEngine) replyFromRule(sess SessionView, userID string, rule *scriptRule, out Emitter) {
	for _, step := range rule.Steps {
		out.Thinking(wire.ThinkingStep{
			Step:     wire.StepToolCall,
			ToolName: step.Tool,
			ToolArgs: step.Args,
			Status:   wire.StepActive,
		})
		out.Thinking(wire.ThinkingStep{
			Step:   wire.StepToolResult,
			Result: step.Result,
			Status: wire.StepComplete,
		})
	}
	e.stream(out, rule.Reply)
	out.Complete(rule.Reply, rule.Patch.toWire(sess, userID))
}

// builtinExpense registers an expense when the message mentions spending and
// carries an amount, e.g. "gasté 50 en la cena".
func (e *ScriptedEngine) builtinExpense(sess SessionView, userID, content string, out Emitter) (string, wire.SessionPatch, bool) {
	lowered := strings.ToLower(content)
	if !strings.Contains(lowered, "gast") && !strings.Contains(lowered, "pag") {
		return "", wire.SessionPatch{}, false
	}
	raw := amountRe.FindString(content)
	if raw == "" {
		return "", wire.SessionPatch{}, false
	}
	amount, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", "."))
	if err != nil {
		return "", wire.SessionPatch{}, false
	}

	expense := wire.Expense{
		ID:          "exp_" + uuid.NewString(),
		Amount:      amount,
		Currency:    "PEN",
		Description: content,
		PaidBy:      userID,
		SplitAmong:  sess.State.Participants,
	}
	out.Thinking(wire.ThinkingStep{
		Step:     wire.StepToolCall,
		ToolName: "register_expense",
		ToolArgs: map[string]any{"amount": raw, "paid_by": userID},
		Status:   wire.StepActive,
	})
	out.Thinking(wire.ThinkingStep{
		Step:   wire.StepToolResult,
		Result: "ok",
		Status: wire.StepComplete,
	})

	expenses := append(append([]wire.Expense{}, sess.State.Expenses...), expense)
	patch := wire.SessionPatch{Expenses: &expenses}
	reply := fmt.Sprintf("Registrando gasto de S/%s pagado por %s", amount.String(), userID)
	return reply, patch, true
}

func (e *ScriptedEngine) stream(out Emitter, reply string) {
	runes := []rune(reply)
	size := e.chunkSize
	if size <= 0 {
		size = len(runes)
	}
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		out.Chunk(string(runes[start:end]))
	}
}

func (p *scriptPatch) toWire(sess SessionView, userID string) wire.SessionPatch {
	if p == nil {
		return wire.SessionPatch{}
	}
	var out wire.SessionPatch
	if p.Expenses != nil {
		expenses := make([]wire.Expense, 0, len(p.Expenses))
		for _, se := range p.Expenses {
			id := se.ID
			if id == "" {
				id = "exp_" + uuid.NewString()
			}
			paidBy := se.PaidBy
			if paidBy == "" {
				paidBy = userID
			}
			split := se.SplitAmong
			if split == nil {
				split = sess.State.Participants
			}
			expenses = append(expenses, wire.Expense{
				ID:          id,
				Amount:      decimal.NewFromFloat(se.Amount),
				Currency:    se.Currency,
				Description: se.Description,
				PaidBy:      paidBy,
				SplitAmong:  split,
			})
		}
		out.Expenses = &expenses
	}
	if p.Participants != nil {
		participants := append([]string{}, p.Participants...)
		out.Participants = &participants
	}
	return out
}
