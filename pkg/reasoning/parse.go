package reasoning

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/harun/kosmo/pkg/errclass"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// ErrMalformedOutput is matched by every parse failure
var ErrMalformedOutput = errors.New("malformed reasoning output")

var (
	finalAnswerRe = regexp.MustCompile(`(?is)final\s+answer\s*:\s*(.*)$`)
	actionRe      = regexp.MustCompile(`(?im)^\s*action\s*:\s*(.+?)\s*$`)
	actionInputRe = regexp.MustCompile(`(?is)action\s+input\s*:\s*(.*)$`)
	thoughtRe     = regexp.MustCompile(`(?i)^\s*thought\s*:\s*`)
)

func malformed(format string, args ...interface{}) error {
	return &errclass.Error{
		Category: errclass.CategoryMalformedOutput,
		Message:  fmt.Sprintf(format, args...),
		Err:      ErrMalformedOutput,
	}
}

// Parse turns raw oracle output into exactly one decision.
//
// Native tool calls win over text. Otherwise the text is read in the
// Thought / Action / Action Input / Final Answer format; plain text without
// any marker is taken as the final answer.
func Parse(out *Output) (Decision, error) {
	if out == nil {
		return Decision{}, malformed("empty reply")
	}

	content := strings.TrimSpace(out.Content)

	if len(out.ToolCalls) > 0 {
		call := out.ToolCalls[0]
		if strings.TrimSpace(call.Name) == "" {
			return Decision{}, malformed("tool call without a tool name")
		}
		args := call.Arguments
		if args == nil {
			args = map[string]interface{}{}
		}
		id := call.ID
		if id == "" {
			id = newCallID()
		}
		return Decision{
			Kind:      DecisionAction,
			Thought:   stripThought(content),
			CallID:    id,
			Tool:      strings.TrimSpace(call.Name),
			Arguments: args,
		}, nil
	}

	if content == "" {
		return Decision{}, malformed("empty reply")
	}

	if m := finalAnswerRe.FindStringSubmatchIndex(content); m != nil {
		answer := strings.TrimSpace(content[m[2]:m[3]])
		if answer == "" {
			return Decision{}, malformed("final answer is empty")
		}
		return Decision{
			Kind:    DecisionConclude,
			Thought: stripThought(content[:m[0]]),
			Answer:  answer,
		}, nil
	}

	if m := actionRe.FindStringSubmatchIndex(content); m != nil {
		return parseTextAction(content, m)
	}

	if thoughtRe.MatchString(content) {
		thought := stripThought(content)
		if thought == "" {
			return Decision{}, malformed("thought is empty")
		}
		return Decision{Kind: DecisionThought, Thought: thought}, nil
	}

	return Decision{Kind: DecisionConclude, Answer: content}, nil
}

func parseTextAction(content string, m []int) (Decision, error) {
	tool := strings.Trim(strings.TrimSpace(content[m[2]:m[3]]), "`\"'")
	if tool == "" {
		return Decision{}, malformed("action without a tool name")
	}

	args := map[string]interface{}{}
	rest := content[m[1]:]
	if im := actionInputRe.FindStringSubmatch(rest); im != nil {
		raw := strings.TrimSpace(im[1])
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSuffix(raw, "```")
		raw = strings.TrimSpace(raw)
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				return Decision{}, malformed("action input for %s is not a JSON object: %v", tool, err)
			}
		}
	}

	return Decision{
		Kind:      DecisionAction,
		Thought:   stripThought(content[:m[0]]),
		CallID:    newCallID(),
		Tool:      tool,
		Arguments: args,
	}, nil
}

func stripThought(s string) string {
	return strings.TrimSpace(thoughtRe.ReplaceAllString(strings.TrimSpace(s), ""))
}

func newCallID() string {
	id, err := gonanoid.New()
	if err != nil {
		return "call"
	}
	return "call_" + id
}
