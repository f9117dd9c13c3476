package parse

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-go-golems/marionette/pkg/inference/tools"
)

type DecisionKind string

const (
	// DecisionNone means no usable action was found; Reason says why.
	DecisionNone   DecisionKind = "none"
	DecisionAction DecisionKind = "action"
	DecisionFinal  DecisionKind = "final"
)

const (
	ReasonNoAction        = "no action found"
	ReasonMalformedAction = "malformed action"
)

type marker string

const (
	markerThought     marker = "Thought:"
	markerAction      marker = "Action:"
	markerObservation marker = "Observation:"
)

var markers = []marker{markerThought, markerAction, markerObservation}

// Action is a parsed directive. Terminal actions carry FinalAnswer and no tool.
type Action struct {
	ToolName     string
	RawArguments string
	Arguments    tools.Arguments
	IsTerminal   bool
	FinalAnswer  string
}

// Call converts a non-terminal action into a dispatcher call.
func (a Action) Call() tools.Call {
	return tools.Call{Name: a.ToolName, Arguments: a.Arguments}
}

// Decision is the structured result of parsing one reason-act response.
type Decision struct {
	Kind    DecisionKind
	Thought string
	// ActionText is the trimmed text of the action segment.
	ActionText string
	Action     Action
	// Raw is the canonical "Thought: ...\nAction: ..." rendering of the first pair, or the
	// trimmed input when no action was found.
	Raw string
	// Truncated is set when marker segments followed the first action and were dropped.
	Truncated bool
	Reason    string
}

func (d Decision) IsTerminal() bool {
	return d.Kind == DecisionFinal
}

type segment struct {
	marker marker
	text   string
}

// splitSegments scans line by line; a line whose left-trimmed text starts with a marker opens a
// new segment. Inside a Thought segment an Action marker following whitespace also opens a new
// segment, so a pair written on one line splits the same way. Text before the first marker is
// returned as preamble.
func splitSegments(text string) (string, []segment) {
	var preamble strings.Builder
	var segments []segment
	var current *segment
	var body strings.Builder

	flush := func() {
		if current != nil {
			current.text = strings.TrimSpace(body.String())
			segments = append(segments, *current)
		}
		body.Reset()
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		content := line
		trimmed := strings.TrimLeft(line, " \t")
		for _, m := range markers {
			if strings.HasPrefix(trimmed, string(m)) {
				flush()
				current = &segment{marker: m}
				content = strings.TrimPrefix(trimmed, string(m))
				break
			}
		}
		if current == nil {
			preamble.WriteString(content)
			continue
		}
		if current.marker == markerThought {
			if idx := inlineMarkerIndex(content, markerAction); idx >= 0 {
				body.WriteString(content[:idx])
				flush()
				current = &segment{marker: markerAction}
				content = content[idx+len(markerAction):]
			}
		}
		body.WriteString(content)
	}
	flush()

	return strings.TrimSpace(preamble.String()), segments
}

// inlineMarkerIndex returns the index of the first occurrence of m in s that follows a space or
// tab, or -1.
func inlineMarkerIndex(s string, m marker) int {
	offset := 0
	for {
		idx := strings.Index(s[offset:], string(m))
		if idx < 0 {
			return -1
		}
		idx += offset
		if idx > 0 && (s[idx-1] == ' ' || s[idx-1] == '\t') {
			return idx
		}
		offset = idx + len(m)
	}
}

// ParseReAct converts a model response into exactly one decision. namer may be nil, in which
// case bare arguments are bound to "input".
func ParseReAct(text string, namer PositionalNamer) Decision {
	_, segments := splitSegments(text)

	actionIdx := -1
	for i, s := range segments {
		if s.marker == markerAction {
			actionIdx = i
			break
		}
	}
	if actionIdx < 0 {
		return Decision{
			Kind:   DecisionNone,
			Raw:    strings.TrimSpace(text),
			Reason: ReasonNoAction,
		}
	}

	thought := ""
	for _, s := range segments[:actionIdx] {
		if s.marker == markerThought {
			thought = s.text
			break
		}
	}
	actionText := segments[actionIdx].text

	d := Decision{
		Thought:    thought,
		ActionText: actionText,
		Truncated:  actionIdx < len(segments)-1,
		Raw:        canonicalPair(thought, actionText),
	}

	if answer, ok := parseFinish(actionText); ok {
		d.Kind = DecisionFinal
		d.Action = Action{IsTerminal: true, FinalAnswer: answer}
		return d
	}

	name, rawArgs, ok := splitToolCall(actionText)
	if !ok {
		d.Kind = DecisionNone
		d.Reason = ReasonMalformedAction
		return d
	}

	positional := tools.DefaultPositionalParameter
	if namer != nil {
		positional = namer.PositionalParameter(name)
	}
	d.Kind = DecisionAction
	d.Action = Action{
		ToolName:     name,
		RawArguments: rawArgs,
		Arguments:    CoerceArguments(rawArgs, positional),
	}
	return d
}

func canonicalPair(thought, action string) string {
	return strings.TrimSpace(fmt.Sprintf("%s %s", markerThought, thought)) + "\n" +
		strings.TrimSpace(fmt.Sprintf("%s %s", markerAction, action))
}

var (
	finishAnswerRegexp  = regexp.MustCompile(`(?is)^finish\s*\(\s*answer\s*=\s*(?:"(.*)"|'(.*)')\s*\)$`)
	finishBracketRegexp = regexp.MustCompile(`(?is)^finish\s*\[(.*)\]$`)
	finishParenRegexp   = regexp.MustCompile(`(?is)^finish\s*\((.*)\)$`)
	finishBareRegexp    = regexp.MustCompile(`(?is)^finish(?:[^A-Za-z0-9_.\-(\[]|$)(.*)$`)
	toolCallRegexp      = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_.\-]*)([(\[])`)
)

// parseFinish recognises terminal directives, tried in this order:
//
//	finish(answer="X")  -> X verbatim
//	Finish[X]           -> X
//	finish(X)           -> X, surrounding quotes removed
//	finish ...          -> the rest of the text
func parseFinish(actionText string) (string, bool) {
	if loc := finishAnswerRegexp.FindStringSubmatchIndex(actionText); loc != nil {
		if loc[2] >= 0 {
			return actionText[loc[2]:loc[3]], true
		}
		return actionText[loc[4]:loc[5]], true
	}
	if m := finishBracketRegexp.FindStringSubmatch(actionText); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	if m := finishParenRegexp.FindStringSubmatch(actionText); m != nil {
		return unquote(m[1]), true
	}
	if m := finishBareRegexp.FindStringSubmatch(actionText); m != nil {
		rest := strings.TrimSpace(m[1])
		return strings.TrimSpace(strings.TrimPrefix(rest, ":")), true
	}
	return "", false
}

// splitToolCall finds the first identifier directly followed by an opening delimiter and returns
// it with the text up to the last matching closing delimiter.
func splitToolCall(actionText string) (string, string, bool) {
	loc := toolCallRegexp.FindStringSubmatchIndex(actionText)
	if loc == nil {
		return "", "", false
	}
	name := actionText[loc[2]:loc[3]]
	opener := actionText[loc[4]]
	closer := byte(')')
	if opener == '[' {
		closer = ']'
	}

	rest := actionText[loc[5]:]
	end := strings.LastIndexByte(rest, closer)
	if end < 0 {
		return "", "", false
	}
	return name, rest[:end], true
}
