package parse

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

type CodeBlock struct {
	Code     string
	Language string
}

// ExtractCodeBlocks returns the fenced code blocks of a markdown document in document order.
// Code keeps its trailing newline stripped; Language is the first word of the info string.
func ExtractCodeBlocks(markdownText string) []CodeBlock {
	var blocks []CodeBlock
	source := []byte(markdownText)

	document := goldmark.DefaultParser().Parse(
		text.NewReader(source),
	)

	_ = ast.Walk(document, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		v, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}

		var sb strings.Builder
		lines := v.Lines()
		for i := 0; i < lines.Len(); i++ {
			segment := lines.At(i)
			sb.Write(segment.Value(source))
		}
		blocks = append(blocks, CodeBlock{
			Code:     strings.TrimRight(sb.String(), "\n"),
			Language: string(v.Language(source)),
		})
		return ast.WalkSkipChildren, nil
	})

	return blocks
}
