// Package report renders run reports and stored business records.
//
// Three formats are available behind the Writer interface:
//   - SimpleWriter: plain text for the terminal
//   - MarkdownWriter: GitHub-flavored Markdown built with nao1215/markdown
//   - JSONWriter: JSON for other tools
package report
