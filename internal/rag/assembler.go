package rag

import (
	"fmt"
	"strings"

	"github.com/tickup/tendersearch/pkg/models"
)

// Unit selects how the assembler measures block sizes against the budget.
type Unit string

const (
	UnitWords  Unit = "words"
	UnitTokens Unit = "tokens"
)

// TruncationMarker is appended whenever a chunk's text had to be cut to fit.
const TruncationMarker = "[...testo troncato]"

// Assembler packs ranked candidates into a bounded context. Inclusion is a
// greedy prefix walk: candidates are consumed strictly in input order and the
// walk stops at the first one that would exceed the budget, even if a smaller
// candidate follows. Simplicity over optimality.
type Assembler struct {
	Budget int
	Unit   Unit
}

func NewAssembler(budget int, unit Unit) *Assembler {
	if unit == "" {
		unit = UnitWords
	}
	return &Assembler{Budget: budget, Unit: unit}
}

// Assemble selects the budget-fitting prefix and renders it for prompt
// injection. When the very first candidate alone exceeds the budget it is
// included alone with its text truncated; the context is never empty while
// at least one candidate exists.
func (a *Assembler) Assemble(candidates []models.RankedCandidate) AssembledContext {
	included := []models.RankedCandidate{}
	blocks := []string{}
	total := 0

	for i, c := range candidates {
		block := a.block(c)
		size := a.sizeOf(block)

		if total+size > a.Budget {
			if i == 0 {
				block = a.truncate(c)
				included = append(included, c)
				blocks = append(blocks, block)
				total += a.sizeOf(block)
			}
			break
		}
		included = append(included, c)
		blocks = append(blocks, block)
		total += size
	}

	return AssembledContext{
		Candidates: included,
		Rendered:   a.render(included, blocks),
		Size:       total,
	}
}

// block renders one candidate: a section header line plus the chunk text.
func (a *Assembler) block(c models.RankedCandidate) string {
	return blockHeader(c.Chunk) + "\n" + c.Chunk.Text
}

func blockHeader(c models.Chunk) string {
	header := c.SectionPath
	if header == "" {
		header = c.DocumentID
	}
	if len(c.PageNumbers) > 0 {
		first, last := c.PageNumbers[0], c.PageNumbers[len(c.PageNumbers)-1]
		if first == last {
			header += fmt.Sprintf(" (pag. %d)", first)
		} else {
			header += fmt.Sprintf(" (pagg. %d-%d)", first, last)
		}
	}
	return header
}

// truncate cuts a single oversized candidate's text so header, text, and
// marker together fit the budget.
func (a *Assembler) truncate(c models.RankedCandidate) string {
	header := blockHeader(c.Chunk)
	allowed := a.Budget - a.sizeOf(header) - a.sizeOf(TruncationMarker)
	if allowed < 1 {
		allowed = 1
	}

	text := c.Chunk.Text
	switch a.Unit {
	case UnitTokens:
		runes := []rune(text)
		if len(runes) > allowed*4 {
			text = string(runes[:allowed*4])
		}
	default:
		words := strings.Fields(text)
		if len(words) > allowed {
			text = strings.Join(words[:allowed], " ")
		}
	}

	return header + "\n" + text + " " + TruncationMarker
}

func (a *Assembler) sizeOf(s string) int {
	switch a.Unit {
	case UnitTokens:
		// Rough byte-pair estimate; exact tokenization is model-specific.
		return (len([]rune(s)) + 3) / 4
	default:
		return len(strings.Fields(s))
	}
}

// render groups included blocks under one header per tender, in the order of
// each tender's first appearance. Grouping is display-only; the inclusion
// decision above already happened per candidate.
func (a *Assembler) render(included []models.RankedCandidate, blocks []string) string {
	if len(included) == 0 {
		return ""
	}

	groupOrder := []string{}
	grouped := map[string][]string{}

	for i, c := range included {
		key := c.Chunk.TenderCode
		if _, seen := grouped[key]; !seen {
			groupOrder = append(groupOrder, key)
		}
		anchored := fmt.Sprintf("[%d] %s", i+1, blocks[i])
		grouped[key] = append(grouped[key], anchored)
	}

	var sb strings.Builder
	for gi, key := range groupOrder {
		if gi > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(groupHeader(key, grouped[key], included))
		sb.WriteString(strings.Join(grouped[key], "\n\n"))
	}
	return sb.String()
}

func groupHeader(tenderCode string, _ []string, included []models.RankedCandidate) string {
	if tenderCode == "" {
		return "=== Documenti ===\n"
	}
	buyer := ""
	for _, c := range included {
		if c.Chunk.TenderCode == tenderCode && c.Chunk.Buyer != "" {
			buyer = c.Chunk.Buyer
			break
		}
	}
	if buyer != "" {
		return fmt.Sprintf("=== Gara %s (%s) ===\n", tenderCode, buyer)
	}
	return fmt.Sprintf("=== Gara %s ===\n", tenderCode)
}
