package ingest

import "strings"

// pageText is extracted document text with its 1-based page number. Plain
// text files produce a single page 0 entry (no page numbers recorded).
type pageText struct {
	Page int
	Text string
}

// chunk is a word window over a document, with the pages it spans.
type chunk struct {
	Index int
	Text  string
	Pages []int
}

// chunkPages splits extracted pages into word windows of size words with the
// given overlap. Page attribution follows the words: a chunk spanning a page
// break records both pages.
func chunkPages(pages []pageText, size, overlap int) []chunk {
	if size <= 0 {
		size = 300
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	type word struct {
		text string
		page int
	}
	var words []word
	for _, p := range pages {
		for _, w := range strings.Fields(p.Text) {
			words = append(words, word{text: w, page: p.Page})
		}
	}
	if len(words) == 0 {
		return nil
	}

	step := size - overlap
	var out []chunk
	for start, idx := 0, 0; start < len(words); start, idx = start+step, idx+1 {
		end := start + size
		if end > len(words) {
			end = len(words)
		}

		texts := make([]string, 0, end-start)
		pagesSeen := []int{}
		lastPage := -1
		for _, w := range words[start:end] {
			texts = append(texts, w.text)
			if w.page > 0 && w.page != lastPage {
				pagesSeen = append(pagesSeen, w.page)
				lastPage = w.page
			}
		}

		out = append(out, chunk{
			Index: idx,
			Text:  strings.Join(texts, " "),
			Pages: pagesSeen,
		})

		if end == len(words) {
			break
		}
	}
	return out
}
