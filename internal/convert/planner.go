// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package convert

// ChunkPlan describes one disjoint page range of a chunked conversion.
// Pages are 1-indexed and inclusive on both ends.
type ChunkPlan struct {
	Index     int
	PageStart int
	PageEnd   int
	First     bool
	Last      bool
}

// PageCount returns the number of pages in the chunk.
func (c ChunkPlan) PageCount() int { return c.PageEnd - c.PageStart + 1 }

// PlanChunks splits totalPages into disjoint chunks of pagesPerChunk pages
// each; the last chunk may be shorter. A document that fits in one chunk
// yields a single plan covering every page.
//
// Example with totalPages=88, pagesPerChunk=20:
//
//	Chunk 0: pages  1-20
//	Chunk 1: pages 21-40
//	Chunk 2: pages 41-60
//	Chunk 3: pages 61-80
//	Chunk 4: pages 81-88
func PlanChunks(totalPages, pagesPerChunk int) []ChunkPlan {
	if totalPages <= pagesPerChunk {
		return []ChunkPlan{{
			Index: 0, PageStart: 1, PageEnd: totalPages,
			First: true, Last: true,
		}}
	}

	var chunks []ChunkPlan
	pageStart := 1
	for idx := 0; pageStart <= totalPages; idx++ {
		pageEnd := pageStart + pagesPerChunk - 1
		if pageEnd > totalPages {
			pageEnd = totalPages
		}
		chunks = append(chunks, ChunkPlan{
			Index:     idx,
			PageStart: pageStart,
			PageEnd:   pageEnd,
			First:     idx == 0,
			Last:      pageEnd >= totalPages,
		})
		pageStart += pagesPerChunk
	}
	return chunks
}
