package provider

import "sync/atomic"

// Known output sizes. Unlisted models report 0 until their first embedding.
var knownDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
	"voyage-3-large":         1024,
	"voyage-3.5":             1024,
	"voyage-code-3":          1024,
	"voyage-context-3":       1024,
	"voyage-multimodal-3":    1024,
}

type dims struct {
	n atomic.Int64
}

func (d *dims) init(model string) {
	d.n.Store(int64(knownDimensions[model]))
}

func (d *dims) observe(n int) {
	d.n.Store(int64(n))
}

func (d *dims) get() int {
	return int(d.n.Load())
}
