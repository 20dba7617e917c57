package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlug(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "getting-started", slug("Getting Started!"))
	assert.Equal(t, "api-v2-reference", slug("API v2: Reference"))
	assert.Equal(t, "c--c", slug("C++ / C#"))
}

func TestResolveLinks(t *testing.T) {
	t.Parallel()

	pages := []CleanedPage{
		{URL: "https://docs.example.com/guide/", Title: "Guide", Content: "Read [install](install) and [api](/api#auth)."},
		{URL: "https://docs.example.com/guide/install", Title: "Install Steps", Content: "Back to [guide](../guide/) or [top](#top) or [mail](mailto:a@b.c)."},
	}
	out := resolveLinks(pages)

	assert.Equal(t, "Read [install](#install-steps) and [api](https://docs.example.com/api#auth).", out[0].Content)
	assert.Equal(t, "Back to [guide](#guide) or [top](#top) or [mail](mailto:a@b.c).", out[1].Content)
	assert.Equal(t, "Read [install](install) and [api](/api#auth).", pages[0].Content, "input must not be mutated")
}

func TestResolveLinksUsesServedAddress(t *testing.T) {
	t.Parallel()

	pages := []CleanedPage{
		{URL: "https://docs.example.com/docs", base: "https://docs.example.com/docs/", Title: "Docs", Content: "See [intro](intro) and [faq](faq)."},
		{URL: "https://docs.example.com/docs/intro", Title: "Intro", Content: "Back to [docs](/docs/)."},
	}
	out := resolveLinks(pages)

	assert.Equal(t, "See [intro](#intro) and [faq](https://docs.example.com/docs/faq).", out[0].Content)
	assert.Equal(t, "Back to [docs](#docs).", out[1].Content)
}
