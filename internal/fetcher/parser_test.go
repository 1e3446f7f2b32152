package fetcher

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ldavisHTML = `<html><head><title>Topic Map</title>
<script src="https://d3js.org/d3.v5.js"></script>
<script src="https://cdn.jsdelivr.net/gh/bmabey/pyLDAvis@3.4.0/pyLDAvis/js/ldavis.v3.0.0.js"></script>
</head><body>
<div id="ldavis_el1234567890"></div>
<script>var ldavis_el1234567890_data = {"mdsDat": {}};</script>
</body></html>`

func TestVisParserParse(t *testing.T) {
	page, err := NewVisParser().Parse(ldavisHTML)
	require.NoError(t, err)

	assert.Equal(t, "Topic Map", page.Title)
	assert.Equal(t, "ldavis_el1234567890", page.ElementID)
	assert.Len(t, page.Scripts, 2)
	assert.Equal(t, ldavisHTML, page.HTML)
}

func TestVisParserRejectsOtherPages(t *testing.T) {
	_, err := NewVisParser().Parse(`<html><body><div id="app"></div></body></html>`)
	assert.True(t, errors.Is(err, ErrNotTopicMap))
}
