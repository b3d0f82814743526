package vendors

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNeedsUpdate(t *testing.T) {
	tests := []struct {
		name string
		html string
		want bool
	}{
		{
			name: "four images in a row",
			html: `<div class="se-main-container">
<div class="se-text"></div>
<div class="se-image"></div><div class="se-imageStrip"></div><div class="se-image"></div><div class="se-imageGroup"></div>
</div>`,
			want: true,
		},
		{
			name: "run broken by text",
			html: `<div class="se-main-container">
<div class="se-image"></div><div class="se-image"></div><div class="se-image"></div>
<div class="se-text"></div>
<div class="se-image"></div><div class="se-image"></div>
</div>`,
			want: false,
		},
		{
			name: "images split across containers",
			html: `<div><div class="se-image"></div><div class="se-image"></div></div>
<div><div class="se-image"></div><div class="se-image"></div></div>`,
			want: false,
		},
		{
			name: "no images",
			html: `<div class="se-main-container"><div class="se-text"></div></div>`,
			want: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := goquery.NewDocumentFromReader(strings.NewReader(tc.html))
			require.NoError(t, err)
			assert.Equal(t, tc.want, NeedsUpdate(doc))
		})
	}

	assert.False(t, NeedsUpdate(nil))
}
