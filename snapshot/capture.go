package snapshot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Yozuusan/Adtest-sub000/adapter"
	"github.com/Yozuusan/Adtest-sub000/dom/live"
)

// Capture loads pageURL in a headless tab and extracts the snapshot from the
// rendered DOM.
func Capture(ctx context.Context, br *live.Browser, pageURL string) (*adapter.Snapshot, error) {
	page, err := br.Open(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	defer page.Close()

	markup, err := live.NewDocument(ctx, page, nil).HTML()
	if err != nil {
		return nil, fmt.Errorf("snapshot: capture %s: %w", pageURL, err)
	}
	return FromHTML(strings.NewReader(markup), pageURL, time.Now())
}
