package browser

import (
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"

	"github.com/xkilldash9x/formpilot/internal/frames"
)

// targetTypeIframe is the DevTools target type of an out-of-process iframe.
const targetTypeIframe = "iframe"

// flattenFrameTree lists every frame of tree in depth-first document order.
func flattenFrameTree(tree *page.FrameTree) []frames.Handle {
	var out []frames.Handle
	var walk func(t *page.FrameTree)
	walk = func(t *page.FrameTree) {
		if t == nil || t.Frame == nil {
			return
		}
		out = append(out, frames.Handle{ID: string(t.Frame.ID), URL: t.Frame.URL + t.Frame.URLFragment})
		for _, child := range t.ChildFrames {
			walk(child)
		}
	}
	walk(tree)
	return out
}

// parentFunc returns the parent frame ID of the root frame rendered by an
// iframe target, or false when it cannot be read.
type parentFunc func(targetID string) (string, bool)

// mergeFrameTargets marks frames that are separate iframe targets. A Chrome
// OOPIF target shares its ID with the frame it renders. Iframe targets the
// tree does not report are appended only when parentOf places them under a
// frame already in the tab, so iframes of other tabs never join the snapshot.
func mergeFrameTargets(handles []frames.Handle, infos []*target.Info, parentOf parentFunc) []frames.Handle {
	index := make(map[string]int, len(handles))
	for i, h := range handles {
		index[h.ID] = i
	}

	var pending []*target.Info
	for _, info := range infos {
		if info == nil || info.Type != targetTypeIframe {
			continue
		}
		id := string(info.TargetID)
		if i, ok := index[id]; ok {
			handles[i].TargetID = id
			if handles[i].URL == "" {
				handles[i].URL = info.URL
			}
			continue
		}
		pending = append(pending, info)
	}
	if parentOf == nil {
		return handles
	}

	// Nested out-of-process iframes resolve once their parent has joined.
	for progress := true; progress && len(pending) > 0; {
		progress = false
		rest := pending[:0]
		for _, info := range pending {
			id := string(info.TargetID)
			parent, ok := parentOf(id)
			if _, inTab := index[parent]; !ok || !inTab {
				rest = append(rest, info)
				continue
			}
			index[id] = len(handles)
			handles = append(handles, frames.Handle{ID: id, URL: info.URL, TargetID: id})
			progress = true
		}
		pending = rest
	}
	return handles
}
