// Package thread turns a flat comment collection into one-level discussion threads.
package thread

import (
	"sort"

	"github.com/MyNameIsWhaaat/teamboard/internal/comment/model"
)

// Assemble groups replies under their posts and applies the filter to posts.
// Replies to unknown or non top-level parents are dropped. Posts are ordered
// pinned first, then newest first; replies keep their timestamp order.
// The input slice is not modified.
func Assemble(comments []model.Comment, f model.Filter) []model.CommentNode {
	posts := make([]model.Comment, 0, len(comments))
	replies := make(map[string][]model.Comment)
	for _, c := range comments {
		if c.IsReply() {
			replies[c.ParentID] = append(replies[c.ParentID], c)
			continue
		}
		posts = append(posts, c)
	}

	nodes := make([]model.CommentNode, 0, len(posts))
	for _, p := range posts {
		if !f.Match(p) {
			continue
		}
		rs := model.CloneComments(replies[p.ID])
		if rs == nil {
			rs = []model.Comment{}
		}
		sort.SliceStable(rs, func(i, j int) bool {
			return rs[i].Timestamp.Before(rs[j].Timestamp)
		})
		nodes = append(nodes, model.CommentNode{Comment: p.Clone(), Replies: rs})
	}

	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i].Comment, nodes[j].Comment
		if a.Pinned != b.Pinned {
			return a.Pinned
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.ID < b.ID
	})
	return nodes
}

// Count returns the number of posts and replies shown.
func Count(nodes []model.CommentNode) int {
	n := len(nodes)
	for _, node := range nodes {
		n += len(node.Replies)
	}
	return n
}

// Orphans lists replies whose parent is missing or is itself a reply.
func Orphans(comments []model.Comment) []string {
	posts := make(map[string]struct{}, len(comments))
	for _, c := range comments {
		if !c.IsReply() {
			posts[c.ID] = struct{}{}
		}
	}

	var out []string
	for _, c := range comments {
		if !c.IsReply() {
			continue
		}
		if _, ok := posts[c.ParentID]; !ok {
			out = append(out, c.ID)
		}
	}
	return out
}
