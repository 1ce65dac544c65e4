package gee

import "strings"

type node struct {
	pattern  string  // 完整路由，只有叶子（路由终点）才有，如 /api/urls/:shortCode
	part     string  // 当前这一段，如 :shortCode
	children []*node // 子节点
	isWild   bool    // part 以 : 或 * 开头时为 true
}

// matchChild 插入用：找第一个 part 完全相同的子节点。
func (n *node) matchChild(part string) *node {
	for _, child := range n.children {
		if child.part == part {
			return child
		}
	}
	return nil
}

// matchChildren 查找用：静态段优先，其次才是通配段。
// 所以 /healthz 不会被 /:shortCode 抢走。
func (n *node) matchChildren(part string) []*node {
	nodes := make([]*node, 0)
	for _, child := range n.children {
		if child.part == part {
			nodes = append(nodes, child)
		}
	}
	for _, child := range n.children {
		if child.isWild {
			nodes = append(nodes, child)
		}
	}
	return nodes
}

func (n *node) insert(pattern string, parts []string, height int) {
	if len(parts) == height {
		n.pattern = pattern
		return
	}
	part := parts[height]
	child := n.matchChild(part)
	if child == nil {
		child = &node{
			part:   part,
			isWild: part[0] == ':' || part[0] == '*',
		}
		n.children = append(n.children, child)
	}
	child.insert(pattern, parts, height+1)
}

// search 深度优先，静态分支没有终点时回溯到通配分支。
func (n *node) search(parts []string, height int) *node {
	if len(parts) == height || strings.HasPrefix(n.part, "*") {
		if n.pattern == "" {
			return nil
		}
		return n
	}

	for _, child := range n.matchChildren(parts[height]) {
		if result := child.search(parts, height+1); result != nil {
			return result
		}
	}
	return nil
}
