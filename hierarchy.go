package machina

// Hierarchy-walk algorithms over the definition arena. These operate on the
// id-indexed state table plus whatever runtime maps they need, so they stay
// independent of Machine and are directly testable.

// ancestorPath returns ids from id up to the root, id first. Unknown ids
// yield nil.
func ancestorPath(states map[string]*StateNode, id string) []string {
	var path []string
	for id != "" {
		node, ok := states[id]
		if !ok {
			return nil
		}
		path = append(path, id)
		id = node.Parent
	}
	return path
}

// pathFromRoot returns ids from the root down to id, inclusive
func pathFromRoot(states map[string]*StateNode, id string) []string {
	up := ancestorPath(states, id)
	down := make([]string, len(up))
	for i, s := range up {
		down[len(up)-1-i] = s
	}
	return down
}

// isAncestor reports whether ancestor is a proper ancestor of id
func isAncestor(states map[string]*StateNode, ancestor, id string) bool {
	if ancestor == id {
		return false
	}
	node, ok := states[id]
	for ok && node.Parent != "" {
		if node.Parent == ancestor {
			return true
		}
		node, ok = states[node.Parent]
	}
	return false
}

// lca returns the boundary state for a transition from source to target: the
// innermost state whose scope encloses the whole exit/entry sequence. States
// strictly inside the boundary exit; the boundary itself does not. An empty
// result means the boundary lies above the root (the root itself exits).
//
// Self-transitions deliberately resolve to the source's parent so that the
// source fully exits and re-enters.
func lca(states map[string]*StateNode, source, target string) string {
	if source == target {
		if node, ok := states[source]; ok {
			return node.Parent
		}
		return ""
	}
	if isAncestor(states, source, target) {
		return source
	}
	if isAncestor(states, target, source) {
		return target
	}
	srcPath := pathFromRoot(states, source)
	dstPath := pathFromRoot(states, target)
	common := ""
	for i := 0; i < len(srcPath) && i < len(dstPath); i++ {
		if srcPath[i] != dstPath[i] {
			break
		}
		common = srcPath[i]
	}
	return common
}

// pathBetween returns the ids strictly below boundary down to target,
// outermost first, target last. An empty boundary yields the full root path.
// Returns nil when target equals the boundary.
func pathBetween(states map[string]*StateNode, boundary, target string) []string {
	if target == boundary {
		return nil
	}
	full := pathFromRoot(states, target)
	if boundary == "" {
		return full
	}
	for i, id := range full {
		if id == boundary {
			return full[i+1:]
		}
	}
	return nil
}

// exitSubtree returns id and its active descendants, innermost first. For a
// composite only the active branch is walked; parallel children are all
// walked in declaration order.
func exitSubtree(states map[string]*StateNode, activeChild map[string]string, id string) []string {
	node, ok := states[id]
	if !ok {
		return nil
	}
	var order []string
	switch node.Kind {
	case Composite:
		if child := activeChild[id]; child != "" {
			order = append(order, exitSubtree(states, activeChild, child)...)
		}
	case Parallel:
		for _, child := range node.Children {
			order = append(order, exitSubtree(states, activeChild, child)...)
		}
	}
	return append(order, id)
}

// activeLeaves returns the active leaf states in document order: composites
// contribute their active branch, parallels all children in declaration
// order. A composite caught without an active child counts as a leaf.
func activeLeaves(states map[string]*StateNode, activeChild map[string]string, id string) []string {
	node, ok := states[id]
	if !ok {
		return nil
	}
	switch node.Kind {
	case Composite:
		if child := activeChild[id]; child != "" {
			return activeLeaves(states, activeChild, child)
		}
	case Parallel:
		var leaves []string
		for _, child := range node.Children {
			leaves = append(leaves, activeLeaves(states, activeChild, child)...)
		}
		return leaves
	}
	return []string{id}
}

// isActiveState answers the activity query by walking from id up to the
// root: every composite ancestor must have selected the path taken, parallel
// ancestors pass activity through to all children.
func isActiveState(states map[string]*StateNode, activeChild map[string]string, rootID, id string) bool {
	node, ok := states[id]
	if !ok {
		return false
	}
	for node.Parent != "" {
		parent, ok := states[node.Parent]
		if !ok {
			return false
		}
		if parent.Kind == Composite && activeChild[parent.ID] != node.ID {
			return false
		}
		node = parent
	}
	return node.ID == rootID
}
