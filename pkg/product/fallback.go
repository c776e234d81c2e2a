package product

import "github.com/charlesnicholson/envy/pkg/graph"

// FallbackProvides DFS-walks fallback's transitive dependency closure
// and reports whether some reachable node advertises productName as a
// PRODUCTS entry (§4.8 transitive fallback validation).
func FallbackProvides(fallback *graph.Node, productName string) bool {
	return dfs(fallback, productName, map[string]bool{})
}

func dfs(n *graph.Node, productName string, visited map[string]bool) bool {
	if visited[n.CanonicalKey] {
		return false
	}
	visited[n.CanonicalKey] = true
	if _, ok := n.ProductValue(productName); ok {
		return true
	}
	for _, edge := range n.DependencySnapshot() {
		if dfs(edge.Node, productName, visited) {
			return true
		}
	}
	return false
}
