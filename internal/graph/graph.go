// Package graph models the configured markets as an undirected asset graph
// and enumerates triangular round trips over a price cache snapshot.
package graph

import (
	"sort"

	"github.com/arbiterlabs/triarb/internal/domain"
)

// Graph indexes the configured pairs by the two assets they connect. The
// graph is built once from configuration and read concurrently; it is never
// mutated after construction.
type Graph struct {
	markets map[string]map[string]domain.Pair // asset → counter asset → market
}

// New builds a graph from the configured pairs. Each pair becomes an
// undirected edge between its base and quote assets.
func New(pairs []domain.Pair) *Graph {
	g := &Graph{markets: make(map[string]map[string]domain.Pair)}
	for _, p := range pairs {
		g.link(p.Base, p.Quote, p)
		g.link(p.Quote, p.Base, p)
	}
	return g
}

func (g *Graph) link(from, to string, p domain.Pair) {
	m, ok := g.markets[from]
	if !ok {
		m = make(map[string]domain.Pair)
		g.markets[from] = m
	}
	m[to] = p
}

// Market returns the configured pair connecting two assets, in whichever
// orientation it is quoted.
func (g *Graph) Market(a, b string) (domain.Pair, bool) {
	p, ok := g.markets[a][b]
	return p, ok
}

// Neighbors returns the assets directly tradable against the given asset,
// sorted for deterministic enumeration order.
func (g *Graph) Neighbors(asset string) []string {
	m := g.markets[asset]
	out := make([]string, 0, len(m))
	for a := range m {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Assets returns every asset that appears in at least one configured pair.
func (g *Graph) Assets() []string {
	out := make([]string, 0, len(g.markets))
	for a := range g.markets {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
