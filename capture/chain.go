package capture

import (
	"fmt"
	"sort"
)

// ChainOrder walks the footer chains of a set of files and returns the file
// names of one run in visitation order.
//
// The file without a predecessor opens the run. When no file has a null
// predecessor, a file whose predecessor was not supplied is taken as a broken
// start, as long as at least one other file's predecessor is present. The walk
// follows successor pointers and stops at a null successor, at a successor
// that was not supplied (truncated run) or at a file already visited (cycle).
// Every anomaly is returned as a warning; only an undeterminable start is an
// error.
func ChainOrder(infos []ChainInfo) ([]string, []Warning, error) {
	w := &warner{fn: func(Warning) {}}
	order, _, err := traverse(infos, w)
	return order, w.seen, err
}

type chainOutcome struct {
	Broken    bool
	Truncated bool
	Unvisited []string
}

func traverse(infos []ChainInfo, w *warner) ([]string, chainOutcome, error) {
	var out chainOutcome
	if len(infos) == 0 {
		return nil, out, fmt.Errorf("%w: no files supplied", ErrNoStartFile)
	}

	byName := make(map[string]ChainInfo, len(infos))
	var names []string
	for _, ci := range infos {
		if _, dup := byName[ci.Actual]; dup {
			w.warn(WarnUnvisitedFile, ci.Actual, "duplicate file name in chain, ignoring second copy")
			continue
		}
		byName[ci.Actual] = ci
		names = append(names, ci.Actual)
	}
	sort.Strings(names)

	start := ""
	for _, name := range names {
		if byName[name].Previous == "" {
			start = name
			break
		}
	}
	if start == "" {
		var broken []string
		for _, name := range names {
			if _, ok := byName[byName[name].Previous]; !ok {
				broken = append(broken, name)
			}
		}
		if len(broken) == 0 || len(broken) == len(names) {
			return nil, out, fmt.Errorf("%w: none of %d files opens a run", ErrNoStartFile, len(names))
		}
		start = broken[0]
		out.Broken = true
		w.warn(WarnChainBroken, start, "predecessor %q not supplied, starting run here", byName[start].Previous)
	}

	visited := make(map[string]bool, len(names))
	var order []string
	for cur := start; ; {
		visited[cur] = true
		order = append(order, cur)
		next := byName[cur].Next
		if next == "" {
			break
		}
		if visited[next] {
			w.warn(WarnChainCycle, cur, "successor %q already visited, stopping", next)
			break
		}
		if _, ok := byName[next]; !ok {
			out.Truncated = true
			w.warn(WarnChainTruncated, cur, "successor %q not supplied, run is truncated", next)
			break
		}
		cur = next
	}

	for _, name := range names {
		if !visited[name] {
			out.Unvisited = append(out.Unvisited, name)
			w.warn(WarnUnvisitedFile, name, "file is not reachable from run start %q", start)
		}
	}
	return order, out, nil
}

// SplitRuns partitions recordings into sets connected by their chain pointers.
// Sets are ordered by their smallest file name; recordings keep input order
// within a set.
func SplitRuns(recs []*Recording) [][]*Recording {
	parent := make(map[string]string, len(recs))
	var find func(string) string
	find = func(x string) string {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b string) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		if ra < rb {
			parent[rb] = ra
		} else {
			parent[ra] = rb
		}
	}

	for _, r := range recs {
		parent[r.Chain.Actual] = r.Chain.Actual
	}
	for _, r := range recs {
		for _, link := range []string{r.Chain.Previous, r.Chain.Next} {
			if _, ok := parent[link]; ok && link != "" {
				union(r.Chain.Actual, link)
			}
		}
	}

	groups := make(map[string][]*Recording)
	var roots []string
	for _, r := range recs {
		root := find(r.Chain.Actual)
		if _, ok := groups[root]; !ok {
			roots = append(roots, root)
		}
		groups[root] = append(groups[root], r)
	}
	sort.Strings(roots)
	out := make([][]*Recording, 0, len(roots))
	for _, root := range roots {
		out = append(out, groups[root])
	}
	return out
}
