package planning

import (
	"fmt"
	"strings"

	"weave/internal/domain"
)

// Edge says Prerequisite must finish before Task.
type Edge struct {
	TaskID         string `json:"task_id"`
	PrerequisiteID string `json:"prerequisite_id"`
}

type DroppedRef struct {
	Task         string `json:"task"`
	Prerequisite string `json:"prerequisite"`
	Reason       string `json:"reason"`
}

const (
	DropUnresolved = "unresolved"
	DropSelf       = "self"
	DropCycle      = "cycle"
)

type Graph struct {
	Edges   []Edge       `json:"edges"`
	Order   []string     `json:"order"`
	Dropped []DroppedRef `json:"dropped,omitempty"`
}

// BuildGraph resolves prerequisite names to task ids. Names resolve by exact
// match, then case-insensitively, then as a "<ref>:" prefix of a task name
// ("Task 1" matches "Task 1: Survey the site"). Unresolved names and edges
// that would close a cycle are dropped and reported. Order is a topological
// order of task ids that keeps the input order among independent tasks.
func BuildGraph(tasks []domain.Task) Graph {
	var g Graph
	exact := map[string]string{}
	folded := map[string]string{}
	for _, t := range tasks {
		if _, ok := exact[t.Name]; !ok {
			exact[t.Name] = t.ID
		}
		key := strings.ToLower(strings.TrimSpace(t.Name))
		if _, ok := folded[key]; !ok {
			folded[key] = t.ID
		}
	}
	resolve := func(ref string) (string, bool) {
		if id, ok := exact[ref]; ok {
			return id, true
		}
		key := strings.ToLower(strings.TrimSpace(ref))
		if id, ok := folded[key]; ok {
			return id, true
		}
		for _, t := range tasks {
			if strings.HasPrefix(strings.ToLower(t.Name), key+":") {
				return t.ID, true
			}
		}
		return "", false
	}

	// forward: prerequisite -> dependents
	forward := map[string][]string{}
	reaches := func(from, to string) bool {
		seen := map[string]bool{}
		stack := []string{from}
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if n == to {
				return true
			}
			if seen[n] {
				continue
			}
			seen[n] = true
			stack = append(stack, forward[n]...)
		}
		return false
	}

	for _, t := range tasks {
		added := map[string]bool{}
		for _, ref := range t.Prerequisites {
			id, ok := resolve(ref)
			switch {
			case !ok:
				g.Dropped = append(g.Dropped, DroppedRef{Task: t.Name, Prerequisite: ref, Reason: DropUnresolved})
			case id == t.ID:
				g.Dropped = append(g.Dropped, DroppedRef{Task: t.Name, Prerequisite: ref, Reason: DropSelf})
			case added[id]:
			case reaches(t.ID, id):
				g.Dropped = append(g.Dropped, DroppedRef{Task: t.Name, Prerequisite: ref, Reason: DropCycle})
			default:
				added[id] = true
				forward[id] = append(forward[id], t.ID)
				g.Edges = append(g.Edges, Edge{TaskID: t.ID, PrerequisiteID: id})
			}
		}
	}

	// Kahn's algorithm; the graph is acyclic by construction.
	inDegree := make(map[string]int, len(tasks))
	for _, e := range g.Edges {
		inDegree[e.TaskID]++
	}
	var queue []string
	for _, t := range tasks {
		if inDegree[t.ID] == 0 {
			queue = append(queue, t.ID)
		}
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		g.Order = append(g.Order, n)
		for _, dep := range forward[n] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	return g
}

func (d DroppedRef) String() string {
	return fmt.Sprintf("%s -> %s (%s)", d.Prerequisite, d.Task, d.Reason)
}
