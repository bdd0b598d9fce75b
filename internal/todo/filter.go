package todo

import "strings"

type Filter int

const (
	FilterAll Filter = iota
	FilterActive
	FilterCompleted
)

var filterNames = [...]string{"all", "active", "completed"}

func (f Filter) String() string {
	if f < FilterAll || f > FilterCompleted {
		return "all"
	}
	return filterNames[f]
}

// ParseFilter maps a config or flag value to a Filter. Unknown values yield
// FilterAll and false.
func ParseFilter(v string) (Filter, bool) {
	v = strings.ToLower(strings.TrimSpace(v))
	for i, name := range filterNames {
		if v == name {
			return Filter(i), true
		}
	}
	return FilterAll, false
}

func (f Filter) Matches(it Item) bool {
	switch f {
	case FilterActive:
		return !it.Completed
	case FilterCompleted:
		return it.Completed
	default:
		return true
	}
}

// Next cycles all -> active -> completed -> all.
func (f Filter) Next() Filter {
	return Filter((int(f) + 1) % len(filterNames))
}
