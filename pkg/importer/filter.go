package importer

import "strings"

// FilterResult 是人物过滤的分组结果，只读预览，不触库也不改动候选。
type FilterResult struct {
	Matched     []Candidate  `json:"matched"`
	FilteredOut []Candidate  `json:"filteredOut"`
	NoMetadata  []Candidate  `json:"noMetadata"`
	PeopleStats []PersonStat `json:"peopleStats"`
}

// Filter 按人物过滤器把候选集划分为 匹配/被过滤/无元数据 三组。
//
// 过滤器是逗号分隔的人名列表，大小写敏感。空过滤器匹配全部候选。
// 激活过滤器时，没有人物元数据的候选一律进入 NoMetadata 组而不是
// 匹配组，宁可漏选不可误选。
func Filter(candidates []Candidate, peopleFilter string) FilterResult {
	wanted := parsePeopleFilter(peopleFilter)

	result := FilterResult{
		PeopleStats: AggregatePeople(candidates),
	}

	if len(wanted) == 0 {
		result.Matched = append(result.Matched, candidates...)
		return result
	}

	for _, cand := range candidates {
		if len(cand.People) == 0 {
			result.NoMetadata = append(result.NoMetadata, cand)
			continue
		}

		matched := false
		for _, name := range cand.People {
			if wanted[name] {
				matched = true
				break
			}
		}
		if matched {
			result.Matched = append(result.Matched, cand)
		} else {
			result.FilteredOut = append(result.FilteredOut, cand)
		}
	}
	return result
}

// parsePeopleFilter 把逗号分隔的人名过滤器解析为去重后的集合。
func parsePeopleFilter(filter string) map[string]bool {
	wanted := make(map[string]bool)
	for _, part := range strings.Split(filter, ",") {
		name := strings.TrimSpace(part)
		if name != "" {
			wanted[name] = true
		}
	}
	return wanted
}
