package importer

import "testing"

func candidateWithPeople(name string, people ...string) Candidate {
	return Candidate{
		MediaEntry:  MediaEntry{NameInArchive: name, BaseName: name},
		HasMetadata: len(people) > 0,
		People:      people,
	}
}

func TestFilterEmptyMatchesEverything(t *testing.T) {
	candidates := []Candidate{
		candidateWithPeople("a.jpg", "Mom"),
		candidateWithPeople("b.jpg"),
		candidateWithPeople("c.jpg", "Dad", "Baby"),
	}

	result := Filter(candidates, "")
	if len(result.Matched) != 3 {
		t.Fatalf("空过滤器应匹配全部3个候选，实际 %d", len(result.Matched))
	}
	if len(result.FilteredOut) != 0 || len(result.NoMetadata) != 0 {
		t.Fatal("空过滤器下不应有候选被过滤或归入无元数据组")
	}
}

func TestFilterBabyScenario(t *testing.T) {
	// 5张照片：3张sidecar标注了 Mom 和 Baby，2张没有sidecar
	candidates := []Candidate{
		candidateWithPeople("p1.jpg", "Mom", "Baby"),
		candidateWithPeople("p2.jpg", "Mom", "Baby"),
		candidateWithPeople("p3.jpg", "Mom", "Baby"),
		candidateWithPeople("p4.jpg"),
		candidateWithPeople("p5.jpg"),
	}

	result := Filter(candidates, "Baby")
	if len(result.Matched) != 3 {
		t.Fatalf("matched 期望3，实际 %d", len(result.Matched))
	}
	if len(result.FilteredOut) != 0 {
		t.Fatalf("filteredOut 期望0，实际 %d", len(result.FilteredOut))
	}
	if len(result.NoMetadata) != 2 {
		t.Fatalf("noMetadata 期望2，实际 %d", len(result.NoMetadata))
	}

	// 统计按数量降序、同数量按名字升序
	if len(result.PeopleStats) != 2 {
		t.Fatalf("peopleStats 期望2项，实际 %d", len(result.PeopleStats))
	}
	if result.PeopleStats[0].Name != "Baby" || result.PeopleStats[0].Count != 3 {
		t.Fatalf("第一项期望 {Baby 3}，实际 {%s %d}", result.PeopleStats[0].Name, result.PeopleStats[0].Count)
	}
	if result.PeopleStats[1].Name != "Mom" || result.PeopleStats[1].Count != 3 {
		t.Fatalf("第二项期望 {Mom 3}，实际 {%s %d}", result.PeopleStats[1].Name, result.PeopleStats[1].Count)
	}
}

func TestFilterNonMatchingGoesToFilteredOut(t *testing.T) {
	candidates := []Candidate{
		candidateWithPeople("a.jpg", "Alice"),
		candidateWithPeople("b.jpg", "Bob"),
		candidateWithPeople("c.jpg"),
	}

	result := Filter(candidates, "Alice")
	if len(result.Matched) != 1 || result.Matched[0].BaseName != "a.jpg" {
		t.Fatalf("只有 a.jpg 应该匹配，实际 matched=%d", len(result.Matched))
	}
	if len(result.FilteredOut) != 1 || result.FilteredOut[0].BaseName != "b.jpg" {
		t.Fatal("有人物但不匹配的候选应进入 FilteredOut")
	}
	// 无人物元数据的候选在激活过滤器时绝不进入匹配组
	if len(result.NoMetadata) != 1 || result.NoMetadata[0].BaseName != "c.jpg" {
		t.Fatal("无元数据的候选应进入 NoMetadata")
	}
}

func TestFilterIsCaseSensitive(t *testing.T) {
	candidates := []Candidate{candidateWithPeople("a.jpg", "alice")}
	result := Filter(candidates, "Alice")
	if len(result.Matched) != 0 {
		t.Fatal("人名匹配是大小写敏感的")
	}
	if len(result.FilteredOut) != 1 {
		t.Fatal("大小写不一致的候选应被过滤")
	}
}

func TestFilterParsesCommaList(t *testing.T) {
	candidates := []Candidate{
		candidateWithPeople("a.jpg", "Alice"),
		candidateWithPeople("b.jpg", "Bob"),
		candidateWithPeople("c.jpg", "Carol"),
	}
	// 带空白和重复项的过滤器
	result := Filter(candidates, " Alice , Bob ,Alice,, ")
	if len(result.Matched) != 2 {
		t.Fatalf("期望匹配2个候选，实际 %d", len(result.Matched))
	}
}
