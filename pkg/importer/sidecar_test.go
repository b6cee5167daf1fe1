package importer

import (
	"testing"
)

func TestCorrelateSidecarPatterns(t *testing.T) {
	media := []MediaEntry{
		{NameInArchive: "Takeout/Photos/IMG_0001.jpg", BaseName: "IMG_0001.jpg"},
		{NameInArchive: "Takeout/Photos/IMG_0002.jpg", BaseName: "IMG_0002.jpg"},
		{NameInArchive: "Takeout/Photos/IMG_0003.jpg", BaseName: "IMG_0003.jpg"},
		{NameInArchive: "Takeout/Photos/IMG_0004.jpg", BaseName: "IMG_0004.jpg"},
	}
	sidecars := []SidecarEntry{
		{NameInArchive: "Takeout/Photos/IMG_0001.jpg.json", Data: []byte(`{"title":"one"}`)},
		{NameInArchive: "Takeout/Photos/IMG_0002.jpg.supplemental-metadata.json", Data: []byte(`{"title":"two"}`)},
		{NameInArchive: "Takeout/Photos/IMG_0003.json", Data: []byte(`{"title":"three"}`)},
	}

	candidates := Correlate(media, sidecars)
	if len(candidates) != 4 {
		t.Fatalf("期望4个候选，实际 %d", len(candidates))
	}

	for i, want := range []string{"one", "two", "three"} {
		if !candidates[i].HasMetadata || candidates[i].Title != want {
			t.Fatalf("候选 %d 未正确关联sidecar: hasMetadata=%t title=%q",
				i, candidates[i].HasMetadata, candidates[i].Title)
		}
	}
	// 没有sidecar不是错误，只是标记为无元数据
	if candidates[3].HasMetadata {
		t.Fatal("没有sidecar的候选不应标记为有元数据")
	}
}

func TestCorrelatePrefersPhotoTakenTime(t *testing.T) {
	media := []MediaEntry{{NameInArchive: "a.jpg", BaseName: "a.jpg"}}
	sidecars := []SidecarEntry{{
		NameInArchive: "a.jpg.json",
		Data: []byte(`{
			"creationTime": {"timestamp": "1700000000"},
			"photoTakenTime": {"timestamp": "1600000000"}
		}`),
	}}

	candidates := Correlate(media, sidecars)
	if candidates[0].TakenAt == nil {
		t.Fatal("应解析出拍摄时间")
	}
	if got := candidates[0].TakenAt.Unix(); got != 1600000000 {
		t.Fatalf("应优先photoTakenTime (1600000000)，实际 %d", got)
	}
}

func TestCorrelateFallsBackToCreationTime(t *testing.T) {
	media := []MediaEntry{{NameInArchive: "a.jpg", BaseName: "a.jpg"}}
	sidecars := []SidecarEntry{{
		NameInArchive: "a.jpg.json",
		Data:          []byte(`{"creationTime": {"timestamp": "1700000000"}}`),
	}}

	candidates := Correlate(media, sidecars)
	if candidates[0].TakenAt == nil || candidates[0].TakenAt.Unix() != 1700000000 {
		t.Fatal("photoTakenTime缺失时应回退到creationTime")
	}
}

func TestCorrelateGPSRequiresBothCoordinates(t *testing.T) {
	media := []MediaEntry{
		{NameInArchive: "a.jpg", BaseName: "a.jpg"},
		{NameInArchive: "b.jpg", BaseName: "b.jpg"},
	}
	sidecars := []SidecarEntry{
		{NameInArchive: "a.jpg.json", Data: []byte(`{"geoData": {"latitude": 35.68, "longitude": 0}}`)},
		{NameInArchive: "b.jpg.json", Data: []byte(`{"geoData": {"latitude": 35.68, "longitude": 139.76}}`)},
	}

	candidates := Correlate(media, sidecars)
	if candidates[0].Latitude != nil || candidates[0].Longitude != nil {
		t.Fatal("经度为零时不应采信GPS坐标")
	}
	if candidates[1].Latitude == nil || *candidates[1].Latitude != 35.68 {
		t.Fatal("两个坐标都有效时应采信")
	}
}

func TestCorrelatePrefersExifGeoData(t *testing.T) {
	media := []MediaEntry{{NameInArchive: "a.jpg", BaseName: "a.jpg"}}
	sidecars := []SidecarEntry{{
		NameInArchive: "a.jpg.json",
		Data: []byte(`{
			"geoData": {"latitude": 1.0, "longitude": 2.0},
			"geoDataExif": {"latitude": 35.68, "longitude": 139.76}
		}`),
	}}

	candidates := Correlate(media, sidecars)
	if candidates[0].Latitude == nil || *candidates[0].Latitude != 35.68 {
		t.Fatal("geoDataExif应优先于geoData")
	}
}

func TestCorrelateDeduplicatesPeople(t *testing.T) {
	media := []MediaEntry{{NameInArchive: "a.jpg", BaseName: "a.jpg"}}
	sidecars := []SidecarEntry{{
		NameInArchive: "a.jpg.json",
		Data: []byte(`{"people": [
			{"name": "Baby"}, {"name": "Mom"}, {"name": "Baby"}, {"name": "baby"}, {"name": ""}
		]}`),
	}}

	candidates := Correlate(media, sidecars)
	people := candidates[0].People
	// 去重是大小写敏感的，"Baby" 和 "baby" 是两个人
	if len(people) != 3 {
		t.Fatalf("期望3个人物，实际 %v", people)
	}
	if people[0] != "Baby" || people[1] != "Mom" || people[2] != "baby" {
		t.Fatalf("人物列表顺序错误: %v", people)
	}
}

func TestCorrelateMalformedSidecarTreatedAsAbsent(t *testing.T) {
	media := []MediaEntry{{NameInArchive: "a.jpg", BaseName: "a.jpg"}}
	sidecars := []SidecarEntry{{NameInArchive: "a.jpg.json", Data: []byte(`{not json`)}}

	candidates := Correlate(media, sidecars)
	if candidates[0].HasMetadata {
		t.Fatal("无法解析的sidecar应当作不存在处理")
	}
}

func TestCorrelateIsDeterministic(t *testing.T) {
	media := []MediaEntry{
		{NameInArchive: "a.jpg", BaseName: "a.jpg"},
		{NameInArchive: "b.jpg", BaseName: "b.jpg"},
	}
	sidecars := []SidecarEntry{
		{NameInArchive: "a.jpg.json", Data: []byte(`{"people": [{"name": "Mom"}]}`)},
		{NameInArchive: "b.jpg.json", Data: []byte(`{"people": [{"name": "Baby"}]}`)},
	}

	first := Correlate(media, sidecars)
	second := Correlate(media, sidecars)
	for i := range first {
		if first[i].HasMetadata != second[i].HasMetadata || len(first[i].People) != len(second[i].People) {
			t.Fatal("同样输入重复关联的结果应当一致")
		}
	}
}

func TestAggregatePeopleOrdering(t *testing.T) {
	candidates := []Candidate{
		candidateWithPeople("1.jpg", "Mom", "Baby"),
		candidateWithPeople("2.jpg", "Baby"),
		candidateWithPeople("3.jpg", "Dad", "Mom"),
	}

	stats := AggregatePeople(candidates)
	if len(stats) != 3 {
		t.Fatalf("期望3个人物，实际 %d", len(stats))
	}
	// Baby=2, Mom=2, Dad=1；同数量按名字升序
	if stats[0].Name != "Baby" || stats[0].Count != 2 {
		t.Fatalf("第一项期望 {Baby 2}，实际 {%s %d}", stats[0].Name, stats[0].Count)
	}
	if stats[1].Name != "Mom" || stats[1].Count != 2 {
		t.Fatalf("第二项期望 {Mom 2}，实际 {%s %d}", stats[1].Name, stats[1].Count)
	}
	if stats[2].Name != "Dad" || stats[2].Count != 1 {
		t.Fatalf("第三项期望 {Dad 1}，实际 {%s %d}", stats[2].Name, stats[2].Count)
	}
}
