package importer

import (
	"encoding/json"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Candidate 是一个待导入的媒体文件及其关联到的sidecar元数据。
// 没有sidecar的候选 HasMetadata 为 false，其余元数据字段为零值。
type Candidate struct {
	MediaEntry

	HasMetadata bool       `json:"hasMetadata"`
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	TakenAt     *time.Time `json:"takenAt,omitempty"`
	Latitude    *float64   `json:"latitude,omitempty"`
	Longitude   *float64   `json:"longitude,omitempty"`
	Accuracy    *float64   `json:"accuracy,omitempty"`
	People      []string   `json:"people,omitempty"`

	// Preview 是预览响应中的内联Base64缩略图，只在只读预览时填充。
	Preview string `json:"preview,omitempty"`
}

// PersonStat 是预览时按人物聚合出的统计，每次预览重新计算，不落库。
type PersonStat struct {
	Name  string   `json:"name"`
	Count int      `json:"count"`
	Files []string `json:"files,omitempty"`
}

// 每个人物统计最多展示的文件名数量
const personStatFileCap = 5

// sidecarMetadata 映射Google Photos导出的JSON sidecar。
// 每个字段都是可选的，缺失或无法解析的值一律当作不存在处理，
// 不会因为个别字段畸形导致整个提取失败。
type sidecarMetadata struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	CreationTime struct {
		Timestamp string `json:"timestamp"`
	} `json:"creationTime"`
	PhotoTakenTime struct {
		Timestamp string `json:"timestamp"`
	} `json:"photoTakenTime"`
	GeoData struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Accuracy  float64 `json:"accuracy"`
	} `json:"geoData"`
	GeoDataExif struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Accuracy  float64 `json:"accuracy"`
	} `json:"geoDataExif"`
	People []struct {
		Name string `json:"name"`
	} `json:"people"`
}

// Correlate 把sidecar按文件名约定关联到媒体条目上，产出候选列表。
// 这是一个纯函数，同样的输入总是产出同样的结果。
func Correlate(media []MediaEntry, sidecars []SidecarEntry) []Candidate {
	// sidecar按压缩包内路径建索引，解析失败的当作不存在
	index := make(map[string]*sidecarMetadata, len(sidecars))
	for _, sc := range sidecars {
		var meta sidecarMetadata
		if err := json.Unmarshal(sc.Data, &meta); err != nil {
			continue
		}
		index[sc.NameInArchive] = &meta
	}

	candidates := make([]Candidate, 0, len(media))
	for _, entry := range media {
		cand := Candidate{MediaEntry: entry}

		var meta *sidecarMetadata
		for _, key := range sidecarKeysFor(entry.NameInArchive) {
			if m, ok := index[key]; ok {
				meta = m
				break
			}
		}

		if meta != nil {
			applySidecar(&cand, meta)
		}
		candidates = append(candidates, cand)
	}
	return candidates
}

// sidecarKeysFor 返回一个媒体路径可能对应的sidecar路径，按优先级排列。
// Google Photos导出使用过三种命名：
//   - IMG_0001.jpg.json
//   - IMG_0001.jpg.supplemental-metadata.json
//   - IMG_0001.json
func sidecarKeysFor(nameInArchive string) []string {
	base := strings.TrimSuffix(nameInArchive, path.Ext(nameInArchive))
	return []string{
		nameInArchive + ".json",
		nameInArchive + ".supplemental-metadata.json",
		base + ".json",
	}
}

// applySidecar 把sidecar中的有效字段填充到候选上。
func applySidecar(cand *Candidate, meta *sidecarMetadata) {
	cand.HasMetadata = true
	cand.Title = meta.Title
	cand.Description = meta.Description

	// 1. 拍摄时间优先photoTakenTime，其次creationTime
	if ts := parseUnixTimestamp(meta.PhotoTakenTime.Timestamp); ts != nil {
		cand.TakenAt = ts
	} else if ts := parseUnixTimestamp(meta.CreationTime.Timestamp); ts != nil {
		cand.TakenAt = ts
	}

	// 2. GPS优先geoDataExif，经纬度必须同时非零才采信
	lat, lon, acc := meta.GeoDataExif.Latitude, meta.GeoDataExif.Longitude, meta.GeoDataExif.Accuracy
	if lat == 0 && lon == 0 {
		lat, lon, acc = meta.GeoData.Latitude, meta.GeoData.Longitude, meta.GeoData.Accuracy
	}
	if lat != 0 && lon != 0 {
		cand.Latitude = &lat
		cand.Longitude = &lon
		if acc != 0 {
			cand.Accuracy = &acc
		}
	}

	// 3. 人物列表去重，大小写敏感，保持首次出现顺序
	seen := make(map[string]bool, len(meta.People))
	for _, p := range meta.People {
		if p.Name == "" || seen[p.Name] {
			continue
		}
		seen[p.Name] = true
		cand.People = append(cand.People, p.Name)
	}
}

// AggregatePeople 遍历候选列表一次，统计每个人物出现的照片数。
// 排序规则：数量降序，同数量按名字升序。
func AggregatePeople(candidates []Candidate) []PersonStat {
	byName := make(map[string]*PersonStat)
	for _, cand := range candidates {
		for _, name := range cand.People {
			stat, ok := byName[name]
			if !ok {
				stat = &PersonStat{Name: name}
				byName[name] = stat
			}
			stat.Count++
			if len(stat.Files) < personStatFileCap {
				stat.Files = append(stat.Files, cand.BaseName)
			}
		}
	}

	stats := make([]PersonStat, 0, len(byName))
	for _, stat := range byName {
		stats = append(stats, *stat)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		return stats[i].Name < stats[j].Name
	})
	return stats
}

func parseUnixTimestamp(s string) *time.Time {
	if s == "" {
		return nil
	}
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil || sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
