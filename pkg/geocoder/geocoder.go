package geocoder

import (
	"KidSnaps_Manager/config"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"
)

// Geocoder 调用Nominatim反向地理编码服务，把GPS坐标换算成可读的地名。
// 所有请求经过速率限制器串行化，遵守公共服务的每秒一次限制。
type Geocoder struct {
	endpoint  string
	userAgent string
	client    *http.Client
	limiter   *rate.Limiter
	enabled   bool
}

// nominatimResponse 只映射我们关心的地址组成部分。
type nominatimResponse struct {
	DisplayName string `json:"display_name"`
	Address     struct {
		Country     string `json:"country"`
		CountryCode string `json:"country_code"`
		State       string `json:"state"`
		City        string `json:"city"`
		Town        string `json:"town"`
		Village     string `json:"village"`
		Suburb      string `json:"suburb"`
	} `json:"address"`
}

// New 根据配置创建一个 Geocoder。
func New(cfg *config.GeocoderConfig) *Geocoder {
	return &Geocoder{
		endpoint:  cfg.Endpoint,
		userAgent: cfg.UserAgent,
		client:    &http.Client{Timeout: cfg.Timeout},
		limiter:   rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		enabled:   cfg.Enabled,
	}
}

// Enabled 报告反向地理编码是否已在配置中启用。
func (g *Geocoder) Enabled() bool {
	return g.enabled
}

// ReverseGeocode 把坐标换算为地名。服务不可用或解析失败时返回空字符串
// 而不是错误，地理编码失败不应该阻塞导入流程。
func (g *Geocoder) ReverseGeocode(ctx context.Context, lat, lon float64) string {
	if !g.enabled {
		return ""
	}

	// 1. 等待速率限制器放行
	if err := g.limiter.Wait(ctx); err != nil {
		return ""
	}

	// 2. 构造请求
	q := url.Values{}
	q.Set("format", "json")
	q.Set("lat", fmt.Sprintf("%f", lat))
	q.Set("lon", fmt.Sprintf("%f", lon))
	q.Set("zoom", "14")
	q.Set("accept-language", "ja,en")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		slog.Warn("反向地理编码请求失败", "error", err)
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("反向地理编码服务返回异常状态", "status", resp.StatusCode)
		return ""
	}

	var data nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		slog.Warn("反向地理编码响应解析失败", "error", err)
		return ""
	}

	return assembleAddress(&data)
}

// assembleAddress 从地址组成部分拼出展示地名。
// 日本地址按 都道府县->市区町村->地区 的顺序，其余国家按 城市,州,国家。
func assembleAddress(data *nominatimResponse) string {
	addr := &data.Address

	locality := addr.City
	if locality == "" {
		locality = addr.Town
	}
	if locality == "" {
		locality = addr.Village
	}

	var parts []string
	if addr.CountryCode == "jp" {
		for _, p := range []string{addr.State, locality, addr.Suburb} {
			if p != "" {
				parts = append(parts, p)
			}
		}
	} else {
		for _, p := range []string{locality, addr.State, addr.Country} {
			if p != "" {
				parts = append(parts, p)
			}
		}
	}

	if len(parts) == 0 {
		return data.DisplayName
	}
	return strings.Join(parts, " ")
}
