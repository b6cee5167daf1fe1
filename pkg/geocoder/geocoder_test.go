package geocoder

import (
	"KidSnaps_Manager/config"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testGeocoder(endpoint string) *Geocoder {
	return New(&config.GeocoderConfig{
		Enabled:     true,
		Endpoint:    endpoint,
		UserAgent:   "test-agent",
		MinInterval: time.Millisecond,
		Timeout:     time.Second,
	})
}

func TestReverseGeocodeJapaneseAddress(t *testing.T) {
	var gotUA atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"display_name": "full display name",
			"address": {
				"country": "日本", "country_code": "jp",
				"state": "東京都", "city": "港区", "suburb": "芝公園"
			}
		}`))
	}))
	defer server.Close()

	name := testGeocoder(server.URL).ReverseGeocode(context.Background(), 35.6586, 139.7454)
	if name != "東京都 港区 芝公園" {
		t.Fatalf("日本地址顺序错误: %q", name)
	}
	if ua, _ := gotUA.Load().(string); ua != "test-agent" {
		t.Fatalf("必须携带配置的User-Agent，实际 %q", ua)
	}
}

func TestReverseGeocodeInternationalAddress(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"address": {
				"country": "France", "country_code": "fr",
				"state": "Île-de-France", "city": "Paris"
			}
		}`))
	}))
	defer server.Close()

	name := testGeocoder(server.URL).ReverseGeocode(context.Background(), 48.85, 2.35)
	if name != "Paris Île-de-France France" {
		t.Fatalf("国际地址顺序错误: %q", name)
	}
}

func TestReverseGeocodeDegradesToEmpty(t *testing.T) {
	// 服务端报错时返回空字符串，不影响导入流程
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	if name := testGeocoder(server.URL).ReverseGeocode(context.Background(), 1, 2); name != "" {
		t.Fatalf("服务不可用时应返回空字符串，实际 %q", name)
	}
}

func TestReverseGeocodeDisabled(t *testing.T) {
	g := New(&config.GeocoderConfig{Enabled: false})
	if name := g.ReverseGeocode(context.Background(), 1, 2); name != "" {
		t.Fatal("未启用时应直接返回空字符串")
	}
}

func TestReverseGeocodeThrottles(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"address": {"city": "X", "country": "Y"}}`))
	}))
	defer server.Close()

	g := New(&config.GeocoderConfig{
		Enabled:     true,
		Endpoint:    server.URL,
		UserAgent:   "test-agent",
		MinInterval: 50 * time.Millisecond,
		Timeout:     time.Second,
	})

	start := time.Now()
	for i := 0; i < 3; i++ {
		g.ReverseGeocode(context.Background(), 1, 2)
	}
	// 3次调用至少要等两个间隔
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Fatalf("速率限制未生效，3次调用只用了 %v", elapsed)
	}
	if calls.Load() != 3 {
		t.Fatalf("期望3次请求，实际 %d", calls.Load())
	}
}
