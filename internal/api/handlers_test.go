package api

import (
	"KidSnaps_Manager/internal/models"
	"KidSnaps_Manager/pkg/database/memory"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func patchMedia(t *testing.T, h *APIHandlers, id, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Patch("/media/{mediaID}", h.HandleUpdateMediaMetadata)
	req := httptest.NewRequest(http.MethodPatch, "/media/"+id, strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestUpdateMediaMetadataPatchesOnlyGivenFields(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	media := models.MediaFile{
		ID:          primitive.NewObjectID(),
		FileName:    "photo.jpg",
		Title:       "旧标题",
		Description: "原有描述",
		UploadedAt:  time.Now(),
	}
	if err := store.Media().Create(ctx, &media); err != nil {
		t.Fatal(err)
	}

	h := NewAPIHandlers(nil, store, nil, nil)
	rec := patchMedia(t, h, media.ID.Hex(), `{"rotation": 90, "title": "新标题"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("期望200，实际 %d: %s", rec.Code, rec.Body.String())
	}

	updated, err := store.Media().GetByID(ctx, media.ID)
	if err != nil || updated == nil {
		t.Fatalf("读取更新后的记录失败: %v", err)
	}
	if updated.Rotation != 90 {
		t.Fatalf("旋转角度应为90，实际 %d", updated.Rotation)
	}
	if updated.Title != "新标题" {
		t.Fatalf("标题未更新: %q", updated.Title)
	}
	// 请求体未携带的字段保持原值
	if updated.Description != "原有描述" {
		t.Fatalf("描述不应被改动: %q", updated.Description)
	}
}

func TestUpdateMediaMetadataRejectsInvalidRotation(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	media := models.MediaFile{ID: primitive.NewObjectID(), FileName: "photo.jpg", UploadedAt: time.Now()}
	if err := store.Media().Create(ctx, &media); err != nil {
		t.Fatal(err)
	}

	h := NewAPIHandlers(nil, store, nil, nil)
	rec := patchMedia(t, h, media.ID.Hex(), `{"rotation": 45}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("非法旋转角度应返回400，实际 %d", rec.Code)
	}

	unchanged, _ := store.Media().GetByID(ctx, media.ID)
	if unchanged.Rotation != 0 {
		t.Fatalf("非法请求不应改动记录，实际旋转 %d", unchanged.Rotation)
	}
}

func TestUpdateMediaMetadataUnknownRecord(t *testing.T) {
	h := NewAPIHandlers(nil, memory.NewStore(), nil, nil)
	rec := patchMedia(t, h, primitive.NewObjectID().Hex(), `{"title": "x"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("不存在的记录应返回404，实际 %d", rec.Code)
	}
}

func TestUpdateMediaMetadataRequiresAtLeastOneField(t *testing.T) {
	store := memory.NewStore()
	media := models.MediaFile{ID: primitive.NewObjectID(), FileName: "photo.jpg", UploadedAt: time.Now()}
	if err := store.Media().Create(context.Background(), &media); err != nil {
		t.Fatal(err)
	}

	h := NewAPIHandlers(nil, store, nil, nil)
	rec := patchMedia(t, h, media.ID.Hex(), `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("空请求体应返回400，实际 %d", rec.Code)
	}
}
