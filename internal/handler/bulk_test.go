package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/hitoshi/hireboard/internal/model"
)

func TestValidateBulkIDs(t *testing.T) {
	tests := []struct {
		name     string
		ids      []string
		wantCode string
	}{
		{"空配列", nil, model.ErrCodeEmptyBatch},
		{"上限ちょうど", recIDs(50), ""},
		{"上限超過", recIDs(51), model.ErrCodeBatchTooLarge},
		{"形式不正を含む", []string{recID(1), "rec123"}, model.ErrCodeInvalidRecordID},
		{"接頭辞違い", []string{"abc" + strings.Repeat("a", 14)}, model.ErrCodeInvalidRecordID},
		{"1件", []string{recID(7)}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateBulkIDs("applicantIds", tt.ids)
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("エラーは期待していない: %v", err)
				}
				return
			}
			if err == nil || err.Code != tt.wantCode {
				t.Fatalf("err = %v, want code %s", err, tt.wantCode)
			}
		})
	}
}

func TestBulkDelete_PartitionsInput(t *testing.T) {
	ids := recIDs(5)
	failing := map[string]bool{ids[1]: true, ids[3]: true}

	result, names := bulkDelete(context.Background(), ids, func(_ context.Context, id string) (string, error) {
		if failing[id] {
			return "", errors.New("boom")
		}
		return "name-" + id[len(id)-1:], nil
	})

	if result.DeletedCount != 3 || result.FailedCount != 2 {
		t.Fatalf("deleted=%d failed=%d, want 3/2", result.DeletedCount, result.FailedCount)
	}
	all := append(append([]string{}, result.DeletedIDs...), result.FailedIDs...)
	slices.Sort(all)
	if !slices.Equal(all, ids) {
		t.Errorf("deleted ∪ failed = %v, want %v", all, ids)
	}
	for _, id := range result.DeletedIDs {
		if slices.Contains(result.FailedIDs, id) {
			t.Errorf("%s が両方に含まれている", id)
		}
	}
	if len(names) != 3 {
		t.Errorf("names = %v, want 3件", names)
	}
	if result.Status() != model.EventPartialSuccess {
		t.Errorf("Status() = %s, want Partial Success", result.Status())
	}
}

func TestBulkDelete_DuplicateIDsDeletedOnce(t *testing.T) {
	id, other := recID(1), recID(2)
	deleted := map[string]bool{}
	calls := 0

	result, _ := bulkDelete(context.Background(), []string{id, other, id}, func(_ context.Context, id string) (string, error) {
		calls++
		if deleted[id] {
			return "", errors.New("not found")
		}
		deleted[id] = true
		return "", nil
	})

	if calls != 2 {
		t.Errorf("削除呼び出し数 = %d, want 2", calls)
	}
	if !slices.Equal(result.DeletedIDs, []string{id, other}) {
		t.Errorf("DeletedIDs = %v, want [%s %s]", result.DeletedIDs, id, other)
	}
	if result.FailedCount != 0 || len(result.FailedIDs) != 0 {
		t.Errorf("FailedIDs = %v, want none", result.FailedIDs)
	}
	if result.Status() != model.EventSuccess {
		t.Errorf("Status() = %s, want Success", result.Status())
	}
}

func TestServeBulkDelete_InvalidInputMakesNoCalls(t *testing.T) {
	tests := []struct {
		name string
		ids  []string
	}{
		{"51件", recIDs(51)},
		{"形式不正", []string{recID(1), "recBAD"}},
		{"空", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingAudit{}
			b := newTestBase(rec)
			var calls atomic.Int32

			w := httptest.NewRecorder()
			r := newRequest(http.MethodDelete, "/bulk", nil, adminSession(), nil)
			b.serveBulkDelete(w, r, "applicantIds", "applicants", "Bulk Delete Applicants", tt.ids,
				func(context.Context, string) (string, error) {
					calls.Add(1)
					return "", nil
				})

			assertStatus(t, w, http.StatusBadRequest)
			if calls.Load() != 0 {
				t.Errorf("削除呼び出し = %d, want 0", calls.Load())
			}
			if n := len(rec.all()); n != 0 {
				t.Errorf("監査イベント数 = %d, want 0", n)
			}
		})
	}
}

func TestServeBulkDelete_FiftyIDsProceed(t *testing.T) {
	rec := &recordingAudit{}
	b := newTestBase(rec)
	var calls atomic.Int32

	w := httptest.NewRecorder()
	r := newRequest(http.MethodDelete, "/bulk", nil, adminSession(), nil)
	b.serveBulkDelete(w, r, "taskIds", "tasks", "Bulk Delete Tasks", recIDs(50),
		func(context.Context, string) (string, error) {
			calls.Add(1)
			return "", nil
		})

	assertStatus(t, w, http.StatusOK)
	if calls.Load() != 50 {
		t.Errorf("削除呼び出し = %d, want 50", calls.Load())
	}
	e := rec.only(t)
	if e.Status != model.EventSuccess {
		t.Errorf("監査ステータス = %s, want Success", e.Status)
	}
}

func TestServeBulkDelete_PartialFailureRecordsOneEvent(t *testing.T) {
	rec := &recordingAudit{}
	b := newTestBase(rec)
	ids := recIDs(3)

	w := httptest.NewRecorder()
	r := newRequest(http.MethodDelete, "/bulk", nil, adminSession(), nil)
	b.serveBulkDelete(w, r, "assignedTaskIds", "assigned tasks", "Bulk Delete Assigned Tasks", ids,
		func(_ context.Context, id string) (string, error) {
			if id == ids[2] {
				return "", errors.New("upstream")
			}
			return "", nil
		})

	assertStatus(t, w, http.StatusOK)
	resp := decodeBody[bulkResponse](t, w)
	if !resp.Success {
		t.Error("success = false, want true")
	}
	if !slices.Equal(resp.FailedIDs, []string{ids[2]}) {
		t.Errorf("failedIds = %v, want [%s]", resp.FailedIDs, ids[2])
	}

	e := rec.only(t)
	if e.Status != model.EventPartialSuccess {
		t.Errorf("監査ステータス = %s, want Partial Success", e.Status)
	}
	if e.UserName != "Alice Admin" {
		t.Errorf("監査の行為者 = %q, want Alice Admin", e.UserName)
	}
	if !strings.Contains(e.Message, "1 failed") {
		t.Errorf("監査メッセージ = %q, 失敗件数を含むこと", e.Message)
	}
}
