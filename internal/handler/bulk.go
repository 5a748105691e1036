package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/hitoshi/hireboard/internal/model"
)

// maxBulkIDs は一括削除1回あたりのID数の上限。
const maxBulkIDs = 50

// deleteFunc は1件を削除し、監査メッセージ用の表示名を返す。
type deleteFunc func(ctx context.Context, id string) (string, error)

// bulkResponse は一括削除のレスポンス。
type bulkResponse struct {
	Success bool `json:"success"`
	*model.BulkResult
}

// validateBulkIDs はIDの件数と形式を検証する。
// 1件でも不正な場合は削除を一切行わない。
func validateBulkIDs(field string, ids []string) *model.APIError {
	if len(ids) == 0 {
		return model.NewEmptyBatchError(field)
	}
	if len(ids) > maxBulkIDs {
		return model.NewBatchTooLargeError(maxBulkIDs)
	}
	for _, id := range ids {
		if !isRecordID(id) {
			return model.NewInvalidRecordIDError()
		}
	}
	return nil
}

// bulkDelete はIDごとに独立して削除し、成功と失敗に分けて返す。
// 1件の失敗で処理を打ち切らない。重複したIDは最初の1件だけを処理する。
func bulkDelete(ctx context.Context, ids []string, del deleteFunc) (*model.BulkResult, []string) {
	ids = uniqueIDs(ids)
	result := &model.BulkResult{
		DeletedIDs: make([]string, 0, len(ids)),
		FailedIDs:  []string{},
	}
	var names []string
	for _, id := range ids {
		name, err := del(ctx, id)
		if err != nil {
			result.FailedIDs = append(result.FailedIDs, id)
			continue
		}
		result.DeletedIDs = append(result.DeletedIDs, id)
		if name != "" {
			names = append(names, name)
		}
	}
	result.DeletedCount = len(result.DeletedIDs)
	result.FailedCount = len(result.FailedIDs)
	return result, names
}

// uniqueIDs は出現順を保ったまま重複を除く。
func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// bulkSummary は一括削除の監査メッセージを組み立てる。
func bulkSummary(entity string, result *model.BulkResult, names []string) string {
	msg := fmt.Sprintf("Bulk deleted %d %s", result.DeletedCount, entity)
	if len(names) > 0 {
		msg += " (" + strings.Join(names, ", ") + ")"
	}
	if result.FailedCount > 0 {
		msg += fmt.Sprintf("; %d failed: %s", result.FailedCount, strings.Join(result.FailedIDs, ", "))
	}
	return msg
}

// serveBulkDelete は一括削除エンドポイントの共通処理。
// 検証、削除、監査イベント1件の記録、結果の書き込みを行う。
func (b *base) serveBulkDelete(w http.ResponseWriter, r *http.Request, field, entity, eventType string, ids []string, del deleteFunc) {
	if apiErr := validateBulkIDs(field, ids); apiErr != nil {
		b.fail(w, r, apiErr)
		return
	}

	result, names := bulkDelete(writeCtx(r), ids, del)
	b.record(r, eventType, result.Status(), bulkSummary(entity, result, names))

	writeJSON(w, http.StatusOK, bulkResponse{Success: true, BulkResult: result})
}
