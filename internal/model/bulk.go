package model

// BulkResult は一括削除の結果を表す。永続化はしない。
// DeletedIDsとFailedIDsは入力IDを過不足なく分割する。
type BulkResult struct {
	DeletedIDs   []string `json:"deletedIds"`
	FailedIDs    []string `json:"failedIds"`
	DeletedCount int      `json:"deletedCount"`
	FailedCount  int      `json:"failedCount"`
}

// Status は結果に対応する監査イベントの状態を返す。
func (r *BulkResult) Status() EventStatus {
	if len(r.FailedIDs) == 0 {
		return EventSuccess
	}
	return EventPartialSuccess
}
