package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hitoshi/hireboard/internal/airtable"
	"github.com/hitoshi/hireboard/internal/model"
)

// mockStore はRecordStoreのモック。未設定の操作はテスト失敗とする。
type mockStore struct {
	listFn        func(ctx context.Context, table string, opts airtable.ListOptions) ([]airtable.Record, error)
	getFn         func(ctx context.Context, table, id string) (*airtable.Record, error)
	createFn      func(ctx context.Context, table string, fields map[string]any) (*airtable.Record, error)
	updateFn      func(ctx context.Context, table, id string, fields map[string]any) (*airtable.Record, error)
	updateBatchFn func(ctx context.Context, table string, records []airtable.Record) ([]airtable.Record, error)
	deleteFn      func(ctx context.Context, table, id string) error

	calls int
}

func (m *mockStore) List(ctx context.Context, table string, opts airtable.ListOptions) ([]airtable.Record, error) {
	m.calls++
	if m.listFn == nil {
		return nil, errors.New("unexpected List")
	}
	return m.listFn(ctx, table, opts)
}

func (m *mockStore) Get(ctx context.Context, table, id string) (*airtable.Record, error) {
	m.calls++
	if m.getFn == nil {
		return nil, errors.New("unexpected Get")
	}
	return m.getFn(ctx, table, id)
}

func (m *mockStore) Create(ctx context.Context, table string, fields map[string]any) (*airtable.Record, error) {
	m.calls++
	if m.createFn == nil {
		return nil, errors.New("unexpected Create")
	}
	return m.createFn(ctx, table, fields)
}

func (m *mockStore) Update(ctx context.Context, table, id string, fields map[string]any) (*airtable.Record, error) {
	m.calls++
	if m.updateFn == nil {
		return nil, errors.New("unexpected Update")
	}
	return m.updateFn(ctx, table, id, fields)
}

func (m *mockStore) UpdateBatch(ctx context.Context, table string, records []airtable.Record) ([]airtable.Record, error) {
	m.calls++
	if m.updateBatchFn == nil {
		return nil, errors.New("unexpected UpdateBatch")
	}
	return m.updateBatchFn(ctx, table, records)
}

func (m *mockStore) Delete(ctx context.Context, table, id string) error {
	m.calls++
	if m.deleteFn == nil {
		return errors.New("unexpected Delete")
	}
	return m.deleteFn(ctx, table, id)
}

func TestStaffRepo_FindByEmail_UsesCaseInsensitiveFormula(t *testing.T) {
	store := &mockStore{
		listFn: func(_ context.Context, table string, opts airtable.ListOptions) ([]airtable.Record, error) {
			if table != TableStaff {
				t.Errorf("table = %q, want %q", table, TableStaff)
			}
			want := airtable.Formula("LOWER({Email})='admin@example.com'")
			if opts.Formula != want {
				t.Errorf("formula = %q, want %q", opts.Formula, want)
			}
			if opts.MaxRecords != 1 {
				t.Errorf("MaxRecords = %d, want 1", opts.MaxRecords)
			}
			return []airtable.Record{{
				ID: "recSTAFF000000001",
				Fields: map[string]any{
					"Name":                     "Admin",
					"Email":                    "admin@example.com",
					"Is Admin":                 true,
					"Password Hash":            "$2a$hash",
					"Notification Preferences": []any{"New Applicant"},
					"Notification Channels":    []any{"In-App", "Email"},
				},
			}}, nil
		},
	}

	staff, err := NewStaffRepo(store).FindByEmail(context.Background(), "Admin@Example.com")
	if err != nil {
		t.Fatalf("FindByEmail がエラーを返した: %v", err)
	}
	if staff == nil || !staff.IsAdmin || staff.PasswordHash != "$2a$hash" {
		t.Fatalf("staff = %+v", staff)
	}
	if !staff.HasPreference(model.NotifyNewApplicant) || !staff.HasChannel(model.ChannelEmail) {
		t.Errorf("preferences/channels not mapped: %+v", staff)
	}
}

func TestStaffRepo_FindByEmail_NotFoundReturnsNil(t *testing.T) {
	store := &mockStore{
		listFn: func(context.Context, string, airtable.ListOptions) ([]airtable.Record, error) {
			return nil, nil
		},
	}

	staff, err := NewStaffRepo(store).FindByEmail(context.Background(), "nobody@example.com")
	if err != nil || staff != nil {
		t.Errorf("got (%v, %v), want (nil, nil)", staff, err)
	}
}

func TestStaffRepo_FindByID_NotFoundReturnsNil(t *testing.T) {
	store := &mockStore{
		getFn: func(context.Context, string, string) (*airtable.Record, error) {
			return nil, airtable.ErrNotFound
		},
	}

	staff, err := NewStaffRepo(store).FindByID(context.Background(), "recMISSING0000000")
	if err != nil || staff != nil {
		t.Errorf("got (%v, %v), want (nil, nil)", staff, err)
	}
}

func TestStaffRepo_CompleteInvite_SetsHashAndClearsNonceInOneUpdate(t *testing.T) {
	var updates int
	store := &mockStore{
		updateFn: func(_ context.Context, table, id string, fields map[string]any) (*airtable.Record, error) {
			updates++
			if fields["Password Hash"] != "$2a$new" {
				t.Errorf("Password Hash = %v", fields["Password Hash"])
			}
			if v, ok := fields["Invite Nonce"]; !ok || v != "" {
				t.Errorf("Invite Nonce = %v, want cleared", v)
			}
			return &airtable.Record{ID: id}, nil
		},
	}

	if err := NewStaffRepo(store).CompleteInvite(context.Background(), "recSTAFF000000001", "$2a$new"); err != nil {
		t.Fatalf("CompleteInvite がエラーを返した: %v", err)
	}
	if updates != 1 {
		t.Errorf("Update 呼び出し回数 = %d, want 1", updates)
	}
}

func TestApplicantRepo_Update_RejectsFieldsOutsideAllowlist(t *testing.T) {
	store := &mockStore{}

	_, err := NewApplicantRepo(store).Update(context.Background(), "recAPPL000000001", map[string]any{
		"name":         "New Name",
		"passwordHash": "x",
	})
	if !errors.Is(err, ErrFieldNotAllowed) {
		t.Fatalf("err = %v, want ErrFieldNotAllowed", err)
	}
	var fe *FieldError
	if !errors.As(err, &fe) || len(fe.Fields) != 1 || fe.Fields[0] != "passwordHash" {
		t.Errorf("FieldError = %+v", fe)
	}
	if store.calls != 0 {
		t.Errorf("ストア呼び出し回数 = %d, want 0", store.calls)
	}
}

func TestApplicantRepo_Update_MapsAllowedFields(t *testing.T) {
	store := &mockStore{
		updateFn: func(_ context.Context, _ string, id string, fields map[string]any) (*airtable.Record, error) {
			if fields["Stage"] != "Offer" || fields["Name"] != "Alice" {
				t.Errorf("fields = %v", fields)
			}
			return &airtable.Record{ID: id, Fields: map[string]any{"Name": "Alice", "Stage": "Offer"}}, nil
		},
	}

	a, err := NewApplicantRepo(store).Update(context.Background(), "recAPPL000000001", map[string]any{
		"name":  "Alice",
		"stage": "Offer",
	})
	if err != nil {
		t.Fatalf("Update がエラーを返した: %v", err)
	}
	if a.Stage != "Offer" {
		t.Errorf("Stage = %q", a.Stage)
	}
}

func TestApplicantRepo_List_BuildsFilterAndSort(t *testing.T) {
	store := &mockStore{
		listFn: func(_ context.Context, _ string, opts airtable.ListOptions) ([]airtable.Record, error) {
			want := airtable.Formula("AND(OR(SEARCH('ali',LOWER({Name})),SEARCH('ali',LOWER({Email}))),{Stage}='Interview')")
			if opts.Formula != want {
				t.Errorf("formula = %q, want %q", opts.Formula, want)
			}
			if len(opts.Sort) != 1 || opts.Sort[0].Field != "Created At" || opts.Sort[0].Direction != "desc" {
				t.Errorf("sort = %+v", opts.Sort)
			}
			return []airtable.Record{{ID: "rec1", Fields: map[string]any{"Name": "Alice"}}}, nil
		},
	}

	got, err := NewApplicantRepo(store).List(context.Background(), ApplicantQuery{
		Search:    "Ali",
		Stage:     "Interview",
		SortBy:    "createdAt",
		SortOrder: "desc",
	})
	if err != nil {
		t.Fatalf("List がエラーを返した: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Alice" {
		t.Errorf("applicants = %+v", got)
	}
}

func TestTaskRepo_Update_LinksFolder(t *testing.T) {
	store := &mockStore{
		updateFn: func(_ context.Context, table, id string, fields map[string]any) (*airtable.Record, error) {
			if table != TableTasks {
				t.Errorf("table = %q", table)
			}
			folder, ok := fields["Folder"].([]string)
			if !ok || len(folder) != 1 || folder[0] != "recFOLDER0000001" {
				t.Errorf("Folder = %v", fields["Folder"])
			}
			if fields["Week"] != float64(2) {
				t.Errorf("Week = %v", fields["Week"])
			}
			return &airtable.Record{ID: id}, nil
		},
	}

	_, err := NewTaskRepo(store).Update(context.Background(), "recTASK00000001", map[string]any{
		"week":     float64(2),
		"folderId": "recFOLDER0000001",
	})
	if err != nil {
		t.Fatalf("Update がエラーを返した: %v", err)
	}
}

func TestNotificationRepo_MarkAllRead_BatchesOfTen(t *testing.T) {
	var sizes []int
	store := &mockStore{
		updateBatchFn: func(_ context.Context, _ string, records []airtable.Record) ([]airtable.Record, error) {
			sizes = append(sizes, len(records))
			for _, r := range records {
				if r.Fields["Read"] != true {
					t.Errorf("Read = %v", r.Fields["Read"])
				}
			}
			return records, nil
		},
	}

	ids := make([]string, 23)
	for i := range ids {
		ids[i] = fmt.Sprintf("recNOTIF%08d", i)
	}

	updated, err := NewNotificationRepo(store).MarkAllRead(context.Background(), ids)
	if err != nil {
		t.Fatalf("MarkAllRead がエラーを返した: %v", err)
	}
	if len(updated) != 23 {
		t.Errorf("updated = %d, want 23", len(updated))
	}
	if len(sizes) != 3 || sizes[0] != 10 || sizes[1] != 10 || sizes[2] != 3 {
		t.Errorf("batch sizes = %v, want [10 10 3]", sizes)
	}
}

func TestNotificationRepo_MarkAllRead_PartialFailureReturnsUpdated(t *testing.T) {
	var batches int
	store := &mockStore{
		updateBatchFn: func(_ context.Context, _ string, records []airtable.Record) ([]airtable.Record, error) {
			batches++
			if batches == 2 {
				return nil, errors.New("upstream down")
			}
			return records, nil
		},
	}

	ids := make([]string, 15)
	for i := range ids {
		ids[i] = fmt.Sprintf("recNOTIF%08d", i)
	}

	updated, err := NewNotificationRepo(store).MarkAllRead(context.Background(), ids)
	if err == nil {
		t.Fatal("expected error from second batch")
	}
	if len(updated) != 10 {
		t.Errorf("updated = %d, want 10", len(updated))
	}
}

func TestNotificationRepo_ListForRecipient_Filters(t *testing.T) {
	since := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	store := &mockStore{
		listFn: func(_ context.Context, _ string, opts airtable.ListOptions) ([]airtable.Record, error) {
			want := airtable.Formula("AND({Recipient ID}='recSTAFF000000001',NOT({Read}),IS_AFTER({Created At},'2026-05-01T00:00:00Z'))")
			if opts.Formula != want {
				t.Errorf("formula = %q, want %q", opts.Formula, want)
			}
			return nil, nil
		},
	}

	_, err := NewNotificationRepo(store).ListForRecipient(context.Background(), "recSTAFF000000001", NotificationQuery{
		UnreadOnly: true,
		Since:      since,
	})
	if err != nil {
		t.Fatalf("ListForRecipient がエラーを返した: %v", err)
	}
}

func TestAuditRepo_Append_WritesAllFields(t *testing.T) {
	ts := time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC)
	store := &mockStore{
		createFn: func(_ context.Context, table string, fields map[string]any) (*airtable.Record, error) {
			if table != TableAuditLogs {
				t.Errorf("table = %q", table)
			}
			if fields["Event Status"] != "Partial Success" || fields["Timestamp"] != "2026-06-01T09:30:00Z" {
				t.Errorf("fields = %v", fields)
			}
			if fields["Request ID"] != "req-1" {
				t.Errorf("Request ID = %v", fields["Request ID"])
			}
			return &airtable.Record{ID: "recAUDIT"}, nil
		},
	}

	err := NewAuditRepo(store).Append(context.Background(), &model.AuditEvent{
		EventType:   "Bulk Delete",
		EventStatus: model.EventPartialSuccess,
		Timestamp:   ts,
		RequestID:   "req-1",
	})
	if err != nil {
		t.Fatalf("Append がエラーを返した: %v", err)
	}
}

func TestAuditRepo_List_FilterAndLimit(t *testing.T) {
	store := &mockStore{
		listFn: func(_ context.Context, _ string, opts airtable.ListOptions) ([]airtable.Record, error) {
			want := airtable.Formula("AND({Event Type}='Login',{Event Status}='Error')")
			if opts.Formula != want {
				t.Errorf("formula = %q, want %q", opts.Formula, want)
			}
			if opts.MaxRecords != 10 {
				t.Errorf("MaxRecords = %d, want 10", opts.MaxRecords)
			}
			return []airtable.Record{{ID: "rec1", Fields: map[string]any{"Event Type": "Login"}}}, nil
		},
	}

	events, err := NewAuditRepo(store).List(context.Background(), model.AuditFilter{
		EventType: "Login",
		Status:    model.EventError,
	}, 10)
	if err != nil {
		t.Fatalf("List がエラーを返した: %v", err)
	}
	if len(events) != 1 || events[0].EventType != "Login" {
		t.Errorf("events = %+v", events)
	}
}
