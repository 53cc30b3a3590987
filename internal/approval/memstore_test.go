package approval

import (
	"context"
	"testing"
	"time"

	"github.com/haneul-labs/tripdesk/model"
)

func testApproval(id, requesterID string, approvers ...string) model.Approval {
	steps := make([]model.ApprovalStep, len(approvers))
	for i, a := range approvers {
		steps[i] = model.ApprovalStep{ApproverID: a, Order: i + 1}
	}
	return model.Approval{
		ID:          id,
		Title:       "Business trip to Busan",
		Content:     "Client kickoff meeting",
		TargetType:  model.TargetTypeCustom,
		Currency:    model.DefaultCurrency,
		Status:      model.ApprovalStatusPending,
		CurrentStep: 0,
		Steps:       steps,
		RequesterID: requesterID,
		CreatedAt:   time.Now().UTC(),
		Version:     1,
	}
}

// --- Create ---

func TestMemoryStore_Create(t *testing.T) {
	store := NewMemoryStore()
	ap := testApproval("ap-1", "user-alice", "user-bob")

	err := store.Create(context.Background(), ap)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1", store.Len())
	}
}

func TestMemoryStore_Create_duplicate(t *testing.T) {
	store := NewMemoryStore()
	ap := testApproval("ap-1", "user-alice", "user-bob")

	_ = store.Create(context.Background(), ap)
	err := store.Create(context.Background(), ap)
	if err == nil {
		t.Fatal("expected conflict error for duplicate")
	}
	envErr, ok := err.(*model.ErrorEnvelope)
	if !ok {
		t.Fatalf("error type = %T", err)
	}
	if envErr.Code != model.ErrConflict {
		t.Errorf("code = %s, want %s", envErr.Code, model.ErrConflict)
	}
}

// --- Get ---

func TestMemoryStore_Get(t *testing.T) {
	store := NewMemoryStore()
	ap := testApproval("ap-1", "user-alice", "user-bob")
	_ = store.Create(context.Background(), ap)

	got, err := store.Get(context.Background(), "ap-1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.ID != "ap-1" {
		t.Errorf("ID = %q", got.ID)
	}
	if got.Title != "Business trip to Busan" {
		t.Errorf("Title = %q", got.Title)
	}
}

func TestMemoryStore_Get_notFound(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Get(context.Background(), "nonexistent")
	if err == nil {
		t.Fatal("expected not found error")
	}
	envErr, ok := err.(*model.ErrorEnvelope)
	if !ok {
		t.Fatalf("error type = %T", err)
	}
	if envErr.Code != model.ErrNotFound {
		t.Errorf("code = %s, want %s", envErr.Code, model.ErrNotFound)
	}
}

func TestMemoryStore_Get_softDeleted(t *testing.T) {
	store := NewMemoryStore()
	ap := testApproval("ap-1", "user-alice", "user-bob")
	_ = store.Create(context.Background(), ap)

	deleted := time.Now().UTC()
	ap.DeletedAt = &deleted
	if err := store.Update(context.Background(), ap); err != nil {
		t.Fatalf("Update error: %v", err)
	}

	_, err := store.Get(context.Background(), "ap-1")
	if err == nil {
		t.Fatal("soft-deleted approval should report not found")
	}
}

func TestMemoryStore_Get_returnsCopy(t *testing.T) {
	store := NewMemoryStore()
	ap := testApproval("ap-1", "user-alice", "user-bob")
	_ = store.Create(context.Background(), ap)

	got, _ := store.Get(context.Background(), "ap-1")
	got.Steps[0].Action = model.StepActionApprove

	again, _ := store.Get(context.Background(), "ap-1")
	if again.Steps[0].Action != "" {
		t.Error("mutating a returned approval must not affect stored state")
	}
}

// --- Update ---

func TestMemoryStore_Update(t *testing.T) {
	store := NewMemoryStore()
	ap := testApproval("ap-1", "user-alice", "user-bob")
	_ = store.Create(context.Background(), ap)

	ap.Title = "Business trip to Jeju"
	if err := store.Update(context.Background(), ap); err != nil {
		t.Fatalf("Update error: %v", err)
	}

	got, _ := store.Get(context.Background(), "ap-1")
	if got.Title != "Business trip to Jeju" {
		t.Errorf("Title = %q", got.Title)
	}
	if got.Version != 2 {
		t.Errorf("Version = %d, want 2", got.Version)
	}
	if got.UpdatedAt == nil {
		t.Error("UpdatedAt should be set after update")
	}
}

func TestMemoryStore_Update_versionConflict(t *testing.T) {
	store := NewMemoryStore()
	ap := testApproval("ap-1", "user-alice", "user-bob")
	_ = store.Create(context.Background(), ap)

	// First writer wins.
	first := ap.Clone()
	if err := store.Update(context.Background(), first); err != nil {
		t.Fatalf("first Update error: %v", err)
	}

	// Second writer holds the stale version.
	stale := ap.Clone()
	err := store.Update(context.Background(), stale)
	if err == nil {
		t.Fatal("expected version conflict")
	}
	envErr, ok := err.(*model.ErrorEnvelope)
	if !ok {
		t.Fatalf("error type = %T", err)
	}
	if envErr.Code != model.ErrConflict {
		t.Errorf("code = %s, want %s", envErr.Code, model.ErrConflict)
	}
}

func TestMemoryStore_Update_notFound(t *testing.T) {
	store := NewMemoryStore()
	ap := testApproval("ap-1", "user-alice", "user-bob")

	err := store.Update(context.Background(), ap)
	if err == nil {
		t.Fatal("expected not found error")
	}
}

// --- Find ---

func TestMemoryStore_Find_filters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	a := testApproval("ap-1", "user-alice", "user-bob")
	b := testApproval("ap-2", "user-carol", "user-bob", "user-dave")
	b.Status = model.ApprovalStatusApproved
	c := testApproval("ap-3", "user-alice", "user-dave")

	_ = store.Create(ctx, a)
	_ = store.Create(ctx, b)
	_ = store.Create(ctx, c)

	byStatus, total, err := store.Find(ctx, model.ApprovalFilters{Status: model.ApprovalStatusPending})
	if err != nil {
		t.Fatalf("Find error: %v", err)
	}
	if total != 2 || len(byStatus) != 2 {
		t.Errorf("pending: total = %d, len = %d, want 2/2", total, len(byStatus))
	}

	byRequester, total, _ := store.Find(ctx, model.ApprovalFilters{RequesterID: "user-carol"})
	if total != 1 || byRequester[0].ID != "ap-2" {
		t.Errorf("requester filter: total = %d, want 1 (ap-2)", total)
	}

	byApprover, total, _ := store.Find(ctx, model.ApprovalFilters{ApproverID: "user-dave"})
	if total != 2 || len(byApprover) != 2 {
		t.Errorf("approver filter: total = %d, len = %d, want 2/2", total, len(byApprover))
	}
}

func TestMemoryStore_Find_awaitingApprover(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	// Bob already acted on ap-1; ap-2 still awaits him.
	acted := time.Now().UTC()
	a := testApproval("ap-1", "user-alice", "user-bob", "user-carol")
	a.Steps[0].Action = model.StepActionApprove
	a.Steps[0].ActedAt = &acted
	a.CurrentStep = 1
	b := testApproval("ap-2", "user-alice", "user-bob")
	c := testApproval("ap-3", "user-alice", "user-bob")
	c.Status = model.ApprovalStatusRejected

	_ = store.Create(ctx, a)
	_ = store.Create(ctx, b)
	_ = store.Create(ctx, c)

	got, total, err := store.Find(ctx, model.ApprovalFilters{AwaitingApproverID: "user-bob"})
	if err != nil {
		t.Fatalf("Find error: %v", err)
	}
	if total != 1 || got[0].ID != "ap-2" {
		t.Errorf("awaiting filter: total = %d, want 1 (ap-2)", total)
	}
}

func TestMemoryStore_Find_excludesSoftDeleted(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	a := testApproval("ap-1", "user-alice", "user-bob")
	_ = store.Create(ctx, a)

	deleted := time.Now().UTC()
	a.DeletedAt = &deleted
	_ = store.Update(ctx, a)

	_, total, _ := store.Find(ctx, model.ApprovalFilters{})
	if total != 0 {
		t.Errorf("total = %d, want 0 after soft delete", total)
	}
}

func TestMemoryStore_Find_pagination(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		ap := testApproval(string(rune('a'+i)), "user-alice", "user-bob")
		ap.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		_ = store.Create(ctx, ap)
	}

	page, total, err := store.Find(ctx, model.ApprovalFilters{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("Find error: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(page) != 2 {
		t.Errorf("len(page) = %d, want 2", len(page))
	}
	// Newest first: offset 2 of [e d c b a] is [c b].
	if page[0].ID != "c" || page[1].ID != "b" {
		t.Errorf("page = [%s %s], want [c b]", page[0].ID, page[1].ID)
	}
}

func TestMemoryStore_Find_offsetPastEnd(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Create(ctx, testApproval("ap-1", "user-alice", "user-bob"))

	page, total, err := store.Find(ctx, model.ApprovalFilters{Limit: 10, Offset: 50})
	if err != nil {
		t.Fatalf("Find error: %v", err)
	}
	if total != 1 {
		t.Errorf("total = %d, want 1", total)
	}
	if len(page) != 0 {
		t.Errorf("len(page) = %d, want 0", len(page))
	}
}

func TestMemoryStore_Find_createdRange(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	jan := time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2025, time.February, 15, 0, 0, 0, 0, time.UTC)

	a := testApproval("ap-jan", "user-alice", "user-bob")
	a.CreatedAt = jan
	b := testApproval("ap-feb", "user-alice", "user-bob")
	b.CreatedAt = feb
	_ = store.Create(ctx, a)
	_ = store.Create(ctx, b)

	from := time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	got, total, _ := store.Find(ctx, model.ApprovalFilters{CreatedFrom: &from, CreatedUntil: &until})
	if total != 1 || got[0].ID != "ap-feb" {
		t.Errorf("range filter: total = %d, want 1 (ap-feb)", total)
	}
}
