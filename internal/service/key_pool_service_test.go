package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/keyrelay/internal/constants"
	"github.com/keyrelay/internal/models"
	"github.com/keyrelay/internal/repository"
)

func TestKeyPoolAllocateSingleIsExclusiveUnderConcurrency(t *testing.T) {
	f := newAutomationFixture(t, "key_pool_concurrency")
	ctx := context.Background()
	if _, err := f.keyPool.AddSingles(ctx, []string{"KEY-A", "KEY-B", "KEY-C"}, []uint{5}); err != nil {
		t.Fatalf("add singles failed: %v", err)
	}

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		codes   []string
		noKey   int
		unknown []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(orderID uint) {
			defer wg.Done()
			key, err := f.keyPool.AllocateSingle(ctx, 5, orderID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				codes = append(codes, key.Code)
			case errors.Is(err, ErrNoKeyAvailable):
				noKey++
			default:
				unknown = append(unknown, err)
			}
		}(uint(i + 1))
	}
	wg.Wait()

	if len(unknown) > 0 {
		t.Fatalf("unexpected allocation errors: %v", unknown)
	}
	if len(codes) != 3 || noKey != workers-3 {
		t.Fatalf("expected 3 allocations and %d empty results, got codes=%v noKey=%d", workers-3, codes, noKey)
	}
	sort.Strings(codes)
	if codes[0] != "KEY-A" || codes[1] != "KEY-B" || codes[2] != "KEY-C" {
		t.Fatalf("each key must be handed out exactly once, got %v", codes)
	}
}

func TestKeyPoolAllocateSingleRespectsScopeAndAge(t *testing.T) {
	f := newAutomationFixture(t, "key_pool_scope")
	ctx := context.Background()
	if _, err := f.keyPool.AddSingle(ctx, "OTHER-PRODUCT", []uint{9}); err != nil {
		t.Fatalf("add scoped key failed: %v", err)
	}
	if _, err := f.keyPool.AddSingle(ctx, "ANY-PRODUCT", nil); err != nil {
		t.Fatalf("add unscoped key failed: %v", err)
	}

	key, err := f.keyPool.AllocateSingle(ctx, 5, 100)
	if err != nil {
		t.Fatalf("allocate failed: %v", err)
	}
	if key.Code != "ANY-PRODUCT" || key.OrderID != 100 {
		t.Fatalf("unexpected allocation: %+v", key)
	}
	if _, err := f.keyPool.AllocateSingle(ctx, 5, 101); !errors.Is(err, ErrNoKeyAvailable) {
		t.Fatalf("expected no key available, got %v", err)
	}
}

func TestKeyPoolAllocateGroupHandsOutWholeGroup(t *testing.T) {
	f := newAutomationFixture(t, "key_pool_group")
	ctx := context.Background()
	groupID, err := f.keyPool.AddGroup(ctx, []string{"G-1", "G-2", "G-3"}, []uint{7}, 3, "bundle")
	if err != nil {
		t.Fatalf("add group failed: %v", err)
	}
	if _, err := f.keyPool.AddSingle(ctx, "SINGLE-7", []uint{7}); err != nil {
		t.Fatalf("add single failed: %v", err)
	}

	bundle, err := f.keyPool.AllocateGroup(ctx, 7, 200)
	if err != nil {
		t.Fatalf("allocate group failed: %v", err)
	}
	if bundle.GroupID != groupID || bundle.GroupName != "bundle" || bundle.Capacity != 3 {
		t.Fatalf("unexpected bundle: %+v", bundle)
	}
	if bundle.Joined() != "G-1,G-2,G-3" {
		t.Fatalf("expected all members in creation order, got %q", bundle.Joined())
	}

	members, _, err := f.keyPool.List(ctx, repository.LicenseKeyListFilter{GroupID: groupID, Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("list group failed: %v", err)
	}
	for _, member := range members {
		if member.Status != constants.LicenseKeyStatusUsed || member.OrderID == nil || *member.OrderID != 200 {
			t.Fatalf("group member not claimed for order: %+v", member)
		}
	}

	if _, err := f.keyPool.AllocateGroup(ctx, 7, 201); !errors.Is(err, ErrNoKeyAvailable) {
		t.Fatalf("expected exhausted group pool, got %v", err)
	}
	// 单卡密不参与卡密组分配
	if key, err := f.keyPool.AllocateSingle(ctx, 7, 202); err != nil || key.Code != "SINGLE-7" {
		t.Fatalf("expected single key to remain available, key=%+v err=%v", key, err)
	}
}

func TestKeyPoolAllocateGroupIsExclusiveUnderConcurrency(t *testing.T) {
	f := newAutomationFixture(t, "key_pool_group_concurrency")
	ctx := context.Background()
	groupID, err := f.keyPool.AddGroup(ctx, []string{"C-1", "C-2", "C-3"}, []uint{4}, 3, "race")
	if err != nil {
		t.Fatalf("add group failed: %v", err)
	}

	const workers = 6
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []uint
		noKey   int
		unknown []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(orderID uint) {
			defer wg.Done()
			bundle, err := f.keyPool.AllocateGroup(ctx, 4, orderID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				if bundle.GroupID != groupID || len(bundle.Codes) != 3 {
					unknown = append(unknown, errors.New("partial bundle handed out"))
					return
				}
				winners = append(winners, orderID)
			case errors.Is(err, ErrNoKeyAvailable):
				noKey++
			default:
				unknown = append(unknown, err)
			}
		}(uint(400 + i))
	}
	wg.Wait()

	if len(unknown) > 0 {
		t.Fatalf("unexpected allocation errors: %v", unknown)
	}
	if len(winners) != 1 || noKey != workers-1 {
		t.Fatalf("group must go to exactly one caller, winners=%v noKey=%d", winners, noKey)
	}
	members, _, err := f.keyPool.List(ctx, repository.LicenseKeyListFilter{GroupID: groupID, Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("list group failed: %v", err)
	}
	for _, member := range members {
		if member.OrderID == nil || *member.OrderID != winners[0] {
			t.Fatalf("every member must belong to the winning order %d: %+v", winners[0], member)
		}
	}
}

func TestKeyPoolAllocateGroupReturnsRemainingMembers(t *testing.T) {
	f := newAutomationFixture(t, "key_pool_group_partial")
	ctx := context.Background()
	if _, err := f.keyPool.AddGroup(ctx, []string{"P-1", "P-2"}, nil, 3, ""); err != nil {
		t.Fatalf("add group failed: %v", err)
	}
	bundle, err := f.keyPool.AllocateGroup(ctx, 3, 300)
	if err != nil {
		t.Fatalf("allocate group failed: %v", err)
	}
	if len(bundle.Codes) != 2 || bundle.Capacity != 3 {
		t.Fatalf("expected 2 codes out of capacity 3, got %+v", bundle)
	}
}

func TestKeyPoolMarkSingleUsedIsIdempotent(t *testing.T) {
	f := newAutomationFixture(t, "key_pool_mark_used")
	ctx := context.Background()
	if _, err := f.keyPool.AddSingle(ctx, "MARK-ME", nil); err != nil {
		t.Fatalf("add single failed: %v", err)
	}

	if err := f.keyPool.MarkSingleUsed(ctx, "MARK-ME", 10); err != nil {
		t.Fatalf("first mark failed: %v", err)
	}
	var first models.LicenseKey
	if err := f.db.First(&first).Error; err != nil {
		t.Fatalf("load key failed: %v", err)
	}
	if first.Status != constants.LicenseKeyStatusUsed || first.UsedAt == nil {
		t.Fatalf("expected key to be used, got %+v", first)
	}

	if err := f.keyPool.MarkSingleUsed(ctx, "MARK-ME", 11); err != nil {
		t.Fatalf("second mark should be a no-op, got %v", err)
	}
	var second models.LicenseKey
	if err := f.db.First(&second).Error; err != nil {
		t.Fatalf("reload key failed: %v", err)
	}
	if !second.UsedAt.Equal(*first.UsedAt) || second.OrderID == nil || *second.OrderID != 10 {
		t.Fatalf("second mark must not change the key, before=%+v after=%+v", first, second)
	}

	if err := f.keyPool.MarkSingleUsed(ctx, "NOT-IMPORTED", 10); !errors.Is(err, ErrLicenseKeyNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestKeyPoolMarkGroupUsed(t *testing.T) {
	f := newAutomationFixture(t, "key_pool_mark_group")
	ctx := context.Background()
	groupID, err := f.keyPool.AddGroup(ctx, []string{"MG-1", "MG-2", "MG-3"}, nil, 3, "")
	if err != nil {
		t.Fatalf("add group failed: %v", err)
	}
	if err := f.keyPool.MarkGroupUsed(ctx, groupID, 20); err != nil {
		t.Fatalf("mark group failed: %v", err)
	}
	if err := f.keyPool.MarkGroupUsed(ctx, groupID, 21); err != nil {
		t.Fatalf("second mark group should be a no-op, got %v", err)
	}
	if err := f.keyPool.MarkGroupUsed(ctx, "missing-group", 20); !errors.Is(err, ErrLicenseGroupNotFound) {
		t.Fatalf("expected group not found, got %v", err)
	}
}

func TestKeyPoolRejectsDuplicateKeys(t *testing.T) {
	f := newAutomationFixture(t, "key_pool_duplicates")
	ctx := context.Background()
	if _, err := f.keyPool.AddSingle(ctx, "DUP", nil); err != nil {
		t.Fatalf("add single failed: %v", err)
	}

	_, err := f.keyPool.AddSingle(ctx, " DUP ", nil)
	var dupErr *DuplicateKeyError
	if !errors.As(err, &dupErr) || dupErr.InRequest || !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected stored duplicate error, got %v", err)
	}

	_, err = f.keyPool.AddSingles(ctx, []string{"X1", "X1"}, nil)
	if !errors.As(err, &dupErr) || !dupErr.InRequest || dupErr.Count != 1 {
		t.Fatalf("expected in-request duplicate error, got %v", err)
	}

	if _, err := f.keyPool.AddGroup(ctx, []string{"NEW-1", "DUP"}, nil, 3, ""); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected group import to fail on duplicate, got %v", err)
	}
	var count int64
	f.db.Model(&models.LicenseKey{}).Count(&count)
	if count != 1 {
		t.Fatalf("failed imports must not write any key, count=%d", count)
	}
}

func TestKeyPoolAddGroupValidatesCapacity(t *testing.T) {
	f := newAutomationFixture(t, "key_pool_capacity")
	ctx := context.Background()
	if _, err := f.keyPool.AddGroup(ctx, []string{"A", "B", "C", "D"}, nil, 3, ""); !errors.Is(err, ErrInvalidGroupCapacity) {
		t.Fatalf("expected capacity error, got %v", err)
	}
	if _, err := f.keyPool.AddGroup(ctx, nil, nil, 3, ""); !errors.Is(err, ErrInvalidGroupCapacity) {
		t.Fatalf("expected empty group error, got %v", err)
	}
	if _, err := f.keyPool.AddSingle(ctx, "   ", nil); !errors.Is(err, ErrInvalidLicenseKey) {
		t.Fatalf("expected invalid key error, got %v", err)
	}
}

func TestKeyPoolStatsCountsGroupAsOneUnit(t *testing.T) {
	f := newAutomationFixture(t, "key_pool_stats")
	ctx := context.Background()
	if _, err := f.keyPool.AddSingles(ctx, []string{"S-1", "S-2"}, nil); err != nil {
		t.Fatalf("add singles failed: %v", err)
	}
	if err := f.keyPool.MarkSingleUsed(ctx, "S-1", 1); err != nil {
		t.Fatalf("mark single failed: %v", err)
	}
	groupID, err := f.keyPool.AddGroup(ctx, []string{"GS-1", "GS-2", "GS-3"}, nil, 3, "")
	if err != nil {
		t.Fatalf("add group failed: %v", err)
	}
	var member models.LicenseKey
	if err := f.db.Where("group_id = ?", groupID).Order("id asc").First(&member).Error; err != nil {
		t.Fatalf("load group member failed: %v", err)
	}
	if err := f.db.Model(&member).Update("status", constants.LicenseKeyStatusUsed).Error; err != nil {
		t.Fatalf("use one group member failed: %v", err)
	}

	stats, err := f.keyPool.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Total != 3 || stats.Used != 1 || stats.Unused != 2 {
		t.Fatalf("expected total=3 used=1 unused=2, got %+v", stats)
	}
	if stats.GroupCount != 1 || stats.SingleCount != 2 {
		t.Fatalf("unexpected breakdown: %+v", stats)
	}
}

func TestMaskLicenseCode(t *testing.T) {
	if got := maskLicenseCode("ABCDEFGH"); got != "ABCD****" {
		t.Fatalf("unexpected mask: %s", got)
	}
	if got := maskLicenseCode("ABC"); got != "****" {
		t.Fatalf("short codes must be fully masked, got %s", got)
	}
}
