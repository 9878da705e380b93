package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/keyrelay/internal/models"
)

func TestFindPageCountsAndSlices(t *testing.T) {
	db := setupRepositoryTestDB(t, "find_page")
	for i := 1; i <= 5; i++ {
		admin := &models.Admin{Username: fmt.Sprintf("admin-%d", i), PasswordHash: "x"}
		if err := db.Create(admin).Error; err != nil {
			t.Fatalf("seed admin failed: %v", err)
		}
	}
	query := db.WithContext(context.Background()).Model(&models.Admin{})

	items, total, err := findPage[models.Admin](query, Page{Page: 2, PageSize: 2}, "id asc")
	if err != nil {
		t.Fatalf("find page failed: %v", err)
	}
	if total != 5 || len(items) != 2 || items[0].Username != "admin-3" {
		t.Fatalf("unexpected page: total=%d items=%+v", total, items)
	}

	all, total, err := findPage[models.Admin](query, Page{}, "")
	if err != nil || total != 5 || len(all) != 5 || all[0].Username != "admin-5" {
		t.Fatalf("unpaged query should return everything newest first: total=%d items=%+v err=%v", total, all, err)
	}

	empty, total, err := findPage[models.Admin](query.Where("username = ?", "missing"), Page{Page: 1, PageSize: 10}, "")
	if err != nil || total != 0 || empty == nil || len(empty) != 0 {
		t.Fatalf("empty result should be a non-nil empty slice: %v %d %v", empty, total, err)
	}
}
