package repository

import "gorm.io/gorm"

// Page 分页参数，PageSize 非正时不分页
type Page struct {
	Page     int
	PageSize int
}

func (p Page) offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.PageSize
}

// findPage 先计数再取当前页，order 为空时按主键倒序
func findPage[T any](query *gorm.DB, page Page, order string) ([]T, int64, error) {
	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if order == "" {
		order = "id desc"
	}
	items := make([]T, 0)
	if total == 0 {
		return items, 0, nil
	}
	q := query.Session(&gorm.Session{}).Order(order)
	if page.PageSize > 0 {
		q = q.Limit(page.PageSize).Offset(page.offset())
	}
	if err := q.Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}
